package domain

import "time"

type NetworkQuality string

const (
	NetworkExcellent NetworkQuality = "excellent"
	NetworkGood      NetworkQuality = "good"
	NetworkFair      NetworkQuality = "fair"
	NetworkPoor      NetworkQuality = "poor"
)

type BandwidthState string

const (
	BandwidthSufficient BandwidthState = "sufficient"
	BandwidthModerate   BandwidthState = "moderate"
	BandwidthOverloaded BandwidthState = "overloaded"
)

type StabilityState string

const (
	StabilityStable   StabilityState = "stable"
	StabilityModerate StabilityState = "moderate"
	StabilityUnstable StabilityState = "unstable"
)

type StressLevel string

const (
	StressLow    StressLevel = "low"
	StressMedium StressLevel = "medium"
	StressHigh   StressLevel = "high"
)

// NetworkAssessment is the process-wide link verdict, recomputed once per
// evaluation cycle from the cross-stream aggregate plus the ambient probe
// reading. It carries no state beyond the cycle it was computed in.
type NetworkAssessment struct {
	Overall                 NetworkQuality `json:"overall"`
	BandwidthState          BandwidthState `json:"bandwidth_state"`
	StabilityState          StabilityState `json:"stability_state"`
	TotalBandwidthUsageMbps float64        `json:"total_bandwidth_usage_mbps"`
	AverageQualityScore     float64        `json:"average_quality_score"`
	StressLevel             StressLevel    `json:"stress_level"`
	Timestamp               time.Time      `json:"timestamp"`
}

// AggregatedView is the point-in-time cross-stream aggregate.
type AggregatedView struct {
	TotalStreams            int          `json:"total_streams"`
	TotalBandwidthUsageMbps float64      `json:"total_bandwidth_usage_mbps"`
	AverageFPS              float64      `json:"average_fps"`
	AveragePacketLossPct    float64      `json:"average_packet_loss_pct"`
	AverageJitterMs         float64      `json:"average_jitter_ms"`
	MaxResolution           Resolution   `json:"max_resolution"`
	TierCounts              map[Tier]int `json:"tier_counts"`
	UtilizationPct          int          `json:"utilization_pct"`
	Timestamp               time.Time    `json:"timestamp"`
}
