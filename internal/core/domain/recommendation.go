package domain

import "time"

type RecommendationType string

const (
	RecommendUpgrade   RecommendationType = "upgrade"
	RecommendDowngrade RecommendationType = "downgrade"
	RecommendLayout    RecommendationType = "layout"
)

// Recommendation is a single quality suggestion for one stream. Immutable
// once emitted; the presentation layer reports the apply result back via
// ReportOutcome.
type Recommendation struct {
	StreamID        StreamID           `json:"stream_id"`
	Type            RecommendationType `json:"type"`
	CurrentTier     Tier               `json:"current_tier"`
	RecommendedTier Tier               `json:"recommended_tier"`
	Reason          string             `json:"reason"`
	Confidence      float64            `json:"confidence"`
	Timestamp       time.Time          `json:"timestamp"`
}

type StrategyType string

const (
	StrategyEmergencyDowngrade       StrategyType = "emergency_downgrade"
	StrategyConservativeOptimization StrategyType = "conservative_optimization"
	StrategyQualityEnhancement       StrategyType = "quality_enhancement"
	StrategyBalancedOptimization     StrategyType = "balanced_optimization"
)

type StrategyPriority string

const (
	PriorityCritical StrategyPriority = "critical"
	PriorityHigh     StrategyPriority = "high"
	PriorityNormal   StrategyPriority = "normal"
	PriorityLow      StrategyPriority = "low"
)

type Strategy struct {
	Type       StrategyType     `json:"type"`
	Priority   StrategyPriority `json:"priority"`
	Confidence float64          `json:"confidence"`
}

// RecommendationBuckets groups per-stream recommendations by urgency.
type RecommendationBuckets struct {
	Immediate []Recommendation `json:"immediate"`
	Gradual   []Recommendation `json:"gradual"`
	Fallback  []Recommendation `json:"fallback"`
}

// BatchRecommendation is the synthesized output of one evaluation cycle.
// Built fresh each cycle, never mutated after construction.
type BatchRecommendation struct {
	Timestamp       time.Time             `json:"timestamp"`
	Layout          Layout                `json:"layout"`
	TotalStreams    int                   `json:"total_streams"`
	Network         NetworkAssessment     `json:"network_assessment"`
	Strategy        Strategy              `json:"strategy"`
	Recommendations RecommendationBuckets `json:"recommendations"`
}

// StrategyChange is published whenever consecutive cycles classify
// different strategies.
type StrategyChange struct {
	From StrategyType `json:"from"`
	To   StrategyType `json:"to"`
	At   time.Time    `json:"at"`
}

// SwitchOutcome is the presentation layer's report of an applied (or
// failed) tier switch.
type SwitchOutcome struct {
	StreamID StreamID  `json:"stream_id"`
	Success  bool      `json:"success"`
	Details  string    `json:"details"`
	At       time.Time `json:"at"`
}
