package domain

import (
	"fmt"
	"time"
)

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) Zero() bool {
	return r.Width <= 0 || r.Height <= 0
}

// StreamTelemetry is one raw per-stream sample as reported by the media
// transport. Samples are ephemeral; the aggregator keeps a bounded window.
type StreamTelemetry struct {
	StreamID       StreamID   `json:"stream_id"`
	Timestamp      time.Time  `json:"timestamp"`
	BitrateKbps    int        `json:"bitrate_kbps"`
	FPS            float64    `json:"fps"`
	Resolution     Resolution `json:"resolution"`
	PacketLossPct  float64    `json:"packet_loss_pct"`
	JitterMs       float64    `json:"jitter_ms"`
	FramesReceived int64      `json:"frames_received"`
	FramesDropped  int64      `json:"frames_dropped"`
}

// Validate checks that the sample carries enough to evaluate a decision on.
// A malformed sample means "insufficient data", never a default downgrade.
func (t StreamTelemetry) Validate() error {
	if t.Resolution.Zero() {
		return fmt.Errorf("%w: missing resolution", ErrInsufficientData)
	}
	if t.PacketLossPct < 0 || t.PacketLossPct > 100 {
		return fmt.Errorf("%w: packet loss %.2f outside [0,100]", ErrInsufficientData, t.PacketLossPct)
	}
	if t.BitrateKbps < 0 || t.FPS < 0 || t.JitterMs < 0 {
		return fmt.Errorf("%w: negative rate counters", ErrInsufficientData)
	}
	if t.FramesReceived < 0 || t.FramesDropped < 0 {
		return fmt.Errorf("%w: negative frame counters", ErrInsufficientData)
	}
	return nil
}

// NetworkReading is the ambient link telemetry from the network probe.
type NetworkReading struct {
	DownlinkMbps    float64   `json:"downlink_mbps"`
	RTTMs           float64   `json:"rtt_ms"`
	ConnectionClass string    `json:"connection_class"`
	SaveData        bool      `json:"save_data"`
	Timestamp       time.Time `json:"timestamp"`
}
