package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// StreamIDRegex validates stream ID format
var StreamIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateStreamID validates a stream identifier supplied by a client.
func ValidateStreamID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("stream id is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("stream id is too long (max 128 characters)")
	}
	if !StreamIDRegex.MatchString(id) {
		return fmt.Errorf("stream id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateRole validates a stream role label.
func ValidateRole(role string) error {
	switch role {
	case "", "primary", "secondary":
		return nil
	default:
		return fmt.Errorf("role must be primary or secondary")
	}
}

// ValidateTelemetryFrame performs transport-level sanity checks on an
// incoming telemetry frame before it reaches the aggregator. The core runs
// its own semantic validation; this only rejects frames that are garbage on
// arrival.
func ValidateTelemetryFrame(bitrateKbps int, fps, lossPct, jitterMs float64) error {
	if bitrateKbps < 0 || bitrateKbps > 1_000_000 {
		return fmt.Errorf("bitrate %d kbps out of range", bitrateKbps)
	}
	if fps < 0 || fps > 480 {
		return fmt.Errorf("fps %.1f out of range", fps)
	}
	if lossPct < 0 || lossPct > 100 {
		return fmt.Errorf("packet loss %.2f%% out of range", lossPct)
	}
	if jitterMs < 0 || jitterMs > 60_000 {
		return fmt.Errorf("jitter %.1fms out of range", jitterMs)
	}
	return nil
}
