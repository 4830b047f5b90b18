package domain

import "fmt"

// Tier is a discrete playback quality level. Lower values are higher quality:
// TierHigh > TierMedium > TierLow > TierFloor.
type Tier int

const (
	TierHigh Tier = iota
	TierMedium
	TierLow
	TierFloor
)

const tierCount = 4

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	case TierFloor:
		return "floor"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Valid reports whether the tier is inside the configured tier table.
func (t Tier) Valid() bool {
	return t >= TierHigh && t <= TierFloor
}

// Down returns the next lower-quality tier, saturating at the floor.
func (t Tier) Down() Tier {
	if t >= TierFloor {
		return TierFloor
	}
	return t + 1
}

// Up returns the next higher-quality tier, saturating at the top.
func (t Tier) Up() Tier {
	if t <= TierHigh {
		return TierHigh
	}
	return t - 1
}

// DownBy lowers the tier by n steps, saturating at the floor.
func (t Tier) DownBy(n int) Tier {
	r := t + Tier(n)
	if r > TierFloor {
		return TierFloor
	}
	return r
}

// Above reports whether t is strictly higher quality than other.
func (t Tier) Above(other Tier) bool {
	return t < other
}

// ClampTo caps t at the given ceiling. A tier above the ceiling is pulled
// down to it; a tier at or below passes through unchanged.
func (t Tier) ClampTo(ceiling Tier) Tier {
	if t < ceiling {
		return ceiling
	}
	return t
}

// Clamp forces an out-of-table value to the nearest valid tier.
func (t Tier) Clamp() Tier {
	if t < TierHigh {
		return TierHigh
	}
	if t > TierFloor {
		return TierFloor
	}
	return t
}

// TierFromString parses a tier label. Returns ErrInvalidTier for unknown labels.
func TierFromString(s string) (Tier, error) {
	switch s {
	case "high":
		return TierHigh, nil
	case "medium":
		return TierMedium, nil
	case "low":
		return TierLow, nil
	case "floor":
		return TierFloor, nil
	default:
		return TierFloor, fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
}

// TierSpec describes the encoding target a tier maps to.
type TierSpec struct {
	TargetWidth       int     `yaml:"target_width" json:"target_width"`
	TargetHeight      int     `yaml:"target_height" json:"target_height"`
	TargetBitrateKbps int     `yaml:"target_bitrate_kbps" json:"target_bitrate_kbps"`
	MinBandwidthMbps  float64 `yaml:"min_bandwidth_mbps" json:"min_bandwidth_mbps"`
}

// TierTable maps each tier to its encoding target, ordered from TierHigh down.
type TierTable [tierCount]TierSpec

// DefaultTierTable returns the built-in quality ladder.
func DefaultTierTable() TierTable {
	return TierTable{
		TierHigh:   {TargetWidth: 1280, TargetHeight: 720, TargetBitrateKbps: 2500, MinBandwidthMbps: 2.5},
		TierMedium: {TargetWidth: 854, TargetHeight: 480, TargetBitrateKbps: 1000, MinBandwidthMbps: 1.2},
		TierLow:    {TargetWidth: 640, TargetHeight: 360, TargetBitrateKbps: 500, MinBandwidthMbps: 0.6},
		TierFloor:  {TargetWidth: 320, TargetHeight: 180, TargetBitrateKbps: 250, MinBandwidthMbps: 0.3},
	}
}

// Spec returns the encoding target for t, clamping out-of-table values.
func (tt TierTable) Spec(t Tier) TierSpec {
	return tt[t.Clamp()]
}

// TierForResolution maps an observed resolution to the tier it most likely
// represents: the highest tier whose target height does not exceed the
// observed height. Resolution reflects the last negotiated tier, so this is
// the stream's effective current tier.
func (tt TierTable) TierForResolution(res Resolution) Tier {
	for t := TierHigh; t <= TierFloor; t++ {
		if res.Height >= tt[t].TargetHeight {
			return t
		}
	}
	return TierFloor
}
