package services

import (
	"sync"

	"gridtune/internal/core/domain"
)

// LayoutStrategy describes the ceiling shape for one layout. BandSize
// splits a large grid into a high band (first BandSize slots) and a low
// band (the rest); zero means no banding.
type LayoutStrategy struct {
	PrimaryCeiling   domain.Tier
	SecondaryCeiling domain.Tier
	BandSize         int
	BandCeiling      domain.Tier // ceiling for the low band when BandSize > 0
}

// LayoutStrategyTable maps layouts to their ceiling shapes. Replaceable at
// runtime through the controller.
type LayoutStrategyTable map[domain.Layout]LayoutStrategy

// DefaultLayoutStrategies returns the built-in ceilings: a lone stream may
// use the top tier; a small grid keeps the primary one tier below top and
// everyone else two below; a large grid is banded with the rest pinned low.
func DefaultLayoutStrategies() LayoutStrategyTable {
	return LayoutStrategyTable{
		domain.LayoutSingle: {
			PrimaryCeiling:   domain.TierHigh,
			SecondaryCeiling: domain.TierHigh,
		},
		domain.LayoutGrid4: {
			PrimaryCeiling:   domain.TierMedium,
			SecondaryCeiling: domain.TierLow,
		},
		domain.LayoutGrid9: {
			PrimaryCeiling:   domain.TierMedium,
			SecondaryCeiling: domain.TierLow,
			BandSize:         4,
			BandCeiling:      domain.TierFloor,
		},
	}
}

// LayoutTieringPolicy translates a presentation layout into per-slot tier
// ceilings, independent of any single stream's instantaneous telemetry.
type LayoutTieringPolicy struct {
	mu         sync.RWMutex
	strategies LayoutStrategyTable
}

func NewLayoutTieringPolicy(strategies LayoutStrategyTable) *LayoutTieringPolicy {
	if strategies == nil {
		strategies = DefaultLayoutStrategies()
	}
	return &LayoutTieringPolicy{strategies: strategies}
}

// SetStrategies swaps the ceiling table at runtime.
func (p *LayoutTieringPolicy) SetStrategies(strategies LayoutStrategyTable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategies = strategies
}

// TiersFor returns a ceiling per stream index. Ceilings are caps: the
// decision engine's output is clamped down to them, never raised. A poor
// network assessment lowers every ceiling one tier as a global safety
// valve.
func (p *LayoutTieringPolicy) TiersFor(layout domain.Layout, streamCount, primaryIndex int, assessment domain.NetworkAssessment) map[int]domain.Tier {
	p.mu.RLock()
	strategy, ok := p.strategies[layout]
	if !ok {
		strategy = p.strategies[domain.LayoutForCount(streamCount)]
	}
	p.mu.RUnlock()

	ceilings := make(map[int]domain.Tier, streamCount)
	for i := 0; i < streamCount; i++ {
		ceiling := strategy.SecondaryCeiling
		if strategy.BandSize > 0 && i >= strategy.BandSize {
			ceiling = strategy.BandCeiling
		}
		// The primary slot is always promoted to the highest band
		// regardless of its numeric index.
		if i == primaryIndex {
			ceiling = strategy.PrimaryCeiling
		}
		if assessment.Overall == domain.NetworkPoor {
			ceiling = ceiling.Down()
		}
		ceilings[i] = ceiling
	}
	return ceilings
}
