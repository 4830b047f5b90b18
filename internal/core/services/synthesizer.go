package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gridtune/internal/core/domain"

	"go.uber.org/zap"
)

// SynthesizerConfig tunes strategy classification and bucketing.
type SynthesizerConfig struct {
	// Problem-stream triggers.
	ProblemLossPct  float64
	ProblemJitterMs float64
	ProblemMinFPS   float64

	// More problem streams than this forces an emergency downgrade.
	EmergencyProblemStreams int

	// Confidence bucket boundaries.
	ImmediateConfidence float64
	GradualConfidence   float64

	// Tiers dropped per stream under an emergency downgrade.
	EmergencyTierDrop int
}

func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		ProblemLossPct:          3,
		ProblemJitterMs:         80,
		ProblemMinFPS:           20,
		EmergencyProblemStreams: 2,
		ImmediateConfidence:     0.8,
		GradualConfidence:       0.6,
		EmergencyTierDrop:       2,
	}
}

// StreamSnapshot is one stream's input to a synthesis pass, captured at
// tick time so every stream is judged against the same instant.
type StreamSnapshot struct {
	StreamID  domain.StreamID
	Index     int
	Tier      domain.Tier
	Telemetry domain.StreamTelemetry
	HasData   bool
}

// SynthesisInput carries everything a synthesis pass needs. Given identical
// inputs the output bundle is identical; nothing in here is read from a
// clock or RNG during synthesis.
type SynthesisInput struct {
	Now          time.Time
	Layout       domain.Layout
	PrimaryIndex int
	Assessment   domain.NetworkAssessment
	View         domain.AggregatedView
	Streams      []StreamSnapshot
	Candidates   []domain.Recommendation

	// Live reports whether a stream is still registered. Snapshots and
	// candidates are captured before synthesis runs, so a stream removed
	// mid-cycle can still appear in them; its recommendations are dropped
	// before the bundle is published. Nil means every stream is live.
	Live func(domain.StreamID) bool

	// Historical switch outcome tally for bundle confidence.
	OutcomeSuccesses int
	OutcomeTotal     int
}

// BatchSynthesizer combines the network assessment, per-stream decisions
// and layout ceilings into one prioritized bundle per cycle.
type BatchSynthesizer struct {
	mu      sync.RWMutex
	cfg     SynthesizerConfig
	tiering *LayoutTieringPolicy
	logger  *zap.SugaredLogger
}

func NewBatchSynthesizer(cfg SynthesizerConfig, tiering *LayoutTieringPolicy, logger *zap.SugaredLogger) *BatchSynthesizer {
	return &BatchSynthesizer{
		cfg:     cfg,
		tiering: tiering,
		logger:  logger,
	}
}

// SetConfig swaps the synthesis thresholds at runtime.
func (s *BatchSynthesizer) SetConfig(cfg SynthesizerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *BatchSynthesizer) config() SynthesizerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Synthesize produces the cycle's bundle. Streams are processed in index
// order so identical inputs yield identical output.
func (s *BatchSynthesizer) Synthesize(input SynthesisInput) *domain.BatchRecommendation {
	streams := make([]StreamSnapshot, len(input.Streams))
	copy(streams, input.Streams)
	sort.Slice(streams, func(i, j int) bool { return streams[i].Index < streams[j].Index })

	cfg := s.config()
	live := input.Live
	if live == nil {
		live = func(domain.StreamID) bool { return true }
	}
	ceilings := s.tiering.TiersFor(input.Layout, len(streams), input.PrimaryIndex, input.Assessment)
	problems := problemStreams(streams, cfg)
	strategy := classifyStrategy(input.Assessment, problems, cfg)

	bundle := &domain.BatchRecommendation{
		Timestamp:    input.Now,
		Layout:       input.Layout,
		TotalStreams: len(streams),
		Network:      input.Assessment,
		Strategy:     strategy,
	}

	if strategy.Type == domain.StrategyEmergencyDowngrade {
		// Safety trumps nuance: every stream drops hard, immediately,
		// regardless of individual confidence.
		for _, snap := range streams {
			if !live(snap.StreamID) {
				continue
			}
			target := snap.Tier.DownBy(cfg.EmergencyTierDrop)
			bundle.Recommendations.Immediate = append(bundle.Recommendations.Immediate, domain.Recommendation{
				StreamID:        snap.StreamID,
				Type:            domain.RecommendDowngrade,
				CurrentTier:     snap.Tier,
				RecommendedTier: target,
				Reason:          "emergency downgrade: network conditions critical",
				Confidence:      1.0,
				Timestamp:       input.Now,
			})
		}
	} else {
		indexByStream := make(map[domain.StreamID]int, len(streams))
		for _, snap := range streams {
			indexByStream[snap.StreamID] = snap.Index
		}

		for _, rec := range input.Candidates {
			idx, known := indexByStream[rec.StreamID]
			if !known || !live(rec.StreamID) {
				// Stream unregistered after evaluation; drop before bundling.
				continue
			}
			clamped := s.clampToCeiling(rec, ceilings[idx])
			bucket(bundle, clamped, cfg)
		}
	}

	for _, advisory := range s.layoutAdvisories(input, problems) {
		bundle.Recommendations.Gradual = append(bundle.Recommendations.Gradual, advisory)
	}

	bundle.Strategy.Confidence = s.bundleConfidence(input, problems)
	bundle.Strategy.Priority = strategyPriority(strategy.Type)

	s.logger.Debugw("batch synthesized",
		"strategy", strategy.Type,
		"streams", len(streams),
		"immediate", len(bundle.Recommendations.Immediate),
		"gradual", len(bundle.Recommendations.Gradual),
		"fallback", len(bundle.Recommendations.Fallback),
	)
	return bundle
}

func problemStreams(streams []StreamSnapshot, cfg SynthesizerConfig) int {
	count := 0
	for _, snap := range streams {
		if !snap.HasData {
			continue
		}
		t := snap.Telemetry
		if t.PacketLossPct > cfg.ProblemLossPct || t.JitterMs > cfg.ProblemJitterMs || t.FPS < cfg.ProblemMinFPS {
			count++
		}
	}
	return count
}

func classifyStrategy(assessment domain.NetworkAssessment, problems int, cfg SynthesizerConfig) domain.Strategy {
	var typ domain.StrategyType
	switch {
	case assessment.Overall == domain.NetworkPoor || problems > cfg.EmergencyProblemStreams:
		typ = domain.StrategyEmergencyDowngrade
	case assessment.Overall == domain.NetworkFair:
		typ = domain.StrategyConservativeOptimization
	case assessment.Overall == domain.NetworkExcellent && problems == 0:
		typ = domain.StrategyQualityEnhancement
	default:
		typ = domain.StrategyBalancedOptimization
	}
	return domain.Strategy{Type: typ}
}

func strategyPriority(typ domain.StrategyType) domain.StrategyPriority {
	switch typ {
	case domain.StrategyEmergencyDowngrade:
		return domain.PriorityCritical
	case domain.StrategyConservativeOptimization:
		return domain.PriorityHigh
	case domain.StrategyQualityEnhancement:
		return domain.PriorityLow
	default:
		return domain.PriorityNormal
	}
}

// clampToCeiling caps a recommendation at its slot's ceiling; a clamp that
// changes the outcome is relabeled so the reason mentions the layout.
func (s *BatchSynthesizer) clampToCeiling(rec domain.Recommendation, ceiling domain.Tier) domain.Recommendation {
	clamped := rec.RecommendedTier.ClampTo(ceiling)
	if clamped == rec.RecommendedTier {
		return rec
	}
	rec.RecommendedTier = clamped
	rec.Reason = fmt.Sprintf("capped at %s by layout constraint (was: %s)", clamped, rec.Reason)
	return rec
}

func bucket(bundle *domain.BatchRecommendation, rec domain.Recommendation, cfg SynthesizerConfig) {
	// Clamping may leave the recommendation pointing at the tier the
	// stream already occupies; nothing to suggest then.
	if rec.RecommendedTier == rec.CurrentTier {
		return
	}
	switch {
	case rec.Confidence > cfg.ImmediateConfidence:
		bundle.Recommendations.Immediate = append(bundle.Recommendations.Immediate, rec)
	case rec.Confidence > cfg.GradualConfidence:
		bundle.Recommendations.Gradual = append(bundle.Recommendations.Gradual, rec)
	default:
		bundle.Recommendations.Fallback = append(bundle.Recommendations.Fallback, rec)
	}
}

// layoutAdvisories emits bundle-level suggestions not tied to any single
// stream.
func (s *BatchSynthesizer) layoutAdvisories(input SynthesisInput, problems int) []domain.Recommendation {
	var advisories []domain.Recommendation

	if input.Layout == domain.LayoutGrid9 && input.Assessment.StressLevel != domain.StressLow {
		advisories = append(advisories, domain.Recommendation{
			Type:       domain.RecommendLayout,
			Reason:     "large grid under network stress: consider reducing visible streams",
			Confidence: 0.65,
			Timestamp:  input.Now,
		})
	}
	if input.Assessment.StressLevel == domain.StressLow && problems == 0 && input.Layout != domain.LayoutSingle {
		advisories = append(advisories, domain.Recommendation{
			Type:       domain.RecommendLayout,
			Reason:     "network has headroom: current layout is sustainable",
			Confidence: 0.7,
			Timestamp:  input.Now,
		})
	}
	return advisories
}

// bundleConfidence follows a fixed recipe: base 0.5, +0.2 when both network
// and performance analyses are present, +0.2 when at least one problem
// stream gives a clear signal, plus up to ±0.2 from the historical switch
// success ratio.
func (s *BatchSynthesizer) bundleConfidence(input SynthesisInput, problems int) float64 {
	confidence := 0.5

	if !input.Assessment.Timestamp.IsZero() && input.View.TotalStreams > 0 {
		confidence += 0.2
	}
	if problems > 0 {
		confidence += 0.2
	}

	ratio := 0.5
	if input.OutcomeTotal > 0 {
		ratio = float64(input.OutcomeSuccesses) / float64(input.OutcomeTotal)
	}
	confidence += (ratio - 0.5) * 0.4 // maps [0,1] success ratio onto ±0.2

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
