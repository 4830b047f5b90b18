package services

import (
	"fmt"
	"sync"
	"time"

	"gridtune/internal/core/domain"

	"go.uber.org/zap"
)

// DecisionConfig carries the per-stream decision thresholds. Upgrade
// triggers are strictly stricter than downgrade triggers; the asymmetry is
// what keeps the state machine from thrashing.
type DecisionConfig struct {
	// Downgrade triggers: any one of these marks the tick as poor.
	DowngradeLossPct  float64
	DowngradeJitterMs float64
	DowngradeMinFPS   float64

	// Upgrade triggers: all must hold for the tick to count as good.
	UpgradeLossPct  float64
	UpgradeJitterMs float64
	UpgradeMinFPS   float64

	// Streaks. The upgrade streak is longer to bias toward stability.
	DowngradeStreak int
	UpgradeStreak   int

	Cooldown       time.Duration // min time between accepted switches
	SuppressWindow time.Duration // identical recommendation dedup window

	// Upgrades are only permitted while the cross-stream bandwidth total
	// stays under this threshold (shared-resource guard).
	UpgradeHeadroomMbps float64
}

func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		DowngradeLossPct:    3,
		DowngradeJitterMs:   80,
		DowngradeMinFPS:     20,
		UpgradeLossPct:      0.5,
		UpgradeJitterMs:     30,
		UpgradeMinFPS:       25,
		DowngradeStreak:     3,
		UpgradeStreak:       5,
		Cooldown:            10 * time.Second,
		SuppressWindow:      5 * time.Second,
		UpgradeHeadroomMbps: 5,
	}
}

// StreamDecisionEngine applies thresholds, hysteresis counters and cooldown
// timers per stream. It is the sole mutator of StreamState.
type StreamDecisionEngine struct {
	mu     sync.Mutex
	states map[domain.StreamID]*domain.StreamState

	cfg    DecisionConfig
	tiers  domain.TierTable
	logger *zap.SugaredLogger

	// outcome tally across all streams, feeding bundle confidence
	outcomeSuccess int
	outcomeTotal   int
}

func NewStreamDecisionEngine(cfg DecisionConfig, tiers domain.TierTable, logger *zap.SugaredLogger) *StreamDecisionEngine {
	return &StreamDecisionEngine{
		states: make(map[domain.StreamID]*domain.StreamState),
		cfg:    cfg,
		tiers:  tiers,
		logger: logger,
	}
}

// SetConfig swaps the decision thresholds at runtime.
func (e *StreamDecisionEngine) SetConfig(cfg DecisionConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

func (e *StreamDecisionEngine) Register(streamID domain.StreamID, meta domain.StreamMeta) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.states[streamID]; exists {
		return domain.ErrDuplicateStream
	}
	role := meta.Role
	if role == "" {
		role = domain.RoleSecondary
	}
	e.states[streamID] = &domain.StreamState{
		StreamID:    streamID,
		Role:        role,
		Priority:    meta.Priority,
		CurrentTier: domain.TierMedium,
	}
	return nil
}

// Unregister drops the stream's decision record, cooldowns included.
// Idempotent.
func (e *StreamDecisionEngine) Unregister(streamID domain.StreamID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, streamID)
}

func (e *StreamDecisionEngine) SetRole(streamID domain.StreamID, role domain.StreamRole) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.states[streamID]
	if !exists {
		return domain.ErrUnknownStream
	}
	state.Role = role
	return nil
}

// State returns a copy of the stream's decision record.
func (e *StreamDecisionEngine) State(streamID domain.StreamID) (domain.StreamState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.states[streamID]
	if !exists {
		return domain.StreamState{}, false
	}
	return *state, true
}

// Evaluate runs one decision tick for a stream. It returns a
// recommendation, or nil when the stream should stay where it is. The
// caller supplies now so that a whole cycle shares one clock reading.
func (e *StreamDecisionEngine) Evaluate(streamID domain.StreamID, sample domain.StreamTelemetry, view domain.AggregatedView, now time.Time) (*domain.Recommendation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.states[streamID]
	if !exists {
		return nil, domain.ErrUnknownStream
	}

	if err := sample.Validate(); err != nil {
		// Insufficient data skips the tick; it never defaults to a downgrade.
		e.logger.Debugw("skipping evaluation tick",
			"stream_id", streamID,
			"error", err,
		)
		return nil, err
	}

	// The observed resolution tells us which tier the stream actually
	// occupies right now, which may lag the last requested one. The mapping
	// always lands inside the table.
	state.CurrentTier = e.tiers.TierForResolution(sample.Resolution)

	switch {
	case e.isPoor(sample):
		state.ConsecutivePoor++
		state.ConsecutiveGood = 0
		return e.maybeDowngrade(state, sample, now)
	case e.isGood(sample):
		state.ConsecutiveGood++
		state.ConsecutivePoor = 0
		return e.maybeUpgrade(state, sample, view, now)
	default:
		// Borderline ticks break both streaks.
		state.ConsecutivePoor = 0
		state.ConsecutiveGood = 0
		return nil, nil
	}
}

func (e *StreamDecisionEngine) isPoor(sample domain.StreamTelemetry) bool {
	return sample.PacketLossPct > e.cfg.DowngradeLossPct ||
		sample.JitterMs > e.cfg.DowngradeJitterMs ||
		sample.FPS < e.cfg.DowngradeMinFPS
}

func (e *StreamDecisionEngine) isGood(sample domain.StreamTelemetry) bool {
	return sample.PacketLossPct <= e.cfg.UpgradeLossPct &&
		sample.JitterMs <= e.cfg.UpgradeJitterMs &&
		sample.FPS >= e.cfg.UpgradeMinFPS
}

func (e *StreamDecisionEngine) maybeDowngrade(state *domain.StreamState, sample domain.StreamTelemetry, now time.Time) (*domain.Recommendation, error) {
	if state.ConsecutivePoor < e.cfg.DowngradeStreak {
		return nil, nil
	}
	if now.Sub(state.LastSwitchAt) < e.cfg.Cooldown {
		return nil, nil
	}
	if state.CurrentTier == domain.TierFloor {
		return nil, nil
	}

	target := state.CurrentTier.Down()
	reason := fmt.Sprintf("sustained degradation: loss %.1f%%, jitter %.0fms, %.0f fps over %d ticks",
		sample.PacketLossPct, sample.JitterMs, sample.FPS, state.ConsecutivePoor)

	rec := e.emit(state, domain.RecommendDowngrade, target, reason, 0.9, now)
	return rec, nil
}

func (e *StreamDecisionEngine) maybeUpgrade(state *domain.StreamState, sample domain.StreamTelemetry, view domain.AggregatedView, now time.Time) (*domain.Recommendation, error) {
	if state.ConsecutiveGood < e.cfg.UpgradeStreak {
		return nil, nil
	}
	if now.Sub(state.LastSwitchAt) < e.cfg.Cooldown {
		return nil, nil
	}
	if state.CurrentTier == domain.TierHigh {
		return nil, nil
	}
	// A single stream may not claim bandwidth another stream needs.
	if view.TotalBandwidthUsageMbps >= e.cfg.UpgradeHeadroomMbps {
		return nil, nil
	}

	target := state.CurrentTier.Up()
	reason := fmt.Sprintf("sustained quality: loss %.1f%%, jitter %.0fms, %.0f fps over %d ticks with bandwidth headroom",
		sample.PacketLossPct, sample.JitterMs, sample.FPS, state.ConsecutiveGood)

	rec := e.emit(state, domain.RecommendUpgrade, target, reason, 0.7, now)
	return rec, nil
}

// emit builds and caches the recommendation, suppressing duplicates inside
// the suppression window.
func (e *StreamDecisionEngine) emit(state *domain.StreamState, typ domain.RecommendationType, target domain.Tier, reason string, baseConfidence float64, now time.Time) *domain.Recommendation {
	if last := state.LastRecommendation; last != nil &&
		last.RecommendedTier == target &&
		now.Sub(last.Timestamp) < e.cfg.SuppressWindow {
		e.logger.Debugw("duplicate recommendation suppressed",
			"stream_id", state.StreamID,
			"tier", target,
		)
		return nil
	}

	confidence := dampen(baseConfidence, state.FailedSwitches)

	rec := &domain.Recommendation{
		StreamID:        state.StreamID,
		Type:            typ,
		CurrentTier:     state.CurrentTier,
		RecommendedTier: target,
		Reason:          reason,
		Confidence:      confidence,
		Timestamp:       now,
	}
	state.LastRecommendation = rec

	e.logger.Infow("recommendation emitted",
		"stream_id", state.StreamID,
		"type", typ,
		"from", state.CurrentTier,
		"to", target,
		"confidence", confidence,
	)
	return rec
}

// dampen lowers confidence for streams whose switches have been failing.
func dampen(confidence float64, failures int) float64 {
	if failures > 0 {
		confidence /= 1.0 + 0.25*float64(failures)
	}
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// ReportOutcome feeds an apply result back into the stream's record. A
// success stamps the cooldown and commits the tier change; a failure leaves
// the cooldown untouched so a retry is not immediately blocked, and bumps
// the failure tally that dampens future confidence.
func (e *StreamDecisionEngine) ReportOutcome(streamID domain.StreamID, success bool, details string, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.states[streamID]
	if !exists {
		e.logger.Warnw("outcome for unknown stream dropped", "stream_id", streamID)
		return domain.ErrUnknownStream
	}

	e.outcomeTotal++
	if success {
		e.outcomeSuccess++
		state.ConsecutivePoor = 0
		state.ConsecutiveGood = 0
		state.FailedSwitches = 0
		if last := state.LastRecommendation; last != nil {
			state.RecordSwitch(last.RecommendedTier, last.Reason, now)
		} else {
			state.LastSwitchAt = now
		}
		state.LastRecommendation = nil
		return nil
	}

	state.FailedSwitches++
	e.logger.Warnw("tier switch failed",
		"stream_id", streamID,
		"details", details,
		"failures", state.FailedSwitches,
	)
	return nil
}

// OutcomeStats returns the historical switch outcome tally.
func (e *StreamDecisionEngine) OutcomeStats() (successes, total int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcomeSuccess, e.outcomeTotal
}
