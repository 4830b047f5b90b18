package ports

import (
	"context"
	"time"

	"gridtune/internal/core/domain"
)

// NetworkProbe exposes the ambient link reading. The core treats it as a
// read-only oracle; it is queried once at the start of every evaluation
// cycle so all streams see the same reading.
type NetworkProbe interface {
	AmbientReading(ctx context.Context) (domain.NetworkReading, error)
}

// TierSwitcher is the media transport's capability to actually switch a
// stream to a target tier. The core never invokes it directly; the
// presentation layer applies recommendations and reports outcomes back.
type TierSwitcher interface {
	ApplyTier(ctx context.Context, streamID domain.StreamID, tier domain.Tier) error
}

// Aggregator owns the canonical view of current per-stream telemetry.
type Aggregator interface {
	RegisterStream(streamID domain.StreamID, meta domain.StreamMeta) error
	Ingest(streamID domain.StreamID, sample domain.StreamTelemetry) error
	UnregisterStream(streamID domain.StreamID)
	Latest(streamID domain.StreamID) (domain.StreamTelemetry, bool)
	StreamIDs() []domain.StreamID
	AggregatedView() domain.AggregatedView
	AssessNetwork(ambient domain.NetworkReading) domain.NetworkAssessment
}

// DecisionEngine evaluates a single stream's latest telemetry against its
// decision record and emits at most one recommendation per tick.
type DecisionEngine interface {
	Register(streamID domain.StreamID, meta domain.StreamMeta) error
	Unregister(streamID domain.StreamID)
	SetRole(streamID domain.StreamID, role domain.StreamRole) error
	Evaluate(streamID domain.StreamID, sample domain.StreamTelemetry, view domain.AggregatedView, now time.Time) (*domain.Recommendation, error)
	ReportOutcome(streamID domain.StreamID, success bool, details string, now time.Time) error
	State(streamID domain.StreamID) (domain.StreamState, bool)
	OutcomeStats() (successes, total int)
}

// TieringPolicy maps a layout and the primary index to per-index tier
// ceilings. Ceilings are caps, not assignments.
type TieringPolicy interface {
	TiersFor(layout domain.Layout, streamCount, primaryIndex int, assessment domain.NetworkAssessment) map[int]domain.Tier
}

// BatchSubscriber receives the bundle produced by each evaluation cycle.
type BatchSubscriber func(*domain.BatchRecommendation)

// StrategySubscriber receives strategy transitions between cycles.
type StrategySubscriber func(domain.StrategyChange)

// EventPublisher fans controller events out to sibling instances.
type EventPublisher interface {
	PublishStrategyChange(ctx context.Context, change domain.StrategyChange) error
	PublishBatch(ctx context.Context, batch *domain.BatchRecommendation) error
}
