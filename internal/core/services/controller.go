package services

import (
	"context"
	"sync"
	"time"

	"gridtune/internal/core/domain"
	"gridtune/internal/core/ports"
	"gridtune/pkg/retry"
	"gridtune/pkg/tracing"

	"go.uber.org/zap"
)

// ControllerConfig tunes the evaluation loop.
type ControllerConfig struct {
	EvaluationInterval time.Duration
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{EvaluationInterval: 3 * time.Second}
}

// Metrics is the observability hook the controller reports into. Kept as a
// small interface so the prometheus collector stays an infrastructure
// concern.
type Metrics interface {
	RecordStreamRegistered()
	RecordStreamUnregistered()
	RecordTelemetryIngested(streamID domain.StreamID)
	RecordRecommendation(typ domain.RecommendationType, bucket string)
	RecordStrategyChange(strategy domain.StrategyType)
	RecordBatch(confidence float64, duration time.Duration)
	RecordNetworkAssessment(assessment domain.NetworkAssessment)
}

// Controller wires the aggregator, decision engine, tiering policy and
// synthesizer into one periodic evaluation loop. All streams inside one
// tick are judged against the same network assessment snapshot.
type Controller struct {
	aggregator ports.Aggregator
	engine     ports.DecisionEngine
	synth      *BatchSynthesizer
	probe      ports.NetworkProbe
	recRepo    ports.RecommendationRepository
	events     ports.EventPublisher
	metrics    Metrics
	logger     *zap.SugaredLogger

	cfg ControllerConfig

	mu           sync.Mutex
	order        []domain.StreamID // registration order defines layout slots
	layout       domain.Layout
	layoutPinned bool // explicit SetLayout stops auto-derivation
	primaryIndex int
	lastStrategy domain.StrategyType
	lastBatch    *domain.BatchRecommendation
	lastTick     time.Time

	subMu        sync.RWMutex
	batchSubs    []ports.BatchSubscriber
	strategySubs []ports.StrategySubscriber

	now func() time.Time
}

// ControllerOption customizes construction.
type ControllerOption func(*Controller)

// WithEventPublisher attaches a distributed event publisher.
func WithEventPublisher(pub ports.EventPublisher) ControllerOption {
	return func(c *Controller) { c.events = pub }
}

// WithMetrics attaches an observability collector.
func WithMetrics(m Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

func NewController(
	cfg ControllerConfig,
	aggregator ports.Aggregator,
	engine ports.DecisionEngine,
	synth *BatchSynthesizer,
	probe ports.NetworkProbe,
	recRepo ports.RecommendationRepository,
	logger *zap.SugaredLogger,
	opts ...ControllerOption,
) *Controller {
	c := &Controller{
		aggregator:   aggregator,
		engine:       engine,
		synth:        synth,
		probe:        probe,
		recRepo:      recRepo,
		logger:       logger,
		cfg:          cfg,
		layout:       domain.LayoutSingle,
		primaryIndex: 0,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drives the periodic evaluation loop until the context is cancelled.
// Telemetry ingestion happens on its own cadence and is never blocked by
// evaluation.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.EvaluationInterval)
	defer ticker.Stop()

	c.logger.Infow("controller loop started", "interval", c.cfg.EvaluationInterval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller loop stopped")
			return
		case <-ticker.C:
			if _, err := c.EvaluateOnce(ctx); err != nil {
				c.logger.Warnw("evaluation cycle failed", "error", err)
			}
		}
	}
}

// RegisterStream adds the stream to the aggregator and the decision engine.
func (c *Controller) RegisterStream(streamID domain.StreamID, meta domain.StreamMeta) error {
	if err := c.aggregator.RegisterStream(streamID, meta); err != nil {
		return err
	}
	if err := c.engine.Register(streamID, meta); err != nil {
		c.aggregator.UnregisterStream(streamID)
		return err
	}

	c.mu.Lock()
	c.order = append(c.order, streamID)
	if !c.layoutPinned {
		c.layout = domain.LayoutForCount(len(c.order))
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordStreamRegistered()
	}
	return nil
}

// UnregisterStream removes the stream everywhere. Any recommendation
// already queued for it is dropped before the next synthesis completes.
func (c *Controller) UnregisterStream(ctx context.Context, streamID domain.StreamID) {
	c.aggregator.UnregisterStream(streamID)
	c.engine.Unregister(streamID)

	c.mu.Lock()
	for i, id := range c.order {
		if id == streamID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.primaryIndex >= len(c.order) {
		c.primaryIndex = 0
	}
	if !c.layoutPinned {
		c.layout = domain.LayoutForCount(len(c.order))
	}
	c.mu.Unlock()

	if c.recRepo != nil {
		if err := c.recRepo.PruneStream(ctx, streamID); err != nil {
			c.logger.Warnw("failed to prune recommendation history", "stream_id", streamID, "error", err)
		}
	}
	if c.metrics != nil {
		c.metrics.RecordStreamUnregistered()
	}
}

// Ingest forwards a telemetry sample to the aggregator.
func (c *Controller) Ingest(streamID domain.StreamID, sample domain.StreamTelemetry) error {
	if err := c.aggregator.Ingest(streamID, sample); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordTelemetryIngested(streamID)
	}
	return nil
}

// SetPrimary flags the stream at the given layout slot as primary.
func (c *Controller) SetPrimary(index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.order) {
		c.mu.Unlock()
		return domain.ErrUnknownStream
	}
	prev := c.primaryIndex
	c.primaryIndex = index
	prevID := c.order[prev]
	newID := c.order[index]
	c.mu.Unlock()

	if prevID != newID {
		if err := c.engine.SetRole(prevID, domain.RoleSecondary); err != nil {
			c.logger.Warnw("failed to demote previous primary", "stream_id", prevID, "error", err)
		}
	}
	return c.engine.SetRole(newID, domain.RolePrimary)
}

// SetLayout pins the presentation layout. Until called, the layout follows
// the registered stream count.
func (c *Controller) SetLayout(layout domain.Layout) error {
	if !layout.Valid() {
		return domain.ErrInvalidLayout
	}
	c.mu.Lock()
	c.layout = layout
	c.layoutPinned = true
	c.mu.Unlock()
	return nil
}

// ApplyConfig swaps the decision thresholds, synthesis weights and layout
// ceiling table at runtime. Stream state and history are preserved; the
// next cycle evaluates under the new tables.
func (c *Controller) ApplyConfig(decision DecisionConfig, synthCfg SynthesizerConfig, strategies LayoutStrategyTable) {
	if e, ok := c.engine.(interface{ SetConfig(DecisionConfig) }); ok {
		e.SetConfig(decision)
	}
	c.synth.SetConfig(synthCfg)
	if strategies != nil {
		c.synth.tiering.SetStrategies(strategies)
	}
	c.logger.Info("runtime configuration applied")
}

// ReportOutcome feeds a switch result back into the engine.
func (c *Controller) ReportOutcome(streamID domain.StreamID, success bool, details string) error {
	return c.engine.ReportOutcome(streamID, success, details, c.now())
}

// LastBatch returns the most recent bundle, if a cycle ran yet.
func (c *Controller) LastBatch() *domain.BatchRecommendation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBatch
}

// LastTick reports when the loop last completed a cycle, for liveness
// checks.
func (c *Controller) LastTick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTick
}

// SubscribeBatch registers a callback for every synthesized bundle.
func (c *Controller) SubscribeBatch(sub ports.BatchSubscriber) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.batchSubs = append(c.batchSubs, sub)
}

// SubscribeStrategy registers a callback for strategy transitions.
func (c *Controller) SubscribeStrategy(sub ports.StrategySubscriber) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.strategySubs = append(c.strategySubs, sub)
}

// EvaluateOnce runs one full evaluation cycle and publishes the bundle. It
// is also the manual "refresh suggestions" trigger.
func (c *Controller) EvaluateOnce(ctx context.Context) (*domain.BatchRecommendation, error) {
	started := c.now()
	ctx, span := tracing.TraceEvaluation(ctx, len(c.Streams()))
	defer span.End()

	// One ambient reading and one assessment per tick; every stream is
	// judged against the same snapshot.
	var ambient domain.NetworkReading
	if c.probe != nil {
		reading, err := c.probe.AmbientReading(ctx)
		if err != nil {
			c.logger.Warnw("network probe unavailable, assessing from stream telemetry only", "error", err)
		} else {
			ambient = reading
		}
	}

	view := c.aggregator.AggregatedView()
	assessment := c.aggregator.AssessNetwork(ambient)

	c.mu.Lock()
	order := make([]domain.StreamID, len(c.order))
	copy(order, c.order)
	layout := c.layout
	primaryIndex := c.primaryIndex
	c.mu.Unlock()

	snapshots := make([]StreamSnapshot, 0, len(order))
	var candidates []domain.Recommendation

	for i, id := range order {
		snap := StreamSnapshot{StreamID: id, Index: i}
		if state, ok := c.engine.State(id); ok {
			snap.Tier = state.CurrentTier
		}
		if sample, ok := c.aggregator.Latest(id); ok {
			snap.Telemetry = sample
			snap.HasData = true

			rec, err := c.engine.Evaluate(id, sample, view, started)
			if err != nil {
				// A single stream's bad data never fails the cycle.
				c.logger.Debugw("stream skipped this cycle", "stream_id", id, "error", err)
			} else if rec != nil {
				candidates = append(candidates, *rec)
			}
			if state, ok := c.engine.State(id); ok {
				snap.Tier = state.CurrentTier
			}
		}
		snapshots = append(snapshots, snap)
	}

	successes, total := c.engine.OutcomeStats()
	bundle := c.synth.Synthesize(SynthesisInput{
		Now:          started,
		Layout:       layout,
		PrimaryIndex: primaryIndex,
		Assessment:   assessment,
		View:         view,
		Streams:      snapshots,
		Candidates:   candidates,
		// Snapshots were captured at tick start; a stream unregistered
		// since then must not reach the bundle.
		Live: func(id domain.StreamID) bool {
			_, ok := c.engine.State(id)
			return ok
		},
		OutcomeSuccesses: successes,
		OutcomeTotal:     total,
	})

	c.mu.Lock()
	strategyChanged := c.lastStrategy != "" && c.lastStrategy != bundle.Strategy.Type
	prevStrategy := c.lastStrategy
	c.lastStrategy = bundle.Strategy.Type
	c.lastBatch = bundle
	c.lastTick = c.now()
	c.mu.Unlock()

	tracing.AddSpanAttributes(ctx, tracing.StrategyKey.String(string(bundle.Strategy.Type)))

	c.persistBatch(ctx, bundle)
	c.recordMetrics(assessment, bundle, c.now().Sub(started))

	if strategyChanged {
		change := domain.StrategyChange{From: prevStrategy, To: bundle.Strategy.Type, At: started}
		c.logger.Infow("strategy changed", "from", change.From, "to", change.To)
		c.notifyStrategy(change)
		if c.events != nil {
			if err := c.events.PublishStrategyChange(ctx, change); err != nil {
				c.logger.Warnw("failed to publish strategy change", "error", err)
			}
		}
	}

	c.notifyBatch(bundle)
	if c.events != nil {
		if err := c.events.PublishBatch(ctx, bundle); err != nil {
			c.logger.Warnw("failed to publish batch", "error", err)
		}
	}

	return bundle, nil
}

func (c *Controller) persistBatch(ctx context.Context, bundle *domain.BatchRecommendation) {
	if c.recRepo == nil {
		return
	}
	ctx, span := tracing.TraceRepositoryOperation(ctx, "save_batch", "recommendations")
	defer span.End()

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 2
	if err := retry.Retry(ctx, cfg, func() error {
		return c.recRepo.SaveBatch(ctx, bundle)
	}); err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Warnw("failed to persist batch", "error", err)
	}
}

func (c *Controller) recordMetrics(assessment domain.NetworkAssessment, bundle *domain.BatchRecommendation, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordNetworkAssessment(assessment)
	c.metrics.RecordBatch(bundle.Strategy.Confidence, elapsed)
	for _, rec := range bundle.Recommendations.Immediate {
		c.metrics.RecordRecommendation(rec.Type, "immediate")
	}
	for _, rec := range bundle.Recommendations.Gradual {
		c.metrics.RecordRecommendation(rec.Type, "gradual")
	}
	for _, rec := range bundle.Recommendations.Fallback {
		c.metrics.RecordRecommendation(rec.Type, "fallback")
	}
	c.metrics.RecordStrategyChange(bundle.Strategy.Type)
}

// notifyBatch fans the bundle out to subscribers. One subscriber's panic
// must not block delivery to the others.
func (c *Controller) notifyBatch(bundle *domain.BatchRecommendation) {
	c.subMu.RLock()
	subs := make([]ports.BatchSubscriber, len(c.batchSubs))
	copy(subs, c.batchSubs)
	c.subMu.RUnlock()

	for i, sub := range subs {
		c.deliver(i, func() { sub(bundle) })
	}
}

func (c *Controller) notifyStrategy(change domain.StrategyChange) {
	c.subMu.RLock()
	subs := make([]ports.StrategySubscriber, len(c.strategySubs))
	copy(subs, c.strategySubs)
	c.subMu.RUnlock()

	for i, sub := range subs {
		c.deliver(i, func() { sub(change) })
	}
}

func (c *Controller) deliver(idx int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorw("subscriber panicked", "subscriber", idx, "panic", r)
		}
	}()
	fn()
}

// Streams returns the registered stream ids in their layout slot order.
func (c *Controller) Streams() []domain.StreamID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.StreamID, len(c.order))
	copy(out, c.order)
	return out
}
