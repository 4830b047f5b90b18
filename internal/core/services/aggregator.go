package services

import (
	"sync"
	"time"

	"gridtune/internal/core/domain"

	"go.uber.org/zap"
)

// AggregatorConfig tunes retention and the network classification thresholds.
type AggregatorConfig struct {
	Retention time.Duration // rolling history window per stream

	// Bandwidth buckets in Mbps for utilization estimation and the
	// bandwidth axis of the network assessment.
	LowBandwidthMbps    float64
	MediumBandwidthMbps float64
	HighBandwidthMbps   float64

	// Stability axis triggers.
	UnstableLossPct  float64
	UnstableJitterMs float64
	UnstableRTTMs    float64
	ModerateLossPct  float64
	ModerateJitterMs float64
	ModerateRTTMs    float64
}

// DefaultAggregatorConfig returns the built-in thresholds. The exact values
// are tunable defaults, not contracts.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Retention:           60 * time.Second,
		LowBandwidthMbps:    2,
		MediumBandwidthMbps: 5,
		HighBandwidthMbps:   10,
		UnstableLossPct:     3,
		UnstableJitterMs:    80,
		UnstableRTTMs:       300,
		ModerateLossPct:     1,
		ModerateJitterMs:    40,
		ModerateRTTMs:       150,
	}
}

type streamEntry struct {
	meta    domain.StreamMeta
	latest  domain.StreamTelemetry
	hasData bool
	samples []domain.StreamTelemetry
}

// TelemetryAggregator owns the canonical "what do we currently know" view
// across all active streams. Ingestion is a non-blocking append; readers get
// point-in-time copies.
type TelemetryAggregator struct {
	mu      sync.RWMutex
	streams map[domain.StreamID]*streamEntry

	cfg    AggregatorConfig
	tiers  domain.TierTable
	logger *zap.SugaredLogger

	// previous assessment kept only for change detection
	prev *domain.NetworkAssessment

	now func() time.Time
}

func NewTelemetryAggregator(cfg AggregatorConfig, tiers domain.TierTable, logger *zap.SugaredLogger) *TelemetryAggregator {
	return &TelemetryAggregator{
		streams: make(map[domain.StreamID]*streamEntry),
		cfg:     cfg,
		tiers:   tiers,
		logger:  logger,
		now:     time.Now,
	}
}

func (a *TelemetryAggregator) RegisterStream(streamID domain.StreamID, meta domain.StreamMeta) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.streams[streamID]; exists {
		return domain.ErrDuplicateStream
	}
	if meta.Role == "" {
		meta.Role = domain.RoleSecondary
	}
	a.streams[streamID] = &streamEntry{meta: meta}

	a.logger.Infow("stream registered",
		"stream_id", streamID,
		"role", meta.Role,
		"priority", meta.Priority,
	)
	return nil
}

// Ingest records a telemetry sample. Samples older than the retention
// window are evicted lazily on each call. Unknown streams are logged and
// dropped, never fatal.
func (a *TelemetryAggregator) Ingest(streamID domain.StreamID, sample domain.StreamTelemetry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, exists := a.streams[streamID]
	if !exists {
		a.logger.Warnw("telemetry for unknown stream dropped", "stream_id", streamID)
		return domain.ErrUnknownStream
	}

	if sample.Timestamp.IsZero() {
		sample.Timestamp = a.now()
	}
	sample.StreamID = streamID

	entry.latest = sample
	entry.hasData = true
	entry.samples = append(entry.samples, sample)

	cutoff := a.now().Add(-a.cfg.Retention)
	i := 0
	for i < len(entry.samples) && entry.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		entry.samples = entry.samples[i:]
	}
	return nil
}

// UnregisterStream removes the stream and its history. Idempotent.
func (a *TelemetryAggregator) UnregisterStream(streamID domain.StreamID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.streams[streamID]; !exists {
		return
	}
	delete(a.streams, streamID)
	a.logger.Infow("stream unregistered", "stream_id", streamID)
}

// Latest returns the most recent sample for a stream, if any arrived yet.
func (a *TelemetryAggregator) Latest(streamID domain.StreamID) (domain.StreamTelemetry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entry, exists := a.streams[streamID]
	if !exists || !entry.hasData {
		return domain.StreamTelemetry{}, false
	}
	return entry.latest, true
}

// StreamIDs returns the registered stream ids in no particular order.
func (a *TelemetryAggregator) StreamIDs() []domain.StreamID {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]domain.StreamID, 0, len(a.streams))
	for id := range a.streams {
		ids = append(ids, id)
	}
	return ids
}

// AggregatedView computes the cross-stream aggregate from the latest
// samples. The result is a fresh snapshot; callers may hold it across the
// whole evaluation cycle.
func (a *TelemetryAggregator) AggregatedView() domain.AggregatedView {
	a.mu.RLock()
	defer a.mu.RUnlock()

	view := domain.AggregatedView{
		TierCounts: make(map[domain.Tier]int),
		Timestamp:  a.now(),
	}

	var (
		totalKbps   int
		sumFPS      float64
		sumLoss     float64
		sumJitter   float64
		withSamples int
	)

	for _, entry := range a.streams {
		view.TotalStreams++
		if !entry.hasData {
			continue
		}
		withSamples++
		totalKbps += entry.latest.BitrateKbps
		sumFPS += entry.latest.FPS
		sumLoss += entry.latest.PacketLossPct
		sumJitter += entry.latest.JitterMs

		res := entry.latest.Resolution
		if res.Width*res.Height > view.MaxResolution.Width*view.MaxResolution.Height {
			view.MaxResolution = res
		}
		view.TierCounts[a.tiers.TierForResolution(res)]++
	}

	if withSamples > 0 {
		n := float64(withSamples)
		view.AverageFPS = sumFPS / n
		view.AveragePacketLossPct = sumLoss / n
		view.AverageJitterMs = sumJitter / n
	}
	view.TotalBandwidthUsageMbps = float64(totalKbps) / 1000.0
	view.UtilizationPct = a.utilizationPct(view.TotalBandwidthUsageMbps)

	return view
}

func (a *TelemetryAggregator) utilizationPct(totalMbps float64) int {
	switch {
	case totalMbps < a.cfg.LowBandwidthMbps:
		return 30
	case totalMbps < a.cfg.MediumBandwidthMbps:
		return 60
	case totalMbps < a.cfg.HighBandwidthMbps:
		return 80
	default:
		return 95
	}
}

// AssessNetwork combines the aggregated view with the ambient probe reading.
// Bandwidth and stability are independent axes combined by worst-case
// precedence.
func (a *TelemetryAggregator) AssessNetwork(ambient domain.NetworkReading) domain.NetworkAssessment {
	view := a.AggregatedView()

	bandwidth := a.classifyBandwidth(view, ambient)
	stability := a.classifyStability(view, ambient)
	score := a.qualityScore(view, ambient)

	assessment := domain.NetworkAssessment{
		BandwidthState:          bandwidth,
		StabilityState:          stability,
		TotalBandwidthUsageMbps: view.TotalBandwidthUsageMbps,
		AverageQualityScore:     score,
		Timestamp:               view.Timestamp,
	}
	assessment.Overall = overallQuality(bandwidth, stability, score)
	assessment.StressLevel = stressLevel(view.UtilizationPct, assessment.Overall)

	a.mu.Lock()
	if a.prev == nil || a.prev.Overall != assessment.Overall {
		a.logger.Infow("network assessment changed",
			"overall", assessment.Overall,
			"bandwidth", bandwidth,
			"stability", stability,
			"score", score,
		)
	}
	prev := assessment
	a.prev = &prev
	a.mu.Unlock()

	return assessment
}

func (a *TelemetryAggregator) classifyBandwidth(view domain.AggregatedView, ambient domain.NetworkReading) domain.BandwidthState {
	total := view.TotalBandwidthUsageMbps

	// Ambient downlink, when known, is the hard budget.
	if ambient.DownlinkMbps > 0 && total > ambient.DownlinkMbps*0.9 {
		return domain.BandwidthOverloaded
	}
	if ambient.SaveData {
		return domain.BandwidthModerate
	}
	switch {
	case total >= a.cfg.HighBandwidthMbps:
		return domain.BandwidthOverloaded
	case total >= a.cfg.MediumBandwidthMbps:
		return domain.BandwidthModerate
	default:
		return domain.BandwidthSufficient
	}
}

func (a *TelemetryAggregator) classifyStability(view domain.AggregatedView, ambient domain.NetworkReading) domain.StabilityState {
	loss := view.AveragePacketLossPct
	jitter := view.AverageJitterMs
	rtt := ambient.RTTMs

	if loss > a.cfg.UnstableLossPct || jitter > a.cfg.UnstableJitterMs || rtt > a.cfg.UnstableRTTMs {
		return domain.StabilityUnstable
	}
	if loss > a.cfg.ModerateLossPct || jitter > a.cfg.ModerateJitterMs || rtt > a.cfg.ModerateRTTMs {
		return domain.StabilityModerate
	}
	return domain.StabilityStable
}

// qualityScore is a 0-100 health figure across all streams, penalizing
// loss, jitter and low frame rates.
func (a *TelemetryAggregator) qualityScore(view domain.AggregatedView, ambient domain.NetworkReading) float64 {
	if view.TotalStreams == 0 {
		return 0
	}

	score := 100.0
	score -= view.AveragePacketLossPct * 8.0
	score -= view.AverageJitterMs / 2.0
	if view.AverageFPS < 24 {
		score -= (24 - view.AverageFPS) * 2.0
	}
	if ambient.RTTMs > 100 {
		score -= (ambient.RTTMs - 100) / 10.0
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func overallQuality(bandwidth domain.BandwidthState, stability domain.StabilityState, score float64) domain.NetworkQuality {
	if bandwidth == domain.BandwidthOverloaded || stability == domain.StabilityUnstable {
		return domain.NetworkPoor
	}
	if bandwidth == domain.BandwidthSufficient && stability == domain.StabilityStable {
		if score > 80 {
			return domain.NetworkExcellent
		}
		return domain.NetworkGood
	}
	// exactly one axis degraded to moderate keeps us at good
	if bandwidth == domain.BandwidthSufficient || stability == domain.StabilityStable {
		return domain.NetworkGood
	}
	return domain.NetworkFair
}

func stressLevel(utilizationPct int, overall domain.NetworkQuality) domain.StressLevel {
	if overall == domain.NetworkPoor || utilizationPct >= 95 {
		return domain.StressHigh
	}
	if overall == domain.NetworkFair || utilizationPct >= 80 {
		return domain.StressMedium
	}
	return domain.StressLow
}
