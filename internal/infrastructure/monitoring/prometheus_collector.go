package monitoring

import (
	"time"

	"gridtune/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	streamsActiveTotal   prometheus.Gauge
	telemetryFramesTotal *prometheus.CounterVec
	recommendationsTotal *prometheus.CounterVec
	strategyChangesTotal *prometheus.CounterVec
	batchesTotal         prometheus.Counter

	// Histograms
	batchDuration   prometheus.Histogram
	batchConfidence prometheus.Histogram

	// Network assessment gauges
	networkBandwidthMbps prometheus.Gauge
	networkQualityScore  prometheus.Gauge
	networkQuality       *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		streamsActiveTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gridtune_streams_active_total",
			Help: "Total number of registered streams",
		}),

		telemetryFramesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridtune_telemetry_frames_total",
			Help: "Total number of ingested telemetry frames",
		}, []string{"stream_id"}),

		recommendationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridtune_recommendations_total",
			Help: "Total number of emitted quality recommendations",
		}, []string{"type", "bucket"}),

		strategyChangesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gridtune_strategy_total",
			Help: "Batch strategy occurrences by type",
		}, []string{"strategy"}),

		batchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gridtune_batches_total",
			Help: "Total number of synthesized recommendation batches",
		}),

		batchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridtune_batch_duration_seconds",
			Help:    "Duration of one evaluation cycle",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		batchConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridtune_batch_confidence",
			Help:    "Confidence of synthesized batches",
			Buckets: []float64{0.2, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),

		networkBandwidthMbps: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gridtune_network_bandwidth_usage_mbps",
			Help: "Estimated total bandwidth usage across streams",
		}),

		networkQualityScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gridtune_network_quality_score",
			Help: "Average per-stream quality score (0-100)",
		}),

		networkQuality: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gridtune_network_quality",
			Help: "Current network quality assessment (1 = active)",
		}, []string{"quality"}),
	}
}

func (p *PrometheusCollector) RecordStreamRegistered() {
	p.streamsActiveTotal.Inc()
}

func (p *PrometheusCollector) RecordStreamUnregistered() {
	p.streamsActiveTotal.Dec()
}

func (p *PrometheusCollector) RecordTelemetryIngested(streamID domain.StreamID) {
	p.telemetryFramesTotal.WithLabelValues(string(streamID)).Inc()
}

func (p *PrometheusCollector) RecordRecommendation(typ domain.RecommendationType, bucket string) {
	p.recommendationsTotal.WithLabelValues(string(typ), bucket).Inc()
}

func (p *PrometheusCollector) RecordStrategyChange(strategy domain.StrategyType) {
	p.strategyChangesTotal.WithLabelValues(string(strategy)).Inc()
}

func (p *PrometheusCollector) RecordBatch(confidence float64, duration time.Duration) {
	p.batchesTotal.Inc()
	p.batchDuration.Observe(duration.Seconds())
	p.batchConfidence.Observe(confidence)
}

func (p *PrometheusCollector) RecordNetworkAssessment(assessment domain.NetworkAssessment) {
	p.networkBandwidthMbps.Set(assessment.TotalBandwidthUsageMbps)
	p.networkQualityScore.Set(assessment.AverageQualityScore)

	for _, q := range []domain.NetworkQuality{
		domain.NetworkExcellent,
		domain.NetworkGood,
		domain.NetworkFair,
		domain.NetworkPoor,
	} {
		v := 0.0
		if assessment.Overall == q {
			v = 1.0
		}
		p.networkQuality.WithLabelValues(string(q)).Set(v)
	}
}
