package services

import (
	"strings"
	"testing"
	"time"

	"gridtune/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSynthesizer() *BatchSynthesizer {
	return NewBatchSynthesizer(DefaultSynthesizerConfig(), NewLayoutTieringPolicy(nil), zap.NewNop().Sugar())
}

var synthEpoch = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func snapshot(id domain.StreamID, index int, tier domain.Tier) StreamSnapshot {
	return StreamSnapshot{
		StreamID:  id,
		Index:     index,
		Tier:      tier,
		Telemetry: goodSample(tier),
		HasData:   true,
	}
}

func baseInput(streams ...StreamSnapshot) SynthesisInput {
	return SynthesisInput{
		Now:    synthEpoch,
		Layout: domain.LayoutForCount(len(streams)),
		Assessment: domain.NetworkAssessment{
			Overall:   domain.NetworkGood,
			Timestamp: synthEpoch,
		},
		View:    domain.AggregatedView{TotalStreams: len(streams)},
		Streams: streams,
	}
}

func TestSynthesizeEmergencyOnPoorNetwork(t *testing.T) {
	synth := newTestSynthesizer()

	input := baseInput(
		snapshot("s1", 0, domain.TierHigh),
		snapshot("s2", 1, domain.TierMedium),
		snapshot("s3", 2, domain.TierFloor),
	)
	input.Assessment.Overall = domain.NetworkPoor
	// A pending upgrade candidate must be discarded under emergency.
	input.Candidates = []domain.Recommendation{{
		StreamID: "s1", Type: domain.RecommendUpgrade,
		CurrentTier: domain.TierMedium, RecommendedTier: domain.TierHigh,
		Confidence: 0.9, Timestamp: synthEpoch,
	}}

	bundle := synth.Synthesize(input)

	assert.Equal(t, domain.StrategyEmergencyDowngrade, bundle.Strategy.Type)
	assert.Equal(t, domain.PriorityCritical, bundle.Strategy.Priority)
	require.Len(t, bundle.Recommendations.Immediate, 3)
	assert.Empty(t, bundle.Recommendations.Fallback)

	byStream := map[domain.StreamID]domain.Recommendation{}
	for _, rec := range bundle.Recommendations.Immediate {
		byStream[rec.StreamID] = rec
		assert.Equal(t, domain.RecommendDowngrade, rec.Type)
		assert.Equal(t, 1.0, rec.Confidence)
	}
	assert.Equal(t, domain.TierLow, byStream["s1"].RecommendedTier)
	assert.Equal(t, domain.TierFloor, byStream["s2"].RecommendedTier)
	assert.Equal(t, domain.TierFloor, byStream["s3"].RecommendedTier, "drop saturates at the floor")
}

func TestSynthesizeEmergencyOnProblemStreamCount(t *testing.T) {
	synth := newTestSynthesizer()

	streams := make([]StreamSnapshot, 3)
	for i := range streams {
		snap := snapshot(domain.StreamID(string(rune('a'+i))), i, domain.TierMedium)
		snap.Telemetry.PacketLossPct = 10
		streams[i] = snap
	}
	input := baseInput(streams...)

	// Network axis still reads good, but three struggling streams out of
	// three crosses the emergency threshold.
	bundle := synth.Synthesize(input)
	assert.Equal(t, domain.StrategyEmergencyDowngrade, bundle.Strategy.Type)
}

func TestSynthesizeStrategyClassification(t *testing.T) {
	synth := newTestSynthesizer()

	tests := []struct {
		overall  domain.NetworkQuality
		want     domain.StrategyType
		priority domain.StrategyPriority
	}{
		{domain.NetworkFair, domain.StrategyConservativeOptimization, domain.PriorityHigh},
		{domain.NetworkExcellent, domain.StrategyQualityEnhancement, domain.PriorityLow},
		{domain.NetworkGood, domain.StrategyBalancedOptimization, domain.PriorityNormal},
	}
	for _, tt := range tests {
		input := baseInput(snapshot("s1", 0, domain.TierMedium))
		input.Assessment.Overall = tt.overall
		bundle := synth.Synthesize(input)
		assert.Equal(t, tt.want, bundle.Strategy.Type, "overall %s", tt.overall)
		assert.Equal(t, tt.priority, bundle.Strategy.Priority, "overall %s", tt.overall)
	}
}

func TestSynthesizeBucketsByConfidence(t *testing.T) {
	synth := newTestSynthesizer()

	input := baseInput(
		snapshot("s1", 0, domain.TierMedium),
	)
	input.Layout = domain.LayoutSingle
	input.Candidates = []domain.Recommendation{
		{StreamID: "s1", Type: domain.RecommendDowngrade, CurrentTier: domain.TierMedium, RecommendedTier: domain.TierLow, Confidence: 0.9},
		{StreamID: "s1", Type: domain.RecommendUpgrade, CurrentTier: domain.TierMedium, RecommendedTier: domain.TierHigh, Confidence: 0.7},
		{StreamID: "s1", Type: domain.RecommendUpgrade, CurrentTier: domain.TierMedium, RecommendedTier: domain.TierHigh, Confidence: 0.5},
	}

	bundle := synth.Synthesize(input)
	assert.Len(t, bundle.Recommendations.Immediate, 1)
	assert.Len(t, bundle.Recommendations.Fallback, 1)

	// The 0.7 upgrade lands in gradual alongside any layout advisories.
	gradualRecs := 0
	for _, rec := range bundle.Recommendations.Gradual {
		if rec.StreamID == "s1" {
			gradualRecs++
			assert.InDelta(t, 0.7, rec.Confidence, 0.001)
		}
	}
	assert.Equal(t, 1, gradualRecs)
}

func TestSynthesizeClampRelabelsReason(t *testing.T) {
	synth := newTestSynthesizer()

	input := baseInput(
		snapshot("s1", 0, domain.TierLow),
		snapshot("s2", 1, domain.TierFloor),
	)
	require.Equal(t, domain.LayoutGrid4, input.Layout)
	// Slot 1's ceiling in a small grid is low; a recommendation aiming at
	// high gets pulled down and relabeled.
	input.Candidates = []domain.Recommendation{{
		StreamID:        "s2",
		Type:            domain.RecommendUpgrade,
		CurrentTier:     domain.TierFloor,
		RecommendedTier: domain.TierHigh,
		Reason:          "sustained quality",
		Confidence:      0.7,
	}}

	bundle := synth.Synthesize(input)

	var clamped *domain.Recommendation
	for i, rec := range bundle.Recommendations.Gradual {
		if rec.StreamID == "s2" {
			clamped = &bundle.Recommendations.Gradual[i]
		}
	}
	require.NotNil(t, clamped)
	assert.Equal(t, domain.TierLow, clamped.RecommendedTier)
	assert.True(t, strings.HasPrefix(clamped.Reason, "capped at low by layout constraint"))
	assert.Contains(t, clamped.Reason, "was: sustained quality")
}

func TestSynthesizeDropsNoOpAfterClamp(t *testing.T) {
	synth := newTestSynthesizer()

	input := baseInput(
		snapshot("s1", 0, domain.TierMedium),
		snapshot("s2", 1, domain.TierLow),
	)
	// Clamping the upgrade back to the stream's current tier leaves
	// nothing to suggest.
	input.Candidates = []domain.Recommendation{{
		StreamID:        "s2",
		Type:            domain.RecommendUpgrade,
		CurrentTier:     domain.TierLow,
		RecommendedTier: domain.TierMedium,
		Confidence:      0.7,
	}}

	bundle := synth.Synthesize(input)
	for _, bucket := range [][]domain.Recommendation{
		bundle.Recommendations.Immediate,
		bundle.Recommendations.Gradual,
		bundle.Recommendations.Fallback,
	} {
		for _, rec := range bucket {
			assert.NotEqual(t, domain.StreamID("s2"), rec.StreamID)
		}
	}
}

func TestSynthesizeDropsUnknownStreamCandidate(t *testing.T) {
	synth := newTestSynthesizer()

	input := baseInput(snapshot("s1", 0, domain.TierMedium))
	input.Candidates = []domain.Recommendation{{
		StreamID:        "gone",
		Type:            domain.RecommendDowngrade,
		CurrentTier:     domain.TierMedium,
		RecommendedTier: domain.TierLow,
		Confidence:      0.9,
	}}

	bundle := synth.Synthesize(input)
	assert.Empty(t, bundle.Recommendations.Immediate)
	assert.Empty(t, bundle.Recommendations.Fallback)
}

func TestSynthesizeDropsUnregisteredStreamCandidate(t *testing.T) {
	synth := newTestSynthesizer()

	// Both streams were snapshotted at tick start, but s2 unregistered
	// before synthesis ran.
	input := baseInput(
		snapshot("s1", 0, domain.TierMedium),
		snapshot("s2", 1, domain.TierMedium),
	)
	input.Candidates = []domain.Recommendation{
		{
			StreamID: "s1", Type: domain.RecommendDowngrade,
			CurrentTier: domain.TierMedium, RecommendedTier: domain.TierLow,
			Confidence: 0.9, Timestamp: synthEpoch,
		},
		{
			StreamID: "s2", Type: domain.RecommendDowngrade,
			CurrentTier: domain.TierMedium, RecommendedTier: domain.TierLow,
			Confidence: 0.9, Timestamp: synthEpoch,
		},
	}
	input.Live = func(id domain.StreamID) bool { return id != "s2" }

	bundle := synth.Synthesize(input)
	require.Len(t, bundle.Recommendations.Immediate, 1)
	assert.Equal(t, domain.StreamID("s1"), bundle.Recommendations.Immediate[0].StreamID)
}

func TestSynthesizeEmergencySkipsUnregisteredStream(t *testing.T) {
	synth := newTestSynthesizer()

	input := baseInput(
		snapshot("s1", 0, domain.TierHigh),
		snapshot("s2", 1, domain.TierMedium),
	)
	input.Assessment.Overall = domain.NetworkPoor
	input.Live = func(id domain.StreamID) bool { return id != "s2" }

	bundle := synth.Synthesize(input)
	require.Len(t, bundle.Recommendations.Immediate, 1)
	assert.Equal(t, domain.StreamID("s1"), bundle.Recommendations.Immediate[0].StreamID)
}

func TestSynthesizeAdvisories(t *testing.T) {
	synth := newTestSynthesizer()

	// A large grid under stress suggests shrinking the layout.
	stressed := baseInput(
		snapshot("s1", 0, domain.TierMedium),
		snapshot("s2", 1, domain.TierLow),
		snapshot("s3", 2, domain.TierLow),
		snapshot("s4", 3, domain.TierFloor),
		snapshot("s5", 4, domain.TierFloor),
	)
	require.Equal(t, domain.LayoutGrid9, stressed.Layout)
	stressed.Assessment.StressLevel = domain.StressHigh

	bundle := synth.Synthesize(stressed)
	found := false
	for _, rec := range bundle.Recommendations.Gradual {
		if rec.Type == domain.RecommendLayout {
			found = true
			assert.Contains(t, rec.Reason, "reducing visible streams")
		}
	}
	assert.True(t, found)

	// A calm network with a multi-stream layout gets the sustainable note.
	calm := baseInput(
		snapshot("s1", 0, domain.TierMedium),
		snapshot("s2", 1, domain.TierLow),
	)
	calm.Assessment.StressLevel = domain.StressLow

	bundle = synth.Synthesize(calm)
	found = false
	for _, rec := range bundle.Recommendations.Gradual {
		if rec.Type == domain.RecommendLayout {
			found = true
			assert.Contains(t, rec.Reason, "headroom")
		}
	}
	assert.True(t, found)
}

func TestSynthesizeDeterministic(t *testing.T) {
	synth := newTestSynthesizer()

	build := func() SynthesisInput {
		input := baseInput(
			snapshot("s2", 1, domain.TierLow),
			snapshot("s1", 0, domain.TierMedium),
			snapshot("s3", 2, domain.TierFloor),
		)
		input.Candidates = []domain.Recommendation{
			{StreamID: "s1", Type: domain.RecommendDowngrade, CurrentTier: domain.TierMedium, RecommendedTier: domain.TierLow, Confidence: 0.9},
			{StreamID: "s3", Type: domain.RecommendUpgrade, CurrentTier: domain.TierFloor, RecommendedTier: domain.TierLow, Confidence: 0.7},
		}
		input.OutcomeSuccesses = 3
		input.OutcomeTotal = 4
		return input
	}

	first := synth.Synthesize(build())
	second := synth.Synthesize(build())
	assert.Equal(t, first, second, "identical inputs must yield identical bundles")
}

func TestBundleConfidenceRecipe(t *testing.T) {
	synth := newTestSynthesizer()

	// Assessment plus populated view, no problems, no outcome history:
	// 0.5 + 0.2 + 0 + 0 = 0.7.
	input := baseInput(snapshot("s1", 0, domain.TierMedium))
	bundle := synth.Synthesize(input)
	assert.InDelta(t, 0.7, bundle.Strategy.Confidence, 0.001)

	// A problem stream adds the clear-signal bonus: 0.9.
	problem := baseInput(snapshot("s1", 0, domain.TierMedium))
	problem.Streams[0].Telemetry.PacketLossPct = 10
	bundle = synth.Synthesize(problem)
	assert.InDelta(t, 0.9, bundle.Strategy.Confidence, 0.001)

	// A perfect switch record pushes to the cap.
	perfect := baseInput(snapshot("s1", 0, domain.TierMedium))
	perfect.Streams[0].Telemetry.PacketLossPct = 10
	perfect.OutcomeSuccesses = 5
	perfect.OutcomeTotal = 5
	bundle = synth.Synthesize(perfect)
	assert.InDelta(t, 1.0, bundle.Strategy.Confidence, 0.001)

	// An all-failure record subtracts the full 0.2.
	failing := baseInput(snapshot("s1", 0, domain.TierMedium))
	failing.OutcomeSuccesses = 0
	failing.OutcomeTotal = 5
	bundle = synth.Synthesize(failing)
	assert.InDelta(t, 0.5, bundle.Strategy.Confidence, 0.001)
}
