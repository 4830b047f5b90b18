package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gridtune/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batchWith(recs ...domain.Recommendation) *domain.BatchRecommendation {
	return &domain.BatchRecommendation{
		Timestamp:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Layout:          domain.LayoutGrid4,
		TotalStreams:    len(recs),
		Recommendations: domain.RecommendationBuckets{Immediate: recs},
	}
}

func rec(id domain.StreamID, reason string) domain.Recommendation {
	return domain.Recommendation{
		StreamID:        id,
		Type:            domain.RecommendDowngrade,
		CurrentTier:     domain.TierMedium,
		RecommendedTier: domain.TierLow,
		Reason:          reason,
		Confidence:      0.9,
	}
}

func TestLatestBatchEmpty(t *testing.T) {
	repo := NewMemoryRecommendationRepository()

	_, err := repo.LatestBatch(context.Background())
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestSaveAndLatestBatch(t *testing.T) {
	repo := NewMemoryRecommendationRepository()
	ctx := context.Background()

	first := batchWith(rec("s1", "one"))
	second := batchWith(rec("s1", "two"))
	require.NoError(t, repo.SaveBatch(ctx, first))
	require.NoError(t, repo.SaveBatch(ctx, second))

	latest, err := repo.LatestBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, *second, *latest)
	assert.NotSame(t, second, latest, "caller gets a copy")
}

func TestListByStreamNewestFirst(t *testing.T) {
	repo := NewMemoryRecommendationRepository()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.SaveBatch(ctx, batchWith(rec("s1", fmt.Sprintf("r%d", i)))))
	}

	recs, err := repo.ListByStream(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "r2", recs[0].Reason)
	assert.Equal(t, "r0", recs[2].Reason)

	limited, err := repo.ListByStream(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "r2", limited[0].Reason)
}

func TestListByStreamUnknown(t *testing.T) {
	repo := NewMemoryRecommendationRepository()

	recs, err := repo.ListByStream(context.Background(), "ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestHistoryBounded(t *testing.T) {
	repo := NewMemoryRecommendationRepository()
	ctx := context.Background()

	for i := 0; i < defaultHistoryLimit+20; i++ {
		require.NoError(t, repo.SaveBatch(ctx, batchWith(rec("s1", fmt.Sprintf("r%d", i)))))
	}

	recs, err := repo.ListByStream(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, recs, defaultHistoryLimit)
	assert.Equal(t, fmt.Sprintf("r%d", defaultHistoryLimit+19), recs[0].Reason, "oldest entries evicted first")
}

func TestPruneStream(t *testing.T) {
	repo := NewMemoryRecommendationRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveBatch(ctx, batchWith(rec("s1", "one"), rec("s2", "two"))))
	require.NoError(t, repo.PruneStream(ctx, "s1"))

	recs, err := repo.ListByStream(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)

	kept, err := repo.ListByStream(ctx, "s2", 0)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
