package memory

import (
	"context"
	"sync"

	"gridtune/internal/core/domain"
	"gridtune/internal/core/ports"
)

const defaultHistoryLimit = 100

type MemoryRecommendationRepository struct {
	latest  *domain.BatchRecommendation
	history map[domain.StreamID][]domain.Recommendation
	limit   int
	mu      sync.RWMutex
}

func NewMemoryRecommendationRepository() ports.RecommendationRepository {
	return &MemoryRecommendationRepository{
		history: make(map[domain.StreamID][]domain.Recommendation),
		limit:   defaultHistoryLimit,
	}
}

func (r *MemoryRecommendationRepository) SaveBatch(ctx context.Context, batch *domain.BatchRecommendation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *batch
	r.latest = &copied

	for _, bucket := range [][]domain.Recommendation{
		batch.Recommendations.Immediate,
		batch.Recommendations.Gradual,
		batch.Recommendations.Fallback,
	} {
		for _, rec := range bucket {
			recs := append(r.history[rec.StreamID], rec)
			if len(recs) > r.limit {
				recs = recs[len(recs)-r.limit:]
			}
			r.history[rec.StreamID] = recs
		}
	}

	return nil
}

func (r *MemoryRecommendationRepository) LatestBatch(ctx context.Context) (*domain.BatchRecommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.latest == nil {
		return nil, domain.ErrInsufficientData
	}

	copied := *r.latest
	return &copied, nil
}

func (r *MemoryRecommendationRepository) ListByStream(ctx context.Context, streamID domain.StreamID, limit int) ([]domain.Recommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.history[streamID]
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}

	// Newest first.
	out := make([]domain.Recommendation, 0, limit)
	for i := len(recs) - 1; i >= len(recs)-limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

func (r *MemoryRecommendationRepository) PruneStream(ctx context.Context, streamID domain.StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.history, streamID)
	return nil
}
