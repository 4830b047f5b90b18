package ports

import (
	"context"

	"gridtune/internal/core/domain"
)

// RecommendationRepository persists emitted recommendations so the control
// API can serve history after the fact. Core decision state is never
// persisted; this is a convenience surface only.
type RecommendationRepository interface {
	SaveBatch(ctx context.Context, batch *domain.BatchRecommendation) error
	LatestBatch(ctx context.Context) (*domain.BatchRecommendation, error)
	ListByStream(ctx context.Context, streamID domain.StreamID, limit int) ([]domain.Recommendation, error)
	PruneStream(ctx context.Context, streamID domain.StreamID) error
}
