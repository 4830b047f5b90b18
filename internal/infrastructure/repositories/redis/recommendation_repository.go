package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gridtune/internal/core/domain"
	"gridtune/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	historyLimit = 100
	historyTTL   = 24 * time.Hour
)

type RedisRecommendationRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRecommendationRepository(client *redis.Client) ports.RecommendationRepository {
	return &RedisRecommendationRepository{
		client: client,
		prefix: "gridtune:",
	}
}

func (r *RedisRecommendationRepository) latestBatchKey() string {
	return r.prefix + "batch:latest"
}

func (r *RedisRecommendationRepository) streamKey(id domain.StreamID) string {
	return r.prefix + "recs:" + string(id)
}

func (r *RedisRecommendationRepository) SaveBatch(ctx context.Context, batch *domain.BatchRecommendation) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	if err := r.client.Set(ctx, r.latestBatchKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set latest batch in Redis: %w", err)
	}

	pipe := r.client.Pipeline()
	for _, bucket := range [][]domain.Recommendation{
		batch.Recommendations.Immediate,
		batch.Recommendations.Gradual,
		batch.Recommendations.Fallback,
	} {
		for _, rec := range bucket {
			payload, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal recommendation: %w", err)
			}
			key := r.streamKey(rec.StreamID)
			pipe.LPush(ctx, key, payload)
			pipe.LTrim(ctx, key, 0, historyLimit-1)
			pipe.Expire(ctx, key, historyTTL)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append recommendation history: %w", err)
	}

	return nil
}

func (r *RedisRecommendationRepository) LatestBatch(ctx context.Context) (*domain.BatchRecommendation, error) {
	data, err := r.client.Get(ctx, r.latestBatchKey()).Result()
	if err == redis.Nil {
		return nil, domain.ErrInsufficientData
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest batch from Redis: %w", err)
	}

	var batch domain.BatchRecommendation
	if err := json.Unmarshal([]byte(data), &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}

	return &batch, nil
}

func (r *RedisRecommendationRepository) ListByStream(ctx context.Context, streamID domain.StreamID, limit int) ([]domain.Recommendation, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}

	entries, err := r.client.LRange(ctx, r.streamKey(streamID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recommendations from Redis: %w", err)
	}

	recs := make([]domain.Recommendation, 0, len(entries))
	for _, entry := range entries {
		var rec domain.Recommendation
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			// Skip entries written by an incompatible version
			continue
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

func (r *RedisRecommendationRepository) PruneStream(ctx context.Context, streamID domain.StreamID) error {
	if err := r.client.Del(ctx, r.streamKey(streamID)).Err(); err != nil {
		return fmt.Errorf("failed to prune recommendation history: %w", err)
	}
	return nil
}
