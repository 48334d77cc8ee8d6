package rank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
	"github.com/JakeFAU/site-audit/internal/metrics"
)

// kv is the subset of *redis.Client the cache needs.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedQuerier memoizes SERP responses per keyword, location and day.
// Cache failures fall through to the wrapped querier.
type CachedQuerier struct {
	next   audit.RankQueryService
	cache  kv
	ttl    time.Duration
	clock  audit.Clock
	logger *zap.Logger
}

// NewCachedQuerier wraps next with a Redis-backed cache.
func NewCachedQuerier(next audit.RankQueryService, cache kv, ttl time.Duration, clock audit.Clock, logger *zap.Logger) *CachedQuerier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedQuerier{next: next, cache: cache, ttl: ttl, clock: clock, logger: logger.Named("rank_cache")}
}

// Query serves from cache when possible.
func (q *CachedQuerier) Query(ctx context.Context, keyword, location string) (audit.SERPResponse, error) {
	key := q.key(keyword, location)

	raw, err := q.cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var resp audit.SERPResponse
		if jsonErr := json.Unmarshal(raw, &resp); jsonErr == nil {
			metrics.ObserveRankCache("hit")
			return resp, nil
		}
		metrics.ObserveRankCache("error")
	case errors.Is(err, redis.Nil):
		metrics.ObserveRankCache("miss")
	default:
		metrics.ObserveRankCache("error")
		q.logger.Warn("serp cache get failed", zap.Error(err))
	}

	resp, err := q.next.Query(ctx, keyword, location)
	if err != nil {
		return audit.SERPResponse{}, err
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return resp, nil
	}
	if err := q.cache.Set(ctx, key, payload, q.ttl).Err(); err != nil {
		q.logger.Warn("serp cache set failed", zap.Error(err))
	}
	return resp, nil
}

func (q *CachedQuerier) key(keyword, location string) string {
	return fmt.Sprintf("serp:%s:%s:%s",
		q.clock.Now().UTC().Format(time.DateOnly),
		strings.ToLower(strings.TrimSpace(location)),
		strings.ToLower(strings.TrimSpace(keyword)),
	)
}
