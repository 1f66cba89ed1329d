// package cache provides a Redis-backed read-through cache for query results.
//
// The service is injected where needed and owns an explicit lifecycle: callers
// construct it, use it, and Close it during shutdown. There is no package
// singleton and no signal handling here.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/soundlens/soundlens/internal/shared"
)

// Service memoizes JSON-serializable values with per-key TTLs.
type Service struct {
	rdb    *redis.Client
	logger *log.Logger
}

// New creates a cache service from config. Returns nil when no Redis address
// is configured; callers treat a nil *Service as cache-disabled.
func New(cfg shared.CacheConfig, logger *log.Logger) *Service {
	if cfg.Addr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Service{rdb: rdb, logger: logger}
}

// GetJSON loads the value under key into dest. The bool reports a cache hit;
// a miss is not an error.
func (s *Service) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if s == nil {
		return false, nil
	}

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// A corrupt entry behaves like a miss; the caller will overwrite it.
		s.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		return false, nil
	}

	return true, nil
}

// SetJSON stores a value under key with the given TTL.
func (s *Service) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if s == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}

	if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}

	return nil
}

// Delete removes keys, typically to invalidate after a write.
func (s *Service) Delete(ctx context.Context, keys ...string) error {
	if s == nil || len(keys) == 0 {
		return nil
	}

	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}

	return nil
}

// Close releases the underlying Redis connection pool.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	return s.rdb.Close()
}
