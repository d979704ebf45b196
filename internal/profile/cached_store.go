package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/leadrelay/pkg/logging"
)

const cacheKey = "leadrelay:profile:current"

// CachedStore keeps the profile in Redis for ttl and collapses concurrent misses.
type CachedStore struct {
	next   Store
	redis  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *logging.Logger
}

// NewCachedStore wraps next. A nil client disables caching.
func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedStore {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{next: next, redis: client, ttl: ttl, logger: logger}
}

// Current implements Store. Redis errors fall through to the wrapped store.
func (s *CachedStore) Current(ctx context.Context) (Config, error) {
	if s.redis == nil {
		return s.next.Current(ctx)
	}

	data, err := s.redis.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var cfg Config
		if jsonErr := json.Unmarshal(data, &cfg); jsonErr == nil {
			return cfg, nil
		}
		s.logger.Warn("discarding unreadable cached profile")
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("profile cache read failed", "error", err)
	}

	v, err, _ := s.group.Do(cacheKey, func() (any, error) {
		cfg, err := s.next.Current(ctx)
		if err != nil {
			return Config{}, err
		}
		if payload, err := json.Marshal(cfg); err == nil {
			if err := s.redis.Set(ctx, cacheKey, payload, s.ttl).Err(); err != nil {
				s.logger.Warn("profile cache write failed", "error", err)
			}
		}
		return cfg, nil
	})
	if err != nil {
		return Config{}, err
	}
	return v.(Config), nil
}

// Invalidate drops the cached profile.
func (s *CachedStore) Invalidate(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	if err := s.redis.Del(ctx, cacheKey).Err(); err != nil {
		return fmt.Errorf("profile: invalidate cache: %w", err)
	}
	return nil
}
