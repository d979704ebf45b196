package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/leadrelay/internal/config"
	"github.com/wolfman30/leadrelay/internal/conversation"
	"github.com/wolfman30/leadrelay/internal/events"
	"github.com/wolfman30/leadrelay/internal/leads"
	"github.com/wolfman30/leadrelay/internal/profile"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildLocker returns the per-lead lock. The Redis backend is only used when
// requested and a client is available; otherwise locks stay in-process.
func BuildLocker(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) conversation.Locker {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || cfg.LockBackend != LockBackendRedis {
		return conversation.NewKeyedMutex()
	}
	if redisClient == nil {
		logger.Warn("redis lock backend requested without redis; using in-process locks")
		return conversation.NewKeyedMutex()
	}
	return conversation.NewRedisLocker(redisClient, cfg.LockTTL, func(key string, err error) {
		logger.Error("lead lock lost", "key", key, "error", err)
	})
}

// BuildLeadsRepository picks Postgres when a pool exists.
func BuildLeadsRepository(pool *pgxpool.Pool) leads.Repository {
	if pool == nil {
		return leads.NewInMemoryRepository()
	}
	return leads.NewPostgresRepository(pool)
}

// BuildDuplicateGuard picks the Postgres processed-events table when a pool exists.
func BuildDuplicateGuard(pool *pgxpool.Pool) events.DuplicateGuard {
	if pool == nil {
		return events.NewMemoryProcessedStore()
	}
	return events.NewProcessedStore(pool)
}

// DefaultProfile is the tenant profile applied when none is stored.
func DefaultProfile(cfg *appconfig.Config) profile.Config {
	defaults := profile.DefaultConfig()
	if cfg == nil {
		return defaults
	}
	return profile.Config{
		CompanyName:    cfg.DefaultCompanyName,
		AssistantName:  cfg.DefaultAssistantName,
		SchedulingLink: cfg.DefaultSchedulingLink,
	}.WithDefaults(defaults)
}

// BuildProfileResolver reads the tenant profile from Postgres, cached in
// Redis when available, and falls back to configured defaults.
func BuildProfileResolver(cfg *appconfig.Config, db *sql.DB, redisClient *redis.Client, logger *logging.Logger) *profile.Resolver {
	defaults := DefaultProfile(cfg)
	var store profile.Store = profile.Static(defaults)
	if db != nil {
		store = profile.NewPostgresStore(db)
		if redisClient != nil && cfg != nil {
			store = profile.NewCachedStore(store, redisClient, cfg.ProfileCacheTTL, logger)
		}
	}
	return profile.NewResolver(store, defaults, logger)
}
