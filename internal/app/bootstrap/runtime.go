package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/mhire/triage-assistant/internal/config"
	"github.com/mhire/triage-assistant/internal/events"
	"github.com/mhire/triage-assistant/pkg/logging"
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

// BuildProcessedStore picks the webhook dedupe store: Redis when a client is
// available, otherwise an in-process map.
func BuildProcessedStore(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) events.ProcessedStore {
	if logger == nil {
		logger = logging.Default()
	}
	ttl := events.DefaultProcessedTTL
	if cfg != nil && cfg.DedupeTTL > 0 {
		ttl = cfg.DedupeTTL
	}
	if redisClient == nil {
		logger.Info("webhook dedupe using in-memory store", "ttl", ttl.String())
		return events.NewMemoryProcessedStore(ttl)
	}
	logger.Info("webhook dedupe using redis", "ttl", ttl.String())
	return events.NewRedisProcessedStore(redisClient, ttl)
}
