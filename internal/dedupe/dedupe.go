// Package dedupe is a redis-backed replay filter sitting in front of the
// webhook event log. It is an optimization only: the durable uniqueness
// constraint in webhook_events is what guarantees exactly-once, so a cold or
// absent redis never affects correctness.
package dedupe

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/payloop/payloop/internal/config"
)

// Store filters webhook replays. A key is marked only after the delivery has
// been fully applied, so a crash mid-application never hides a redelivery.
type Store interface {
	// Seen reports whether the key was already marked. It never marks.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records the key once the delivery's effects are durable.
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

type redisStore struct {
	client *redis.Client
	log    *zap.Logger
}

func (s *redisStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, "payloop:webhook:"+key).Result()
	if err != nil {
		// Treat redis trouble as "not seen" and let the database decide.
		s.log.Warn("replay filter unavailable", zap.Error(err))
		return false, nil
	}
	return n > 0, nil
}

func (s *redisStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, "payloop:webhook:"+key, 1, ttl).Err(); err != nil {
		s.log.Warn("replay filter unavailable", zap.Error(err))
	}
	return nil
}

type noopStore struct{}

func (noopStore) Seen(context.Context, string) (bool, error) { return false, nil }

func (noopStore) Mark(context.Context, string, time.Duration) error { return nil }

// New builds the replay filter. Without REDIS_ADDR every key reads as unseen.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Store {
	if cfg.RedisAddr == "" {
		return noopStore{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return &redisStore{client: client, log: log.Named("dedupe")}
}

var Module = fx.Options(
	fx.Provide(New),
)
