package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/payloop/payloop/internal/config"
)

const (
	keyWebhookIngest = "payloop:ratelimit:webhook:%s"
	keyPaymentCreate = "payloop:ratelimit:payment:%s"
)

// IngestLimiter throttles webhook deliveries per provider and payment
// creation per client address. A nil limiter allows everything.
type IngestLimiter struct {
	enabled bool
	bucket  *TokenBucket

	webhookRate  float64
	webhookBurst int
	paymentRate  float64
	paymentBurst int
}

func NewIngestLimiter(cfg config.Config) (*IngestLimiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if cfg.WebhookIngestRate <= 0 || cfg.WebhookIngestBurst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}
	if cfg.PaymentCreateRate <= 0 || cfg.PaymentCreateBurst <= 0 {
		return nil, errors.New("payment rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &IngestLimiter{
		enabled:      true,
		bucket:       NewTokenBucket(client),
		webhookRate:  cfg.WebhookIngestRate,
		webhookBurst: cfg.WebhookIngestBurst,
		paymentRate:  cfg.PaymentCreateRate,
		paymentBurst: cfg.PaymentCreateBurst,
	}, nil
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *IngestLimiter) AllowWebhook(ctx context.Context, provider string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookIngest, strings.TrimSpace(provider)), l.webhookRate, l.webhookBurst)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *IngestLimiter) AllowPaymentCreate(ctx context.Context, clientAddr string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyPaymentCreate, strings.TrimSpace(clientAddr)), l.paymentRate, l.paymentBurst)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
