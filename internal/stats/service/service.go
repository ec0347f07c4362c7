// Package service computes gateway health from recorded attempt outcomes.
package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/payloop/payloop/internal/stats/domain"
	"github.com/payloop/payloop/internal/stats/repository"
)

const (
	// healthWindow is the rolling window health is judged on.
	healthWindow = 24 * time.Hour
	// minWindowSamples is how many attempts the window needs before health
	// can leave healthy. Thin data should not page anyone.
	minWindowSamples  = 5
	healthyThreshold  = 0.90
	degradedThreshold = 0.50
)

type Service interface {
	RecordSuccess(ctx context.Context, provider string, transactionID snowflake.ID) error
	RecordFailure(ctx context.Context, provider string, transactionID snowflake.ID) error
	Snapshot(ctx context.Context, provider string) (*domain.Snapshot, error)
	Snapshots(ctx context.Context) ([]domain.Snapshot, error)
	Health(ctx context.Context, provider string) (domain.HealthStatus, error)
}

type service struct {
	repo repository.Repository
	node *snowflake.Node
	log  *zap.Logger
	now  func() time.Time
}

func New(repo repository.Repository, node *snowflake.Node, log *zap.Logger) Service {
	return &service{
		repo: repo,
		node: node,
		log:  log.Named("stats"),
		now:  time.Now,
	}
}

func (s *service) RecordSuccess(ctx context.Context, provider string, transactionID snowflake.ID) error {
	return s.record(ctx, provider, transactionID, domain.OutcomeSuccess)
}

func (s *service) RecordFailure(ctx context.Context, provider string, transactionID snowflake.ID) error {
	return s.record(ctx, provider, transactionID, domain.OutcomeFailure)
}

func (s *service) record(ctx context.Context, provider string, transactionID snowflake.ID, outcome domain.Outcome) error {
	err := s.repo.Record(ctx, &domain.GatewayAttempt{
		ID:            s.node.Generate(),
		Provider:      provider,
		Outcome:       outcome,
		TransactionID: transactionID,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		// Stats never block a payment; log and move on.
		s.log.Warn("attempt record failed",
			zap.String("provider", provider),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
	}
	return err
}

func (s *service) Snapshot(ctx context.Context, provider string) (*domain.Snapshot, error) {
	agg, err := s.repo.Aggregate(ctx, provider, s.now().UTC().Add(-healthWindow))
	if err != nil {
		return nil, err
	}

	snapshot := &domain.Snapshot{
		Provider:        provider,
		TotalAttempts:   agg.Total,
		Successes:       agg.Successes,
		Failures:        agg.Total - agg.Successes,
		WindowAttempts:  agg.WindowTotal,
		WindowSuccesses: agg.WindowSuccesses,
		LastSuccessAt:   agg.LastSuccessAt,
		LastFailureAt:   agg.LastFailureAt,
	}
	if agg.Total > 0 {
		snapshot.SuccessRate = float64(agg.Successes) / float64(agg.Total)
	}
	if agg.WindowTotal > 0 {
		snapshot.WindowSuccessRate = float64(agg.WindowSuccesses) / float64(agg.WindowTotal)
	}
	snapshot.Health = health(agg.WindowTotal, snapshot.WindowSuccessRate)
	return snapshot, nil
}

func (s *service) Snapshots(ctx context.Context) ([]domain.Snapshot, error) {
	providers, err := s.repo.Providers(ctx)
	if err != nil {
		return nil, err
	}
	snapshots := make([]domain.Snapshot, 0, len(providers))
	for _, provider := range providers {
		snapshot, err := s.Snapshot(ctx, provider)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snapshot)
	}
	return snapshots, nil
}

func (s *service) Health(ctx context.Context, provider string) (domain.HealthStatus, error) {
	snapshot, err := s.Snapshot(ctx, provider)
	if err != nil {
		return "", err
	}
	return snapshot.Health, nil
}

func health(windowTotal int64, windowRate float64) domain.HealthStatus {
	if windowTotal < minWindowSamples {
		return domain.HealthHealthy
	}
	switch {
	case windowRate >= healthyThreshold:
		return domain.HealthHealthy
	case windowRate >= degradedThreshold:
		return domain.HealthDegraded
	default:
		return domain.HealthDown
	}
}
