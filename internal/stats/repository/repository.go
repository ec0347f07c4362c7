package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/payloop/payloop/internal/stats/domain"
)

// Aggregate is the raw counter set for one provider.
type Aggregate struct {
	Total           int64
	Successes       int64
	WindowTotal     int64
	WindowSuccesses int64
	LastSuccessAt   *time.Time
	LastFailureAt   *time.Time
}

type Repository interface {
	Record(ctx context.Context, attempt *domain.GatewayAttempt) error
	Aggregate(ctx context.Context, provider string, windowStart time.Time) (Aggregate, error)
	// Providers lists every provider that has at least one recorded attempt.
	Providers(ctx context.Context) ([]string, error)
}

type gormRepository struct {
	db *gorm.DB
}

func New(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Record(ctx context.Context, attempt *domain.GatewayAttempt) error {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *gormRepository) Aggregate(ctx context.Context, provider string, windowStart time.Time) (Aggregate, error) {
	var agg Aggregate

	row := struct {
		Total           int64
		Successes       int64
		WindowTotal     int64
		WindowSuccesses int64
	}{}
	err := r.db.WithContext(ctx).
		Model(&domain.GatewayAttempt{}).
		Select(
			"COUNT(*) AS total, "+
				"COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS successes, "+
				"COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS window_total, "+
				"COALESCE(SUM(CASE WHEN outcome = ? AND created_at >= ? THEN 1 ELSE 0 END), 0) AS window_successes",
			domain.OutcomeSuccess, windowStart, domain.OutcomeSuccess, windowStart,
		).
		Where("provider = ?", provider).
		Scan(&row).Error
	if err != nil {
		return agg, err
	}
	agg.Total = row.Total
	agg.Successes = row.Successes
	agg.WindowTotal = row.WindowTotal
	agg.WindowSuccesses = row.WindowSuccesses

	agg.LastSuccessAt, err = r.lastAt(ctx, provider, domain.OutcomeSuccess)
	if err != nil {
		return agg, err
	}
	agg.LastFailureAt, err = r.lastAt(ctx, provider, domain.OutcomeFailure)
	return agg, err
}

func (r *gormRepository) lastAt(ctx context.Context, provider string, outcome domain.Outcome) (*time.Time, error) {
	var attempt domain.GatewayAttempt
	err := r.db.WithContext(ctx).
		Where("provider = ? AND outcome = ?", provider, outcome).
		Order("created_at DESC").
		Limit(1).
		Find(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.CreatedAt.IsZero() {
		return nil, nil
	}
	at := attempt.CreatedAt
	return &at, nil
}

func (r *gormRepository) Providers(ctx context.Context) ([]string, error) {
	var providers []string
	err := r.db.WithContext(ctx).
		Model(&domain.GatewayAttempt{}).
		Distinct("provider").
		Order("provider ASC").
		Pluck("provider", &providers).Error
	return providers, err
}
