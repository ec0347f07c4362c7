package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/payloop/payloop/internal/transaction/domain"
)

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Provider string
	Status   string
	Limit    int
	Offset   int
}

type Repository interface {
	Create(ctx context.Context, trx *domain.PaymentTransaction) error
	Find(ctx context.Context, id snowflake.ID) (*domain.PaymentTransaction, error)
	// FindByGatewayPaymentID resolves the provider-side identifier recorded at
	// create time. Webhooks address transactions this way.
	FindByGatewayPaymentID(ctx context.Context, provider, gatewayPaymentID string) (*domain.PaymentTransaction, error)
	Update(ctx context.Context, trx *domain.PaymentTransaction) error
	List(ctx context.Context, filter ListFilter) ([]domain.PaymentTransaction, error)
}

type gormRepository struct {
	db *gorm.DB
}

func New(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, trx *domain.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(trx).Error
}

func (r *gormRepository) Find(ctx context.Context, id snowflake.ID) (*domain.PaymentTransaction, error) {
	var trx domain.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

func (r *gormRepository) FindByGatewayPaymentID(ctx context.Context, provider, gatewayPaymentID string) (*domain.PaymentTransaction, error) {
	var trx domain.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("provider = ? AND gateway_payment_id = ?", provider, gatewayPaymentID).
		Order("created_at DESC").
		First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

func (r *gormRepository) Update(ctx context.Context, trx *domain.PaymentTransaction) error {
	return r.db.WithContext(ctx).Save(trx).Error
}

func (r *gormRepository) List(ctx context.Context, filter ListFilter) ([]domain.PaymentTransaction, error) {
	query := r.db.WithContext(ctx).Model(&domain.PaymentTransaction{})
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var transactions []domain.PaymentTransaction
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&transactions).Error
	return transactions, err
}
