package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/payloop/payloop/internal/gateway/domain"
	"github.com/payloop/payloop/pkg/db"
)

// Repository persists gateway configs. The single-default invariant is
// enforced here so every write path goes through the same transaction.
type Repository interface {
	Save(ctx context.Context, cfg *domain.GatewayConfig) error
	FindByProvider(ctx context.Context, provider string) (*domain.GatewayConfig, error)
	FindDefault(ctx context.Context) (*domain.GatewayConfig, error)
	FindEnabled(ctx context.Context) ([]domain.GatewayConfig, error)
	FindAll(ctx context.Context) ([]domain.GatewayConfig, error)
	// SetDefault marks one provider default and clears the flag everywhere else.
	SetDefault(ctx context.Context, provider string) error
}

type gormRepository struct {
	db *gorm.DB
}

func New(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Save(ctx context.Context, cfg *domain.GatewayConfig) error {
	err := r.db.WithContext(ctx).Save(cfg).Error
	// Two concurrent Configure calls for a new provider race on the provider
	// unique index; the loser reads back as a conflict, not a server error.
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrInvalidConfig
	}
	return err
}

func (r *gormRepository) FindByProvider(ctx context.Context, provider string) (*domain.GatewayConfig, error) {
	var cfg domain.GatewayConfig
	err := r.db.WithContext(ctx).
		Where("provider = ?", provider).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *gormRepository) FindDefault(ctx context.Context) (*domain.GatewayConfig, error) {
	var cfg domain.GatewayConfig
	err := r.db.WithContext(ctx).
		Where("is_default = ?", true).
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *gormRepository) FindEnabled(ctx context.Context) ([]domain.GatewayConfig, error) {
	var configs []domain.GatewayConfig
	err := r.db.WithContext(ctx).
		Where("is_enabled = ?", true).
		Order("is_default DESC, provider ASC").
		Find(&configs).Error
	return configs, err
}

func (r *gormRepository) FindAll(ctx context.Context) ([]domain.GatewayConfig, error) {
	var configs []domain.GatewayConfig
	err := r.db.WithContext(ctx).
		Order("provider ASC").
		Find(&configs).Error
	return configs, err
}

func (r *gormRepository) SetDefault(ctx context.Context, provider string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cfg domain.GatewayConfig
		if err := tx.Where("provider = ?", provider).First(&cfg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if err := tx.Model(&domain.GatewayConfig{}).
			Where("is_default = ? AND provider <> ?", true, provider).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&domain.GatewayConfig{}).
			Where("provider = ?", provider).
			Update("is_default", true).Error
	})
}
