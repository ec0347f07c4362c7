package webhooklog

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// Insert records the delivery. It returns false when an event with the
	// same (provider, event_id) was already stored, meaning this delivery is
	// a replay and must not be applied again.
	Insert(ctx context.Context, event *WebhookEvent) (bool, error)
	// FindByProviderEvent returns the stored delivery for the dedupe key.
	FindByProviderEvent(ctx context.Context, provider, eventID string) (*WebhookEvent, error)
	MarkProcessed(ctx context.Context, id snowflake.ID) error
	ListByPayment(ctx context.Context, provider, gatewayPaymentID string) ([]WebhookEvent, error)
}

type gormRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func New(db *gorm.DB, node *snowflake.Node) Repository {
	return &gormRepository{db: db, node: node}
}

func (r *gormRepository) Insert(ctx context.Context, event *WebhookEvent) (bool, error) {
	if event.ID == 0 {
		event.ID = r.node.Generate()
	}
	if event.Reference == "" {
		event.Reference = "whe_" + strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *gormRepository) FindByProviderEvent(ctx context.Context, provider, eventID string) (*WebhookEvent, error) {
	var event WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkProcessed(ctx context.Context, id snowflake.ID) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("id = ?", id).
		Update("processed_at", &now).Error
}

func (r *gormRepository) ListByPayment(ctx context.Context, provider, gatewayPaymentID string) ([]WebhookEvent, error) {
	var events []WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND gateway_payment_id = ?", provider, gatewayPaymentID).
		Order("received_at ASC").
		Find(&events).Error
	return events, err
}
