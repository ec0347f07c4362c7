// Package webhooklog persists every inbound webhook delivery and enforces
// exactly-once application: a delivery is applied only when its insert wins
// the (provider, event_id) uniqueness race.
package webhooklog

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WebhookEvent is one received delivery. EventID is the provider's own
// identifier when it sends one, or a payload digest when it does not.
type WebhookEvent struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	Reference        string         `json:"reference" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_reference"`
	Provider         string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	EventID          string         `json:"event_id" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	EventType        string         `json:"event_type" gorm:"type:text"`
	GatewayPaymentID string         `json:"gateway_payment_id" gorm:"type:text;index:ix_webhook_events_gateway_payment_id"`
	Payload          datatypes.JSON `json:"payload"`
	ReceivedAt       time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt      *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
