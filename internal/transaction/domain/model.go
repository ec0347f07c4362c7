// Package domain defines the payment transaction record and its status
// lifecycle. The transaction is the system of record; provider adapters only
// ever see its snowflake ID as the order reference.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	gwdomain "github.com/payloop/payloop/internal/gateway/domain"
)

// PaymentTransaction tracks one payment across gateway attempts. Provider
// identifiers live in GatewayPaymentID; PreviousGateways records providers
// already tried so retries never loop back.
type PaymentTransaction struct {
	ID               snowflake.ID                `json:"id" gorm:"primaryKey"`
	MerchantRef      string                      `json:"merchant_ref" gorm:"type:text;index:ix_payment_transactions_merchant_ref"`
	UserID           string                      `json:"user_id" gorm:"type:text;index:ix_payment_transactions_user_id"`
	SubscriptionID   string                      `json:"subscription_id,omitempty" gorm:"type:text;index:ix_payment_transactions_subscription_id"`
	Provider         string                      `json:"provider" gorm:"type:text;not null;index:ix_payment_transactions_provider"`
	GatewayPaymentID string                      `json:"gateway_payment_id" gorm:"type:text;index:ix_payment_transactions_gateway_payment_id"`
	Status           gwdomain.PaymentStatus      `json:"status" gorm:"type:text;not null;index:ix_payment_transactions_status"`
	Amount           int64                       `json:"amount" gorm:"not null"`
	Currency         string                      `json:"currency" gorm:"type:text;not null"`
	Description      string                      `json:"description" gorm:"type:text"`
	CustomerEmail    string                      `json:"customer_email" gorm:"type:text"`
	CustomerName     string                      `json:"customer_name" gorm:"type:text"`
	SuccessURL       string                      `json:"success_url" gorm:"type:text"`
	CancelURL        string                      `json:"cancel_url" gorm:"type:text"`
	CheckoutURL      string                      `json:"checkout_url" gorm:"type:text"`
	PaymentMethod    string                      `json:"payment_method" gorm:"type:text"`
	ErrorCode        string                      `json:"error_code" gorm:"type:text"`
	ErrorMessage     string                      `json:"error_message" gorm:"type:text"`
	PreviousGateways datatypes.JSONSlice[string] `json:"previous_gateways"`
	AttemptCount     int                         `json:"attempt_count" gorm:"not null;default:1"`
	Metadata         datatypes.JSONMap           `json:"metadata"`
	PaidAt           *time.Time                  `json:"paid_at"`
	CreatedAt        time.Time                   `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time                   `json:"updated_at" gorm:"not null"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

// OrderRef is the identifier handed to provider adapters.
func (t PaymentTransaction) OrderRef() string {
	return t.ID.String()
}

// Tried reports whether a provider already carried an attempt for this
// transaction.
func (t PaymentTransaction) Tried(provider string) bool {
	if t.Provider == provider {
		return true
	}
	for _, previous := range t.PreviousGateways {
		if previous == provider {
			return true
		}
	}
	return false
}

// transitions lists every legal status move. Terminal statuses have no
// outgoing edges except completed -> refunded.
var transitions = map[gwdomain.PaymentStatus][]gwdomain.PaymentStatus{
	gwdomain.StatusPending: {
		gwdomain.StatusProcessing,
		gwdomain.StatusCompleted,
		gwdomain.StatusFailed,
		gwdomain.StatusCancelled,
		gwdomain.StatusExpired,
	},
	gwdomain.StatusProcessing: {
		gwdomain.StatusCompleted,
		gwdomain.StatusFailed,
		gwdomain.StatusCancelled,
		gwdomain.StatusExpired,
	},
	// failed is not terminal: a retry on an alternate gateway restarts the
	// attempt at pending.
	gwdomain.StatusFailed: {
		gwdomain.StatusPending,
		gwdomain.StatusProcessing,
	},
	gwdomain.StatusCompleted: {
		gwdomain.StatusRefunded,
	},
}

// CanTransition reports whether a status move is legal. Self-transitions are
// allowed for non-terminal statuses so repeated provider polls are harmless.
func CanTransition(from, to gwdomain.PaymentStatus) bool {
	if from == to {
		return !from.Terminal()
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies a status change after validating it.
func (t *PaymentTransaction) Transition(to gwdomain.PaymentStatus) error {
	if !to.Known() {
		return ErrInvalidStatus
	}
	if !CanTransition(t.Status, to) {
		return ErrInvalidTransition
	}
	t.Status = to
	return nil
}
