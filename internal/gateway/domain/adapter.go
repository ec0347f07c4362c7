package domain

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// PaymentStatus is the canonical status vocabulary all adapters map into.
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
	StatusCancelled  PaymentStatus = "cancelled"
	StatusExpired    PaymentStatus = "expired"
	StatusRefunded   PaymentStatus = "refunded"
)

// Terminal reports whether no further automatic transition is permitted.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Known reports whether the value belongs to the canonical vocabulary.
func (s PaymentStatus) Known() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed,
		StatusCancelled, StatusExpired, StatusRefunded:
		return true
	default:
		return false
	}
}

// Stable error codes surfaced in adapter results.
const (
	CodeCredentialsNotConfigured = "credentials_not_configured"
	CodeProviderDeclined         = "provider_declined"
)

// Credentials are the decrypted secrets handed to an adapter instance.
type Credentials struct {
	APIKey        string
	APISecret     string
	WebhookSecret string
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.APISecret == ""
}

// AdapterConfig is everything a factory needs to build one adapter instance.
// HTTPClient overrides the breaker-wrapped default, used by tests.
type AdapterConfig struct {
	Provider    string
	SandboxMode bool
	Credentials Credentials
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// CreatePaymentRequest carries everything a provider needs to open a payment.
// Amount is in minor units; each adapter converts to its provider's shape.
type CreatePaymentRequest struct {
	OrderID       string
	Amount        int64
	Currency      string
	Description   string
	CustomerEmail string
	CustomerName  string
	CustomerPhone string
	SuccessURL    string
	CancelURL     string
	Methods       []string
	Metadata      map[string]string
}

// PaymentResult is the outcome of a payment creation attempt. Expected
// failures (declines, missing credentials) come back as a failed status with
// an error code; Go errors are reserved for transport failures.
type PaymentResult struct {
	PaymentID       string
	Status          PaymentStatus
	CheckoutURL     string
	ClientSecret    string
	ErrorMessage    string
	ErrorCode       string
	GatewayResponse json.RawMessage
}

// PaymentVerification is the provider's current view of a payment.
type PaymentVerification struct {
	Status          PaymentStatus
	Amount          int64
	Currency        string
	PaidAt          *time.Time
	PaymentMethod   string
	GatewayResponse json.RawMessage
}

// RefundResult is the outcome of a refund attempt.
type RefundResult struct {
	RefundID     string
	Amount       int64
	Status       PaymentStatus
	ErrorMessage string
	ErrorCode    string
}

// ValidationResult reports whether stored credentials work against the
// provider's live API.
type ValidationResult struct {
	IsValid bool
	Message string
	Details map[string]string
}

// WebhookResult is the normalized form of one provider callback. IsValid=false
// means the signature failed and nothing in the payload may be trusted.
type WebhookResult struct {
	EventType    string
	PaymentID    string
	Status       PaymentStatus
	Amount       int64
	Metadata     map[string]string
	IsValid      bool
	ErrorMessage string
}

// Adapter is the contract every provider integration satisfies.
type Adapter interface {
	Provider() string

	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentResult, error)
	VerifyPayment(ctx context.Context, paymentID string) (*PaymentVerification, error)
	// RefundPayment refunds amount minor units; amount <= 0 means full refund.
	RefundPayment(ctx context.Context, paymentID string, amount int64) (*RefundResult, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (PaymentStatus, error)
	ValidateCredentials(ctx context.Context) (*ValidationResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error)
}

// AdapterFactory builds adapter instances for one provider.
type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
