// Package seapay integrates the Southeast Asian invoice provider. Payments
// are invoice resources paid on a hosted page; callbacks authenticate with a
// static token header configured per merchant.
package seapay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/payloop/payloop/internal/gateway/domain"
	"github.com/payloop/payloop/internal/gateway/httpx"
	"github.com/payloop/payloop/pkg/currency"
)

const (
	productionBaseURL = "https://api.seapay.asia/api/v1"
	sandboxBaseURL    = "https://sandbox.seapay.asia/api/v1"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "seapay"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	baseURL := productionBaseURL
	if cfg.SandboxMode {
		baseURL = sandboxBaseURL
	}
	return &Adapter{
		creds:   cfg.Credentials,
		sandbox: cfg.SandboxMode,
		baseURL: baseURL,
		client:  httpx.New("seapay", cfg.Timeout, cfg.HTTPClient),
	}, nil
}

type Adapter struct {
	creds   domain.Credentials
	sandbox bool
	baseURL string
	client  *httpx.Client
}

func (a *Adapter) Provider() string { return "seapay" }

type invoice struct {
	ID            string `json:"id"`
	ExternalID    string `json:"external_id"`
	InvoiceURL    string `json:"invoice_url"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PaidAt        string `json:"paid_at"`
	PaymentMethod string `json:"payment_method"`
	ErrorCode     string `json:"error_code"`
	Message       string `json:"message"`
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.PaymentResult, error) {
	if a.creds.Empty() {
		if a.sandbox {
			return a.mockCreate(req), nil
		}
		return &domain.PaymentResult{
			Status:       domain.StatusFailed,
			ErrorCode:    domain.CodeCredentialsNotConfigured,
			ErrorMessage: "seapay credentials are not configured",
		}, nil
	}

	body := map[string]any{
		"external_id":          req.OrderID,
		"amount":               currency.DecimalString(req.Amount, req.Currency),
		"currency":             strings.ToUpper(req.Currency),
		"description":          req.Description,
		"payer_email":          req.CustomerEmail,
		"success_redirect_url": req.SuccessURL,
		"failure_redirect_url": req.CancelURL,
		"payment_methods":      req.Methods,
	}

	var created invoice
	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method:    http.MethodPost,
		URL:       a.baseURL + "/invoices",
		BasicUser: a.creds.APIKey,
		BasicPass: a.creds.APISecret,
		Body:      body,
	}, &created)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		errorCode := created.ErrorCode
		if errorCode == "" {
			errorCode = domain.CodeProviderDeclined
		}
		message := created.Message
		if message == "" {
			message = fmt.Sprintf("seapay rejected the invoice: %d", status)
		}
		return &domain.PaymentResult{
			Status:          domain.StatusFailed,
			ErrorCode:       errorCode,
			ErrorMessage:    message,
			GatewayResponse: raw,
		}, nil
	}

	return &domain.PaymentResult{
		PaymentID:       created.ID,
		Status:          invoiceStatus(created.Status),
		CheckoutURL:     created.InvoiceURL,
		GatewayResponse: raw,
	}, nil
}

func (a *Adapter) VerifyPayment(ctx context.Context, paymentID string) (*domain.PaymentVerification, error) {
	if a.creds.Empty() && a.sandbox {
		return a.mockVerify(), nil
	}

	var current invoice
	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method:    http.MethodGet,
		URL:       a.baseURL + "/invoices/" + paymentID,
		BasicUser: a.creds.APIKey,
		BasicPass: a.creds.APISecret,
	}, &current)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("seapay: verify returned %d: %s", status, string(raw))
	}

	verification := &domain.PaymentVerification{
		Status:          invoiceStatus(current.Status),
		Currency:        strings.ToUpper(current.Currency),
		PaymentMethod:   current.PaymentMethod,
		GatewayResponse: raw,
	}
	if minor, parseErr := currency.ParseDecimal(current.Amount, current.Currency); parseErr == nil {
		verification.Amount = minor
	}
	if current.PaidAt != "" {
		if paidAt, parseErr := time.Parse(time.RFC3339, current.PaidAt); parseErr == nil {
			utc := paidAt.UTC()
			verification.PaidAt = &utc
		}
	}
	return verification, nil
}

func (a *Adapter) RefundPayment(ctx context.Context, paymentID string, amount int64) (*domain.RefundResult, error) {
	if a.creds.Empty() && a.sandbox {
		return &domain.RefundResult{
			RefundID: "sp_refund_mock_" + paymentID,
			Amount:   amount,
			Status:   domain.StatusRefunded,
		}, nil
	}

	current, err := a.VerifyPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"invoice_id": paymentID}
	if amount > 0 {
		body["amount"] = currency.DecimalString(amount, current.Currency)
	}

	var refund struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method:    http.MethodPost,
		URL:       a.baseURL + "/refunds",
		BasicUser: a.creds.APIKey,
		BasicPass: a.creds.APISecret,
		Body:      body,
	}, &refund)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		message := refund.Message
		if message == "" {
			message = fmt.Sprintf("seapay refund returned %d: %s", status, string(raw))
		}
		return &domain.RefundResult{
			Status:       domain.StatusFailed,
			ErrorCode:    refund.ErrorCode,
			ErrorMessage: message,
		}, nil
	}

	refundStatus := domain.StatusRefunded
	if strings.EqualFold(refund.Status, "PENDING") {
		refundStatus = domain.StatusProcessing
	}
	return &domain.RefundResult{
		RefundID: refund.ID,
		Amount:   amount,
		Status:   refundStatus,
	}, nil
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, paymentID string) (domain.PaymentStatus, error) {
	verification, err := a.VerifyPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	return verification.Status, nil
}

func (a *Adapter) ValidateCredentials(ctx context.Context) (*domain.ValidationResult, error) {
	if a.creds.Empty() {
		return &domain.ValidationResult{IsValid: false, Message: "credentials not configured"}, nil
	}

	status, _, err := a.client.DoJSON(ctx, httpx.Request{
		Method:    http.MethodGet,
		URL:       a.baseURL + "/balance",
		BasicUser: a.creds.APIKey,
		BasicPass: a.creds.APISecret,
	}, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &domain.ValidationResult{IsValid: false, Message: "seapay rejected the API key pair"}, nil
	}
	if status >= http.StatusBadRequest {
		return &domain.ValidationResult{IsValid: false, Message: fmt.Sprintf("unexpected response %d", status)}, nil
	}
	return &domain.ValidationResult{IsValid: true, Message: "credentials accepted"}, nil
}

type callbackEvent struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	PaidAt     string `json:"paid_at"`
}

// HandleWebhook authenticates the callback by comparing the static callback
// token header against the configured webhook secret.
func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.WebhookResult, error) {
	_ = ctx
	secret := a.creds.WebhookSecret
	if secret == "" {
		return &domain.WebhookResult{IsValid: false, ErrorMessage: "callback token not configured"}, nil
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(signature)), []byte(secret)) != 1 {
		return &domain.WebhookResult{IsValid: false, ErrorMessage: "callback token mismatch"}, nil
	}

	var event callbackEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return &domain.WebhookResult{IsValid: false, ErrorMessage: "malformed payload"}, nil
	}

	result := &domain.WebhookResult{
		EventType: "invoice." + strings.ToLower(event.Status),
		PaymentID: event.ID,
		Status:    invoiceStatus(event.Status),
		IsValid:   true,
		Metadata:  map[string]string{"external_id": event.ExternalID},
	}
	if minor, err := currency.ParseDecimal(event.Amount, event.Currency); err == nil {
		result.Amount = minor
	}
	return result, nil
}

func invoiceStatus(status string) domain.PaymentStatus {
	switch strings.ToUpper(status) {
	case "PENDING":
		return domain.StatusPending
	case "PAID", "SETTLED":
		return domain.StatusCompleted
	case "EXPIRED":
		return domain.StatusExpired
	case "FAILED":
		return domain.StatusFailed
	case "VOIDED", "CANCELLED":
		return domain.StatusCancelled
	case "REFUNDED":
		return domain.StatusRefunded
	default:
		return domain.StatusPending
	}
}

func (a *Adapter) mockCreate(req domain.CreatePaymentRequest) *domain.PaymentResult {
	paymentID := "inv_mock_" + req.OrderID
	return &domain.PaymentResult{
		PaymentID:   paymentID,
		Status:      domain.StatusPending,
		CheckoutURL: sandboxBaseURL + "/checkout/" + paymentID,
	}
}

func (a *Adapter) mockVerify() *domain.PaymentVerification {
	now := time.Now().UTC()
	return &domain.PaymentVerification{
		Status:        domain.StatusCompleted,
		Currency:      "VND",
		PaymentMethod: "qr",
		PaidAt:        &now,
	}
}
