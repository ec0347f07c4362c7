// Package idpay integrates the Indonesian payment-link provider. The API
// authenticates with the merchant secret as the Basic auth username, and
// webhook callbacks are verified by an in-payload digest rather than a
// signature header.
package idpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	productionBaseURL = "https://api.idpay.co.id/v1"
	sandboxBaseURL    = "https://sandbox.idpay.co.id/v1"
)

// Provider status codes as documented for the transactions API.
const (
	codePending    = 1
	codeProcessing = 2
	codePaid       = 100
	codeRefunded   = 200
	codeFailed     = -1
	codeCancelled  = -2
	codeExpired    = -3
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "idpay"
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
		client:  httpx.New("idpay", cfg.Timeout, cfg.HTTPClient),
	}, nil
}

type Adapter struct {
	creds   domain.Credentials
	sandbox bool
	baseURL string
	client  *httpx.Client
}

func (a *Adapter) Provider() string { return "idpay" }

// auth fills the provider's Basic scheme: secret as username, empty password.
func (a *Adapter) auth(req *httpx.Request) {
	req.BasicUser = a.creds.APISecret
	req.BasicPass = ""
}

type transaction struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	PaymentURL    string `json:"payment_url"`
	StatusCode    int    `json:"status_code"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PaidAt        string `json:"paid_at"`
	PaymentMethod string `json:"payment_method"`
	ErrorMessage  string `json:"error_message"`
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.PaymentResult, error) {
	if a.creds.Empty() {
		if a.sandbox {
			return a.mockCreate(req), nil
		}
		return &domain.PaymentResult{
			Status:       domain.StatusFailed,
			ErrorCode:    domain.CodeCredentialsNotConfigured,
			ErrorMessage: "idpay credentials are not configured",
		}, nil
	}

	body := map[string]any{
		"order_id":     req.OrderID,
		"amount":       currency.DecimalString(req.Amount, req.Currency),
		"currency":     strings.ToUpper(req.Currency),
		"description":  req.Description,
		"callback_url": req.SuccessURL,
		"customer": map[string]string{
			"email": req.CustomerEmail,
			"name":  req.CustomerName,
		},
	}

	call := httpx.Request{
		Method: http.MethodPost,
		URL:    a.baseURL + "/transactions",
		Body:   body,
	}
	a.auth(&call)

	var created transaction
	status, raw, err := a.client.DoJSON(ctx, call, &created)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		message := created.ErrorMessage
		if message == "" {
			message = fmt.Sprintf("idpay rejected the transaction: %d", status)
		}
		return &domain.PaymentResult{
			Status:          domain.StatusFailed,
			ErrorCode:       domain.CodeProviderDeclined,
			ErrorMessage:    message,
			GatewayResponse: raw,
		}, nil
	}

	return &domain.PaymentResult{
		PaymentID:       created.TransactionID,
		Status:          statusFromCode(created.StatusCode),
		CheckoutURL:     created.PaymentURL,
		GatewayResponse: raw,
	}, nil
}

func (a *Adapter) VerifyPayment(ctx context.Context, paymentID string) (*domain.PaymentVerification, error) {
	if a.creds.Empty() && a.sandbox {
		return a.mockVerify(), nil
	}

	call := httpx.Request{
		Method: http.MethodGet,
		URL:    a.baseURL + "/transactions/" + paymentID,
	}
	a.auth(&call)

	var current transaction
	status, raw, err := a.client.DoJSON(ctx, call, &current)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("idpay: verify returned %d: %s", status, string(raw))
	}

	verification := &domain.PaymentVerification{
		Status:          statusFromCode(current.StatusCode),
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
			RefundID: "idr_mock_" + paymentID,
			Amount:   amount,
			Status:   domain.StatusRefunded,
		}, nil
	}

	body := map[string]any{}
	if amount > 0 {
		body["amount"] = currency.DecimalString(amount, "IDR")
	}
	call := httpx.Request{
		Method: http.MethodPost,
		URL:    a.baseURL + "/transactions/" + paymentID + "/refund",
		Body:   body,
	}
	a.auth(&call)

	var refund struct {
		RefundID     string `json:"refund_id"`
		StatusCode   int    `json:"status_code"`
		ErrorMessage string `json:"error_message"`
	}
	status, raw, err := a.client.DoJSON(ctx, call, &refund)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		message := refund.ErrorMessage
		if message == "" {
			message = fmt.Sprintf("idpay refund returned %d: %s", status, string(raw))
		}
		return &domain.RefundResult{Status: domain.StatusFailed, ErrorMessage: message}, nil
	}

	return &domain.RefundResult{
		RefundID: refund.RefundID,
		Amount:   amount,
		Status:   statusFromCode(refund.StatusCode),
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

	call := httpx.Request{
		Method: http.MethodGet,
		URL:    a.baseURL + "/merchant/profile",
	}
	a.auth(&call)

	status, _, err := a.client.DoJSON(ctx, call, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &domain.ValidationResult{IsValid: false, Message: "idpay rejected the merchant secret"}, nil
	}
	if status >= http.StatusBadRequest {
		return &domain.ValidationResult{IsValid: false, Message: fmt.Sprintf("unexpected response %d", status)}, nil
	}
	return &domain.ValidationResult{IsValid: true, Message: "credentials accepted"}, nil
}

type callback struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	StatusCode    int    `json:"status_code"`
	Amount        string `json:"amount"`
	Signature     string `json:"signature"`
}

// HandleWebhook verifies the in-payload digest:
// sha256(order_id + status_code + amount + secret), hex encoded.
func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.WebhookResult, error) {
	_ = ctx
	_ = signature // idpay carries the digest inside the payload

	var event callback
	if err := json.Unmarshal(payload, &event); err != nil {
		return &domain.WebhookResult{IsValid: false, ErrorMessage: "malformed payload"}, nil
	}

	secret := a.creds.WebhookSecret
	if secret == "" {
		secret = a.creds.APISecret
	}
	if secret == "" {
		return &domain.WebhookResult{IsValid: false, ErrorMessage: "webhook secret not configured"}, nil
	}

	digest := sha256.Sum256([]byte(fmt.Sprintf("%s%d%s%s", event.OrderID, event.StatusCode, event.Amount, secret)))
	expected := hex.EncodeToString(digest[:])
	if !hmac.Equal([]byte(strings.ToLower(event.Signature)), []byte(expected)) {
		return &domain.WebhookResult{IsValid: false, ErrorMessage: "digest verification failed"}, nil
	}

	result := &domain.WebhookResult{
		EventType: fmt.Sprintf("transaction.status.%d", event.StatusCode),
		PaymentID: event.TransactionID,
		Status:    statusFromCode(event.StatusCode),
		IsValid:   true,
		Metadata:  map[string]string{"order_id": event.OrderID},
	}
	if minor, err := currency.ParseDecimal(event.Amount, "IDR"); err == nil {
		result.Amount = minor
	}
	return result, nil
}

func statusFromCode(code int) domain.PaymentStatus {
	switch code {
	case codePending:
		return domain.StatusPending
	case codeProcessing:
		return domain.StatusProcessing
	case codePaid:
		return domain.StatusCompleted
	case codeRefunded:
		return domain.StatusRefunded
	case codeFailed:
		return domain.StatusFailed
	case codeCancelled:
		return domain.StatusCancelled
	case codeExpired:
		return domain.StatusExpired
	default:
		return domain.StatusPending
	}
}

func (a *Adapter) mockCreate(req domain.CreatePaymentRequest) *domain.PaymentResult {
	paymentID := "idp_mock_" + req.OrderID
	return &domain.PaymentResult{
		PaymentID:   paymentID,
		Status:      domain.StatusPending,
		CheckoutURL: sandboxBaseURL + "/pay/" + paymentID,
	}
}

func (a *Adapter) mockVerify() *domain.PaymentVerification {
	now := time.Now().UTC()
	return &domain.PaymentVerification{
		Status:        domain.StatusCompleted,
		Currency:      "IDR",
		PaymentMethod: "bank_transfer",
		PaidAt:        &now,
	}
}
