// Package cardnet integrates the card-rail processor. Payments run through
// hosted checkout sessions; webhooks arrive with a signed-payload header
// bound to the per-config webhook secret.
package cardnet

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/payloop/payloop/internal/gateway/domain"
	"github.com/payloop/payloop/internal/gateway/httpx"
)

const (
	productionBaseURL = "https://api.cardnet.io/v1"
	sandboxBaseURL    = "https://sandbox.cardnet.io/v1"

	// The signed-payload header tolerates this much clock drift.
	signatureTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "cardnet"
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
		client:  httpx.New("cardnet", cfg.Timeout, cfg.HTTPClient),
	}, nil
}

type Adapter struct {
	creds   domain.Credentials
	sandbox bool
	baseURL string
	client  *httpx.Client
}

func (a *Adapter) Provider() string { return "cardnet" }

type checkoutSession struct {
	ID            string          `json:"id"`
	URL           string          `json:"url"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	AmountTotal   int64           `json:"amount_total"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method_type"`
	PaidAt        int64           `json:"paid_at"`
	PaymentIntent *paymentIntent  `json:"payment_intent"`
	Error         *providerError  `json:"error"`
	Raw           json.RawMessage `json:"-"`
}

type paymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type providerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.PaymentResult, error) {
	if a.creds.Empty() {
		if a.sandbox {
			return a.mockCreate(req), nil
		}
		return &domain.PaymentResult{
			Status:       domain.StatusFailed,
			ErrorCode:    domain.CodeCredentialsNotConfigured,
			ErrorMessage: "cardnet credentials are not configured",
		}, nil
	}

	body := map[string]any{
		"mode":                 "payment",
		"client_reference_id":  req.OrderID,
		"amount_total":         req.Amount,
		"currency":             strings.ToLower(req.Currency),
		"description":          req.Description,
		"success_url":          req.SuccessURL,
		"cancel_url":           req.CancelURL,
		"customer_email":       req.CustomerEmail,
		"payment_method_types": req.Methods,
		"metadata":             req.Metadata,
	}

	var session checkoutSession
	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method: http.MethodPost,
		URL:    a.baseURL + "/checkout/sessions",
		Headers: map[string]string{
			"Authorization":   "Bearer " + a.creds.APISecret,
			"Idempotency-Key": idempotencyKey(req.OrderID),
		},
		Body: body,
	}, &session)
	if err != nil {
		return nil, err
	}

	if status >= http.StatusBadRequest {
		return declineResult(raw), nil
	}

	return &domain.PaymentResult{
		PaymentID:       session.ID,
		Status:          sessionStatus(session),
		CheckoutURL:     session.URL,
		GatewayResponse: raw,
	}, nil
}

func (a *Adapter) VerifyPayment(ctx context.Context, paymentID string) (*domain.PaymentVerification, error) {
	if a.creds.Empty() && a.sandbox {
		return a.mockVerify(), nil
	}

	var session checkoutSession
	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method:  http.MethodGet,
		URL:     a.baseURL + "/checkout/sessions/" + paymentID,
		Headers: map[string]string{"Authorization": "Bearer " + a.creds.APISecret},
	}, &session)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("cardnet: verify returned %d: %s", status, string(raw))
	}

	verification := &domain.PaymentVerification{
		Status:          sessionStatus(session),
		Amount:          session.AmountTotal,
		Currency:        strings.ToUpper(session.Currency),
		PaymentMethod:   session.PaymentMethod,
		GatewayResponse: raw,
	}
	if session.PaidAt > 0 {
		paidAt := time.Unix(session.PaidAt, 0).UTC()
		verification.PaidAt = &paidAt
	}
	return verification, nil
}

func (a *Adapter) RefundPayment(ctx context.Context, paymentID string, amount int64) (*domain.RefundResult, error) {
	if a.creds.Empty() && a.sandbox {
		return &domain.RefundResult{
			RefundID: "re_mock_" + paymentID,
			Amount:   amount,
			Status:   domain.StatusRefunded,
		}, nil
	}

	body := map[string]any{"session": paymentID}
	if amount > 0 {
		body["amount"] = amount
	}

	var refund struct {
		ID     string         `json:"id"`
		Amount int64          `json:"amount"`
		Status string         `json:"status"`
		Error  *providerError `json:"error"`
	}
	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method:  http.MethodPost,
		URL:     a.baseURL + "/refunds",
		Headers: map[string]string{"Authorization": "Bearer " + a.creds.APISecret},
		Body:    body,
	}, &refund)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		result := &domain.RefundResult{Status: domain.StatusFailed}
		if refund.Error != nil {
			result.ErrorCode = refund.Error.Code
			result.ErrorMessage = refund.Error.Message
		} else {
			result.ErrorMessage = string(raw)
		}
		return result, nil
	}

	refundStatus := domain.StatusRefunded
	if !strings.EqualFold(refund.Status, "succeeded") {
		refundStatus = domain.StatusProcessing
	}
	return &domain.RefundResult{
		RefundID: refund.ID,
		Amount:   refund.Amount,
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

	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method:  http.MethodGet,
		URL:     a.baseURL + "/checkout/sessions?limit=1",
		Headers: map[string]string{"Authorization": "Bearer " + a.creds.APISecret},
	}, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &domain.ValidationResult{IsValid: false, Message: "cardnet rejected the API key"}, nil
	}
	if status >= http.StatusBadRequest {
		return &domain.ValidationResult{
			IsValid: false,
			Message: fmt.Sprintf("unexpected response %d", status),
			Details: map[string]string{"body": string(raw)},
		}, nil
	}
	return &domain.ValidationResult{IsValid: true, Message: "credentials accepted"}, nil
}

type webhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.WebhookResult, error) {
	_ = ctx
	if err := a.verifySignature(payload, signature); err != nil {
		return &domain.WebhookResult{IsValid: false, ErrorMessage: "signature verification failed"}, nil
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return &domain.WebhookResult{IsValid: false, ErrorMessage: "malformed payload"}, nil
	}

	var session checkoutSession
	if len(event.Data.Object) > 0 {
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return &domain.WebhookResult{IsValid: false, ErrorMessage: "malformed event object"}, nil
		}
	}

	result := &domain.WebhookResult{
		EventType: event.Type,
		PaymentID: session.ID,
		Amount:    session.AmountTotal,
		IsValid:   true,
		Metadata:  map[string]string{"event_id": event.ID},
	}

	switch event.Type {
	case "checkout.session.completed":
		result.Status = domain.StatusCompleted
	case "checkout.session.expired":
		result.Status = domain.StatusExpired
	case "payment_intent.payment_failed":
		result.Status = domain.StatusFailed
	case "charge.refunded":
		result.Status = domain.StatusRefunded
	default:
		// Valid but uninteresting; callers skip events with no status.
		result.Status = ""
	}
	return result, nil
}

// verifySignature checks the "t=<unix>,v1=<hmac>" header scheme: the HMAC is
// computed over "<timestamp>.<payload>" with the webhook secret.
func (a *Adapter) verifySignature(payload []byte, header string) error {
	secret := a.creds.WebhookSecret
	if secret == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	sent, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	drift := time.Since(time.Unix(sent, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > signatureTolerance {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func sessionStatus(session checkoutSession) domain.PaymentStatus {
	if session.PaymentIntent != nil {
		switch session.PaymentIntent.Status {
		case "succeeded":
			return domain.StatusCompleted
		case "processing":
			return domain.StatusProcessing
		case "canceled":
			return domain.StatusCancelled
		default:
			if strings.HasPrefix(session.PaymentIntent.Status, "requires_") {
				return domain.StatusPending
			}
		}
	}

	switch session.PaymentStatus {
	case "paid":
		return domain.StatusCompleted
	case "unpaid":
		return domain.StatusPending
	}
	if strings.EqualFold(session.Status, "expired") {
		return domain.StatusExpired
	}
	return domain.StatusPending
}

func declineResult(raw []byte) *domain.PaymentResult {
	var failure struct {
		Error *providerError `json:"error"`
	}
	result := &domain.PaymentResult{Status: domain.StatusFailed, GatewayResponse: raw}
	if err := json.Unmarshal(raw, &failure); err == nil && failure.Error != nil {
		result.ErrorCode = failure.Error.Code
		result.ErrorMessage = failure.Error.Message
	}
	if result.ErrorCode == "" {
		result.ErrorCode = domain.CodeProviderDeclined
	}
	if result.ErrorMessage == "" {
		result.ErrorMessage = "payment declined by cardnet"
	}
	return result
}

func (a *Adapter) mockCreate(req domain.CreatePaymentRequest) *domain.PaymentResult {
	paymentID := "cs_mock_" + req.OrderID
	return &domain.PaymentResult{
		PaymentID:   paymentID,
		Status:      domain.StatusPending,
		CheckoutURL: sandboxBaseURL + "/mock/checkout/" + paymentID,
	}
}

func (a *Adapter) mockVerify() *domain.PaymentVerification {
	now := time.Now().UTC()
	return &domain.PaymentVerification{
		Status: domain.StatusCompleted,
		PaidAt: &now,
	}
}

func idempotencyKey(orderID string) string {
	key := orderID + "-" + uuid.NewString()
	if len(key) > 255 {
		key = key[:255]
	}
	return key
}
