// Package walletpay integrates the wallet provider. Orders are created with a
// CAPTURE intent, approved by the payer on the hosted page, then captured by
// VerifyPayment once the order reports APPROVED.
package walletpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/payloop/payloop/internal/gateway/domain"
	"github.com/payloop/payloop/internal/gateway/httpx"
	"github.com/payloop/payloop/pkg/currency"
)

const (
	productionBaseURL = "https://api.walletpay.com"
	sandboxBaseURL    = "https://api.sandbox.walletpay.com"

	// Tokens are refreshed this long before their reported expiry.
	tokenExpirySlack = 60 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "walletpay"
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
		client:  httpx.New("walletpay", cfg.Timeout, cfg.HTTPClient),
	}, nil
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

type Adapter struct {
	creds   domain.Credentials
	sandbox bool
	baseURL string
	client  *httpx.Client

	tokenMu sync.Mutex
	token   accessToken
}

func (a *Adapter) Provider() string { return "walletpay" }

// bearerToken returns a cached client-credentials token, fetching a fresh one
// when the cached token is within the expiry slack. The lock is held only to
// read and write the cache; overlapping callers may each fetch a token, and
// the last write wins.
func (a *Adapter) bearerToken(ctx context.Context) (string, error) {
	a.tokenMu.Lock()
	if a.token.value != "" && time.Until(a.token.expiresAt) > tokenExpirySlack {
		token := a.token.value
		a.tokenMu.Unlock()
		return token, nil
	}
	a.tokenMu.Unlock()

	var grant struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method:    http.MethodPost,
		URL:       a.baseURL + "/v1/oauth2/token",
		BasicUser: a.creds.APIKey,
		BasicPass: a.creds.APISecret,
		Headers:   map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		RawBody:   []byte("grant_type=client_credentials"),
	}, &grant)
	if err != nil {
		return "", err
	}
	if status >= http.StatusBadRequest || grant.AccessToken == "" {
		return "", fmt.Errorf("walletpay: token request returned %d: %s", status, string(raw))
	}

	a.tokenMu.Lock()
	a.token = accessToken{
		value:     grant.AccessToken,
		expiresAt: time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second),
	}
	a.tokenMu.Unlock()
	return grant.AccessToken, nil
}

type order struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string       `json:"reference_id"`
		Amount      *orderAmount `json:"amount"`
		Payments    *struct {
			Captures []capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
	Payer *struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
	UpdateTime string `json:"update_time"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type capture struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount *orderAmount `json:"amount"`
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.PaymentResult, error) {
	if a.creds.Empty() {
		if a.sandbox {
			return a.mockCreate(req), nil
		}
		return &domain.PaymentResult{
			Status:       domain.StatusFailed,
			ErrorCode:    domain.CodeCredentialsNotConfigured,
			ErrorMessage: "walletpay credentials are not configured",
		}, nil
	}

	token, err := a.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderID,
			"description":  req.Description,
			"amount": orderAmount{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        currency.DecimalString(req.Amount, req.Currency),
			},
		}},
		"application_context": map[string]any{
			"return_url": req.SuccessURL,
			"cancel_url": req.CancelURL,
		},
	}

	var created order
	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method:  http.MethodPost,
		URL:     a.baseURL + "/v2/checkout/orders",
		Headers: map[string]string{"Authorization": "Bearer " + token},
		Body:    body,
	}, &created)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return &domain.PaymentResult{
			Status:          domain.StatusFailed,
			ErrorCode:       domain.CodeProviderDeclined,
			ErrorMessage:    fmt.Sprintf("walletpay rejected the order: %d", status),
			GatewayResponse: raw,
		}, nil
	}

	return &domain.PaymentResult{
		PaymentID:       created.ID,
		Status:          orderStatus(created.Status),
		CheckoutURL:     approveLink(created.Links),
		GatewayResponse: raw,
	}, nil
}

// VerifyPayment fetches the order and, when the payer has approved it,
// captures the funds. A capture race with the provider-side auto capture is
// resolved by re-reading the order and treating COMPLETED as success.
func (a *Adapter) VerifyPayment(ctx context.Context, paymentID string) (*domain.PaymentVerification, error) {
	if a.creds.Empty() && a.sandbox {
		return a.mockVerify(), nil
	}

	token, err := a.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	current, raw, err := a.getOrder(ctx, token, paymentID)
	if err != nil {
		return nil, err
	}

	if current.Status == "APPROVED" {
		captured, capturedRaw, captureErr := a.captureOrder(ctx, token, paymentID)
		if captureErr == nil {
			current, raw = captured, capturedRaw
		} else {
			// The capture may have already landed; a COMPLETED re-read wins.
			reread, rereadRaw, rereadErr := a.getOrder(ctx, token, paymentID)
			if rereadErr != nil || reread.Status != "COMPLETED" {
				return nil, captureErr
			}
			current, raw = reread, rereadRaw
		}
	}

	return a.verification(current, raw), nil
}

func (a *Adapter) getOrder(ctx context.Context, token, paymentID string) (order, []byte, error) {
	var current order
	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method:  http.MethodGet,
		URL:     a.baseURL + "/v2/checkout/orders/" + paymentID,
		Headers: map[string]string{"Authorization": "Bearer " + token},
	}, &current)
	if err != nil {
		return order{}, nil, err
	}
	if status >= http.StatusBadRequest {
		return order{}, nil, fmt.Errorf("walletpay: order lookup returned %d: %s", status, string(raw))
	}
	return current, raw, nil
}

func (a *Adapter) captureOrder(ctx context.Context, token, paymentID string) (order, []byte, error) {
	var captured order
	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method:  http.MethodPost,
		URL:     a.baseURL + "/v2/checkout/orders/" + paymentID + "/capture",
		Headers: map[string]string{"Authorization": "Bearer " + token},
		Body:    map[string]any{},
	}, &captured)
	if err != nil {
		return order{}, nil, err
	}
	if status >= http.StatusBadRequest {
		// ORDER_ALREADY_CAPTURED is a success from our side.
		if strings.Contains(string(raw), "ORDER_ALREADY_CAPTURED") {
			return a.getOrder(ctx, token, paymentID)
		}
		return order{}, nil, fmt.Errorf("walletpay: capture returned %d: %s", status, string(raw))
	}
	return captured, raw, nil
}

func (a *Adapter) verification(current order, raw []byte) *domain.PaymentVerification {
	verification := &domain.PaymentVerification{
		Status:          orderStatus(current.Status),
		PaymentMethod:   "wallet",
		GatewayResponse: raw,
	}
	if len(current.PurchaseUnits) > 0 && current.PurchaseUnits[0].Amount != nil {
		unit := current.PurchaseUnits[0]
		verification.Currency = unit.Amount.CurrencyCode
		if minor, err := currency.ParseDecimal(unit.Amount.Value, unit.Amount.CurrencyCode); err == nil {
			verification.Amount = minor
		}
	}
	if current.Status == "COMPLETED" && current.UpdateTime != "" {
		if paidAt, err := time.Parse(time.RFC3339, current.UpdateTime); err == nil {
			utc := paidAt.UTC()
			verification.PaidAt = &utc
		}
	}
	return verification
}

func (a *Adapter) RefundPayment(ctx context.Context, paymentID string, amount int64) (*domain.RefundResult, error) {
	if a.creds.Empty() && a.sandbox {
		return &domain.RefundResult{
			RefundID: "wp_refund_mock_" + paymentID,
			Amount:   amount,
			Status:   domain.StatusRefunded,
		}, nil
	}

	token, err := a.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	current, _, err := a.getOrder(ctx, token, paymentID)
	if err != nil {
		return nil, err
	}
	captureID, currencyCode := firstCapture(current)
	if captureID == "" {
		return &domain.RefundResult{
			Status:       domain.StatusFailed,
			ErrorMessage: "order has no capture to refund",
		}, nil
	}

	body := map[string]any{}
	if amount > 0 {
		body["amount"] = orderAmount{
			CurrencyCode: currencyCode,
			Value:        currency.DecimalString(amount, currencyCode),
		}
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	status, raw, err := a.client.DoJSON(ctx, httpx.Request{
		Method:  http.MethodPost,
		URL:     a.baseURL + "/v2/payments/captures/" + captureID + "/refund",
		Headers: map[string]string{"Authorization": "Bearer " + token},
		Body:    body,
	}, &refund)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return &domain.RefundResult{
			Status:       domain.StatusFailed,
			ErrorMessage: fmt.Sprintf("walletpay refund returned %d: %s", status, string(raw)),
		}, nil
	}

	refundStatus := domain.StatusRefunded
	if refund.Status == "PENDING" {
		refundStatus = domain.StatusProcessing
	}
	return &domain.RefundResult{
		RefundID: refund.ID,
		Amount:   amount,
		Status:   refundStatus,
	}, nil
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, paymentID string) (domain.PaymentStatus, error) {
	if a.creds.Empty() && a.sandbox {
		return domain.StatusCompleted, nil
	}
	token, err := a.bearerToken(ctx)
	if err != nil {
		return "", err
	}
	current, _, err := a.getOrder(ctx, token, paymentID)
	if err != nil {
		return "", err
	}
	return orderStatus(current.Status), nil
}

func (a *Adapter) ValidateCredentials(ctx context.Context) (*domain.ValidationResult, error) {
	if a.creds.Empty() {
		return &domain.ValidationResult{IsValid: false, Message: "credentials not configured"}, nil
	}
	if _, err := a.bearerToken(ctx); err != nil {
		return &domain.ValidationResult{IsValid: false, Message: "walletpay rejected the client credentials"}, nil
	}
	return &domain.ValidationResult{IsValid: true, Message: "credentials accepted"}, nil
}

type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID        string       `json:"id"`
		Status    string       `json:"status"`
		OrderID   string       `json:"order_id"`
		InvoiceID string       `json:"invoice_id"`
		Amount    *orderAmount `json:"amount"`
	} `json:"resource"`
}

// HandleWebhook verifies the hex HMAC-SHA256 of the raw payload carried in
// the transmission signature header.
func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.WebhookResult, error) {
	_ = ctx
	secret := a.creds.WebhookSecret
	if secret == "" {
		return &domain.WebhookResult{IsValid: false, ErrorMessage: "webhook secret not configured"}, nil
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected)) {
		return &domain.WebhookResult{IsValid: false, ErrorMessage: "signature verification failed"}, nil
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return &domain.WebhookResult{IsValid: false, ErrorMessage: "malformed payload"}, nil
	}

	// Capture events reference the order through order_id; order events carry
	// the order id as the resource id.
	paymentID := event.Resource.OrderID
	if paymentID == "" {
		paymentID = event.Resource.ID
	}

	result := &domain.WebhookResult{
		EventType: event.EventType,
		PaymentID: paymentID,
		IsValid:   true,
		Metadata:  map[string]string{"event_id": event.ID},
	}
	if event.Resource.Amount != nil {
		if minor, err := currency.ParseDecimal(event.Resource.Amount.Value, event.Resource.Amount.CurrencyCode); err == nil {
			result.Amount = minor
		}
	}

	switch event.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		result.Status = domain.StatusProcessing
	case "CHECKOUT.ORDER.COMPLETED", "PAYMENT.CAPTURE.COMPLETED":
		result.Status = domain.StatusCompleted
	case "PAYMENT.CAPTURE.DENIED":
		result.Status = domain.StatusFailed
	case "PAYMENT.CAPTURE.REFUNDED":
		result.Status = domain.StatusRefunded
	default:
		result.Status = ""
	}
	return result, nil
}

func orderStatus(status string) domain.PaymentStatus {
	switch status {
	case "CREATED", "SAVED", "PAYER_ACTION_REQUIRED":
		return domain.StatusPending
	case "APPROVED":
		return domain.StatusProcessing
	case "COMPLETED":
		return domain.StatusCompleted
	case "VOIDED":
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}

func approveLink(links []link) string {
	for _, l := range links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

func firstCapture(current order) (string, string) {
	for _, unit := range current.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, c := range unit.Payments.Captures {
			if c.Status == "COMPLETED" || c.Status == "PARTIALLY_REFUNDED" {
				code := ""
				if c.Amount != nil {
					code = c.Amount.CurrencyCode
				}
				return c.ID, code
			}
		}
	}
	return "", ""
}

func (a *Adapter) mockCreate(req domain.CreatePaymentRequest) *domain.PaymentResult {
	paymentID := "wp_mock_" + req.OrderID
	return &domain.PaymentResult{
		PaymentID:   paymentID,
		Status:      domain.StatusPending,
		CheckoutURL: sandboxBaseURL + "/checkoutnow?token=" + paymentID,
	}
}

func (a *Adapter) mockVerify() *domain.PaymentVerification {
	now := time.Now().UTC()
	return &domain.PaymentVerification{
		Status:        domain.StatusCompleted,
		PaymentMethod: "wallet",
		PaidAt:        &now,
	}
}
