package idpay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payloop/payloop/internal/gateway/domain"
)

type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestAdapter(t *testing.T, handler http.Handler) domain.Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	target, err := url.Parse(server.URL)
	require.NoError(t, err)

	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Credentials: domain.Credentials{APIKey: "merchant_1", APISecret: "merchant_secret", WebhookSecret: "hook_secret"},
		HTTPClient:  &http.Client{Transport: rewriteTransport{target: target}},
	})
	require.NoError(t, err)
	return adapter
}

func TestCreatePayment(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions", r.URL.Path)

		// Merchant secret rides as the Basic auth username.
		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "merchant_secret", user)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "order-1", body["order_id"])
		assert.Equal(t, "150000", body["amount"])
		assert.Equal(t, "IDR", body["currency"])

		json.NewEncoder(w).Encode(map[string]any{
			"transaction_id": "trx_1",
			"payment_url":    "https://pay.idpay.co.id/trx_1",
			"status_code":    1,
		})
	})

	adapter := newTestAdapter(t, handler)
	result, err := adapter.CreatePayment(context.Background(), domain.CreatePaymentRequest{
		OrderID:  "order-1",
		Amount:   150000,
		Currency: "IDR",
	})
	require.NoError(t, err)
	assert.Equal(t, "trx_1", result.PaymentID)
	assert.Equal(t, domain.StatusPending, result.Status)
	assert.Equal(t, "https://pay.idpay.co.id/trx_1", result.CheckoutURL)
}

func TestVerifyPayment(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/trx_1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"transaction_id": "trx_1",
			"status_code":    100,
			"amount":         "150000",
			"currency":       "IDR",
			"paid_at":        "2026-08-01T09:30:00Z",
			"payment_method": "bank_transfer",
		})
	})

	adapter := newTestAdapter(t, handler)
	verification, err := adapter.VerifyPayment(context.Background(), "trx_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, verification.Status)
	assert.Equal(t, int64(150000), verification.Amount)
	assert.Equal(t, "IDR", verification.Currency)
	require.NotNil(t, verification.PaidAt)
}

func TestStatusFromCode(t *testing.T) {
	assert.Equal(t, domain.StatusPending, statusFromCode(codePending))
	assert.Equal(t, domain.StatusProcessing, statusFromCode(codeProcessing))
	assert.Equal(t, domain.StatusCompleted, statusFromCode(codePaid))
	assert.Equal(t, domain.StatusRefunded, statusFromCode(codeRefunded))
	assert.Equal(t, domain.StatusFailed, statusFromCode(codeFailed))
	assert.Equal(t, domain.StatusCancelled, statusFromCode(codeCancelled))
	assert.Equal(t, domain.StatusExpired, statusFromCode(codeExpired))
	assert.Equal(t, domain.StatusPending, statusFromCode(42))
}

func digest(orderID string, statusCode int, amount, secret string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%d%s%s", orderID, statusCode, amount, secret)))
	return hex.EncodeToString(sum[:])
}

func TestHandleWebhook(t *testing.T) {
	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Credentials: domain.Credentials{APISecret: "merchant_secret", WebhookSecret: "hook_secret"},
	})
	require.NoError(t, err)

	build := func(signature string) []byte {
		payload, _ := json.Marshal(map[string]any{
			"transaction_id": "trx_1",
			"order_id":       "order-1",
			"status_code":    100,
			"amount":         "150000",
			"signature":      signature,
		})
		return payload
	}

	t.Run("valid digest", func(t *testing.T) {
		payload := build(digest("order-1", 100, "150000", "hook_secret"))
		result, err := adapter.HandleWebhook(context.Background(), payload, "")
		require.NoError(t, err)
		assert.True(t, result.IsValid)
		assert.Equal(t, "trx_1", result.PaymentID)
		assert.Equal(t, domain.StatusCompleted, result.Status)
		assert.Equal(t, int64(150000), result.Amount)
		assert.Equal(t, "order-1", result.Metadata["order_id"])
	})

	t.Run("wrong secret", func(t *testing.T) {
		payload := build(digest("order-1", 100, "150000", "other_secret"))
		result, err := adapter.HandleWebhook(context.Background(), payload, "")
		require.NoError(t, err)
		assert.False(t, result.IsValid)
	})

	t.Run("tampered amount", func(t *testing.T) {
		payload, _ := json.Marshal(map[string]any{
			"transaction_id": "trx_1",
			"order_id":       "order-1",
			"status_code":    100,
			"amount":         "999999",
			"signature":      digest("order-1", 100, "150000", "hook_secret"),
		})
		result, err := adapter.HandleWebhook(context.Background(), payload, "")
		require.NoError(t, err)
		assert.False(t, result.IsValid)
	})

	t.Run("falls back to api secret", func(t *testing.T) {
		fallback, err := NewFactory().NewAdapter(domain.AdapterConfig{
			Credentials: domain.Credentials{APISecret: "merchant_secret"},
		})
		require.NoError(t, err)
		payload := build(digest("order-1", 100, "150000", "merchant_secret"))
		result, err := fallback.HandleWebhook(context.Background(), payload, "")
		require.NoError(t, err)
		assert.True(t, result.IsValid)
	})
}

func TestCreatePaymentWithoutCredentials(t *testing.T) {
	t.Run("sandbox mock", func(t *testing.T) {
		adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{SandboxMode: true})
		require.NoError(t, err)
		result, err := adapter.CreatePayment(context.Background(), domain.CreatePaymentRequest{OrderID: "order-7"})
		require.NoError(t, err)
		assert.Equal(t, "idp_mock_order-7", result.PaymentID)
		assert.Equal(t, domain.StatusPending, result.Status)
	})

	t.Run("production fails closed", func(t *testing.T) {
		adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{})
		require.NoError(t, err)
		result, err := adapter.CreatePayment(context.Background(), domain.CreatePaymentRequest{OrderID: "order-7"})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, result.Status)
		assert.Equal(t, domain.CodeCredentialsNotConfigured, result.ErrorCode)
	})
}
