package cardnet

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

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

func newTestAdapter(t *testing.T, handler http.Handler, creds domain.Credentials, sandbox bool) domain.Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	target, err := url.Parse(server.URL)
	require.NoError(t, err)

	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		SandboxMode: sandbox,
		Credentials: creds,
		HTTPClient:  &http.Client{Transport: rewriteTransport{target: target}},
	})
	require.NoError(t, err)
	return adapter
}

func testCreds() domain.Credentials {
	return domain.Credentials{APIKey: "pk_test", APISecret: "sk_test", WebhookSecret: "whsec_test"}
}

func TestCreatePayment(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "order-1", body["client_reference_id"])
		assert.Equal(t, float64(2500), body["amount_total"])
		assert.Equal(t, "usd", body["currency"])

		json.NewEncoder(w).Encode(map[string]any{
			"id":             "cs_123",
			"url":            "https://pay.cardnet.io/cs_123",
			"status":         "open",
			"payment_status": "unpaid",
		})
	})

	adapter := newTestAdapter(t, handler, testCreds(), false)
	result, err := adapter.CreatePayment(context.Background(), domain.CreatePaymentRequest{
		OrderID:  "order-1",
		Amount:   2500,
		Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_123", result.PaymentID)
	assert.Equal(t, domain.StatusPending, result.Status)
	assert.Equal(t, "https://pay.cardnet.io/cs_123", result.CheckoutURL)
}

func TestCreatePaymentDeclined(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "card_declined", "message": "Your card was declined."},
		})
	})

	adapter := newTestAdapter(t, handler, testCreds(), false)
	result, err := adapter.CreatePayment(context.Background(), domain.CreatePaymentRequest{
		OrderID:  "order-2",
		Amount:   900,
		Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Equal(t, "card_declined", result.ErrorCode)
}

func TestCreatePaymentServerErrorPropagates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	adapter := newTestAdapter(t, handler, testCreds(), false)
	_, err := adapter.CreatePayment(context.Background(), domain.CreatePaymentRequest{
		OrderID:  "order-3",
		Amount:   900,
		Currency: "USD",
	})
	require.Error(t, err)
}

func TestCreatePaymentWithoutCredentials(t *testing.T) {
	t.Run("sandbox returns deterministic mock", func(t *testing.T) {
		adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{SandboxMode: true})
		require.NoError(t, err)

		result, err := adapter.CreatePayment(context.Background(), domain.CreatePaymentRequest{OrderID: "order-4"})
		require.NoError(t, err)
		assert.Equal(t, "cs_mock_order-4", result.PaymentID)
		assert.Equal(t, domain.StatusPending, result.Status)
		assert.NotEmpty(t, result.CheckoutURL)
	})

	t.Run("production fails closed", func(t *testing.T) {
		adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{SandboxMode: false})
		require.NoError(t, err)

		result, err := adapter.CreatePayment(context.Background(), domain.CreatePaymentRequest{OrderID: "order-5"})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, result.Status)
		assert.Equal(t, domain.CodeCredentialsNotConfigured, result.ErrorCode)
	})
}

func TestVerifyPayment(t *testing.T) {
	paidAt := time.Now().Unix()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"id":                  "cs_123",
			"payment_status":      "paid",
			"amount_total":        2500,
			"currency":            "usd",
			"payment_method_type": "card",
			"paid_at":             paidAt,
		})
	})

	adapter := newTestAdapter(t, handler, testCreds(), false)
	verification, err := adapter.VerifyPayment(context.Background(), "cs_123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, verification.Status)
	assert.Equal(t, int64(2500), verification.Amount)
	assert.Equal(t, "USD", verification.Currency)
	require.NotNil(t, verification.PaidAt)
	assert.Equal(t, paidAt, verification.PaidAt.Unix())
}

func TestSessionStatusMapping(t *testing.T) {
	cases := []struct {
		name    string
		session checkoutSession
		want    domain.PaymentStatus
	}{
		{"paid", checkoutSession{PaymentStatus: "paid"}, domain.StatusCompleted},
		{"unpaid", checkoutSession{PaymentStatus: "unpaid"}, domain.StatusPending},
		{"expired", checkoutSession{Status: "expired"}, domain.StatusExpired},
		{"intent succeeded", checkoutSession{PaymentIntent: &paymentIntent{Status: "succeeded"}}, domain.StatusCompleted},
		{"intent processing", checkoutSession{PaymentIntent: &paymentIntent{Status: "processing"}}, domain.StatusProcessing},
		{"intent requires action", checkoutSession{PaymentIntent: &paymentIntent{Status: "requires_action"}}, domain.StatusPending},
		{"intent canceled", checkoutSession{PaymentIntent: &paymentIntent{Status: "canceled"}}, domain.StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sessionStatus(tc.session))
		})
	}
}

func signPayload(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestHandleWebhook(t *testing.T) {
	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{Credentials: testCreds()})
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{"id": "cs_123", "amount_total": 2500},
		},
	})

	t.Run("valid signature", func(t *testing.T) {
		header := signPayload("whsec_test", time.Now().Unix(), payload)
		result, err := adapter.HandleWebhook(context.Background(), payload, header)
		require.NoError(t, err)
		assert.True(t, result.IsValid)
		assert.Equal(t, "checkout.session.completed", result.EventType)
		assert.Equal(t, "cs_123", result.PaymentID)
		assert.Equal(t, domain.StatusCompleted, result.Status)
		assert.Equal(t, int64(2500), result.Amount)
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := signPayload("whsec_other", time.Now().Unix(), payload)
		result, err := adapter.HandleWebhook(context.Background(), payload, header)
		require.NoError(t, err)
		assert.False(t, result.IsValid)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		header := signPayload("whsec_test", time.Now().Add(-time.Hour).Unix(), payload)
		result, err := adapter.HandleWebhook(context.Background(), payload, header)
		require.NoError(t, err)
		assert.False(t, result.IsValid)
	})

	t.Run("tampered payload", func(t *testing.T) {
		header := signPayload("whsec_test", time.Now().Unix(), payload)
		tampered := append([]byte{}, payload...)
		tampered[len(tampered)-2] = 'x'
		result, err := adapter.HandleWebhook(context.Background(), tampered, header)
		require.NoError(t, err)
		assert.False(t, result.IsValid)
	})

	t.Run("unhandled event type is valid with no status", func(t *testing.T) {
		other, _ := json.Marshal(map[string]any{"id": "evt_2", "type": "customer.created"})
		header := signPayload("whsec_test", time.Now().Unix(), other)
		result, err := adapter.HandleWebhook(context.Background(), other, header)
		require.NoError(t, err)
		assert.True(t, result.IsValid)
		assert.Empty(t, result.Status)
	})
}

func TestValidateCredentials(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		})
		adapter := newTestAdapter(t, handler, testCreds(), false)
		result, err := adapter.ValidateCredentials(context.Background())
		require.NoError(t, err)
		assert.True(t, result.IsValid)
	})

	t.Run("rejected key", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		adapter := newTestAdapter(t, handler, testCreds(), false)
		result, err := adapter.ValidateCredentials(context.Background())
		require.NoError(t, err)
		assert.False(t, result.IsValid)
	})
}
