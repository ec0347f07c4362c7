package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/payloop/payloop/internal/config"
	"github.com/payloop/payloop/internal/dedupe"
	"github.com/payloop/payloop/internal/gateway/adapters"
	gwdomain "github.com/payloop/payloop/internal/gateway/domain"
	gwrepo "github.com/payloop/payloop/internal/gateway/repository"
	gwservice "github.com/payloop/payloop/internal/gateway/service"
	"github.com/payloop/payloop/internal/gateway/secrets"
	"github.com/payloop/payloop/internal/observability/metrics"
	statsdomain "github.com/payloop/payloop/internal/stats/domain"
	statsrepo "github.com/payloop/payloop/internal/stats/repository"
	statsservice "github.com/payloop/payloop/internal/stats/service"
	trxdomain "github.com/payloop/payloop/internal/transaction/domain"
	trxrepo "github.com/payloop/payloop/internal/transaction/repository"
	"github.com/payloop/payloop/internal/webhooklog"
	"github.com/payloop/payloop/pkg/id"
)

// fakeAdapter is a scriptable provider adapter. Webhook payloads are JSON:
// {"event_id","payment_id","status","valid"}.
type fakeAdapter struct {
	provider     string
	createFn     func(req gwdomain.CreatePaymentRequest) (*gwdomain.PaymentResult, error)
	verifyFn     func(paymentID string) (*gwdomain.PaymentVerification, error)
	refundFn     func(paymentID string, amount int64) (*gwdomain.RefundResult, error)
	createCalls  int
	lastOrderIDs []string
}

func (f *fakeAdapter) Provider() string { return f.provider }

func (f *fakeAdapter) CreatePayment(_ context.Context, req gwdomain.CreatePaymentRequest) (*gwdomain.PaymentResult, error) {
	f.createCalls++
	f.lastOrderIDs = append(f.lastOrderIDs, req.OrderID)
	if f.createFn != nil {
		return f.createFn(req)
	}
	return &gwdomain.PaymentResult{
		PaymentID:   f.provider + "_pay_" + req.OrderID,
		Status:      gwdomain.StatusPending,
		CheckoutURL: "https://pay.test/" + req.OrderID,
	}, nil
}

func (f *fakeAdapter) VerifyPayment(_ context.Context, paymentID string) (*gwdomain.PaymentVerification, error) {
	if f.verifyFn != nil {
		return f.verifyFn(paymentID)
	}
	return &gwdomain.PaymentVerification{Status: gwdomain.StatusPending}, nil
}

func (f *fakeAdapter) RefundPayment(_ context.Context, paymentID string, amount int64) (*gwdomain.RefundResult, error) {
	if f.refundFn != nil {
		return f.refundFn(paymentID, amount)
	}
	return &gwdomain.RefundResult{RefundID: "re_" + paymentID, Amount: amount, Status: gwdomain.StatusRefunded}, nil
}

func (f *fakeAdapter) GetPaymentStatus(ctx context.Context, paymentID string) (gwdomain.PaymentStatus, error) {
	verification, err := f.VerifyPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	return verification.Status, nil
}

func (f *fakeAdapter) ValidateCredentials(context.Context) (*gwdomain.ValidationResult, error) {
	return &gwdomain.ValidationResult{IsValid: true}, nil
}

func (f *fakeAdapter) HandleWebhook(_ context.Context, payload []byte, _ string) (*gwdomain.WebhookResult, error) {
	var event struct {
		EventID   string `json:"event_id"`
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
		Valid     bool   `json:"valid"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return &gwdomain.WebhookResult{IsValid: false, ErrorMessage: "malformed payload"}, nil
	}
	if !event.Valid {
		return &gwdomain.WebhookResult{IsValid: false, ErrorMessage: "signature verification failed"}, nil
	}
	return &gwdomain.WebhookResult{
		EventType: "fake.event",
		PaymentID: event.PaymentID,
		Status:    gwdomain.PaymentStatus(event.Status),
		IsValid:   true,
		Metadata:  map[string]string{"event_id": event.EventID},
	}, nil
}

type fakeFactory struct {
	adapter *fakeAdapter
}

func (f *fakeFactory) Provider() string { return f.adapter.provider }

func (f *fakeFactory) NewAdapter(gwdomain.AdapterConfig) (gwdomain.Adapter, error) {
	return f.adapter, nil
}

type noReplay struct{}

func (noReplay) Seen(context.Context, string) (bool, error) { return false, nil }

func (noReplay) Mark(context.Context, string, time.Duration) error { return nil }

var _ dedupe.Store = noReplay{}

type fixture struct {
	svc      Service
	stats    statsservice.Service
	gateways gwdomain.Service
	events   webhooklog.Repository
	adapters map[string]*fakeAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&gwdomain.GatewayConfig{},
		&trxdomain.PaymentTransaction{},
		&statsdomain.GatewayAttempt{},
		&webhooklog.WebhookEvent{},
	))

	node, err := id.NewNode()
	require.NoError(t, err)

	fakes := map[string]*fakeAdapter{}
	factories := make([]gwdomain.AdapterFactory, 0, 3)
	for _, provider := range []string{"cardnet", "walletpay", "idpay"} {
		fake := &fakeAdapter{provider: provider}
		fakes[provider] = fake
		factories = append(factories, &fakeFactory{adapter: fake})
	}

	cfg := config.Config{GatewayConfigSecret: "orchestrator-test-secret"}
	catalog, err := config.NewGatewayCatalogHolder()
	require.NoError(t, err)

	gateways := gwservice.New(
		cfg,
		gwrepo.New(db),
		adapters.NewRegistry(factories...),
		secrets.New(cfg),
		catalog,
		node,
		zap.NewNop(),
	)

	stats := statsservice.New(statsrepo.New(db), node, zap.NewNop())

	events := webhooklog.New(db, node)
	svc := New(
		gateways,
		trxrepo.New(db),
		stats,
		events,
		noReplay{},
		(*metrics.Metrics)(nil),
		node,
		zap.NewNop(),
	)

	ctx := context.Background()
	for _, provider := range []string{"cardnet", "walletpay"} {
		_, err := gateways.Configure(ctx, gwdomain.ConfigureRequest{
			Provider:    provider,
			APIKey:      provider + "_key",
			APISecret:   provider + "_secret",
			SandboxMode: true,
		})
		require.NoError(t, err)
		_, err = gateways.Enable(ctx, provider)
		require.NoError(t, err)
	}
	_, err = gateways.SetDefault(ctx, "cardnet")
	require.NoError(t, err)

	return &fixture{svc: svc, stats: stats, gateways: gateways, events: events, adapters: fakes}
}

func webhookPayload(eventID, paymentID, status string, valid bool) []byte {
	payload, _ := json.Marshal(map[string]any{
		"event_id":   eventID,
		"payment_id": paymentID,
		"status":     status,
		"valid":      valid,
	})
	return payload
}

func TestCreatePaymentOnDefaultGateway(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{
		Amount:   2500,
		Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "cardnet", trx.Provider)
	assert.Equal(t, gwdomain.StatusPending, trx.Status)
	assert.Equal(t, 1, trx.AttemptCount)
	assert.NotEmpty(t, trx.GatewayPaymentID)
	assert.NotEmpty(t, trx.CheckoutURL)

	// The provider saw the transaction's snowflake ID as the order reference.
	require.Len(t, fx.adapters["cardnet"].lastOrderIDs, 1)
	assert.Equal(t, trx.OrderRef(), fx.adapters["cardnet"].lastOrderIDs[0])
}

func TestCreatePaymentValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 0, Currency: "USD"})
	assert.ErrorIs(t, err, trxdomain.ErrInvalidAmount)

	_, err = fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 100, Currency: "dollars"})
	assert.ErrorIs(t, err, gwdomain.ErrCurrencyNotSupported)

	// No enabled gateway supports IDR in this fixture.
	_, err = fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 100000, Currency: "IDR"})
	assert.ErrorIs(t, err, gwdomain.ErrNoGatewayAvailable)
}

func TestCreatePaymentPinnedProvider(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{
		Provider: "walletpay",
		Amount:   2500,
		Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "walletpay", trx.Provider)

	_, err = fx.svc.CreatePayment(ctx, CreatePaymentRequest{
		Provider: "idpay",
		Amount:   2500,
		Currency: "USD",
	})
	assert.ErrorIs(t, err, gwdomain.ErrNotFound)
}

func TestWebhookCompletesPayment(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)

	outcome, err := fx.svc.HandleWebhook(ctx, "cardnet",
		webhookPayload("evt_1", trx.GatewayPaymentID, "completed", true), "sig")
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	updated, err := fx.svc.GetTransaction(ctx, trx.ID)
	require.NoError(t, err)
	assert.Equal(t, gwdomain.StatusCompleted, updated.Status)
	assert.NotNil(t, updated.PaidAt)

	snapshot, err := fx.stats.Snapshot(ctx, "cardnet")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Successes)
	assert.Equal(t, int64(0), snapshot.Failures)
}

func TestDuplicateWebhookAppliesOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)
	payload := webhookPayload("evt_1", trx.GatewayPaymentID, "completed", true)

	first, err := fx.svc.HandleWebhook(ctx, "cardnet", payload, "sig")
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := fx.svc.HandleWebhook(ctx, "cardnet", payload, "sig")
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.True(t, second.Duplicate)

	// Exactly one success recorded despite the replay.
	snapshot, err := fx.stats.Snapshot(ctx, "cardnet")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Successes)
	assert.Equal(t, int64(1), snapshot.TotalAttempts)
}

func TestWebhookInvalidSignature(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)

	_, err = fx.svc.HandleWebhook(ctx, "cardnet",
		webhookPayload("evt_1", trx.GatewayPaymentID, "completed", false), "bad")
	assert.ErrorIs(t, err, gwdomain.ErrInvalidSignature)

	// State untouched.
	updated, err := fx.svc.GetTransaction(ctx, trx.ID)
	require.NoError(t, err)
	assert.Equal(t, gwdomain.StatusPending, updated.Status)
}

func TestWebhookCannotResurrectTerminalTransaction(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)

	_, err = fx.svc.HandleWebhook(ctx, "cardnet",
		webhookPayload("evt_1", trx.GatewayPaymentID, "completed", true), "sig")
	require.NoError(t, err)

	// A late conflicting delivery is accepted but changes nothing.
	outcome, err := fx.svc.HandleWebhook(ctx, "cardnet",
		webhookPayload("evt_2", trx.GatewayPaymentID, "failed", true), "sig")
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	updated, err := fx.svc.GetTransaction(ctx, trx.ID)
	require.NoError(t, err)
	assert.Equal(t, gwdomain.StatusCompleted, updated.Status)

	snapshot, err := fx.stats.Snapshot(ctx, "cardnet")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snapshot.Failures)
}

func TestFailoverToAlternateGateway(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.adapters["cardnet"].createFn = func(req gwdomain.CreatePaymentRequest) (*gwdomain.PaymentResult, error) {
		return &gwdomain.PaymentResult{
			Status:       gwdomain.StatusFailed,
			ErrorCode:    gwdomain.CodeProviderDeclined,
			ErrorMessage: "insufficient funds",
		}, nil
	}

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, gwdomain.StatusFailed, trx.Status)
	assert.Equal(t, gwdomain.CodeProviderDeclined, trx.ErrorCode)

	alternatives, err := fx.svc.GetAlternativeGateways(ctx, trx.ID)
	require.NoError(t, err)
	require.Len(t, alternatives, 1)
	assert.Equal(t, "walletpay", alternatives[0].Provider)

	retried, err := fx.svc.RetryWithAlternateGateway(ctx, trx.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "walletpay", retried.Provider)
	assert.Equal(t, 2, retried.AttemptCount)
	assert.Equal(t, []string{"cardnet"}, []string(retried.PreviousGateways))
	assert.Equal(t, gwdomain.StatusPending, retried.Status)
	assert.Empty(t, retried.ErrorCode)

	// The alternate saw the same order reference.
	require.Len(t, fx.adapters["walletpay"].lastOrderIDs, 1)
	assert.Equal(t, trx.OrderRef(), fx.adapters["walletpay"].lastOrderIDs[0])

	// One failure on cardnet from the declined attempt.
	snapshot, err := fx.stats.Snapshot(ctx, "cardnet")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Failures)
}

func TestRetryExhaustsGateways(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	decline := func(req gwdomain.CreatePaymentRequest) (*gwdomain.PaymentResult, error) {
		return &gwdomain.PaymentResult{Status: gwdomain.StatusFailed, ErrorCode: gwdomain.CodeProviderDeclined}, nil
	}
	fx.adapters["cardnet"].createFn = decline
	fx.adapters["walletpay"].createFn = decline

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)

	retried, err := fx.svc.RetryWithAlternateGateway(ctx, trx.ID, "")
	require.NoError(t, err)
	assert.Equal(t, gwdomain.StatusFailed, retried.Status)

	_, err = fx.svc.RetryWithAlternateGateway(ctx, trx.ID, "")
	assert.ErrorIs(t, err, gwdomain.ErrNoGatewayAvailable)
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)

	_, err = fx.svc.RetryWithAlternateGateway(ctx, trx.ID, "")
	assert.ErrorIs(t, err, trxdomain.ErrNotRetryable)
}

func TestTransportErrorLeavesStateUntouched(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.adapters["cardnet"].createFn = func(req gwdomain.CreatePaymentRequest) (*gwdomain.PaymentResult, error) {
		return nil, errors.New("connection reset")
	}

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.Error(t, err)
	require.NotNil(t, trx)

	stored, err := fx.svc.GetTransaction(ctx, trx.ID)
	require.NoError(t, err)
	assert.Equal(t, gwdomain.StatusPending, stored.Status)

	// No attempt outcome recorded for a transport failure.
	snapshot, err := fx.stats.Snapshot(ctx, "cardnet")
	require.NoError(t, err)
	assert.Zero(t, snapshot.TotalAttempts)
}

func TestVerifyPaymentReconciles(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)

	paidAt := time.Now().UTC().Truncate(time.Second)
	fx.adapters["cardnet"].verifyFn = func(paymentID string) (*gwdomain.PaymentVerification, error) {
		return &gwdomain.PaymentVerification{
			Status:        gwdomain.StatusCompleted,
			Amount:        2500,
			Currency:      "USD",
			PaidAt:        &paidAt,
			PaymentMethod: "card",
		}, nil
	}

	updated, err := fx.svc.VerifyPayment(ctx, trx.ID)
	require.NoError(t, err)
	assert.Equal(t, gwdomain.StatusCompleted, updated.Status)
	assert.Equal(t, "card", updated.PaymentMethod)
	require.NotNil(t, updated.PaidAt)

	// Verifying a settled transaction is a no-op, not another provider call.
	fx.adapters["cardnet"].verifyFn = func(string) (*gwdomain.PaymentVerification, error) {
		t.Fatal("verify called on terminal transaction")
		return nil, nil
	}
	again, err := fx.svc.VerifyPayment(ctx, trx.ID)
	require.NoError(t, err)
	assert.Equal(t, gwdomain.StatusCompleted, again.Status)
}

func TestRefundPayment(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)

	_, err = fx.svc.RefundPayment(ctx, trx.ID, 2500)
	assert.ErrorIs(t, err, trxdomain.ErrNotRefundable)

	_, err = fx.svc.HandleWebhook(ctx, "cardnet",
		webhookPayload("evt_1", trx.GatewayPaymentID, "completed", true), "sig")
	require.NoError(t, err)

	_, err = fx.svc.RefundPayment(ctx, trx.ID, 5000)
	assert.ErrorIs(t, err, trxdomain.ErrInvalidAmount)

	refunded, err := fx.svc.RefundPayment(ctx, trx.ID, 2500)
	require.NoError(t, err)
	assert.Equal(t, gwdomain.StatusRefunded, refunded.Status)
}

func TestGatewaySelectionSkipsDownGateways(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Enough recent failures to mark the default gateway down.
	for i := 0; i < 10; i++ {
		require.NoError(t, fx.stats.RecordFailure(ctx, "cardnet", 0))
	}

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "walletpay", trx.Provider)
}

func TestWebhookForUnknownPayment(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	outcome, err := fx.svc.HandleWebhook(ctx, "cardnet",
		webhookPayload("evt_9", "cardnet_pay_unknown", "completed", true), "sig")
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.True(t, outcome.Ignored)
}

func TestCreatePaymentRecordsUserAndSubscription(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{
		Amount:         2500,
		Currency:       "USD",
		UserID:         "usr_42",
		SubscriptionID: "sub_7",
	})
	require.NoError(t, err)

	updated, err := fx.svc.GetTransaction(ctx, trx.ID)
	require.NoError(t, err)
	assert.Equal(t, "usr_42", updated.UserID)
	assert.Equal(t, "sub_7", updated.SubscriptionID)
}

func TestWebhookRedeliveryFinishesInterruptedEvent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)
	payload := webhookPayload("evt_1", trx.GatewayPaymentID, "completed", true)

	// The event was logged but the process died before the status update, so
	// the row carries no processed_at.
	applied, err := fx.events.Insert(ctx, &webhooklog.WebhookEvent{
		Provider:         "cardnet",
		EventID:          "evt_1",
		EventType:        "fake.event",
		GatewayPaymentID: trx.GatewayPaymentID,
		Payload:          payload,
	})
	require.NoError(t, err)
	require.True(t, applied)

	outcome, err := fx.svc.HandleWebhook(ctx, "cardnet", payload, "sig")
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.False(t, outcome.Duplicate)

	updated, err := fx.svc.GetTransaction(ctx, trx.ID)
	require.NoError(t, err)
	assert.Equal(t, gwdomain.StatusCompleted, updated.Status)

	// The redelivery that finished the work also closed out the event row.
	replay, err := fx.svc.HandleWebhook(ctx, "cardnet", payload, "sig")
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
}

func TestWebhookResolvesOrderReference(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)

	// Some providers echo back the order reference we sent instead of their
	// own payment id.
	outcome, err := fx.svc.HandleWebhook(ctx, "cardnet",
		webhookPayload("evt_1", trx.OrderRef(), "completed", true), "sig")
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	updated, err := fx.svc.GetTransaction(ctx, trx.ID)
	require.NoError(t, err)
	assert.Equal(t, gwdomain.StatusCompleted, updated.Status)
}

func TestWebhookOrderReferenceForOtherProviderIgnored(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	trx, err := fx.svc.CreatePayment(ctx, CreatePaymentRequest{Amount: 2500, Currency: "USD"})
	require.NoError(t, err)
	require.Equal(t, "cardnet", trx.Provider)

	outcome, err := fx.svc.HandleWebhook(ctx, "walletpay",
		webhookPayload("evt_1", trx.OrderRef(), "completed", true), "sig")
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.True(t, outcome.Ignored)
}
