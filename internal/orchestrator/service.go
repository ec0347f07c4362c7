// Package orchestrator drives payments end to end: gateway selection,
// transaction state, failover to alternate gateways, webhook reconciliation,
// and attempt statistics. All writes to one transaction are serialized
// through a per-transaction lock.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/payloop/payloop/internal/dedupe"
	gwdomain "github.com/payloop/payloop/internal/gateway/domain"
	"github.com/payloop/payloop/internal/observability/metrics"
	statsdomain "github.com/payloop/payloop/internal/stats/domain"
	statsservice "github.com/payloop/payloop/internal/stats/service"
	trxdomain "github.com/payloop/payloop/internal/transaction/domain"
	trxrepo "github.com/payloop/payloop/internal/transaction/repository"
	"github.com/payloop/payloop/internal/webhooklog"
	"github.com/payloop/payloop/pkg/currency"
)

// replayTTL bounds the redis replay filter; the database constraint covers
// anything older.
const replayTTL = 48 * time.Hour

// CreatePaymentRequest opens a new payment. Provider pins a specific gateway;
// empty means the orchestrator selects one.
type CreatePaymentRequest struct {
	Provider       string         `json:"provider"`
	Amount         int64          `json:"amount"`
	Currency       string         `json:"currency"`
	MerchantRef    string         `json:"merchant_ref"`
	UserID         string         `json:"user_id"`
	SubscriptionID string         `json:"subscription_id"`
	Description    string         `json:"description"`
	CustomerEmail  string         `json:"customer_email"`
	CustomerName   string         `json:"customer_name"`
	SuccessURL     string         `json:"success_url"`
	CancelURL      string         `json:"cancel_url"`
	Methods        []string       `json:"methods"`
	Metadata       map[string]any `json:"metadata"`
}

// WebhookOutcome reports what a delivery did.
type WebhookOutcome struct {
	EventType   string                        `json:"event_type"`
	Applied     bool                          `json:"applied"`
	Duplicate   bool                          `json:"duplicate"`
	Ignored     bool                          `json:"ignored"`
	Transaction *trxdomain.PaymentTransaction `json:"transaction,omitempty"`
}

type Service interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*trxdomain.PaymentTransaction, error)
	GetTransaction(ctx context.Context, id snowflake.ID) (*trxdomain.PaymentTransaction, error)
	ListTransactions(ctx context.Context, filter trxrepo.ListFilter) ([]trxdomain.PaymentTransaction, error)
	// VerifyPayment polls the provider and reconciles local state.
	VerifyPayment(ctx context.Context, id snowflake.ID) (*trxdomain.PaymentTransaction, error)
	// GetAlternativeGateways lists gateways a failed transaction could retry on.
	GetAlternativeGateways(ctx context.Context, id snowflake.ID) ([]gwdomain.GatewayConfig, error)
	// RetryWithAlternateGateway re-runs a failed transaction on another
	// gateway. Empty provider lets the orchestrator choose.
	RetryWithAlternateGateway(ctx context.Context, id snowflake.ID, provider string) (*trxdomain.PaymentTransaction, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*WebhookOutcome, error)
	RefundPayment(ctx context.Context, id snowflake.ID, amount int64) (*trxdomain.PaymentTransaction, error)
}

type service struct {
	gateways gwdomain.Service
	trxRepo  trxrepo.Repository
	stats    statsservice.Service
	events   webhooklog.Repository
	replays  dedupe.Store
	metrics  *metrics.Metrics
	node     *snowflake.Node
	locks    *keyedMutex
	log      *zap.Logger
}

func New(
	gateways gwdomain.Service,
	trxRepo trxrepo.Repository,
	stats statsservice.Service,
	events webhooklog.Repository,
	replays dedupe.Store,
	m *metrics.Metrics,
	node *snowflake.Node,
	log *zap.Logger,
) Service {
	return &service{
		gateways: gateways,
		trxRepo:  trxRepo,
		stats:    stats,
		events:   events,
		replays:  replays,
		metrics:  m,
		node:     node,
		locks:    newKeyedMutex(),
		log:      log.Named("orchestrator"),
	}
}

func (s *service) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*trxdomain.PaymentTransaction, error) {
	if req.Amount <= 0 {
		return nil, trxdomain.ErrInvalidAmount
	}
	if !currency.Valid(req.Currency) {
		return nil, gwdomain.ErrCurrencyNotSupported
	}

	cfg, err := s.selectGateway(ctx, req.Provider, req.Currency, req.Amount)
	if err != nil {
		return nil, err
	}

	trx := &trxdomain.PaymentTransaction{
		ID:             s.node.Generate(),
		MerchantRef:    req.MerchantRef,
		UserID:         req.UserID,
		SubscriptionID: req.SubscriptionID,
		Provider:       cfg.Provider,
		Status:         gwdomain.StatusPending,
		Amount:         req.Amount,
		Currency:       currency.Normalize(req.Currency),
		Description:    req.Description,
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		AttemptCount:   1,
		Metadata:       datatypes.JSONMap(req.Metadata),
	}
	// Persist before the provider call so the order reference exists even if
	// the process dies mid-call.
	if err := s.trxRepo.Create(ctx, trx); err != nil {
		return nil, err
	}
	s.metrics.RecordPaymentCreated(ctx, cfg.Provider)

	if err := s.attempt(ctx, trx, cfg, req.Methods); err != nil {
		return trx, err
	}
	return trx, nil
}

// attempt runs one provider create call for the transaction's current
// gateway and applies the outcome. A transport error leaves the transaction
// pending and records nothing.
func (s *service) attempt(ctx context.Context, trx *trxdomain.PaymentTransaction, cfg *gwdomain.GatewayConfig, methods []string) error {
	adapter, err := s.gateways.BuildAdapter(ctx, cfg)
	if err != nil {
		return err
	}

	result, err := adapter.CreatePayment(ctx, gwdomain.CreatePaymentRequest{
		OrderID:       trx.OrderRef(),
		Amount:        trx.Amount,
		Currency:      trx.Currency,
		Description:   trx.Description,
		CustomerEmail: trx.CustomerEmail,
		CustomerName:  trx.CustomerName,
		SuccessURL:    trx.SuccessURL,
		CancelURL:     trx.CancelURL,
		Methods:       methods,
	})
	if err != nil {
		s.log.Error("provider create failed",
			zap.String("provider", cfg.Provider),
			zap.String("transaction_id", trx.OrderRef()),
			zap.Error(err),
		)
		return err
	}

	trx.GatewayPaymentID = result.PaymentID
	trx.CheckoutURL = result.CheckoutURL
	trx.ErrorCode = result.ErrorCode
	trx.ErrorMessage = result.ErrorMessage

	if err := s.applyStatus(ctx, trx, result.Status); err != nil {
		return err
	}
	return s.trxRepo.Update(ctx, trx)
}

// applyStatus moves the transaction when the transition is legal and records
// attempt statistics exactly once per terminal outcome. Illegal moves from
// stale provider data are dropped, not errors.
func (s *service) applyStatus(ctx context.Context, trx *trxdomain.PaymentTransaction, to gwdomain.PaymentStatus) error {
	if to == "" || to == trx.Status {
		return nil
	}
	if !trxdomain.CanTransition(trx.Status, to) {
		s.log.Debug("status transition dropped",
			zap.String("transaction_id", trx.OrderRef()),
			zap.String("from", string(trx.Status)),
			zap.String("to", string(to)),
		)
		return nil
	}

	from := trx.Status
	trx.Status = to

	switch to {
	case gwdomain.StatusCompleted:
		_ = s.stats.RecordSuccess(ctx, trx.Provider, trx.ID)
		s.metrics.RecordPaymentOutcome(ctx, trx.Provider, string(to))
	case gwdomain.StatusFailed, gwdomain.StatusExpired, gwdomain.StatusCancelled:
		_ = s.stats.RecordFailure(ctx, trx.Provider, trx.ID)
		s.metrics.RecordPaymentOutcome(ctx, trx.Provider, string(to))
	case gwdomain.StatusRefunded:
		s.metrics.RecordPaymentOutcome(ctx, trx.Provider, string(to))
	}

	s.log.Info("transaction status changed",
		zap.String("transaction_id", trx.OrderRef()),
		zap.String("provider", trx.Provider),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// selectGateway resolves the gateway for a new payment: the pinned provider
// when given, otherwise the default when eligible, otherwise the first
// eligible gateway that is not reporting down.
func (s *service) selectGateway(ctx context.Context, provider, currencyCode string, amount int64) (*gwdomain.GatewayConfig, error) {
	if provider != "" {
		cfg, err := s.gateways.Get(ctx, provider)
		if err != nil {
			return nil, err
		}
		if !cfg.IsEnabled {
			return nil, gwdomain.ErrGatewayDisabled
		}
		if !cfg.SupportsCurrency(currencyCode) {
			return nil, gwdomain.ErrCurrencyNotSupported
		}
		if !cfg.WithinLimits(amount) {
			return nil, trxdomain.ErrInvalidAmount
		}
		return cfg, nil
	}

	candidates, err := s.eligibleGateways(ctx, currencyCode, amount, nil)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, gwdomain.ErrNoGatewayAvailable
	}

	// candidates arrive default-first; prefer the first one that is not down.
	for i := range candidates {
		health, err := s.stats.Health(ctx, candidates[i].Provider)
		if err == nil && health != statsdomain.HealthDown {
			return &candidates[i], nil
		}
	}
	return &candidates[0], nil
}

// eligibleGateways lists enabled gateways matching currency and amount,
// excluding any the transaction has already tried.
func (s *service) eligibleGateways(ctx context.Context, currencyCode string, amount int64, exclude *trxdomain.PaymentTransaction) ([]gwdomain.GatewayConfig, error) {
	enabled, err := s.gateways.GetEnabledForCurrency(ctx, currencyCode)
	if err != nil {
		return nil, err
	}
	eligible := make([]gwdomain.GatewayConfig, 0, len(enabled))
	for _, cfg := range enabled {
		if !cfg.WithinLimits(amount) {
			continue
		}
		if exclude != nil && exclude.Tried(cfg.Provider) {
			continue
		}
		eligible = append(eligible, cfg)
	}
	return eligible, nil
}

func (s *service) GetTransaction(ctx context.Context, id snowflake.ID) (*trxdomain.PaymentTransaction, error) {
	return s.trxRepo.Find(ctx, id)
}

func (s *service) ListTransactions(ctx context.Context, filter trxrepo.ListFilter) ([]trxdomain.PaymentTransaction, error) {
	return s.trxRepo.List(ctx, filter)
}

func (s *service) VerifyPayment(ctx context.Context, id snowflake.ID) (*trxdomain.PaymentTransaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	trx, err := s.trxRepo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	// Terminal transactions are already settled; polling is a no-op.
	if trx.Status.Terminal() {
		return trx, nil
	}
	if trx.GatewayPaymentID == "" {
		return trx, nil
	}

	cfg, err := s.gateways.Get(ctx, trx.Provider)
	if err != nil {
		return nil, err
	}
	adapter, err := s.gateways.BuildAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	verification, err := adapter.VerifyPayment(ctx, trx.GatewayPaymentID)
	if err != nil {
		// Transport trouble must not move local state.
		return nil, err
	}

	if verification.PaidAt != nil {
		trx.PaidAt = verification.PaidAt
	}
	if verification.PaymentMethod != "" {
		trx.PaymentMethod = verification.PaymentMethod
	}
	if err := s.applyStatus(ctx, trx, verification.Status); err != nil {
		return nil, err
	}
	if err := s.trxRepo.Update(ctx, trx); err != nil {
		return nil, err
	}
	return trx, nil
}

func (s *service) GetAlternativeGateways(ctx context.Context, id snowflake.ID) ([]gwdomain.GatewayConfig, error) {
	trx, err := s.trxRepo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.eligibleGateways(ctx, trx.Currency, trx.Amount, trx)
}

func (s *service) RetryWithAlternateGateway(ctx context.Context, id snowflake.ID, provider string) (*trxdomain.PaymentTransaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	trx, err := s.trxRepo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if trx.Status != gwdomain.StatusFailed {
		return nil, trxdomain.ErrNotRetryable
	}

	alternatives, err := s.eligibleGateways(ctx, trx.Currency, trx.Amount, trx)
	if err != nil {
		return nil, err
	}
	if len(alternatives) == 0 {
		return nil, gwdomain.ErrNoGatewayAvailable
	}

	next := &alternatives[0]
	if provider != "" {
		next = nil
		for i := range alternatives {
			if alternatives[i].Provider == provider {
				next = &alternatives[i]
				break
			}
		}
		if next == nil {
			return nil, gwdomain.ErrNoGatewayAvailable
		}
	}

	previous := trx.Provider
	trx.PreviousGateways = append(trx.PreviousGateways, previous)
	trx.Provider = next.Provider
	trx.AttemptCount++
	trx.GatewayPaymentID = ""
	trx.CheckoutURL = ""
	trx.ErrorCode = ""
	trx.ErrorMessage = ""
	if err := trx.Transition(gwdomain.StatusPending); err != nil {
		return nil, err
	}
	if err := s.trxRepo.Update(ctx, trx); err != nil {
		return nil, err
	}
	s.metrics.RecordPaymentRetry(ctx, previous, next.Provider)
	s.log.Info("retrying on alternate gateway",
		zap.String("transaction_id", trx.OrderRef()),
		zap.String("previous_provider", previous),
		zap.String("provider", next.Provider),
		zap.Int("attempt", trx.AttemptCount),
	)

	if err := s.attempt(ctx, trx, next, nil); err != nil {
		return trx, err
	}
	return trx, nil
}

func (s *service) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*WebhookOutcome, error) {
	cfg, err := s.gateways.Get(ctx, provider)
	if err != nil {
		return nil, err
	}
	adapter, err := s.gateways.BuildAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	result, err := adapter.HandleWebhook(ctx, payload, signature)
	if err != nil {
		return nil, err
	}
	if !result.IsValid {
		s.log.Warn("webhook rejected",
			zap.String("provider", cfg.Provider),
			zap.String("reason", result.ErrorMessage),
		)
		s.metrics.RecordWebhookEvent(ctx, cfg.Provider, "rejected")
		return nil, gwdomain.ErrInvalidSignature
	}

	outcome := &WebhookOutcome{EventType: result.EventType}

	// Events that carry no status move are acknowledged without touching state.
	if result.Status == "" {
		s.metrics.RecordWebhookEvent(ctx, cfg.Provider, "ignored")
		outcome.Ignored = true
		return outcome, nil
	}

	eventID := dedupeKey(result, payload)
	replayKey := cfg.Provider + ":" + eventID

	// Cheap replay filter first; the unique insert below is authoritative.
	if seen, _ := s.replays.Seen(ctx, replayKey); seen {
		s.metrics.RecordWebhookEvent(ctx, cfg.Provider, "duplicate")
		outcome.Duplicate = true
		return outcome, nil
	}

	event := &webhooklog.WebhookEvent{
		Provider:         cfg.Provider,
		EventID:          eventID,
		EventType:        result.EventType,
		GatewayPaymentID: result.PaymentID,
		Payload:          payload,
	}
	applied, err := s.events.Insert(ctx, event)
	if err != nil {
		return nil, err
	}
	if !applied {
		// The delivery was logged before. Only a row that actually finished
		// processing makes this a duplicate; a crash between logging and the
		// status update leaves processed_at empty, and the redelivery must
		// carry the work through.
		stored, err := s.events.FindByProviderEvent(ctx, cfg.Provider, eventID)
		if err != nil {
			return nil, err
		}
		if stored.ProcessedAt != nil {
			_ = s.replays.Mark(ctx, replayKey, replayTTL)
			s.metrics.RecordWebhookEvent(ctx, cfg.Provider, "duplicate")
			outcome.Duplicate = true
			return outcome, nil
		}
		event = stored
	}

	trx, err := s.resolveTransaction(ctx, cfg.Provider, result)
	if err == trxdomain.ErrNotFound {
		// Keep the event logged; a later attempt can reconcile it manually.
		s.log.Warn("webhook for unknown transaction",
			zap.String("provider", cfg.Provider),
			zap.String("gateway_payment_id", result.PaymentID),
			zap.String("event_type", result.EventType),
		)
		s.metrics.RecordWebhookEvent(ctx, cfg.Provider, "orphaned")
		outcome.Ignored = true
		return outcome, nil
	}
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(trx.ID)
	defer unlock()

	// Re-read under the lock; a concurrent verify may have moved the state.
	trx, err = s.trxRepo.Find(ctx, trx.ID)
	if err != nil {
		return nil, err
	}

	if result.Amount > 0 && result.Amount != trx.Amount {
		s.log.Warn("webhook amount mismatch",
			zap.String("transaction_id", trx.OrderRef()),
			zap.Int64("expected", trx.Amount),
			zap.Int64("reported", result.Amount),
		)
	}

	if result.Status == gwdomain.StatusCompleted && trx.PaidAt == nil {
		now := time.Now().UTC()
		trx.PaidAt = &now
	}
	if err := s.applyStatus(ctx, trx, result.Status); err != nil {
		return nil, err
	}
	if err := s.trxRepo.Update(ctx, trx); err != nil {
		return nil, err
	}
	if err := s.events.MarkProcessed(ctx, event.ID); err != nil {
		return nil, err
	}
	// The replay filter is armed only once the status move is durable.
	_ = s.replays.Mark(ctx, replayKey, replayTTL)

	s.metrics.RecordWebhookEvent(ctx, cfg.Provider, "applied")
	outcome.Applied = true
	outcome.Transaction = trx
	return outcome, nil
}

// resolveTransaction maps a provider callback onto a transaction. Providers
// normally echo their own payment id, but some callbacks only carry the order
// reference we sent them, which is the transaction id itself.
func (s *service) resolveTransaction(ctx context.Context, provider string, result *gwdomain.WebhookResult) (*trxdomain.PaymentTransaction, error) {
	trx, err := s.trxRepo.FindByGatewayPaymentID(ctx, provider, result.PaymentID)
	if err != trxdomain.ErrNotFound {
		return trx, err
	}

	id, parseErr := snowflake.ParseString(result.PaymentID)
	if parseErr != nil {
		return nil, trxdomain.ErrNotFound
	}
	trx, err = s.trxRepo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if trx.Provider != provider {
		return nil, trxdomain.ErrNotFound
	}
	return trx, nil
}

// dedupeKey picks the replay identity for a delivery: the provider's event id
// when present, else a digest of the raw payload.
func dedupeKey(result *gwdomain.WebhookResult, payload []byte) string {
	if id, ok := result.Metadata["event_id"]; ok && id != "" {
		return id
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (s *service) RefundPayment(ctx context.Context, id snowflake.ID, amount int64) (*trxdomain.PaymentTransaction, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	trx, err := s.trxRepo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if trx.Status != gwdomain.StatusCompleted {
		return nil, trxdomain.ErrNotRefundable
	}
	if amount < 0 || amount > trx.Amount {
		return nil, trxdomain.ErrInvalidAmount
	}

	cfg, err := s.gateways.Get(ctx, trx.Provider)
	if err != nil {
		return nil, err
	}
	adapter, err := s.gateways.BuildAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	refund, err := adapter.RefundPayment(ctx, trx.GatewayPaymentID, amount)
	if err != nil {
		return nil, err
	}
	if refund.Status == gwdomain.StatusFailed {
		s.log.Warn("refund declined",
			zap.String("transaction_id", trx.OrderRef()),
			zap.String("provider", trx.Provider),
			zap.String("reason", refund.ErrorMessage),
		)
		return trx, trxdomain.ErrNotRefundable
	}

	if refund.Status == gwdomain.StatusRefunded {
		if err := s.applyStatus(ctx, trx, gwdomain.StatusRefunded); err != nil {
			return nil, err
		}
		if err := s.trxRepo.Update(ctx, trx); err != nil {
			return nil, err
		}
	}
	s.metrics.RecordRefund(ctx, trx.Provider)
	return trx, nil
}
