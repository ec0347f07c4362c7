// Package service implements gateway configuration policy: catalog-backed
// defaults, credential encryption at rest, and the enable/default invariants
// the payment orchestrator relies on.
package service

import (
	"context"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/payloop/payloop/internal/config"
	"github.com/payloop/payloop/internal/gateway/adapters"
	"github.com/payloop/payloop/internal/gateway/domain"
	"github.com/payloop/payloop/internal/gateway/repository"
	"github.com/payloop/payloop/internal/gateway/secrets"
	"github.com/payloop/payloop/pkg/currency"
)

type service struct {
	cfg      config.Config
	repo     repository.Repository
	registry *adapters.Registry
	cipher   *secrets.Cipher
	catalog  *config.GatewayCatalogHolder
	node     *snowflake.Node
	log      *zap.Logger

	// Adapters are long-lived so per-adapter state (OAuth token caches,
	// circuit breakers) survives across requests. Reconfiguring a provider
	// evicts its entry.
	adapterMu sync.Mutex
	adapters  map[string]domain.Adapter
}

func New(
	cfg config.Config,
	repo repository.Repository,
	registry *adapters.Registry,
	cipher *secrets.Cipher,
	catalog *config.GatewayCatalogHolder,
	node *snowflake.Node,
	log *zap.Logger,
) domain.Service {
	return &service{
		cfg:      cfg,
		repo:     repo,
		registry: registry,
		cipher:   cipher,
		catalog:  catalog,
		node:     node,
		log:      log.Named("gateway"),
		adapters: make(map[string]domain.Adapter),
	}
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func (s *service) Configure(ctx context.Context, req domain.ConfigureRequest) (*domain.ConfigSummary, error) {
	provider := normalizeProvider(req.Provider)
	if provider == "" || !s.registry.ProviderExists(provider) {
		return nil, domain.ErrInvalidProvider
	}
	for _, code := range req.SupportedCurrencies {
		if !currency.Valid(code) {
			return nil, domain.ErrInvalidConfig
		}
	}

	existing, err := s.repo.FindByProvider(ctx, provider)
	if err != nil && err != domain.ErrNotFound {
		return nil, err
	}

	cfg := existing
	if cfg == nil {
		cfg = &domain.GatewayConfig{
			ID:       s.node.Generate(),
			Provider: provider,
		}
	}

	var entry *config.CatalogEntry
	if catalogEntry, ok := s.catalog.Entry(provider); ok {
		entry = &catalogEntry
	}
	applyCatalogDefaults(cfg, req, entry)

	if err := s.applyCredentials(cfg, req); err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, err
	}
	s.evictAdapter(provider)
	s.log.Info("gateway configured",
		zap.String("provider", provider),
		zap.Bool("sandbox_mode", cfg.SandboxMode),
		zap.Bool("has_credentials", cfg.HasCredentials()),
	)
	summary := summarize(*cfg)
	return &summary, nil
}

// applyCatalogDefaults resolves each field: request value first, then the
// stored value, then the platform catalog entry.
func applyCatalogDefaults(cfg *domain.GatewayConfig, req domain.ConfigureRequest, entry *config.CatalogEntry) {
	if req.DisplayName != "" {
		cfg.DisplayName = req.DisplayName
	} else if cfg.DisplayName == "" && entry != nil {
		cfg.DisplayName = entry.DisplayName
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.Provider
	}

	if len(req.SupportedCurrencies) > 0 {
		cfg.SupportedCurrencies = normalizeCurrencies(req.SupportedCurrencies)
	} else if len(cfg.SupportedCurrencies) == 0 && entry != nil {
		cfg.SupportedCurrencies = normalizeCurrencies(entry.SupportedCurrencies)
	}

	if len(req.SupportedMethods) > 0 {
		cfg.SupportedMethods = req.SupportedMethods
	} else if len(cfg.SupportedMethods) == 0 && entry != nil {
		cfg.SupportedMethods = entry.PaymentMethods
	}

	cfg.SandboxMode = req.SandboxMode

	if req.FeePercent != nil {
		cfg.FeePercent = *req.FeePercent
	} else if cfg.FeePercent == 0 && entry != nil {
		cfg.FeePercent = entry.FeePercent
	}
	if req.FixedFee != nil {
		cfg.FixedFee = *req.FixedFee
	} else if cfg.FixedFee == 0 && entry != nil {
		cfg.FixedFee = entry.FixedFee
	}
	if req.MinAmount != nil {
		cfg.MinAmount = *req.MinAmount
	} else if cfg.MinAmount == 0 && entry != nil {
		cfg.MinAmount = entry.MinAmount
	}
	if req.MaxAmount != nil {
		cfg.MaxAmount = *req.MaxAmount
	} else if cfg.MaxAmount == 0 && entry != nil {
		cfg.MaxAmount = entry.MaxAmount
	}
}

// applyCredentials encrypts incoming plaintext credentials. Empty request
// fields keep whatever ciphertext is already stored.
func (s *service) applyCredentials(cfg *domain.GatewayConfig, req domain.ConfigureRequest) error {
	if req.APIKey != "" {
		encrypted, err := s.cipher.Encrypt(req.APIKey)
		if err != nil {
			return err
		}
		cfg.APIKey = encrypted
	}
	if req.APISecret != "" {
		encrypted, err := s.cipher.Encrypt(req.APISecret)
		if err != nil {
			return err
		}
		cfg.APISecret = encrypted
	}
	if req.WebhookSecret != "" {
		encrypted, err := s.cipher.Encrypt(req.WebhookSecret)
		if err != nil {
			return err
		}
		cfg.WebhookSecret = encrypted
	}
	return nil
}

func normalizeCurrencies(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		out = append(out, currency.Normalize(code))
	}
	return out
}

func (s *service) Enable(ctx context.Context, provider string) (*domain.ConfigSummary, error) {
	cfg, err := s.repo.FindByProvider(ctx, normalizeProvider(provider))
	if err != nil {
		return nil, err
	}
	if !cfg.HasCredentials() && !cfg.SandboxMode {
		return nil, domain.ErrMissingCredentials
	}

	cfg.IsEnabled = true
	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, err
	}

	s.log.Info("gateway enabled", zap.String("provider", cfg.Provider))
	summary := summarize(*cfg)
	return &summary, nil
}

func (s *service) Disable(ctx context.Context, provider string) (*domain.ConfigSummary, error) {
	cfg, err := s.repo.FindByProvider(ctx, normalizeProvider(provider))
	if err != nil {
		return nil, err
	}

	// Disabling the default leaves no default until an operator picks one.
	cfg.IsEnabled = false
	cfg.IsDefault = false
	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, err
	}

	s.log.Info("gateway disabled", zap.String("provider", cfg.Provider))
	summary := summarize(*cfg)
	return &summary, nil
}

func (s *service) SetDefault(ctx context.Context, provider string) (*domain.ConfigSummary, error) {
	cfg, err := s.repo.FindByProvider(ctx, normalizeProvider(provider))
	if err != nil {
		return nil, err
	}
	// The default must be able to take live traffic; sandbox mode does not
	// excuse missing credentials here.
	if !cfg.HasCredentials() {
		return nil, domain.ErrMissingCredentials
	}

	// Setting the default implicitly enables the gateway.
	if !cfg.IsEnabled {
		cfg.IsEnabled = true
		if err := s.repo.Save(ctx, cfg); err != nil {
			return nil, err
		}
	}

	if err := s.repo.SetDefault(ctx, cfg.Provider); err != nil {
		return nil, err
	}
	cfg.IsDefault = true

	s.log.Info("default gateway set", zap.String("provider", cfg.Provider))
	summary := summarize(*cfg)
	return &summary, nil
}

func (s *service) ValidateCredentials(ctx context.Context, provider string) (*domain.ValidationResult, error) {
	cfg, err := s.repo.FindByProvider(ctx, normalizeProvider(provider))
	if err != nil {
		return nil, err
	}
	adapter, err := s.BuildAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	result, err := adapter.ValidateCredentials(ctx)
	if err != nil {
		// Network and auth failures are a validation verdict, not an API error.
		s.log.Warn("credential validation failed",
			zap.String("provider", cfg.Provider),
			zap.Error(err),
		)
		return &domain.ValidationResult{IsValid: false, Message: err.Error()}, nil
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, provider string) (*domain.GatewayConfig, error) {
	return s.repo.FindByProvider(ctx, normalizeProvider(provider))
}

func (s *service) GetDefault(ctx context.Context) (*domain.GatewayConfig, error) {
	return s.repo.FindDefault(ctx)
}

func (s *service) GetEnabledForCurrency(ctx context.Context, currencyCode string) ([]domain.GatewayConfig, error) {
	if !currency.Valid(currencyCode) {
		return nil, domain.ErrCurrencyNotSupported
	}

	enabled, err := s.repo.FindEnabled(ctx)
	if err != nil {
		return nil, err
	}
	matching := make([]domain.GatewayConfig, 0, len(enabled))
	for _, cfg := range enabled {
		if cfg.SupportsCurrency(currencyCode) {
			matching = append(matching, cfg)
		}
	}
	return matching, nil
}

func (s *service) List(ctx context.Context) ([]domain.ConfigSummary, error) {
	configs, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.ConfigSummary, 0, len(configs))
	for _, cfg := range configs {
		summaries = append(summaries, summarize(cfg))
	}
	return summaries, nil
}

func (s *service) BuildAdapter(ctx context.Context, cfg *domain.GatewayConfig) (domain.Adapter, error) {
	_ = ctx
	s.adapterMu.Lock()
	defer s.adapterMu.Unlock()

	if adapter, ok := s.adapters[cfg.Provider]; ok {
		return adapter, nil
	}

	creds, err := s.decryptCredentials(cfg)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.NewAdapter(cfg.Provider, domain.AdapterConfig{
		SandboxMode: cfg.SandboxMode,
		Credentials: creds,
		Timeout:     s.cfg.ProviderCallTimeout,
	})
	if err != nil {
		return nil, err
	}
	s.adapters[cfg.Provider] = adapter
	return adapter, nil
}

func (s *service) evictAdapter(provider string) {
	s.adapterMu.Lock()
	delete(s.adapters, provider)
	s.adapterMu.Unlock()
}

func (s *service) decryptCredentials(cfg *domain.GatewayConfig) (domain.Credentials, error) {
	apiKey, err := s.cipher.Decrypt(cfg.APIKey)
	if err != nil {
		return domain.Credentials{}, err
	}
	apiSecret, err := s.cipher.Decrypt(cfg.APISecret)
	if err != nil {
		return domain.Credentials{}, err
	}
	webhookSecret, err := s.cipher.Decrypt(cfg.WebhookSecret)
	if err != nil {
		return domain.Credentials{}, err
	}
	return domain.Credentials{
		APIKey:        apiKey,
		APISecret:     apiSecret,
		WebhookSecret: webhookSecret,
	}, nil
}

func summarize(cfg domain.GatewayConfig) domain.ConfigSummary {
	return domain.ConfigSummary{
		Provider:            cfg.Provider,
		DisplayName:         cfg.DisplayName,
		IsEnabled:           cfg.IsEnabled,
		IsDefault:           cfg.IsDefault,
		SandboxMode:         cfg.SandboxMode,
		Configured:          cfg.HasCredentials(),
		SupportedCurrencies: cfg.SupportedCurrencies,
		SupportedMethods:    cfg.SupportedMethods,
		FeePercent:          cfg.FeePercent,
		FixedFee:            cfg.FixedFee,
		MinAmount:           cfg.MinAmount,
		MaxAmount:           cfg.MaxAmount,
	}
}
