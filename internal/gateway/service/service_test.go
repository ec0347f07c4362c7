package service

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/payloop/payloop/internal/config"
	"github.com/payloop/payloop/internal/gateway/adapters"
	"github.com/payloop/payloop/internal/gateway/domain"
	"github.com/payloop/payloop/internal/gateway/repository"
	"github.com/payloop/payloop/internal/gateway/secrets"
	"github.com/payloop/payloop/pkg/id"
)

func newTestService(t *testing.T) (domain.Service, repository.Repository, *secrets.Cipher) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.GatewayConfig{}))

	cfg := config.Config{GatewayConfigSecret: "unit-test-secret"}
	cipher := secrets.New(cfg)
	repo := repository.New(db)

	catalog, err := config.NewGatewayCatalogHolder()
	require.NoError(t, err)

	node, err := id.NewNode()
	require.NoError(t, err)

	svc := New(cfg, repo, adapters.NewDefaultRegistry(), cipher, catalog, node, zap.NewNop())
	return svc, repo, cipher
}

func configureSandbox(t *testing.T, svc domain.Service, provider string) {
	t.Helper()
	_, err := svc.Configure(context.Background(), domain.ConfigureRequest{
		Provider:      provider,
		APIKey:        provider + "_key",
		APISecret:     provider + "_secret",
		WebhookSecret: provider + "_hook",
		SandboxMode:   true,
	})
	require.NoError(t, err)
}

func TestConfigureAppliesCatalogDefaults(t *testing.T) {
	svc, repo, cipher := newTestService(t)
	ctx := context.Background()

	summary, err := svc.Configure(ctx, domain.ConfigureRequest{
		Provider:    "cardnet",
		APIKey:      "pk_live",
		APISecret:   "sk_live",
		SandboxMode: false,
	})
	require.NoError(t, err)

	assert.Equal(t, "cardnet", summary.Provider)
	assert.Equal(t, "CardNet", summary.DisplayName)
	assert.Equal(t, []string{"USD", "EUR", "GBP"}, summary.SupportedCurrencies)
	assert.InDelta(t, 2.9, summary.FeePercent, 0.001)
	assert.True(t, summary.Configured)
	assert.False(t, summary.IsEnabled)

	// Credentials are ciphertext at rest, recoverable by the service cipher.
	stored, err := repo.FindByProvider(ctx, "cardnet")
	require.NoError(t, err)
	assert.NotEqual(t, "sk_live", stored.APISecret)
	plaintext, err := cipher.Decrypt(stored.APISecret)
	require.NoError(t, err)
	assert.Equal(t, "sk_live", plaintext)
}

func TestConfigureRejectsUnknownProvider(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Configure(context.Background(), domain.ConfigureRequest{Provider: "paypal"})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)
}

func TestConfigureRejectsBadCurrency(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Configure(context.Background(), domain.ConfigureRequest{
		Provider:            "cardnet",
		SupportedCurrencies: []string{"US"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestConfigurePreservesCredentialsOnUpdate(t *testing.T) {
	svc, repo, cipher := newTestService(t)
	ctx := context.Background()
	configureSandbox(t, svc, "cardnet")

	displayName := "CardNet EU"
	_, err := svc.Configure(ctx, domain.ConfigureRequest{
		Provider:    "cardnet",
		DisplayName: displayName,
		SandboxMode: true,
	})
	require.NoError(t, err)

	stored, err := repo.FindByProvider(ctx, "cardnet")
	require.NoError(t, err)
	assert.Equal(t, displayName, stored.DisplayName)
	secret, err := cipher.Decrypt(stored.APISecret)
	require.NoError(t, err)
	assert.Equal(t, "cardnet_secret", secret)
}

func TestEnableRequiresCredentialsInProduction(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Configure(ctx, domain.ConfigureRequest{Provider: "cardnet", SandboxMode: false})
	require.NoError(t, err)

	_, err = svc.Enable(ctx, "cardnet")
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)
}

func TestEnableNeverAssignsDefault(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	configureSandbox(t, svc, "cardnet")

	summary, err := svc.Enable(ctx, "cardnet")
	require.NoError(t, err)
	assert.True(t, summary.IsEnabled)
	assert.False(t, summary.IsDefault)

	// The default stays unset until an operator picks one.
	_, err = svc.GetDefault(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetDefaultMovesTheFlag(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	configureSandbox(t, svc, "cardnet")
	configureSandbox(t, svc, "walletpay")
	_, err := svc.Enable(ctx, "cardnet")
	require.NoError(t, err)
	_, err = svc.Enable(ctx, "walletpay")
	require.NoError(t, err)

	_, err = svc.SetDefault(ctx, "walletpay")
	require.NoError(t, err)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	defaults := 0
	for _, cfg := range all {
		if cfg.IsDefault {
			defaults++
			assert.Equal(t, "walletpay", cfg.Provider)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestSetDefaultEnablesDisabledGateway(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	configureSandbox(t, svc, "cardnet")

	summary, err := svc.SetDefault(ctx, "cardnet")
	require.NoError(t, err)
	assert.True(t, summary.IsEnabled)
	assert.True(t, summary.IsDefault)

	stored, err := repo.FindByProvider(ctx, "cardnet")
	require.NoError(t, err)
	assert.True(t, stored.IsEnabled)
	assert.True(t, stored.IsDefault)
}

func TestSetDefaultRequiresCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// Sandbox mode is enough to enable a gateway but never to make it the
	// default.
	_, err := svc.Configure(ctx, domain.ConfigureRequest{Provider: "cardnet", SandboxMode: true})
	require.NoError(t, err)
	_, err = svc.Enable(ctx, "cardnet")
	require.NoError(t, err)

	_, err = svc.SetDefault(ctx, "cardnet")
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)
}

func TestDisableDefaultLeavesDefaultUnset(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	configureSandbox(t, svc, "cardnet")
	configureSandbox(t, svc, "walletpay")
	_, err := svc.Enable(ctx, "walletpay")
	require.NoError(t, err)
	_, err = svc.SetDefault(ctx, "cardnet")
	require.NoError(t, err)

	_, err = svc.Disable(ctx, "cardnet")
	require.NoError(t, err)

	// walletpay stays enabled but is not promoted.
	_, err = svc.GetDefault(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	enabled, err := svc.GetEnabledForCurrency(ctx, "USD")
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "walletpay", enabled[0].Provider)
	assert.False(t, enabled[0].IsDefault)
}

func TestGetEnabledForCurrency(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	configureSandbox(t, svc, "cardnet")   // USD, EUR, GBP
	configureSandbox(t, svc, "idpay")     // IDR
	configureSandbox(t, svc, "walletpay") // USD, EUR
	for _, provider := range []string{"cardnet", "idpay", "walletpay"} {
		_, err := svc.Enable(ctx, provider)
		require.NoError(t, err)
	}

	usd, err := svc.GetEnabledForCurrency(ctx, "usd")
	require.NoError(t, err)
	require.Len(t, usd, 2)
	// Alphabetical when no default is set.
	assert.Equal(t, "cardnet", usd[0].Provider)
	assert.Equal(t, "walletpay", usd[1].Provider)

	idr, err := svc.GetEnabledForCurrency(ctx, "IDR")
	require.NoError(t, err)
	require.Len(t, idr, 1)
	assert.Equal(t, "idpay", idr[0].Provider)

	_, err = svc.GetEnabledForCurrency(ctx, "usdollar")
	assert.ErrorIs(t, err, domain.ErrCurrencyNotSupported)
}

func TestBuildAdapterDecryptsCredentials(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	configureSandbox(t, svc, "seapay")

	stored, err := repo.FindByProvider(ctx, "seapay")
	require.NoError(t, err)

	adapter, err := svc.BuildAdapter(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, "seapay", adapter.Provider())

	// A configured seapay adapter authenticates webhooks with the decrypted
	// callback token.
	result, err := adapter.HandleWebhook(ctx, []byte(`{"id":"inv_1","status":"PAID"}`), "seapay_hook")
	require.NoError(t, err)
	assert.True(t, result.IsValid)
}

func TestBuildAdapterReusesInstanceUntilReconfigured(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	configureSandbox(t, svc, "walletpay")

	stored, err := repo.FindByProvider(ctx, "walletpay")
	require.NoError(t, err)

	first, err := svc.BuildAdapter(ctx, stored)
	require.NoError(t, err)
	second, err := svc.BuildAdapter(ctx, stored)
	require.NoError(t, err)

	// Per-adapter state such as OAuth token caches only works if the same
	// instance serves every call for the provider.
	assert.Same(t, first, second)

	// Rotating credentials rebuilds the adapter.
	_, err = svc.Configure(ctx, domain.ConfigureRequest{
		Provider:    "walletpay",
		APIKey:      "rotated_key",
		APISecret:   "rotated_secret",
		SandboxMode: true,
	})
	require.NoError(t, err)

	stored, err = repo.FindByProvider(ctx, "walletpay")
	require.NoError(t, err)
	third, err := svc.BuildAdapter(ctx, stored)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

type failingValidationFactory struct{}

func (failingValidationFactory) Provider() string { return "cardnet" }

func (failingValidationFactory) NewAdapter(domain.AdapterConfig) (domain.Adapter, error) {
	return failingValidationAdapter{}, nil
}

type failingValidationAdapter struct {
	domain.Adapter
}

func (failingValidationAdapter) ValidateCredentials(context.Context) (*domain.ValidationResult, error) {
	return nil, errors.New("connection refused")
}

func TestValidateCredentialsReportsFailureAsInvalid(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.GatewayConfig{}))

	cfg := config.Config{GatewayConfigSecret: "unit-test-secret"}
	catalog, err := config.NewGatewayCatalogHolder()
	require.NoError(t, err)
	node, err := id.NewNode()
	require.NoError(t, err)

	registry := adapters.NewRegistry(failingValidationFactory{})
	svc := New(cfg, repository.New(db), registry, secrets.New(cfg), catalog, node, zap.NewNop())

	ctx := context.Background()
	_, err = svc.Configure(ctx, domain.ConfigureRequest{
		Provider:    "cardnet",
		APIKey:      "pk",
		APISecret:   "sk",
		SandboxMode: true,
	})
	require.NoError(t, err)

	// A provider outage is a validation verdict, not an API error.
	result, err := svc.ValidateCredentials(ctx, "cardnet")
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Message, "connection refused")
}
