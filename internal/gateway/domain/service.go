package domain

import "context"

// Service owns gateway configuration and its policy invariants: a config can
// only be enabled or made default with credentials present, and at most one
// config is default at a time.
type Service interface {
	Configure(ctx context.Context, req ConfigureRequest) (*ConfigSummary, error)
	Enable(ctx context.Context, provider string) (*ConfigSummary, error)
	Disable(ctx context.Context, provider string) (*ConfigSummary, error)
	SetDefault(ctx context.Context, provider string) (*ConfigSummary, error)
	ValidateCredentials(ctx context.Context, provider string) (*ValidationResult, error)

	// Get returns the stored config row (credentials still encrypted).
	Get(ctx context.Context, provider string) (*GatewayConfig, error)
	// GetDefault returns the current default config, or ErrNotFound.
	GetDefault(ctx context.Context) (*GatewayConfig, error)
	// GetEnabledForCurrency lists enabled configs supporting the currency.
	GetEnabledForCurrency(ctx context.Context, currencyCode string) ([]GatewayConfig, error)
	List(ctx context.Context) ([]ConfigSummary, error)

	// BuildAdapter decrypts the config's credentials and constructs its adapter.
	BuildAdapter(ctx context.Context, cfg *GatewayConfig) (Adapter, error)
}

// ConfigureRequest creates or updates a provider config. Credential fields are
// plaintext on the way in and encrypted before they touch the database.
// Zero-valued optional fields fall back to the platform catalog defaults.
type ConfigureRequest struct {
	Provider            string            `json:"provider"`
	DisplayName         string            `json:"display_name"`
	APIKey              string            `json:"api_key"`
	APISecret           string            `json:"api_secret"`
	WebhookSecret       string            `json:"webhook_secret"`
	SandboxMode         bool              `json:"sandbox_mode"`
	SupportedCurrencies []string          `json:"supported_currencies"`
	SupportedMethods    []string          `json:"supported_methods"`
	FeePercent          *float64          `json:"fee_percent"`
	FixedFee            *int64            `json:"fixed_fee"`
	MinAmount           *int64            `json:"min_amount"`
	MaxAmount           *int64            `json:"max_amount"`
	Metadata            map[string]string `json:"metadata"`
}

// ConfigSummary is the credential-free view surfaced by the admin API.
type ConfigSummary struct {
	Provider            string   `json:"provider"`
	DisplayName         string   `json:"display_name"`
	IsEnabled           bool     `json:"is_enabled"`
	IsDefault           bool     `json:"is_default"`
	SandboxMode         bool     `json:"sandbox_mode"`
	Configured          bool     `json:"configured"`
	SupportedCurrencies []string `json:"supported_currencies"`
	SupportedMethods    []string `json:"supported_methods"`
	FeePercent          float64  `json:"fee_percent"`
	FixedFee            int64    `json:"fixed_fee"`
	MinAmount           int64    `json:"min_amount"`
	MaxAmount           int64    `json:"max_amount"`
}
