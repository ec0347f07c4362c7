package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payloop/payloop/pkg/currency"
	"gorm.io/datatypes"
)

// GatewayConfig is one row per payment provider. Credential columns hold
// AES-GCM ciphertext; decryption happens in the gateway service only.
type GatewayConfig struct {
	ID                  snowflake.ID                `json:"id" gorm:"primaryKey"`
	Provider            string                      `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_gateway_configs_provider"`
	DisplayName         string                      `json:"display_name" gorm:"type:text;not null"`
	IsEnabled           bool                        `json:"is_enabled" gorm:"not null;default:false"`
	IsDefault           bool                        `json:"is_default" gorm:"not null;default:false"`
	SandboxMode         bool                        `json:"sandbox_mode" gorm:"not null;default:true"`
	SupportedCurrencies datatypes.JSONSlice[string] `json:"supported_currencies" gorm:"not null"`
	SupportedMethods    datatypes.JSONSlice[string] `json:"supported_methods" gorm:"not null"`
	FeePercent          float64                     `json:"fee_percent" gorm:"not null;default:0"`
	FixedFee            int64                       `json:"fixed_fee" gorm:"not null;default:0"`
	MinAmount           int64                       `json:"min_amount" gorm:"not null;default:0"`
	MaxAmount           int64                       `json:"max_amount" gorm:"not null;default:0"`
	APIKey              string                      `json:"-" gorm:"column:api_key;type:text"`
	APISecret           string                      `json:"-" gorm:"column:api_secret;type:text"`
	WebhookSecret       string                      `json:"-" gorm:"column:webhook_secret;type:text"`
	CreatedAt           time.Time                   `json:"created_at" gorm:"not null"`
	UpdatedAt           time.Time                   `json:"updated_at" gorm:"not null"`
}

func (GatewayConfig) TableName() string { return "gateway_configs" }

// HasCredentials reports whether both key and secret ciphertexts are present.
func (c GatewayConfig) HasCredentials() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// SupportsCurrency reports whether the config accepts the given currency.
func (c GatewayConfig) SupportsCurrency(code string) bool {
	code = currency.Normalize(code)
	for _, supported := range c.SupportedCurrencies {
		if currency.Normalize(supported) == code {
			return true
		}
	}
	return false
}

// WithinLimits reports whether an amount falls inside the configured range.
// A zero MaxAmount means no upper bound.
func (c GatewayConfig) WithinLimits(amount int64) bool {
	if amount < c.MinAmount {
		return false
	}
	if c.MaxAmount > 0 && amount > c.MaxAmount {
		return false
	}
	return true
}
