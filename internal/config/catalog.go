package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CatalogEntry carries the platform defaults for one payment provider:
// what the dashboard shows before an operator overrides anything.
type CatalogEntry struct {
	Provider            string   `mapstructure:"provider"`
	DisplayName         string   `mapstructure:"displayName"`
	SupportedCurrencies []string `mapstructure:"supportedCurrencies"`
	PaymentMethods      []string `mapstructure:"paymentMethods"`
	FeePercent          float64  `mapstructure:"feePercent"`
	FixedFee            int64    `mapstructure:"fixedFee"`
	MinAmount           int64    `mapstructure:"minAmount"`
	MaxAmount           int64    `mapstructure:"maxAmount"`
}

// GatewayCatalog is the file-backed provider catalog.
type GatewayCatalog struct {
	Providers []CatalogEntry `mapstructure:"providers"`
}

func DefaultGatewayCatalog() GatewayCatalog {
	return GatewayCatalog{
		Providers: []CatalogEntry{
			{
				Provider:            "cardnet",
				DisplayName:         "CardNet",
				SupportedCurrencies: []string{"USD", "EUR", "GBP"},
				PaymentMethods:      []string{"card"},
				FeePercent:          2.9,
				FixedFee:            30,
				MinAmount:           50,
				MaxAmount:           99999900,
			},
			{
				Provider:            "walletpay",
				DisplayName:         "WalletPay",
				SupportedCurrencies: []string{"USD", "EUR"},
				PaymentMethods:      []string{"wallet"},
				FeePercent:          3.4,
				FixedFee:            30,
				MinAmount:           100,
				MaxAmount:           99999900,
			},
			{
				Provider:            "idpay",
				DisplayName:         "IDPay",
				SupportedCurrencies: []string{"IDR"},
				PaymentMethods:      []string{"wallet", "bank_transfer"},
				FeePercent:          2.0,
				FixedFee:            0,
				MinAmount:           10000,
				MaxAmount:           500000000,
			},
			{
				Provider:            "seapay",
				DisplayName:         "SeaPay",
				SupportedCurrencies: []string{"VND", "USD"},
				PaymentMethods:      []string{"wallet", "bank_transfer", "qr"},
				FeePercent:          2.2,
				FixedFee:            0,
				MinAmount:           1000,
				MaxAmount:           500000000,
			},
		},
	}
}

// GatewayCatalogHolder serves the current catalog and hot-reloads it when the
// backing file changes.
type GatewayCatalogHolder struct {
	current atomic.Value // holds GatewayCatalog
}

func NewGatewayCatalogHolder() (*GatewayCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("gateways")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/payloop/config")
	v.AddConfigPath("/etc/payloop")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultGatewayCatalog()
		v.SetDefault("gateways.providers", defaults.Providers)
	}

	var catalog GatewayCatalog
	if err := v.UnmarshalKey("gateways", &catalog); err != nil {
		return nil, err
	}
	if err := validateCatalog(catalog); err != nil {
		return nil, err
	}

	holder := &GatewayCatalogHolder{}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated GatewayCatalog
		if err := v.UnmarshalKey("gateways", &updated); err != nil {
			log.Printf("[gateway-catalog] reload failed: %v", err)
			return
		}
		if err := validateCatalog(updated); err != nil {
			log.Printf("[gateway-catalog] invalid catalog ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[gateway-catalog] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *GatewayCatalogHolder) Get() GatewayCatalog {
	return h.current.Load().(GatewayCatalog)
}

// Entry returns the catalog entry for a provider, if present.
func (h *GatewayCatalogHolder) Entry(provider string) (CatalogEntry, bool) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	for _, entry := range h.Get().Providers {
		if strings.ToLower(entry.Provider) == provider {
			return entry, true
		}
	}
	return CatalogEntry{}, false
}

func validateCatalog(catalog GatewayCatalog) error {
	if len(catalog.Providers) == 0 {
		return errors.New("gateways.providers cannot be empty")
	}
	for _, entry := range catalog.Providers {
		if strings.TrimSpace(entry.Provider) == "" {
			return errors.New("gateways.providers entry missing provider id")
		}
		if len(entry.SupportedCurrencies) == 0 {
			return errors.New("gateways.providers entry missing supportedCurrencies")
		}
	}
	return nil
}
