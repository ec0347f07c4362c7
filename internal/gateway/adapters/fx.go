package adapters

import (
	"go.uber.org/fx"

	"github.com/payloop/payloop/internal/gateway/adapters/cardnet"
	"github.com/payloop/payloop/internal/gateway/adapters/idpay"
	"github.com/payloop/payloop/internal/gateway/adapters/seapay"
	"github.com/payloop/payloop/internal/gateway/adapters/walletpay"
)

// NewDefaultRegistry wires every built-in provider factory.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		cardnet.NewFactory(),
		walletpay.NewFactory(),
		idpay.NewFactory(),
		seapay.NewFactory(),
	)
}

var Module = fx.Options(
	fx.Provide(NewDefaultRegistry),
)
