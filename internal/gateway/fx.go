package gateway

import (
	"go.uber.org/fx"

	"github.com/payloop/payloop/internal/gateway/adapters"
	"github.com/payloop/payloop/internal/gateway/repository"
	"github.com/payloop/payloop/internal/gateway/secrets"
	"github.com/payloop/payloop/internal/gateway/service"
)

var Module = fx.Options(
	adapters.Module,
	fx.Provide(secrets.New),
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
