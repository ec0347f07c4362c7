package stats

import (
	"go.uber.org/fx"

	"github.com/payloop/payloop/internal/stats/repository"
	"github.com/payloop/payloop/internal/stats/service"
)

var Module = fx.Options(
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
