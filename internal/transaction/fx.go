package transaction

import (
	"go.uber.org/fx"

	"github.com/payloop/payloop/internal/transaction/repository"
)

var Module = fx.Options(
	fx.Provide(repository.New),
)
