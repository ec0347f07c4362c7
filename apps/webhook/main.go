package main

import (
	"go.uber.org/fx"

	"github.com/payloop/payloop/internal/config"
	"github.com/payloop/payloop/internal/dedupe"
	"github.com/payloop/payloop/internal/gateway"
	"github.com/payloop/payloop/internal/migration"
	"github.com/payloop/payloop/internal/observability"
	"github.com/payloop/payloop/internal/orchestrator"
	"github.com/payloop/payloop/internal/ratelimit"
	"github.com/payloop/payloop/internal/server"
	"github.com/payloop/payloop/internal/stats"
	"github.com/payloop/payloop/internal/transaction"
	"github.com/payloop/payloop/internal/webhooklog"
	"github.com/payloop/payloop/pkg/db"
	"github.com/payloop/payloop/pkg/id"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		id.Module,
		db.Module,
		migration.Module,

		gateway.Module,
		transaction.Module,
		stats.Module,
		webhooklog.Module,
		dedupe.Module,
		ratelimit.Module,
		orchestrator.Module,

		fx.Provide(server.NewEngine),
		fx.Invoke(server.NewWebhookServer),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}
