package main

import (
	"go.uber.org/fx"

	"github.com/payloop/payloop/internal/migration"
	"github.com/payloop/payloop/internal/observability"
	"github.com/payloop/payloop/internal/server"
	"github.com/payloop/payloop/pkg/db"
	"github.com/payloop/payloop/pkg/id"
)

func main() {
	app := fx.New(
		observability.Module,
		id.Module,
		db.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}
