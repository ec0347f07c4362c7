package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/payloop/payloop/internal/config"
	gwdomain "github.com/payloop/payloop/internal/gateway/domain"
	statsdomain "github.com/payloop/payloop/internal/stats/domain"
	trxdomain "github.com/payloop/payloop/internal/transaction/domain"
	"github.com/payloop/payloop/internal/webhooklog"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// Versioned SQL migrations cover postgres. sqlite and mysql are
		// embedded or development setups where the gorm schema is enough.
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		return conn.AutoMigrate(
			&gwdomain.GatewayConfig{},
			&trxdomain.PaymentTransaction{},
			&statsdomain.GatewayAttempt{},
			&webhooklog.WebhookEvent{},
		)
	}),
)
