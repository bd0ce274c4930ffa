package main

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/wangyingjie930/nexus-commerce/internal/billing"
	"github.com/wangyingjie930/nexus-commerce/internal/bootstrap"
	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: constants.BillingService,
		Port:        bootstrap.PortFromEnv(8082),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			cfg := appCtx.Config

			var store billing.Store
			if dsn := cfg.Infra.Mysql.DSN; dsn != "" {
				db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to connect to mysql")
				}
				store, err = billing.NewGormStore(db)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to migrate billing schema")
				}
			} else {
				logger.Logger.Info().Msg("no mysql DSN configured, using in-memory store")
				store = billing.NewMemoryStore()
			}

			svc := billing.NewService(store, billing.LimitApprover(cfg.Billing.MaxChargeCents))
			billing.RegisterHandlers(appCtx.Mux, svc)
		},
	})
}
