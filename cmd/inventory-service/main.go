package main

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/wangyingjie930/nexus-commerce/internal/bootstrap"
	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/inventory"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: constants.InventoryService,
		Port:        bootstrap.PortFromEnv(8083),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			cfg := appCtx.Config

			var store inventory.Store
			if dsn := cfg.Infra.Mysql.DSN; dsn != "" {
				db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to connect to mysql")
				}
				store, err = inventory.NewGormStore(db, cfg.Inventory.InitialStock)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to migrate inventory schema")
				}
			} else {
				logger.Logger.Info().Msg("no mysql DSN configured, using in-memory store")
				store = inventory.NewMemoryStore(cfg.Inventory.InitialStock)
			}

			inventory.RegisterHandlers(appCtx.Mux, inventory.NewService(store))
		},
	})
}
