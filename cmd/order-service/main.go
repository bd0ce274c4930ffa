package main

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/wangyingjie930/nexus-commerce/internal/bootstrap"
	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/httpclient"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
	"github.com/wangyingjie930/nexus-commerce/internal/mq"
	"github.com/wangyingjie930/nexus-commerce/internal/order"
	"github.com/wangyingjie930/nexus-commerce/internal/outbox"
	"github.com/wangyingjie930/nexus-commerce/internal/registry"
	"github.com/wangyingjie930/nexus-commerce/internal/zklock"
)

func main() {
	// Background jobs assembled during registration, run after startup.
	var tasks []bootstrap.Task

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: constants.OrderService,
		Port:        bootstrap.PortFromEnv(8081),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			cfg := appCtx.Config

			var eventStore outbox.Store
			var store order.Store
			if dsn := cfg.Infra.Mysql.DSN; dsn != "" {
				db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to connect to mysql")
				}
				eventStore, err = outbox.NewGormStore(db)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to migrate outbox schema")
				}
				store, err = order.NewGormStore(db, eventStore)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to migrate order schema")
				}
			} else {
				logger.Logger.Info().Msg("no mysql DSN configured, using in-memory stores")
				mem := outbox.NewMemoryStore()
				eventStore = mem
				store = order.NewMemoryStore(mem)
			}

			var resolver registry.Resolver
			if appCtx.Nacos != nil {
				resolver = appCtx.Nacos
			} else {
				resolver = registry.NewStatic(cfg.Gateway.Routes)
			}
			client := httpclient.NewClient(otel.Tracer(constants.OrderService), resolver, cfg.Resilience.NewExecutor())

			coordinator := order.NewCoordinator(store,
				order.NewInventoryClient(client), order.NewBillingClient(client))
			order.RegisterHandlers(appCtx.Mux, coordinator)

			tasks = append(tasks, recoveryLoop(coordinator))

			brokers := cfg.KafkaBrokerList()
			if cfg.Infra.Kafka.Brokers == "" {
				logger.Logger.Warn().Msg("no kafka brokers configured, outbox forwarder and shipping consumer disabled")
				return
			}

			interval := time.Duration(cfg.Order.OutboxForwardIntervalMs) * time.Millisecond
			if interval <= 0 {
				interval = 500 * time.Millisecond
			}
			var gate outbox.LeaderGate = outbox.NopGate{}
			if cfg.Order.ForwarderLeaderElection && cfg.Infra.Zookeeper.Addrs != "" {
				conn, err := zklock.Connect(cfg.ZookeeperServerList())
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to connect to zookeeper")
				}
				lock, err := zklock.NewLock(conn, "order-outbox-forwarder")
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to prepare forwarder lock")
				}
				gate = lock
			}
			forwarder := outbox.NewForwarder(
				outbox.NewService(eventStore, outbox.NewKafkaPublisher(brokers)),
				interval, gate)
			tasks = append(tasks, forwarder.Run)

			group := cfg.Order.ShippingConsumerGroup
			if group == "" {
				group = "order-service-shipping"
			}
			reader := mq.NewKafkaReader(brokers, constants.ShippingEventsTopic, group)
			var failure *mq.FailureHandler
			if rc, ok := cfg.Consumers["shipping"]; ok && rc.Enabled {
				failure = mq.NewFailureHandler(brokers, rc, otel.Tracer(constants.OrderService))
			}
			consumer := order.NewShippingConsumer(reader, store, failure)
			tasks = append(tasks, consumer.Run)
		},
		Tasks: []bootstrap.Task{
			func(ctx context.Context) error {
				g, gCtx := errgroup.WithContext(ctx)
				for _, task := range tasks {
					task := task
					g.Go(func() error { return task(gCtx) })
				}
				return g.Wait()
			},
		},
	})
}

// recoveryLoop resumes in-flight sagas once at startup and then on an
// interval, so a crashed compensation is eventually completed.
func recoveryLoop(coordinator *order.Coordinator) bootstrap.Task {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			if err := coordinator.Recover(ctx); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("saga recovery scan failed")
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
}
