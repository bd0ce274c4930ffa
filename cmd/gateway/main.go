package main

import (
	"context"
	"time"

	"github.com/wangyingjie930/nexus-commerce/internal/bootstrap"
	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/gateway"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
	"github.com/wangyingjie930/nexus-commerce/internal/redis"
	"github.com/wangyingjie930/nexus-commerce/internal/registry"
)

func main() {
	// Filled in during handler registration, started as a task afterwards.
	var healthTask bootstrap.Task

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: constants.APIGatewayService,
		Port:        bootstrap.PortFromEnv(8080),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			cfg := appCtx.Config

			var resolver registry.Resolver
			if appCtx.Nacos != nil {
				// Discovery and health are nacos's job in dynamic mode.
				resolver = appCtx.Nacos
			} else {
				static := registry.NewStatic(cfg.Gateway.Routes)
				interval := time.Duration(cfg.Gateway.HealthCheckIntervalMs) * time.Millisecond
				if interval <= 0 {
					interval = 5 * time.Second
				}
				threshold := cfg.Gateway.HealthFailureThreshold
				if threshold <= 0 {
					threshold = 3
				}
				healthTask = registry.NewHealthChecker(static, interval, threshold).Run
				resolver = static
			}

			proxy := gateway.NewProxy(resolver, cfg.Resilience.NewExecutor())

			rps := cfg.Gateway.RateLimit.RPS
			if rps <= 0 {
				rps = 50
			}
			burst := cfg.Gateway.RateLimit.Burst
			if burst <= 0 {
				burst = 100
			}
			var limiter gateway.Limiter = gateway.NewLocalLimiter(rps, burst)
			if cfg.Infra.Redis.Addrs != "" {
				client, err := redis.NewClient(cfg.Infra.Redis.Addrs)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to connect to redis for rate limiting")
				}
				limiter, err = gateway.NewRedisLimiter(client, rps, burst)
				if err != nil {
					logger.Logger.Fatal().Err(err).Msg("failed to load rate limit script")
				}
			}

			appCtx.Mux.Handle("/", gateway.RateLimit(limiter, proxy))
		},
		Tasks: []bootstrap.Task{
			func(ctx context.Context) error {
				if healthTask == nil {
					return nil
				}
				return healthTask(ctx)
			},
		},
	})
}
