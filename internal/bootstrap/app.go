// Package bootstrap owns the shared service lifecycle: configuration,
// logging, tracing, the HTTP server, background tasks and graceful
// shutdown. Every binary in cmd/ is a thin Assemble+Register around it.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"golang.org/x/sync/errgroup"

	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
	"github.com/wangyingjie930/nexus-commerce/internal/netutil"
	"github.com/wangyingjie930/nexus-commerce/internal/registry"
	"github.com/wangyingjie930/nexus-commerce/internal/tracing"
)

// AppCtx is handed to each service's handler registration hook.
type AppCtx struct {
	Mux    *http.ServeMux
	Config Config
	// Nacos is non-nil only when dynamic discovery is enabled.
	Nacos *registry.Nacos
}

// Task is a long-running background job tied to the service lifetime
// (health checker, outbox forwarder, kafka consumer). It must return when
// its context is canceled.
type Task func(ctx context.Context) error

// AppInfo describes one service binary.
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx)
	Tasks            []Task
}

// StartService runs the shared startup and graceful-shutdown sequence. It
// blocks until SIGINT/SIGTERM.
func StartService(info AppInfo) {
	logger.Init(info.ServiceName)
	Init()
	cfg := GetCurrentConfig()

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	var nacosClient *registry.Nacos
	var registeredIP string
	if cfg.Infra.Nacos.Enabled {
		nacosClient, err = newNacosFromConfig(cfg)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		registeredIP, err = netutil.OutboundIP()
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to determine outbound IP")
		}
		if err := nacosClient.Register(info.ServiceName, registeredIP, info.Port); err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	} else {
		logger.Logger.Info().Msg("Nacos discovery is disabled (static routing mode).")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(constants.HealthzPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg, Nacos: nacosClient})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gCtx := errgroup.WithContext(runCtx)

	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	g.Go(func() error {
		logger.Logger.Printf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("could not listen on %s: %w", server.Addr, err)
		}
		return nil
	})
	for _, task := range info.Tasks {
		task := task
		g.Go(func() error { return task(gCtx) })
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Logger.Printf("Shutting down service %s...", info.ServiceName)
	case <-gCtx.Done():
		logger.Logger.Error().Msg("a component failed, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if nacosClient != nil {
		if err := nacosClient.Deregister(info.ServiceName, registeredIP, info.Port); err != nil {
			logger.Logger.Printf("Error deregistering from Nacos: %v", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Printf("Error shutting down http server: %v", err)
	}

	cancel()
	if err := g.Wait(); err != nil {
		logger.Logger.Printf("Background task exited with error: %v", err)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Printf("Error shutting down tracer provider: %v", err)
	}

	logger.Logger.Printf("Service %s gracefully shut down.", info.ServiceName)
}

// PortFromEnv returns the PORT override or def.
func PortFromEnv(def int) int {
	if v := getEnv("PORT", ""); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			return p
		}
	}
	return def
}

func newNacosFromConfig(cfg Config) (*registry.Nacos, error) {
	serverConfigs, err := nacosServerConfigs(cfg.Infra.Nacos.Addrs)
	if err != nil {
		return nil, err
	}
	clientConfig := nacosClientConfig(cfg.Infra.Nacos.Namespace)
	return registry.NewNacos(serverConfigs, &clientConfig, cfg.Infra.Nacos.Group)
}

func nacosServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var serverConfigs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		parts := strings.Split(addr, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid address format: %s", addr)
		}
		port, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid port: %s", parts[1])
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(parts[0], port))
	}
	return serverConfigs, nil
}

func nacosClientConfig(namespaceId string) constant.ClientConfig {
	return *constant.NewClientConfig(
		constant.WithNamespaceId(namespaceId),
		constant.WithTimeoutMs(5000),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
	)
}
