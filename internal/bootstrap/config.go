package bootstrap

import (
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wangyingjie930/nexus-commerce/internal/logger"
	"github.com/wangyingjie930/nexus-commerce/internal/mq"
	"github.com/wangyingjie930/nexus-commerce/internal/resilience"
)

// InfraConfig holds the addresses of everything the services depend on.
// Every field can be overridden by an environment variable at startup;
// reloading at runtime is deliberately unsupported.
type InfraConfig struct {
	Kafka struct {
		Brokers string `yaml:"brokers"`
	} `yaml:"kafka"`
	Redis struct {
		Addrs string `yaml:"addrs"`
	} `yaml:"redis"`
	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`
	Zookeeper struct {
		Addrs string `yaml:"addrs"`
	} `yaml:"zookeeper"`
	Mysql struct {
		// DSN per service: database-per-service, never shared. An empty
		// DSN switches the service to its in-memory store (local mode).
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Nacos struct {
		Enabled   bool   `yaml:"enabled"`
		Addrs     string `yaml:"addrs"`
		Namespace string `yaml:"namespace"`
		Group     string `yaml:"group"`
	} `yaml:"nacos"`
}

// PolicyConfig is the YAML shape of a resilience policy. Durations are
// plain millisecond integers, same as the rest of the config surface.
type PolicyConfig struct {
	TimeoutMs         int `yaml:"timeoutMs"`
	MaxRetries        int `yaml:"maxRetries"`
	BackoffBaseMs     int `yaml:"backoffBaseMs"`
	BackoffMaxMs      int `yaml:"backoffMaxMs"`
	BreakerThreshold  int `yaml:"breakerThreshold"`
	BreakerCooldownMs int `yaml:"breakerCooldownMs"`
}

func (p PolicyConfig) ToPolicy() resilience.Policy {
	return resilience.Policy{
		Timeout:          time.Duration(p.TimeoutMs) * time.Millisecond,
		MaxRetries:       p.MaxRetries,
		BackoffBase:      time.Duration(p.BackoffBaseMs) * time.Millisecond,
		BackoffMax:       time.Duration(p.BackoffMaxMs) * time.Millisecond,
		BreakerThreshold: p.BreakerThreshold,
		BreakerCooldown:  time.Duration(p.BreakerCooldownMs) * time.Millisecond,
	}
}

type ResilienceConfig struct {
	Default    PolicyConfig            `yaml:"default"`
	PerService map[string]PolicyConfig `yaml:"perService"`
}

// NewExecutor builds the process-wide resilience executor from config.
func (c ResilienceConfig) NewExecutor() *resilience.Executor {
	perService := make(map[string]resilience.Policy, len(c.PerService))
	for name, p := range c.PerService {
		perService[name] = p.ToPolicy()
	}
	return resilience.NewExecutor(c.Default.ToPolicy(), perService)
}

type GatewayConfig struct {
	// Routes maps logical service names to base addresses for the static
	// resolver. Ignored when nacos discovery is enabled.
	Routes map[string]string `yaml:"routes"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rateLimit"`
	HealthCheckIntervalMs  int `yaml:"healthCheckIntervalMs"`
	HealthFailureThreshold int `yaml:"healthFailureThreshold"`
}

type OrderConfig struct {
	OutboxForwardIntervalMs int  `yaml:"outboxForwardIntervalMs"`
	ForwarderLeaderElection bool `yaml:"forwarderLeaderElection"`
	ShippingConsumerGroup   string `yaml:"shippingConsumerGroup"`
}

type BillingConfig struct {
	// MaxChargeCents is the approval ceiling: charges above it decline.
	MaxChargeCents int64 `yaml:"maxChargeCents"`
}

type InventoryConfig struct {
	// InitialStock seeds available quantity per SKU at startup.
	InitialStock map[string]int `yaml:"initialStock"`
}

// Config is the whole process configuration.
type Config struct {
	Infra      InfraConfig                       `yaml:"infra"`
	Resilience ResilienceConfig                  `yaml:"resilience"`
	Gateway    GatewayConfig                     `yaml:"gateway"`
	Order      OrderConfig                       `yaml:"order"`
	Billing    BillingConfig                     `yaml:"billing"`
	Inventory  InventoryConfig                   `yaml:"inventory"`
	Consumers  map[string]mq.ConsumerRetryConfig `yaml:"consumers"`
}

var (
	globalConfig = new(Config)
	configOnce   sync.Once
)

// Init loads the configuration once: the YAML file named by
// NEXUS_CONFIG_PATH (if any), then environment overrides for the
// infrastructure addresses.
func Init() {
	configOnce.Do(func() {
		if path := getEnv("NEXUS_CONFIG_PATH", ""); path != "" {
			content, err := os.ReadFile(path)
			if err != nil {
				logger.Logger.Fatal().Err(err).Str("path", path).Msg("FATAL: cannot read config file")
			}
			if err := yaml.Unmarshal(content, globalConfig); err != nil {
				logger.Logger.Fatal().Err(err).Str("path", path).Msg("FATAL: cannot parse config file")
			}
			logger.Logger.Info().Str("path", path).Msg("configuration loaded from file")
		}

		applyEnvOverrides(globalConfig)
	})
}

// GetCurrentConfig returns a copy of the loaded configuration.
func GetCurrentConfig() Config {
	return *globalConfig
}

func applyEnvOverrides(cfg *Config) {
	cfg.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Infra.Kafka.Brokers)
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", defaultString(cfg.Infra.Jaeger.Endpoint, "http://localhost:14268/api/traces"))
	cfg.Infra.Zookeeper.Addrs = getEnv("ZOOKEEPER_ADDRS", cfg.Infra.Zookeeper.Addrs)
	cfg.Infra.Mysql.DSN = getEnv("MYSQL_DSN", cfg.Infra.Mysql.DSN)
	cfg.Infra.Nacos.Addrs = getEnv("NACOS_SERVER_ADDRS", defaultString(cfg.Infra.Nacos.Addrs, "localhost:8848"))
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", defaultString(cfg.Infra.Nacos.Group, "DEFAULT_GROUP"))
}

// KafkaBrokerList splits the configured broker string.
func (c Config) KafkaBrokerList() []string {
	if c.Infra.Kafka.Brokers == "" {
		return nil
	}
	return strings.Split(c.Infra.Kafka.Brokers, ",")
}

// ZookeeperServerList splits the configured zookeeper address string.
func (c Config) ZookeeperServerList() []string {
	if c.Infra.Zookeeper.Addrs == "" {
		return nil
	}
	return strings.Split(c.Infra.Zookeeper.Addrs, ",")
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
