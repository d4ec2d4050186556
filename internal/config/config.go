package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server          ServerConfig      `mapstructure:"server"`
	Storage         StorageConfig     `mapstructure:"storage"`
	Delivery        DeliveryConfig    `mapstructure:"delivery"`
	Sync            SyncConfig        `mapstructure:"sync"`
	Breaker         BreakerConfig     `mapstructure:"breaker"`
	Platform        PlatformConfig    `mapstructure:"platform"`
	Logging         LoggingConfig     `mapstructure:"logging"`
	DeferConditions map[string]string `mapstructure:"defer_conditions"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DeliveryConfig struct {
	Workers     int           `mapstructure:"workers"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

type SyncConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type BreakerConfig struct {
	Storage          string        `mapstructure:"storage"`
	Redis            RedisConfig   `mapstructure:"redis"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	FailureMinCount  int           `mapstructure:"failure_min_count"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	TTL              time.Duration `mapstructure:"ttl"`
	GuardedEvents    []string      `mapstructure:"guarded_events"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PlatformConfig struct {
	// Domain identifies this platform instance in outbound delivery headers.
	Domain string `mapstructure:"domain"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("hookline")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hookline")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HOOKLINE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/hookline.db")

	viper.SetDefault("delivery.workers", 50)
	viper.SetDefault("delivery.timeout", 30*time.Second)
	viper.SetDefault("delivery.max_attempts", 6)
	viper.SetDefault("delivery.backoff_base", 30*time.Second)
	viper.SetDefault("delivery.backoff_cap", 1*time.Hour)

	viper.SetDefault("sync.timeout", 20*time.Second)

	viper.SetDefault("breaker.storage", "memory")
	viper.SetDefault("breaker.redis.addr", "localhost:6379")
	viper.SetDefault("breaker.failure_threshold", 50)
	viper.SetDefault("breaker.failure_min_count", 100)
	viper.SetDefault("breaker.cooldown", 2*time.Minute)
	viper.SetDefault("breaker.ttl", 5*time.Minute)
	viper.SetDefault("breaker.guarded_events", []string{
		"checkout_calculate_taxes",
		"order_calculate_taxes",
		"shipping_list_methods_for_checkout",
	})

	viper.SetDefault("platform.domain", "hookline.local")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("defer_conditions", map[string]string{
		"ADDRESS_MISSING":         "shipping_address == nil",
		"BILLING_ADDRESS_MISSING": "billing_address == nil",
		"LINES_EMPTY":             "lines == nil || len(lines) == 0",
	})
}
