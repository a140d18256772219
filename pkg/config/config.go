package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Server     struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Gateway struct {
		BaseURL      string        `mapstructure:"BASE_URL"`
		ApiKey       string        `mapstructure:"API_KEY"`
		SenderNumber string        `mapstructure:"SENDER_NUMBER"`
		Timeout      time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"GATEWAY"`
	Engine struct {
		EventBatchSize       int           `mapstructure:"EVENT_BATCH_SIZE"`
		ActionBatchSize      int           `mapstructure:"ACTION_BATCH_SIZE"`
		PollInterval         time.Duration `mapstructure:"POLL_INTERVAL"`
		ScanHour             int           `mapstructure:"SCAN_HOUR"`
		ScanMinute           int           `mapstructure:"SCAN_MINUTE"`
		NotifyBatchThreshold int           `mapstructure:"NOTIFY_BATCH_THRESHOLD"`
		ConfigCacheTTL       time.Duration `mapstructure:"CONFIG_CACHE_TTL"`
	} `mapstructure:"ENGINE"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	applyEngineDefaults(&cfg)

	if p.Vault != nil {
		client := p.Vault
		ctx := context.Background()

		zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
		secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
		if err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("Success Get Secret")

		get := func(key string) string {
			if val, ok := secret.Data.Data[key].(string); ok {
				return val
			}
			return ""
		}

		cfg.Database.User = get("postgres_user")
		cfg.Database.Password = get("postgres_password")
		cfg.Redis.Password = get("redis_password")
		cfg.Flagsmith.ApiKey = get("flagsmith_api_key")
		cfg.Gateway.ApiKey = get("gateway_api_key")
	}

	return &cfg
}

// applyEngineDefaults fills the engine section so a minimal config file still
// yields a runnable worker. Batch caps are contract limits: 500 event entries
// and 100 action entries per poll.
func applyEngineDefaults(cfg *Config) {
	if cfg.Engine.EventBatchSize <= 0 || cfg.Engine.EventBatchSize > 500 {
		cfg.Engine.EventBatchSize = 500
	}
	if cfg.Engine.ActionBatchSize <= 0 || cfg.Engine.ActionBatchSize > 100 {
		cfg.Engine.ActionBatchSize = 100
	}
	if cfg.Engine.PollInterval <= 0 {
		cfg.Engine.PollInterval = 15 * time.Second
	}
	if cfg.Engine.NotifyBatchThreshold < 2 {
		cfg.Engine.NotifyBatchThreshold = 2
	}
	if cfg.Engine.ConfigCacheTTL <= 0 {
		cfg.Engine.ConfigCacheTTL = time.Minute
	}
	if cfg.Engine.ScanHour == 0 && cfg.Engine.ScanMinute == 0 {
		cfg.Engine.ScanHour = 1
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 30 * time.Second
	}
}
