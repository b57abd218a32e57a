package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PARTNERLEDGER"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "partnerledger")
	v.SetDefault("app_version", "dev")
	v.SetDefault("environment", "development")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("api_token", "")
	v.SetDefault("mode", ModeLive)
	v.SetDefault("allow_mode_override", false)
	v.SetDefault("currency", "USD")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=partnerledger port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("ledger.default_rate", "0.20")
	v.SetDefault("ledger.earn_hold", "72h")
	v.SetDefault("ledger.clawback_window", "720h")
	v.SetDefault("ledger.payout_calendar", false)
	v.SetDefault("ledger.timezone", "America/Denver")
	v.SetDefault("ledger.cutoff_day", 15)
	v.SetDefault("ledger.payable_hour", 9)

	v.SetDefault("payout.enabled_by_default", true)
	v.SetDefault("payout.channel", "manual")
	v.SetDefault("payout.http_endpoint", "")
	v.SetDefault("payout.http_timeout", "10s")
	v.SetDefault("payout.stuck_after", "24h")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sweep_spec", "@every 1m")
	v.SetDefault("scheduler.relay_spec", "@every 5s")
	v.SetDefault("scheduler.integrity_spec", "@hourly")
	v.SetDefault("scheduler.stuck_spec", "@every 15m")
	v.SetDefault("scheduler.batch_size", 100)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "partnerledger.transitions")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter_endpoint", "")
	v.SetDefault("tracing.exporter_protocol", "grpc")
	v.SetDefault("tracing.sampling_ratio", 0.1)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("webhook.rate_limit", 600)
	v.SetDefault("webhook.rate_window", "1m")
}

// Load reads configuration from an optional file, a .env file and
// PARTNERLEDGER_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.Payout.Channel = strings.ToLower(strings.TrimSpace(cfg.Payout.Channel))
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading the environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}
