package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ModeLive = "live"
	ModeTest = "test"
)

// Config is the process-wide configuration for partnerledger.
type Config struct {
	AppName     string `mapstructure:"app_name"`
	AppVersion  string `mapstructure:"app_version"`
	Environment string `mapstructure:"environment"`
	HTTPAddr    string `mapstructure:"http_addr"`
	// APIToken, when set, is required as a bearer token on operator routes.
	APIToken string `mapstructure:"api_token"`

	// Mode tags every ingested payment event as live or test.
	Mode              string `mapstructure:"mode"`
	AllowModeOverride bool   `mapstructure:"allow_mode_override"`
	Currency          string `mapstructure:"currency"`

	Database  DatabaseConfig  `mapstructure:"database"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Payout    PayoutConfig    `mapstructure:"payout"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type LedgerConfig struct {
	DefaultRate    string        `mapstructure:"default_rate"`
	EarnHold       time.Duration `mapstructure:"earn_hold"`
	ClawbackWindow time.Duration `mapstructure:"clawback_window"`
	PayoutCalendar bool          `mapstructure:"payout_calendar"`
	Timezone       string        `mapstructure:"timezone"`
	CutoffDay      int           `mapstructure:"cutoff_day"`
	PayableHour    int           `mapstructure:"payable_hour"`
}

type PayoutConfig struct {
	EnabledByDefault bool          `mapstructure:"enabled_by_default"`
	Channel          string        `mapstructure:"channel"`
	HTTPEndpoint     string        `mapstructure:"http_endpoint"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	StuckAfter       time.Duration `mapstructure:"stuck_after"`
}

type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SweepSpec     string `mapstructure:"sweep_spec"`
	RelaySpec     string `mapstructure:"relay_spec"`
	IntegritySpec string `mapstructure:"integrity_spec"`
	StuckSpec     string `mapstructure:"stuck_spec"`
	BatchSize     int    `mapstructure:"batch_size"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	ExporterProtocol string  `mapstructure:"exporter_protocol"`
	SamplingRatio    float64 `mapstructure:"sampling_ratio"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type WebhookConfig struct {
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// Livemode reports whether the configured mode is live.
func (c Config) Livemode() bool {
	return c.Mode != ModeTest
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// DefaultCommissionRate returns the rate applied to partners created without one.
func (c Config) DefaultCommissionRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.Ledger.DefaultRate))
	if err != nil {
		return decimal.RequireFromString("0.20")
	}
	return rate
}

// Location resolves the ledger timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Ledger.Timezone))
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

func (c Config) validate() error {
	switch c.Mode {
	case ModeLive, ModeTest:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(c.Ledger.DefaultRate))
	if err != nil {
		return fmt.Errorf("invalid ledger.default_rate: %w", err)
	}
	if rate.IsNegative() {
		return errors.New("ledger.default_rate must not be negative")
	}
	if c.Ledger.EarnHold < 0 {
		return errors.New("ledger.earn_hold must not be negative")
	}
	if c.Ledger.ClawbackWindow < 0 {
		return errors.New("ledger.clawback_window must not be negative")
	}
	if c.Ledger.CutoffDay < 1 || c.Ledger.CutoffDay > 28 {
		return fmt.Errorf("invalid ledger.cutoff_day %d", c.Ledger.CutoffDay)
	}
	switch c.Payout.Channel {
	case "manual":
	case "http":
		if strings.TrimSpace(c.Payout.HTTPEndpoint) == "" {
			return errors.New("payout.http_endpoint is required for the http channel")
		}
	default:
		return fmt.Errorf("invalid payout.channel %q", c.Payout.Channel)
	}
	return nil
}
