// Package config loads the processor configuration from an optional YAML
// file and PIX_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const EnvPrefix = "PIX"

type Config struct {
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Audit struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"audit"`
	Webhook struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"webhook"`
	Settlement struct {
		Timeout      time.Duration `mapstructure:"timeout"`
		GatewayURL   string        `mapstructure:"gateway_url"`
		PendingRatio float64       `mapstructure:"pending_ratio"`
		ConfirmAfter time.Duration `mapstructure:"confirm_after"`
	} `mapstructure:"settlement"`
	Limits struct {
		PerTransaction string `mapstructure:"per_transaction"`
		Daily          string `mapstructure:"daily"`
		Nightly        string `mapstructure:"nightly"`
		Monthly        string `mapstructure:"monthly"`
	} `mapstructure:"limits"`
	Keys struct {
		MaxPerOwner int    `mapstructure:"max_per_owner"`
		BankName    string `mapstructure:"bank_name"`
	} `mapstructure:"keys"`
	Reconciler struct {
		MaxAttempts   int           `mapstructure:"max_attempts"`
		RetryInterval time.Duration `mapstructure:"retry_interval"`
	} `mapstructure:"reconciler"`
	Scheduler struct {
		Interval  time.Duration `mapstructure:"interval"`
		BatchSize int           `mapstructure:"batch_size"`
	} `mapstructure:"scheduler"`
	Fraud struct {
		RulesFile string `mapstructure:"rules_file"`
	} `mapstructure:"fraud"`
	Notifications struct {
		Workers int `mapstructure:"workers"`
	} `mapstructure:"notifications"`
	TimeZone string `mapstructure:"time_zone"`
	LogLevel string `mapstructure:"log_level"`

	// Accounts are created at startup when missing. Meant for development.
	Accounts []SeedAccount `mapstructure:"accounts"`
}

type SeedAccount struct {
	ID        string `mapstructure:"id"`
	OwnerID   string `mapstructure:"owner_id"`
	OwnerName string `mapstructure:"owner_name"`
	Balance   string `mapstructure:"balance"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("database.dsn", "")
	v.SetDefault("audit.secret", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("settlement.timeout", 10*time.Second)
	v.SetDefault("settlement.gateway_url", "")
	v.SetDefault("settlement.pending_ratio", 0.0)
	v.SetDefault("settlement.confirm_after", 2*time.Second)
	v.SetDefault("limits.per_transaction", "5000")
	v.SetDefault("limits.daily", "10000")
	v.SetDefault("limits.nightly", "1000")
	v.SetDefault("limits.monthly", "50000")
	v.SetDefault("keys.max_per_owner", 5)
	v.SetDefault("keys.bank_name", "Pix Processor Bank")
	v.SetDefault("reconciler.max_attempts", 5)
	v.SetDefault("reconciler.retry_interval", time.Minute)
	v.SetDefault("scheduler.interval", 30*time.Second)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("fraud.rules_file", "")
	v.SetDefault("notifications.workers", 3)
	v.SetDefault("time_zone", "America/Sao_Paulo")
	v.SetDefault("log_level", "info")
}

// Load reads path when it is not empty, then overlays the environment:
// PIX_AUDIT_SECRET overrides audit.secret and so on.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Audit.Secret == "" {
		errs = append(errs, errors.New("audit.secret is required"))
	}
	if c.Webhook.Secret == "" {
		errs = append(errs, errors.New("webhook.secret is required"))
	}
	if c.Settlement.Timeout <= 0 {
		errs = append(errs, errors.New("settlement.timeout must be positive"))
	}
	if c.Settlement.PendingRatio < 0 || c.Settlement.PendingRatio > 1 {
		errs = append(errs, errors.New("settlement.pending_ratio must be between 0 and 1"))
	}
	if c.Keys.MaxPerOwner <= 0 {
		errs = append(errs, errors.New("keys.max_per_owner must be positive"))
	}
	if c.Reconciler.MaxAttempts <= 0 {
		errs = append(errs, errors.New("reconciler.max_attempts must be positive"))
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("time_zone: %w", err))
	}
	for name, value := range map[string]string{
		"limits.per_transaction": c.Limits.PerTransaction,
		"limits.daily":           c.Limits.Daily,
		"limits.nightly":         c.Limits.Nightly,
		"limits.monthly":         c.Limits.Monthly,
	} {
		if d, err := decimal.NewFromString(value); err != nil || !d.IsPositive() {
			errs = append(errs, fmt.Errorf("%s must be a positive amount", name))
		}
	}
	for i, a := range c.Accounts {
		if a.ID == "" || a.OwnerID == "" {
			errs = append(errs, fmt.Errorf("accounts[%d]: id and owner_id are required", i))
		}
		if _, err := decimal.NewFromString(a.Balance); a.Balance != "" && err != nil {
			errs = append(errs, fmt.Errorf("accounts[%d]: invalid balance", i))
		}
	}
	return errors.Join(errs...)
}

// Location returns the configured zone. Call Validate first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LimitDefaults returns the configured caps in the order per transaction,
// daily, nightly, monthly. Call Validate first.
func (c *Config) LimitDefaults() (perTransaction, daily, nightly, monthly decimal.Decimal) {
	return decimal.RequireFromString(c.Limits.PerTransaction),
		decimal.RequireFromString(c.Limits.Daily),
		decimal.RequireFromString(c.Limits.Nightly),
		decimal.RequireFromString(c.Limits.Monthly)
}
