package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-history/internal/logging"
)

// Recompute strategies.
const (
	RecomputeModeItem = "item"
	RecomputeModeSet  = "set"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Recompute RecomputeConfig `mapstructure:"recompute"`
	Events    EventsConfig    `mapstructure:"events"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// PricingConfig covers price history semantics.
type PricingConfig struct {
	// DefaultCheckingPeriodDays is used when a channel is created without an explicit period.
	DefaultCheckingPeriodDays int `mapstructure:"default_checking_period_days"`
	// Timezone decides where calendar days start when subtracting the checking period.
	Timezone string `mapstructure:"timezone"`
	// CurrencyExponent is the number of minor unit digits, only used for display.
	CurrencyExponent int32 `mapstructure:"currency_exponent"`
}

// RecomputeConfig tunes channel recomputation.
type RecomputeConfig struct {
	Mode    string `mapstructure:"mode"`
	Workers int    `mapstructure:"workers"`
	// LockKey seeds the per channel advisory lock; zero disables locking.
	LockKey int64 `mapstructure:"lock_key"`
}

// EventsConfig governs the LISTEN/NOTIFY trigger listener.
type EventsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Channel        string        `mapstructure:"channel"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// MetricsConfig exposes prometheus metrics while running.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// AlertingConfig routes recompute reports.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEHISTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricehistory")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("pricing.default_checking_period_days", 30)
	v.SetDefault("pricing.timezone", "UTC")
	v.SetDefault("pricing.currency_exponent", 2)

	v.SetDefault("recompute.mode", RecomputeModeItem)
	v.SetDefault("recompute.workers", 4)
	v.SetDefault("recompute.lock_key", int64(0x70726963))

	v.SetDefault("events.enabled", true)
	v.SetDefault("events.channel", "price_history_events")
	v.SetDefault("events.initial_backoff", "1s")
	v.SetDefault("events.max_backoff", "30s")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Pricing.DefaultCheckingPeriodDays <= 0 {
		return fmt.Errorf("pricing.default_checking_period_days must be greater than zero")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Pricing.CurrencyExponent < 0 || c.Pricing.CurrencyExponent > 8 {
		return fmt.Errorf("pricing.currency_exponent must be between 0 and 8")
	}
	switch c.Recompute.Mode {
	case RecomputeModeItem, RecomputeModeSet:
	default:
		return fmt.Errorf("recompute.mode must be %q or %q, got %q", RecomputeModeItem, RecomputeModeSet, c.Recompute.Mode)
	}
	if c.Recompute.Workers <= 0 {
		return fmt.Errorf("recompute.workers must be greater than zero")
	}
	if c.Events.Enabled && c.Events.Channel == "" {
		return fmt.Errorf("events.channel must be set when events are enabled")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// Location resolves pricing.timezone. "Local" is refused because the database must agree
// with the process on where a calendar day starts.
func (c *Config) Location() (*time.Location, error) {
	name := c.Pricing.Timezone
	if name == "" || strings.EqualFold(name, "local") {
		return nil, fmt.Errorf("pricing.timezone must be an IANA zone name, got %q", name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("pricing.timezone: %w", err)
	}
	return loc, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
