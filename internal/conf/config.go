// Package conf loads and validates service settings.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/teashop/storefront/internal/errors"
)

// EnvPrefix is the prefix for environment overrides, e.g. TEASHOP_DATABASE_DRIVER.
const EnvPrefix = "TEASHOP"

// Settings is the root configuration.
type Settings struct {
	Log           LogSettings          `mapstructure:"log" yaml:"log" json:"log"`
	Database      DatabaseSettings     `mapstructure:"database" yaml:"database" json:"database"`
	Marketing     MarketingSettings    `mapstructure:"marketing" yaml:"marketing" json:"marketing"`
	Storefront    StorefrontSettings   `mapstructure:"storefront" yaml:"storefront" json:"storefront"`
	Notifications NotificationSettings `mapstructure:"notifications" yaml:"notifications" json:"notifications"`
	HTTP          HTTPSettings         `mapstructure:"http" yaml:"http" json:"http"`
	Sentry        SentrySettings       `mapstructure:"sentry" yaml:"sentry" json:"sentry"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"` // json or console
}

// DatabaseSettings selects the storefront database. The engine shares the
// storefront's users and orders tables and owns the trigger tables.
type DatabaseSettings struct {
	Driver             string        `mapstructure:"driver" yaml:"driver" json:"driver"` // sqlite or mysql
	Path               string        `mapstructure:"path" yaml:"path" json:"path"`       // sqlite file
	MySQL              MySQLSettings `mapstructure:"mysql" yaml:"mysql" json:"mysql"`
	MaxOpenConns       int           `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	SlowQueryThreshold Duration      `mapstructure:"slow_query_threshold" yaml:"slow_query_threshold" json:"slow_query_threshold"`
}

type MySQLSettings struct {
	Host     string `mapstructure:"host" yaml:"host" json:"host"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	Database string `mapstructure:"database" yaml:"database" json:"database"`
}

// DSN returns the go-sql-driver connection string.
func (m MySQLSettings) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		m.Username, m.Password, m.Host, m.Port, m.Database)
}

// MarketingSettings tunes the trigger engine and scheduler.
type MarketingSettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	CooldownTTL            Duration `mapstructure:"cooldown_ttl" yaml:"cooldown_ttl" json:"cooldown_ttl"`
	CooldownPruneThreshold int      `mapstructure:"cooldown_prune_threshold" yaml:"cooldown_prune_threshold" json:"cooldown_prune_threshold"`

	EventBufferSize         int `mapstructure:"event_buffer_size" yaml:"event_buffer_size" json:"event_buffer_size"`
	Workers                 int `mapstructure:"workers" yaml:"workers" json:"workers"`
	MaxConcurrentExecutions int `mapstructure:"max_concurrent_executions" yaml:"max_concurrent_executions" json:"max_concurrent_executions"`

	ActionTimeout   Duration `mapstructure:"action_timeout" yaml:"action_timeout" json:"action_timeout"`
	ActionRateLimit float64  `mapstructure:"action_rate_limit" yaml:"action_rate_limit" json:"action_rate_limit"` // calls per second, 0 = unlimited
	ActionBurst     int      `mapstructure:"action_burst" yaml:"action_burst" json:"action_burst"`

	Timezone              string   `mapstructure:"timezone" yaml:"timezone" json:"timezone"`
	ChurnSchedule         string   `mapstructure:"churn_schedule" yaml:"churn_schedule" json:"churn_schedule"`
	BirthdaySchedule      string   `mapstructure:"birthday_schedule" yaml:"birthday_schedule" json:"birthday_schedule"`
	ScheduledTimeSchedule string   `mapstructure:"scheduled_time_schedule" yaml:"scheduled_time_schedule" json:"scheduled_time_schedule"`
	ScanBatchSize         int      `mapstructure:"scan_batch_size" yaml:"scan_batch_size" json:"scan_batch_size"`
	ScanTimeout           Duration `mapstructure:"scan_timeout" yaml:"scan_timeout" json:"scan_timeout"`

	SeedDefaults bool `mapstructure:"seed_defaults" yaml:"seed_defaults" json:"seed_defaults"`
}

// Location resolves Timezone, falling back to UTC.
func (m MarketingSettings) Location() *time.Location {
	if m.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// StorefrontSettings points at the storefront back-office API that owns
// coupons and loyalty points.
type StorefrontSettings struct {
	BaseURL  string   `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	APIToken string   `mapstructure:"api_token" yaml:"api_token" json:"-"`
	Timeout  Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

type NotificationSettings struct {
	Provider string           `mapstructure:"provider" yaml:"provider" json:"provider"` // log, telegram or mqtt
	Language string           `mapstructure:"language" yaml:"language" json:"language"`
	Currency string           `mapstructure:"currency" yaml:"currency" json:"currency"`
	Telegram TelegramSettings `mapstructure:"telegram" yaml:"telegram" json:"telegram"`
	MQTT     MQTTSettings     `mapstructure:"mqtt" yaml:"mqtt" json:"mqtt"`
}

type TelegramSettings struct {
	BotToken  string `mapstructure:"bot_token" yaml:"bot_token" json:"-"`
	ParseMode string `mapstructure:"parse_mode" yaml:"parse_mode" json:"parse_mode"`
}

type MQTTSettings struct {
	Broker      string   `mapstructure:"broker" yaml:"broker" json:"broker"`
	ClientID    string   `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	Username    string   `mapstructure:"username" yaml:"username" json:"username"`
	Password    string   `mapstructure:"password" yaml:"password" json:"-"`
	TopicPrefix string   `mapstructure:"topic_prefix" yaml:"topic_prefix" json:"topic_prefix"`
	QoS         int      `mapstructure:"qos" yaml:"qos" json:"qos"`
	Timeout     Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

type HTTPSettings struct {
	Listen   string `mapstructure:"listen" yaml:"listen" json:"listen"`
	APIToken string `mapstructure:"api_token" yaml:"api_token" json:"-"`
}

type SentrySettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	DSN         string `mapstructure:"dsn" yaml:"dsn" json:"-"`
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
}

// SetDefaults registers every key with viper so environment overrides work
// without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "teashop.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.username", "teashop")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "teashop")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.slow_query_threshold", "500ms")

	v.SetDefault("marketing.enabled", true)
	v.SetDefault("marketing.cooldown_ttl", "1h")
	v.SetDefault("marketing.cooldown_prune_threshold", 10000)
	v.SetDefault("marketing.event_buffer_size", 1000)
	v.SetDefault("marketing.workers", 4)
	v.SetDefault("marketing.max_concurrent_executions", 16)
	v.SetDefault("marketing.action_timeout", "10s")
	v.SetDefault("marketing.action_rate_limit", 20.0)
	v.SetDefault("marketing.action_burst", 10)
	v.SetDefault("marketing.timezone", "UTC")
	v.SetDefault("marketing.churn_schedule", "0 10 * * *")
	v.SetDefault("marketing.birthday_schedule", "0 9 * * *")
	v.SetDefault("marketing.scheduled_time_schedule", "0 * * * *")
	v.SetDefault("marketing.scan_batch_size", 500)
	v.SetDefault("marketing.scan_timeout", "30m")
	v.SetDefault("marketing.seed_defaults", true)

	v.SetDefault("storefront.base_url", "http://localhost:8080")
	v.SetDefault("storefront.api_token", "")
	v.SetDefault("storefront.timeout", "5s")

	v.SetDefault("notifications.provider", "log")
	v.SetDefault("notifications.language", "en")
	v.SetDefault("notifications.currency", "USD")
	v.SetDefault("notifications.telegram.bot_token", "")
	v.SetDefault("notifications.telegram.parse_mode", "HTML")
	v.SetDefault("notifications.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("notifications.mqtt.client_id", "teashop-marketing")
	v.SetDefault("notifications.mqtt.username", "")
	v.SetDefault("notifications.mqtt.password", "")
	v.SetDefault("notifications.mqtt.topic_prefix", "teashop/notifications")
	v.SetDefault("notifications.mqtt.qos", 1)
	v.SetDefault("notifications.mqtt.timeout", "5s")

	v.SetDefault("http.listen", ":8090")
	v.SetDefault("http.api_token", "")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}

// Load reads settings from path (optional) and TEASHOP_* environment variables.
func Load(path string) (*Settings, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Newf("failed to read config %s: %w", path, err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.Newf("failed to decode config: %w", err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports every invalid setting at once.
func (s *Settings) Validate() error {
	var errs []error
	invalid := func(key string, format string, args ...any) {
		errs = append(errs, errors.Newf("%s: "+format, append([]any{key}, args...)...).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("key", key).
			Build())
	}

	switch s.Database.Driver {
	case "sqlite":
		if s.Database.Path == "" {
			invalid("database.path", "required for sqlite")
		}
	case "mysql":
		if s.Database.MySQL.Host == "" || s.Database.MySQL.Database == "" {
			invalid("database.mysql", "host and database are required")
		}
	default:
		invalid("database.driver", "unsupported driver %q", s.Database.Driver)
	}

	m := s.Marketing
	if m.CooldownTTL.Std() <= 0 {
		invalid("marketing.cooldown_ttl", "must be positive")
	}
	if m.EventBufferSize <= 0 {
		invalid("marketing.event_buffer_size", "must be positive")
	}
	if m.Workers <= 0 {
		invalid("marketing.workers", "must be positive")
	}
	if m.MaxConcurrentExecutions <= 0 {
		invalid("marketing.max_concurrent_executions", "must be positive")
	}
	if m.ActionTimeout.Std() <= 0 {
		invalid("marketing.action_timeout", "must be positive")
	}
	if m.ActionRateLimit < 0 {
		invalid("marketing.action_rate_limit", "must not be negative")
	}
	if m.ScanBatchSize <= 0 {
		invalid("marketing.scan_batch_size", "must be positive")
	}
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		invalid("marketing.timezone", "unknown timezone %q", m.Timezone)
	}
	for key, spec := range map[string]string{
		"marketing.churn_schedule":          m.ChurnSchedule,
		"marketing.birthday_schedule":       m.BirthdaySchedule,
		"marketing.scheduled_time_schedule": m.ScheduledTimeSchedule,
	} {
		if _, err := scheduleParser.Parse(spec); err != nil {
			invalid(key, "invalid cron expression %q", spec)
		}
	}

	switch s.Notifications.Provider {
	case "log":
	case "telegram":
		if s.Notifications.Telegram.BotToken == "" {
			invalid("notifications.telegram.bot_token", "required for telegram provider")
		}
	case "mqtt":
		if s.Notifications.MQTT.Broker == "" {
			invalid("notifications.mqtt.broker", "required for mqtt provider")
		}
		if q := s.Notifications.MQTT.QoS; q < 0 || q > 2 {
			invalid("notifications.mqtt.qos", "must be 0, 1 or 2")
		}
	default:
		invalid("notifications.provider", "unsupported provider %q", s.Notifications.Provider)
	}

	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		invalid("sentry.dsn", "required when sentry is enabled")
	}

	return errors.Join(errs...)
}
