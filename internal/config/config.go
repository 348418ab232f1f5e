package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Upstream   UpstreamConfig   `yaml:"upstream" mapstructure:"upstream"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// UpstreamConfig identifies the data.gov.in resource and how to fetch it.
type UpstreamConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	ResourceID  string  `yaml:"resource_id" mapstructure:"resource_id"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	State       string  `yaml:"state" mapstructure:"state"`
	PageSize    int     `yaml:"page_size" mapstructure:"page_size"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMs int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// SyncConfig configures sync runs and their schedule.
type SyncConfig struct {
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	CronSchedule     string `yaml:"cron_schedule" mapstructure:"cron_schedule"`
	SchedulerEnabled bool   `yaml:"scheduler_enabled" mapstructure:"scheduler_enabled"`
	RunTimeoutMins   int    `yaml:"run_timeout_mins" mapstructure:"run_timeout_mins"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitRequests   int      `yaml:"rate_limit_requests" mapstructure:"rate_limit_requests"`
	RateLimitWindowSecs int      `yaml:"rate_limit_window_secs" mapstructure:"rate_limit_window_secs"`
}

// MonitoringConfig configures ledger health alerts.
type MonitoringConfig struct {
	Enabled                bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL             string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StaleAfterHours        int    `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	MaxConsecutiveFailures int    `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envAliases are the variable names the service was first deployed with.
var envAliases = map[string][]string{
	"upstream.api_key":     {"AEP_UPSTREAM_API_KEY", "DATA_GOV_API_KEY"},
	"upstream.resource_id": {"AEP_UPSTREAM_RESOURCE_ID", "RESOURCE_ID"},
	"sync.cron_schedule":   {"AEP_SYNC_CRON_SCHEDULE", "SYNC_CRON_SCHEDULE"},
	"server.port":          {"AEP_SERVER_PORT", "PORT"},
	"store.database_url":   {"AEP_STORE_DATABASE_URL", "DATABASE_URL"},
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env for %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("upstream.base_url", "https://api.data.gov.in/resource")
	v.SetDefault("upstream.resource_id", "")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.state", "PUNJAB")
	v.SetDefault("upstream.page_size", 5000)
	v.SetDefault("upstream.max_retries", 5)
	v.SetDefault("upstream.base_delay_ms", 500)
	v.SetDefault("upstream.timeout_secs", 60)
	v.SetDefault("upstream.rate_per_sec", 2)
	v.SetDefault("upstream.user_agent", "awaaz-e-punjab/1.0")
	v.SetDefault("sync.batch_size", 1000)
	v.SetDefault("sync.cron_schedule", "0 3 * * *")
	v.SetDefault("sync.scheduler_enabled", true)
	v.SetDefault("sync.run_timeout_mins", 10)
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_requests", 30)
	v.SetDefault("server.rate_limit_window_secs", 60)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stale_after_hours", 36)
	v.SetDefault("monitoring.max_consecutive_failures", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs before it starts. The upstream
// API key is not checked here; a sync without one fails and is recorded in
// the ledger like any other failed run.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "sync", "status", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of postgres, sqlite", c.Store.Driver))
	}

	if mode == "serve" || mode == "sync" {
		if c.Upstream.PageSize < 1 || c.Upstream.PageSize > 5000 {
			errs = append(errs, "upstream.page_size must be between 1 and 5000")
		}
		if c.Upstream.MaxRetries < 0 {
			errs = append(errs, "upstream.max_retries must be >= 0")
		}
		if c.Upstream.BaseDelayMs < 0 {
			errs = append(errs, "upstream.base_delay_ms must be >= 0")
		}
		if c.Sync.BatchSize < 1 {
			errs = append(errs, "sync.batch_size must be > 0")
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.Enabled && c.Monitoring.MaxConsecutiveFailures < 1 {
			errs = append(errs, "monitoring.max_consecutive_failures must be > 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
