// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Verification VerificationConfig `mapstructure:"verification"`
	Crawler      CrawlerConfig      `mapstructure:"crawler"`
	Headless     HeadlessConfig     `mapstructure:"headless"`
	Cache        CacheConfig        `mapstructure:"cache"`
	DB           DBConfig           `mapstructure:"db"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// VerificationConfig governs the claim lifecycle.
type VerificationConfig struct {
	RateLimitPerDay   int `mapstructure:"rate_limit_per_day"`
	CodeLength        int `mapstructure:"code_length"`
	CodeExpiryDays    int `mapstructure:"code_expiry_days"`
	CrawlBudgetSecond int `mapstructure:"crawl_budget_seconds"`
}

// CrawlerConfig governs the crawl-and-match pipeline.
type CrawlerConfig struct {
	MaxRetries         int      `mapstructure:"max_retries"`
	BackoffBaseSeconds int      `mapstructure:"backoff_base_seconds"`
	UserAgent          string   `mapstructure:"user_agent"`
	AllowedDomains     []string `mapstructure:"allowed_domains"`
	PerDomainRPS       float64  `mapstructure:"per_domain_rps"`
	HTTPTimeoutSeconds int      `mapstructure:"http_timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int  `mapstructure:"settle_delay_ms"`
}

// CacheConfig selects and tunes the page cache backend.
type CacheConfig struct {
	TTLHours int    `mapstructure:"ttl_hours"`
	RedisURL string `mapstructure:"redis_url"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinOpenConns int    `mapstructure:"min_open_conns"`
}

// PubSubConfig holds metadata for outcome event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ArchiveConfig sets the page-snapshot destination.
type ArchiveConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VERIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("verification.rate_limit_per_day", 3)
	v.SetDefault("verification.code_length", 8)
	v.SetDefault("verification.code_expiry_days", 7)
	v.SetDefault("verification.crawl_budget_seconds", 300)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.backoff_base_seconds", 1)
	v.SetDefault("crawler.user_agent", "seda-verifier-bot/1.0")
	v.SetDefault("crawler.allowed_domains", []string{})
	v.SetDefault("crawler.per_domain_rps", 1.0)
	v.SetDefault("crawler.http_timeout_seconds", 15)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.min_open_conns", 2)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Verification.RateLimitPerDay <= 0 {
		return fmt.Errorf("verification.rate_limit_per_day must be > 0")
	}
	if c.Verification.CodeLength <= 0 {
		return fmt.Errorf("verification.code_length must be > 0")
	}
	if c.Verification.CodeExpiryDays <= 0 {
		return fmt.Errorf("verification.code_expiry_days must be > 0")
	}
	if c.Crawler.MaxRetries <= 0 {
		return fmt.Errorf("crawler.max_retries must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// CodeExpiry returns the submission deadline window.
func (c Config) CodeExpiry() time.Duration {
	return time.Duration(c.Verification.CodeExpiryDays) * 24 * time.Hour
}

// CrawlBudget returns the overall budget for one detached crawl task.
func (c Config) CrawlBudget() time.Duration {
	return time.Duration(c.Verification.CrawlBudgetSecond) * time.Second
}

// CacheTTL returns the page cache time-to-live.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// BackoffBase returns the crawl backoff base delay.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Crawler.BackoffBaseSeconds) * time.Second
}
