// Package config loads and validates site audit configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Scan        ScanConfig        `mapstructure:"scan"`
	Crawl       CrawlConfig       `mapstructure:"crawl"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Rank        RankConfig        `mapstructure:"rank"`
	AI          AIConfig          `mapstructure:"ai"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ScanConfig governs admission and pipeline-wide limits.
type ScanConfig struct {
	IdempotencyTimezone string `mapstructure:"idempotency_timezone"`
	LightMaxPages       int    `mapstructure:"light_max_pages"`
	FullMaxPages        int    `mapstructure:"full_max_pages"`
	MaxKeywords         int    `mapstructure:"max_keywords"`
	LockStripes         int    `mapstructure:"lock_stripes"`
	ArchiveReports      bool   `mapstructure:"archive_reports"`
}

// CrawlConfig configures the colly crawl fetcher.
type CrawlConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Parallelism    int    `mapstructure:"parallelism"`
	DelayMs        int    `mapstructure:"delay_ms"`
	IgnoreRobots   bool   `mapstructure:"ignore_robots"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"` // bytes
}

// PerformanceConfig points at a PageSpeed Insights compatible endpoint.
type PerformanceConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Strategy       string `mapstructure:"strategy"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RankConfig configures the SERP provider and rank pacing.
type RankConfig struct {
	Endpoint            string `mapstructure:"endpoint"`
	APIKey              string `mapstructure:"api_key"`
	DelayMs             int    `mapstructure:"delay_ms"`
	DeadlineSeconds     int    `mapstructure:"deadline_seconds"`
	QueryTimeoutSeconds int    `mapstructure:"query_timeout_seconds"`
	CacheTTLHours       int    `mapstructure:"cache_ttl_hours"`
}

// AIConfig toggles the AI readiness analyzer.
type AIConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RedisConfig configures the optional SERP cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig selects the report archive backend.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	LocalDir   string `mapstructure:"local_dir"`
	Prefix     string `mapstructure:"prefix"`
}

// DatabaseConfig selects and configures the scan store.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	Migrate      bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	ServiceName  string  `mapstructure:"service_name"`
	InsecureHTTP bool    `mapstructure:"insecure"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEAUDIT")
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
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("logging.development", true)
	v.SetDefault("scan.idempotency_timezone", "UTC")
	v.SetDefault("scan.light_max_pages", 5)
	v.SetDefault("scan.full_max_pages", 25)
	v.SetDefault("scan.max_keywords", 10)
	v.SetDefault("scan.lock_stripes", 64)
	v.SetDefault("scan.archive_reports", true)
	v.SetDefault("crawl.user_agent", "site-audit-bot/0.1")
	v.SetDefault("crawl.timeout_seconds", 20)
	v.SetDefault("crawl.parallelism", 2)
	v.SetDefault("crawl.delay_ms", 250)
	v.SetDefault("crawl.ignore_robots", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("performance.endpoint", "https://www.googleapis.com/pagespeedonline/v5/runPagespeed")
	v.SetDefault("performance.strategy", "mobile")
	v.SetDefault("performance.timeout_seconds", 60)
	v.SetDefault("rank.delay_ms", 1000)
	v.SetDefault("rank.deadline_seconds", 90)
	v.SetDefault("rank.query_timeout_seconds", 20)
	v.SetDefault("rank.cache_ttl_hours", 24)
	v.SetDefault("ai.enabled", true)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("storage.local_dir", "data/reports")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.sqlite_path", "data/siteaudit.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.migrate", true)
	v.SetDefault("pubsub.topic_name", "scan-completed")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.service_name", "site-audit")

	// Registered so AutomaticEnv can populate them during Unmarshal.
	for key, zero := range map[string]any{
		"auth.enabled": false, "auth.api_key": "", "performance.api_key": "",
		"rank.endpoint": "", "rank.api_key": "", "redis.addr": "", "redis.password": "", "redis.db": 0,
		"storage.gcs_bucket": "", "storage.s3_bucket": "", "storage.s3_region": "", "storage.s3_endpoint": "",
		"database.dsn": "", "pubsub.project_id": "",
		"tracing.enabled": false, "tracing.endpoint": "", "tracing.insecure": false,
	} {
		v.SetDefault(key, zero)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := time.LoadLocation(c.Scan.IdempotencyTimezone); err != nil {
		return fmt.Errorf("scan.idempotency_timezone: %w", err)
	}
	if c.Scan.LightMaxPages <= 0 || c.Scan.FullMaxPages <= 0 {
		return fmt.Errorf("scan.light_max_pages and scan.full_max_pages must be > 0")
	}
	if c.Scan.MaxKeywords <= 0 {
		return fmt.Errorf("scan.max_keywords must be > 0")
	}
	if c.Crawl.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Rank.DeadlineSeconds <= 0 {
		return fmt.Errorf("rank.deadline_seconds must be > 0")
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres driver")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case "memory", "":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("storage.s3_bucket must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	return nil
}

// Location returns the zone idempotency keys and trend dates are computed in.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scan.IdempotencyTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RankEnabled reports whether a SERP credential is configured.
func (c Config) RankEnabled() bool {
	return c.Rank.APIKey != "" && c.Rank.Endpoint != ""
}

// RankDelay is the pause between consecutive SERP queries.
func (c Config) RankDelay() time.Duration {
	return time.Duration(c.Rank.DelayMs) * time.Millisecond
}

// RankDeadline bounds the whole rank phase.
func (c Config) RankDeadline() time.Duration {
	return time.Duration(c.Rank.DeadlineSeconds) * time.Second
}

// MaxPages returns the crawl page budget for a mode name.
func (c Config) MaxPages(mode string) int {
	if mode == "full" {
		return c.Scan.FullMaxPages
	}
	return c.Scan.LightMaxPages
}
