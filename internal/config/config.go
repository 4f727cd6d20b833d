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
	Server     ServerConfig     `mapstructure:"server"`
	DB         DBConfig         `mapstructure:"db"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Hub        HubConfig        `mapstructure:"hub"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int `mapstructure:"port"`
	RequestTimeoutSec int `mapstructure:"request_timeout_seconds"`
}

// DBConfig controls access to the result store. An empty DSN selects the
// in-memory store, which is only suitable for development.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// BrowserConfig configures the headless browser subsystem.
type BrowserConfig struct {
	Headful       bool   `mapstructure:"headful"`
	UserAgent     string `mapstructure:"user_agent"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
}

// CrawlConfig governs traversal behavior of the crawl engine.
type CrawlConfig struct {
	MaxScrolls  int `mapstructure:"max_scrolls"`
	ScrollDelta int `mapstructure:"scroll_delta"`
	SettleMinMs int `mapstructure:"settle_min_ms"`
	SettleMaxMs int `mapstructure:"settle_max_ms"`
	MaxPages    int `mapstructure:"max_pages"`
}

// EnrichmentConfig bounds the enrichment fanout.
type EnrichmentConfig struct {
	Concurrency     int      `mapstructure:"concurrency"`
	ProbeTimeoutSec int      `mapstructure:"probe_timeout_seconds"`
	SecondaryPaths  []string `mapstructure:"secondary_paths"`
}

// SchedulerConfig controls retry behavior of the project scheduler.
type SchedulerConfig struct {
	MaxAttempts   int    `mapstructure:"max_attempts"`
	BackoffBaseMs int    `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int    `mapstructure:"backoff_max_ms"`
	CancelPartial string `mapstructure:"cancel_partial"`
}

// HubConfig sizes the live fan-out buffers.
type HubConfig struct {
	BufferSize       int `mapstructure:"buffer_size"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
	HeartbeatSec     int `mapstructure:"heartbeat_seconds"`
	CountTimeoutSec  int `mapstructure:"count_timeout_seconds"`
}

// StorageConfig selects the page-snapshot backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for mirroring events to Pub/Sub. An empty
// project ID disables the mirror.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADSCOUT")
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("browser.headful", false)
	v.SetDefault("browser.user_agent", "leadscout-bot/0.1")
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("crawl.max_scrolls", 20)
	v.SetDefault("crawl.scroll_delta", 800)
	v.SetDefault("crawl.settle_min_ms", 400)
	v.SetDefault("crawl.settle_max_ms", 900)
	v.SetDefault("crawl.max_pages", 12)
	v.SetDefault("enrichment.concurrency", 3)
	v.SetDefault("enrichment.probe_timeout_seconds", 10)
	v.SetDefault("enrichment.secondary_paths", []string{"/contact-us", "/about-us"})
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.backoff_base_ms", 250)
	v.SetDefault("scheduler.backoff_max_ms", 5000)
	v.SetDefault("scheduler.cancel_partial", "finish")
	v.SetDefault("hub.buffer_size", 1024)
	v.SetDefault("hub.subscriber_buffer", 64)
	v.SetDefault("hub.heartbeat_seconds", 15)
	v.SetDefault("hub.count_timeout_seconds", 5)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Enrichment.Concurrency <= 0 {
		return fmt.Errorf("enrichment.concurrency must be > 0")
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts must be > 0")
	}
	switch c.Scheduler.CancelPartial {
	case "finish", "cancel":
	default:
		return fmt.Errorf("scheduler.cancel_partial must be finish or cancel")
	}
	if c.Crawl.SettleMaxMs < c.Crawl.SettleMinMs {
		return fmt.Errorf("crawl.settle_max_ms must be >= crawl.settle_min_ms")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local, or gcs")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set when pubsub.project_id is set")
	}
	return nil
}

// NavTimeout returns the browser navigation budget.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// SettleMin returns the lower settle jitter bound.
func (c CrawlConfig) SettleMin() time.Duration {
	return time.Duration(c.SettleMinMs) * time.Millisecond
}

// SettleMax returns the upper settle jitter bound.
func (c CrawlConfig) SettleMax() time.Duration {
	return time.Duration(c.SettleMaxMs) * time.Millisecond
}

// ProbeTimeout returns the enrichment probe budget.
func (c EnrichmentConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

// BackoffBase returns the first retry delay.
func (c SchedulerConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c SchedulerConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// RequestTimeout returns the HTTP middleware timeout.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Heartbeat returns the SSE keepalive interval.
func (c HubConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}

// CountTimeout returns the budget for one re-count query.
func (c HubConfig) CountTimeout() time.Duration {
	return time.Duration(c.CountTimeoutSec) * time.Second
}
