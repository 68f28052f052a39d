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
	Server   ServerConfig   `mapstructure:"server"`
	Chrome   ChromeConfig   `mapstructure:"chrome"`
	Mangalib MangalibConfig `mapstructure:"mangalib"`
	Retry    RetryConfig    `mapstructure:"retry"`
	AMQP     AMQPConfig     `mapstructure:"amqp"`
	Ingress  IngressConfig  `mapstructure:"ingress"`
	Callback CallbackConfig `mapstructure:"callback"`
	Events   EventsConfig   `mapstructure:"events"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP ingress.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ChromeConfig configures the headless browser pool.
type ChromeConfig struct {
	MaxCount       int    `mapstructure:"max_count"`
	NavTimeoutSec  int    `mapstructure:"nav_timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	AcceptLanguage string `mapstructure:"accept_language"`
	Platform       string `mapstructure:"platform"`
	NoSandbox      bool   `mapstructure:"no_sandbox"`
}

// MangalibConfig points at the upstream endpoints.
type MangalibConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	ImageServerPrefix string `mapstructure:"image_server_prefix"`
	CatalogueURL      string `mapstructure:"catalogue_url"`
	SiteURL           string `mapstructure:"site_url"`
	CatalogueRPM      int    `mapstructure:"catalogue_requests_per_minute"`
}

// RetryConfig tunes the per-chapter retry policy.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	DelayMs     int `mapstructure:"delay_ms"`
}

// AMQPConfig holds the broker connection.
type AMQPConfig struct {
	URL     string `mapstructure:"url"`
	Durable bool   `mapstructure:"durable"`
}

// IngressConfig sizes the HTTP job queue and its workers.
type IngressConfig struct {
	Workers               int `mapstructure:"workers"`
	QueueDepth            int `mapstructure:"queue_depth"`
	EnqueueTimeoutSeconds int `mapstructure:"enqueue_timeout_seconds"`
}

// CallbackConfig controls the result publisher.
type CallbackConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// EventsConfig selects where job outcome events go.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// AuditConfig selects the job audit log backend.
type AuditConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// StorageConfig selects where catalogue dumps are written.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig controls the standalone metrics listener used by the consumer.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MANGALIB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

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
	v.SetDefault("server.port", 8000)
	v.SetDefault("chrome.max_count", 16)
	v.SetDefault("chrome.nav_timeout_seconds", 45)
	v.SetDefault("chrome.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) "+
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36")
	v.SetDefault("chrome.accept_language", "en-US,en;q=0.9,hi;q=0.8,es;q=0.7,lt;q=0.6")
	v.SetDefault("chrome.platform", "macOS")
	v.SetDefault("chrome.no_sandbox", true)
	v.SetDefault("mangalib.base_url", "https://api.mangalib.me")
	v.SetDefault("mangalib.image_server_prefix", "https://img33.imgslib.link")
	v.SetDefault("mangalib.catalogue_url", "https://api.lib.social/api/manga")
	v.SetDefault("mangalib.site_url", "https://mangalib.me")
	v.SetDefault("mangalib.catalogue_requests_per_minute", 30)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.delay_ms", 0)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.durable", false)
	v.SetDefault("ingress.workers", 1)
	v.SetDefault("ingress.queue_depth", 64)
	v.SetDefault("ingress.enqueue_timeout_seconds", 5)
	v.SetDefault("callback.timeout_seconds", 30)
	v.SetDefault("events.provider", "noop")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic_id", "")
	v.SetDefault("audit.provider", "noop")
	v.SetDefault("audit.dsn", "")
	v.SetDefault("audit.table", "scrape_jobs")
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "catalogue")
	v.SetDefault("metrics.port", 0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// bindLegacyEnv maps the unprefixed variables the deployment already sets.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":         "APP_PORT",
		"chrome.max_count":    "CHROME_MAX_COUNT",
		"amqp.url":            "AMQP_URL",
		"logging.development": "LOG_DEVELOPMENT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "MANGALIB_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Chrome.MaxCount <= 0 {
		return fmt.Errorf("chrome.max_count must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.DelayMs < 0 {
		return fmt.Errorf("retry.delay_ms must be >= 0")
	}
	if c.Ingress.Workers <= 0 {
		return fmt.Errorf("ingress.workers must be > 0")
	}
	if c.Ingress.QueueDepth <= 0 {
		return fmt.Errorf("ingress.queue_depth must be > 0")
	}
	switch c.Events.Provider {
	case "noop", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.TopicID == "" {
			return fmt.Errorf("events.project_id and events.topic_id must be set for pubsub")
		}
	default:
		return fmt.Errorf("unknown events.provider %q", c.Events.Provider)
	}
	switch c.Audit.Provider {
	case "noop", "memory":
	case "postgres":
		if c.Audit.DSN == "" {
			return fmt.Errorf("audit.dsn must be set for postgres")
		}
	default:
		return fmt.Errorf("unknown audit.provider %q", c.Audit.Provider)
	}
	switch c.Storage.Provider {
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for local storage")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for gcs storage")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	return nil
}

// NavTimeout converts the browser navigation timeout to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Chrome.NavTimeoutSec) * time.Second
}

// RetryDelay converts the retry delay to a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.DelayMs) * time.Millisecond
}

// CallbackTimeout converts the callback timeout to a duration.
func (c Config) CallbackTimeout() time.Duration {
	return time.Duration(c.Callback.TimeoutSeconds) * time.Second
}

// EnqueueTimeout converts the ingress enqueue timeout to a duration.
func (c Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Ingress.EnqueueTimeoutSeconds) * time.Second
}
