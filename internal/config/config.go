// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Store    StoreConfig    `mapstructure:"store"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Topics   TopicsConfig   `mapstructure:"topics"`
	Research ResearchConfig `mapstructure:"research"`
}

// ResearchConfig points at the external research services. Empty URLs fall
// back to the in-memory fakes, same as --dry-run.
type ResearchConfig struct {
	SerpURL        string `mapstructure:"serp_url"`
	RedditURL      string `mapstructure:"reddit_url"`
	GeminiURL      string `mapstructure:"gemini_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the optional ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// PipelineConfig governs orchestrator and scheduler behavior.
type PipelineConfig struct {
	Concurrency      int `mapstructure:"concurrency"`
	SectionDelayMs   int `mapstructure:"section_delay_ms"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// CacheConfig sets the cache directory and per-namespace TTLs.
type CacheConfig struct {
	Dir             string `mapstructure:"dir"`
	SerpTTLHours    int    `mapstructure:"serp_ttl_hours"`
	InsightTTLHours int    `mapstructure:"insight_ttl_hours"`
	ArticleTTLHours int    `mapstructure:"article_ttl_hours"`
}

// StoreConfig selects and configures the batch progress store backend.
type StoreConfig struct {
	// Driver is "file" or "postgres".
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
	DSN    string `mapstructure:"dsn"`
}

// ServiceRateConfig is the per-service rate budget.
type ServiceRateConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ThrottleConfig paces calls to named external services.
type ThrottleConfig struct {
	DefaultRPS   float64                      `mapstructure:"default_rps"`
	DefaultBurst int                          `mapstructure:"default_burst"`
	Services     map[string]ServiceRateConfig `mapstructure:"services"`
}

// TopicsConfig points at the default topic configuration document.
type TopicsConfig struct {
	ConfigPath string `mapstructure:"config_path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARTICLEGEN")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.concurrency", 3)
	v.SetDefault("pipeline.section_delay_ms", 1000)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.backoff_initial_ms", 250)
	v.SetDefault("pipeline.backoff_max_ms", 5000)
	v.SetDefault("cache.dir", ".cache/articlegen")
	v.SetDefault("cache.serp_ttl_hours", 24)
	v.SetDefault("cache.insight_ttl_hours", 12)
	v.SetDefault("cache.article_ttl_hours", 168)
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dir", ".batches")
	v.SetDefault("throttle.default_rps", 1)
	v.SetDefault("throttle.default_burst", 1)
	v.SetDefault("throttle.services.serp.rps", 0.5)
	v.SetDefault("throttle.services.serp.burst", 1)
	v.SetDefault("throttle.services.reddit.rps", 1)
	v.SetDefault("throttle.services.reddit.burst", 2)
	v.SetDefault("throttle.services.gemini.rps", 0.25)
	v.SetDefault("throttle.services.gemini.burst", 1)
	v.SetDefault("topics.config_path", "topics.json")
	v.SetDefault("research.timeout_seconds", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir must be set")
	}
	switch c.Store.Driver {
	case "file":
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir must be set for the file driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be file or postgres, got %q", c.Store.Driver)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// SectionDelay converts the configured pause between sequential section
// completions into a duration.
func (c Config) SectionDelay() time.Duration {
	return time.Duration(c.Pipeline.SectionDelayMs) * time.Millisecond
}

// SerpTTL is the cache TTL for search-ranking lookups.
func (c Config) SerpTTL() time.Duration {
	return time.Duration(c.Cache.SerpTTLHours) * time.Hour
}

// InsightTTL is the cache TTL for community-insight lookups.
func (c Config) InsightTTL() time.Duration {
	return time.Duration(c.Cache.InsightTTLHours) * time.Hour
}

// ArticleTTL is the cache TTL for assembled articles.
func (c Config) ArticleTTL() time.Duration {
	return time.Duration(c.Cache.ArticleTTLHours) * time.Hour
}

// RetryBase converts the configured initial backoff into a duration.
func (c Config) RetryBase() time.Duration {
	return time.Duration(c.Pipeline.BackoffInitialMs) * time.Millisecond
}

// RetryMax converts the configured backoff ceiling into a duration.
func (c Config) RetryMax() time.Duration {
	return time.Duration(c.Pipeline.BackoffMaxMs) * time.Millisecond
}
