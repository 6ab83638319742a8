// Package config loads and validates crawler configuration via Viper.
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
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Rotation RotationConfig `mapstructure:"rotation"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
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

// CrawlerConfig governs dispatcher and crawl session behavior.
type CrawlerConfig struct {
	Concurrency          int    `mapstructure:"concurrency"`
	QueueDepth           int    `mapstructure:"queue_depth"`
	MaxResultsDefault    int    `mapstructure:"max_results_default"`
	MaxResultsCap        int    `mapstructure:"max_results_cap"`
	DetailMaxRetries     int    `mapstructure:"detail_max_retries"`
	BackoffBaseSeconds   int    `mapstructure:"backoff_base_seconds"`
	MinDelayMs           int    `mapstructure:"min_delay_ms"`
	MaxDelayMs           int    `mapstructure:"max_delay_ms"`
	SessionBudgetSeconds int    `mapstructure:"session_budget_seconds"`
	SessionMaxRetries    int    `mapstructure:"session_max_retries"`
	ScrollMaxRounds      int    `mapstructure:"scroll_max_rounds"`
	SearchBaseURL        string `mapstructure:"search_base_url"`
}

// BrowserConfig configures the headless browsing subsystem.
type BrowserConfig struct {
	Headless          bool `mapstructure:"headless"`
	NavTimeoutSec     int  `mapstructure:"nav_timeout_seconds"`
	MaxNavPerSecond   int  `mapstructure:"max_nav_per_second"`
	WindowWidth       int  `mapstructure:"window_width"`
	WindowHeight      int  `mapstructure:"window_height"`
	ScrollPauseMs     int  `mapstructure:"scroll_pause_ms"`
	DisableGPU        bool `mapstructure:"disable_gpu"`
	NoSandbox         bool `mapstructure:"no_sandbox"`
	SuppressImages    bool `mapstructure:"suppress_images"`
	RestartOnRotation bool `mapstructure:"restart_on_rotation"`
}

// RotationConfig lists proxies and user agents for identity rotation.
type RotationConfig struct {
	Proxies        []string `mapstructure:"proxies"`
	UserAgents     []string `mapstructure:"user_agents"`
	ProxiesFile    string   `mapstructure:"proxies_file"`
	UserAgentsFile string   `mapstructure:"user_agents_file"`
}

// DBConfig controls access to the business record store.
type DBConfig struct {
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MinOpenConns    int    `mapstructure:"min_open_conns"`
	ConnLifetimeSec int    `mapstructure:"conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADCRAWLER")
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
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.max_results_default", 20)
	v.SetDefault("crawler.max_results_cap", 200)
	v.SetDefault("crawler.detail_max_retries", 3)
	v.SetDefault("crawler.backoff_base_seconds", 2)
	v.SetDefault("crawler.min_delay_ms", 1000)
	v.SetDefault("crawler.max_delay_ms", 3000)
	v.SetDefault("crawler.session_budget_seconds", 900)
	v.SetDefault("crawler.session_max_retries", 3)
	v.SetDefault("crawler.scroll_max_rounds", 30)
	v.SetDefault("crawler.search_base_url", "https://www.google.com")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 25)
	v.SetDefault("browser.max_nav_per_second", 1)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.scroll_pause_ms", 1500)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.suppress_images", true)
	v.SetDefault("browser.restart_on_rotation", true)
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.table", "businesses")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("db.min_open_conns", 1)
	v.SetDefault("db.conn_lifetime_seconds", 1800)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "crawl-events")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxResultsCap <= 0 {
		return fmt.Errorf("crawler.max_results_cap must be > 0")
	}
	if c.Crawler.MaxResultsDefault <= 0 || c.Crawler.MaxResultsDefault > c.Crawler.MaxResultsCap {
		return fmt.Errorf("crawler.max_results_default must be in 1..%d", c.Crawler.MaxResultsCap)
	}
	if c.Crawler.DetailMaxRetries <= 0 {
		return fmt.Errorf("crawler.detail_max_retries must be > 0")
	}
	if c.Crawler.MinDelayMs < 0 || c.Crawler.MaxDelayMs < c.Crawler.MinDelayMs {
		return fmt.Errorf("crawler delay window is invalid: min=%d max=%d", c.Crawler.MinDelayMs, c.Crawler.MaxDelayMs)
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.driver is postgres")
		}
	default:
		return fmt.Errorf("db.driver must be memory or postgres, got %q", c.DB.Driver)
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// SessionBudget returns the wall-clock budget for one crawl session.
func (c Config) SessionBudget() time.Duration {
	return time.Duration(c.Crawler.SessionBudgetSeconds) * time.Second
}

// NavTimeout returns the per-navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}

// DelayWindow returns the politeness delay bounds.
func (c Config) DelayWindow() (time.Duration, time.Duration) {
	return time.Duration(c.Crawler.MinDelayMs) * time.Millisecond,
		time.Duration(c.Crawler.MaxDelayMs) * time.Millisecond
}

// BackoffBase returns the base unit for the linear detail-retry backoff.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Crawler.BackoffBaseSeconds) * time.Second
}
