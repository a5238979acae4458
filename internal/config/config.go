// Package config loads and validates stockbot configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Checker  CheckerConfig  `mapstructure:"checker"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Store    StoreConfig    `mapstructure:"store"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CheckerConfig governs the scheduler and monitor cycle.
type CheckerConfig struct {
	IntervalMinutes     int    `mapstructure:"interval_minutes"`
	InitialDelaySeconds int    `mapstructure:"initial_delay_seconds"`
	PacingSeconds       int    `mapstructure:"pacing_seconds"`
	DefaultPincode      string `mapstructure:"default_pincode"`
	SiteHost            string `mapstructure:"site_host"`
	PathMarker          string `mapstructure:"path_marker"`
}

// ProbeConfig configures page rendering.
type ProbeConfig struct {
	Renderer          string `mapstructure:"renderer"`
	UserAgent         string `mapstructure:"user_agent"`
	ViewportWidth     int    `mapstructure:"viewport_width"`
	ViewportHeight    int    `mapstructure:"viewport_height"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	HydrationWaitMs   int    `mapstructure:"hydration_wait_ms"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// StoreConfig selects and configures the product store backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	RedisURL string         `mapstructure:"redis_url"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
}

// NotifyConfig selects notification sinks.
type NotifyConfig struct {
	Backends   []string `mapstructure:"backends"`
	Mode       string   `mapstructure:"mode"`
	ChannelID  int64    `mapstructure:"channel_id"`
	QueueDepth int      `mapstructure:"queue_depth"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SnapshotConfig controls where unclassifiable pages are saved.
type SnapshotConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// TelegramConfig configures the bot used for commands and notifications.
type TelegramConfig struct {
	Token           string `mapstructure:"token"`
	CommandsEnabled bool   `mapstructure:"commands_enabled"`
	// APIEndpoint is a format string taking the token and method name.
	APIEndpoint     string `mapstructure:"api_endpoint"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKBOT")
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
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout_seconds", 90)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("checker.interval_minutes", 5)
	v.SetDefault("checker.initial_delay_seconds", 10)
	v.SetDefault("checker.pacing_seconds", 2)
	v.SetDefault("checker.default_pincode", "110001")
	v.SetDefault("checker.site_host", "shop.amul.com")
	v.SetDefault("checker.path_marker", "/product/")
	v.SetDefault("probe.renderer", "headless")
	v.SetDefault("probe.user_agent", "")
	v.SetDefault("probe.viewport_width", 1280)
	v.SetDefault("probe.viewport_height", 800)
	v.SetDefault("probe.nav_timeout_seconds", 30)
	v.SetDefault("probe.hydration_wait_ms", 3000)
	v.SetDefault("probe.max_parallel", 2)
	v.SetDefault("probe.timeout_seconds", 45)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("store.postgres.migrate", true)
	v.SetDefault("notify.backends", []string{"log"})
	v.SetDefault("notify.mode", "dm")
	v.SetDefault("notify.channel_id", 0)
	v.SetDefault("notify.queue_depth", 64)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("snapshot.backend", "none")
	v.SetDefault("snapshot.base_dir", "data/snapshots")
	v.SetDefault("snapshot.bucket", "")
	v.SetDefault("snapshot.prefix", "snapshots")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.commands_enabled", true)
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Checker.IntervalMinutes <= 0 {
		return fmt.Errorf("checker.interval_minutes must be > 0")
	}
	if c.Checker.PacingSeconds < 0 {
		return fmt.Errorf("checker.pacing_seconds must be >= 0")
	}
	switch c.Probe.Renderer {
	case "headless", "static":
	default:
		return fmt.Errorf("probe.renderer must be headless or static, got %q", c.Probe.Renderer)
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url must be set for the redis backend")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory, redis or postgres, got %q", c.Store.Backend)
	}
	for _, b := range c.Notify.Backends {
		switch b {
		case "log":
		case "telegram":
			if c.Telegram.Token == "" {
				return fmt.Errorf("telegram.token must be set for the telegram notifier")
			}
		case "pubsub":
			if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
				return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set for the pubsub notifier")
			}
		default:
			return fmt.Errorf("unknown notify backend %q", b)
		}
	}
	if c.Notify.Mode != "dm" && c.Notify.Mode != "channel" {
		return fmt.Errorf("notify.mode must be dm or channel, got %q", c.Notify.Mode)
	}
	if c.Notify.Mode == "channel" && c.Notify.ChannelID == 0 && c.NotifiesVia("telegram") {
		return fmt.Errorf("notify.channel_id must be set in channel mode")
	}
	switch c.Snapshot.Backend {
	case "none", "":
	case "local":
		if c.Snapshot.BaseDir == "" {
			return fmt.Errorf("snapshot.base_dir must be set for local snapshots")
		}
	case "gcs":
		if c.Snapshot.Bucket == "" {
			return fmt.Errorf("snapshot.bucket must be set for gcs snapshots")
		}
	default:
		return fmt.Errorf("snapshot.backend must be none, local or gcs, got %q", c.Snapshot.Backend)
	}
	return nil
}

// NotifiesVia reports whether backend is among the configured notifiers.
func (c Config) NotifiesVia(backend string) bool {
	return slices.Contains(c.Notify.Backends, backend)
}

// CheckInterval is the period between scheduled cycles.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.Checker.IntervalMinutes) * time.Minute
}

// InitialDelay is the wait before the first cycle after startup.
func (c Config) InitialDelay() time.Duration {
	return time.Duration(c.Checker.InitialDelaySeconds) * time.Second
}

// Pacing is the minimum gap between requests to the monitored site.
func (c Config) Pacing() time.Duration {
	return time.Duration(c.Checker.PacingSeconds) * time.Second
}
