package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	configName = "sessionsync"
	envPrefix  = "SESSIONSYNC"
)

// Config is the complete service configuration
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Host      HostConfig      `mapstructure:"host"`
	Store     StoreConfig     `mapstructure:"store"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	API       APIConfig       `mapstructure:"api"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// HostConfig locates and authenticates the session host
type HostConfig struct {
	URL            string        `mapstructure:"url"`
	Token          string        `mapstructure:"token"`
	ListTimeout    time.Duration `mapstructure:"list_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ReconcileConfig tunes the reconciliation loop
type ReconcileConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	CycleTimeout   time.Duration `mapstructure:"cycle_timeout"`
	Workers        int           `mapstructure:"workers"`
	DefaultOwnerID string        `mapstructure:"default_owner_id"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	RetryDegraded  bool          `mapstructure:"retry_degraded"`
}

// APIConfig configures the HTTP server
type APIConfig struct {
	Addr          string        `mapstructure:"addr"`
	Token         string        `mapstructure:"token"`
	PublicURL     string        `mapstructure:"public_url"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	MaxSkew       time.Duration `mapstructure:"max_skew"`
}

// WebhooksConfig configures outbound event delivery
type WebhooksConfig struct {
	URLs    []string      `mapstructure:"urls"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers every key with its default so environment
// variables can override keys missing from the file
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("host.url", "")
	v.SetDefault("host.token", "")
	v.SetDefault("host.list_timeout", 15*time.Second)
	v.SetDefault("host.request_timeout", 10*time.Second)
	v.SetDefault("host.probe_timeout", 5*time.Second)
	v.SetDefault("host.retry_attempts", 3)
	v.SetDefault("host.retry_base_delay", time.Second)
	v.SetDefault("host.retry_max_delay", 30*time.Second)
	v.SetDefault("host.rate_limit", 0)
	v.SetDefault("host.burst", 5)

	v.SetDefault("store.dsn", "bolt:///var/lib/sessionsync/sessionsync.db")

	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.interval", 60*time.Second)
	v.SetDefault("reconcile.cycle_timeout", 2*time.Minute)
	v.SetDefault("reconcile.workers", 5)
	v.SetDefault("reconcile.default_owner_id", "")
	v.SetDefault("reconcile.reconnect_delay", 2*time.Second)
	v.SetDefault("reconcile.retry_degraded", false)

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.token", "")
	v.SetDefault("api.public_url", "")
	v.SetDefault("api.webhook_secret", "")
	v.SetDefault("api.max_body_bytes", 1<<20)
	v.SetDefault("api.max_skew", 5*time.Minute)

	v.SetDefault("webhooks.urls", []string{})
	v.SetDefault("webhooks.secret", "")
	v.SetDefault("webhooks.timeout", 10*time.Second)
}

// New returns a viper instance reading path, or sessionsync.{yaml,toml,json}
// from the working directory, $HOME/.sessionsync and /etc/sessionsync when
// path is empty. SESSIONSYNC_* variables override file values.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sessionsync"))
		}
		v.AddConfigPath("/etc/sessionsync")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from path (optional) and the environment. A
// missing default config file is not an error; a missing explicit path is.
func Load(path string) (*Config, *viper.Viper, error) {
	v := New(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config file: %w", err)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode unmarshals the current viper state
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Webhooks.URLs = compact(cfg.Webhooks.URLs)
	return &cfg, nil
}

// Validate reports the first missing or invalid setting as a
// types.ConfigurationError
func (c *Config) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"host.url", c.Host.URL},
		{"host.token", c.Host.Token},
		{"store.dsn", c.Store.DSN},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &types.ConfigurationError{Field: r.field, Reason: "must be set"}
		}
	}

	positive := []struct {
		field string
		value time.Duration
	}{
		{"host.list_timeout", c.Host.ListTimeout},
		{"host.request_timeout", c.Host.RequestTimeout},
		{"host.probe_timeout", c.Host.ProbeTimeout},
		{"host.retry_base_delay", c.Host.RetryBaseDelay},
		{"reconcile.interval", c.Reconcile.Interval},
		{"reconcile.cycle_timeout", c.Reconcile.CycleTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return &types.ConfigurationError{Field: p.field, Reason: "must be positive"}
		}
	}

	switch {
	case c.Host.RetryAttempts <= 0:
		return &types.ConfigurationError{Field: "host.retry_attempts", Reason: "must be positive"}
	case c.Host.RateLimit < 0:
		return &types.ConfigurationError{Field: "host.rate_limit", Reason: "must not be negative"}
	case c.Reconcile.Workers <= 0:
		return &types.ConfigurationError{Field: "reconcile.workers", Reason: "must be positive"}
	case c.Reconcile.ReconnectDelay < 0:
		return &types.ConfigurationError{Field: "reconcile.reconnect_delay", Reason: "must not be negative"}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &types.ConfigurationError{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	return nil
}

// Watch calls onChange with the re-decoded config whenever the config file
// changes. Invalid edits are passed to onError and otherwise ignored.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	v.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", event.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
