package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessionsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() *Config {
	v := New("")
	v.Set("host.url", "http://host:3000")
	v.Set("host.token", "secret")
	cfg, err := Decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, _, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 15*time.Second, cfg.Host.ListTimeout)
	assert.Equal(t, 10*time.Second, cfg.Host.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Host.ProbeTimeout)
	assert.Equal(t, 3, cfg.Host.RetryAttempts)
	assert.Equal(t, 60*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Reconcile.CycleTimeout)
	assert.Equal(t, 5, cfg.Reconcile.Workers)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Empty(t, cfg.Webhooks.URLs)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  json: true
host:
  url: http://whatsapp-host:3000
  token: abc
  request_timeout: 3s
store:
  dsn: sqlite:///tmp/sessionsync.db
reconcile:
  interval: 30s
  workers: 2
  default_owner_id: tenant-default
webhooks:
  urls:
    - https://crm.example.com/hooks
`)

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "http://whatsapp-host:3000", cfg.Host.URL)
	assert.Equal(t, 3*time.Second, cfg.Host.RequestTimeout)
	assert.Equal(t, 15*time.Second, cfg.Host.ListTimeout, "unset keys keep defaults")
	assert.Equal(t, "sqlite:///tmp/sessionsync.db", cfg.Store.DSN)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 2, cfg.Reconcile.Workers)
	assert.Equal(t, "tenant-default", cfg.Reconcile.DefaultOwnerID)
	assert.Equal(t, []string{"https://crm.example.com/hooks"}, cfg.Webhooks.URLs)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
host:
  url: http://from-file:3000
`)
	t.Setenv("SESSIONSYNC_HOST_URL", "http://from-env:3000")
	t.Setenv("SESSIONSYNC_HOST_TOKEN", "env-token")
	t.Setenv("SESSIONSYNC_RECONCILE_INTERVAL", "45s")
	t.Setenv("SESSIONSYNC_WEBHOOKS_URLS", "https://a.example.com, https://b.example.com")

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:3000", cfg.Host.URL)
	assert.Equal(t, "env-token", cfg.Host.Token)
	assert.Equal(t, 45*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Webhooks.URLs)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing host url", mutate: func(c *Config) { c.Host.URL = "" }, field: "host.url"},
		{name: "missing token", mutate: func(c *Config) { c.Host.Token = " " }, field: "host.token"},
		{name: "missing dsn", mutate: func(c *Config) { c.Store.DSN = "" }, field: "store.dsn"},
		{name: "zero interval", mutate: func(c *Config) { c.Reconcile.Interval = 0 }, field: "reconcile.interval"},
		{name: "zero probe timeout", mutate: func(c *Config) { c.Host.ProbeTimeout = 0 }, field: "host.probe_timeout"},
		{name: "zero workers", mutate: func(c *Config) { c.Reconcile.Workers = 0 }, field: "reconcile.workers"},
		{name: "zero attempts", mutate: func(c *Config) { c.Host.RetryAttempts = 0 }, field: "host.retry_attempts"},
		{name: "negative rate", mutate: func(c *Config) { c.Host.RateLimit = -1 }, field: "host.rate_limit"},
		{name: "negative reconnect delay", mutate: func(c *Config) { c.Reconcile.ReconnectDelay = -time.Second }, field: "reconcile.reconnect_delay"},
		{name: "unknown log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, field: "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrConfiguration)
			var cfgErr *types.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestWatchReloads(t *testing.T) {
	path := writeConfig(t, `
host:
  url: http://host:3000
  token: abc
reconcile:
  interval: 30s
`)
	_, v, err := Load(path)
	require.NoError(t, err)

	var interval atomic.Int64
	Watch(v, func(cfg *Config) {
		interval.Store(int64(cfg.Reconcile.Interval))
	}, nil)

	require.NoError(t, os.WriteFile(path, []byte(`
host:
  url: http://host:3000
  token: abc
reconcile:
  interval: 90s
`), 0o600))

	assert.Eventually(t, func() bool {
		return time.Duration(interval.Load()) == 90*time.Second
	}, 5*time.Second, 20*time.Millisecond)
}
