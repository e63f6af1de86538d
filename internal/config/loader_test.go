package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	// the written file must load back to the same values
	again, _, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	file := []byte(`
log_level: debug
relay:
  addr: ":9000"
  sweep_interval: 1m
client:
  storage:
    driver: redis
`)
	require.NoError(t, os.WriteFile(path, file, 0o600))

	t.Setenv("SANCTUARY_RELAY_ADDR", ":9100")
	t.Setenv("SANCTUARY_CLIENT_CACHE_TTL", "2h")

	cfg, _, err := Load(nil, path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "file overrides default")
	assert.Equal(t, ":9100", cfg.Relay.Addr, "env overrides file")
	assert.Equal(t, time.Minute, cfg.Relay.SweepInterval)
	assert.Equal(t, "redis", cfg.Client.Storage.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Client.CacheTTL, "env reaches nested keys")
	assert.Equal(t, Default().Client.APIURL, cfg.Client.APIURL, "untouched keys keep defaults")
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{
		Relay:  RelayConfig{Addr: ":1"},
		Client: ClientConfig{Alias: "moth", Storage: StorageConfig{Driver: "memory"}},
	})

	assert.Equal(t, ":1", cfg.Relay.Addr)
	assert.Equal(t, "moth", cfg.Client.Alias)
	assert.Equal(t, "memory", cfg.Client.Storage.Driver)
	assert.Equal(t, Default().Relay.DatabasePath, cfg.Relay.DatabasePath)
}
