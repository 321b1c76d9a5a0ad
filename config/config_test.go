package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
listen: ":9191"
sync:
  base_url: https://dashboard.example.com
  token: ${SYNC_TEST_TOKEN}
  reconnect_base_delay: 500ms
  reconnect_max_delay: 20s
  heartbeat_interval: 15s
connections:
  - id: events
    endpoint: /ws/events
    channels: [agents, tasks]
  - endpoint: /ws/metrics
redis:
  addr: redis:6379
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syncd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAndValidate(t *testing.T) {
	t.Setenv("SYNC_TEST_TOKEN", "s3cret")
	cfg, err := LoadAndValidate(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9191", cfg.Listen)
	assert.Equal(t, "https://dashboard.example.com", cfg.Sync.BaseURL)
	assert.Equal(t, "s3cret", cfg.Sync.Token)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.ReconnectBaseDelay)
	assert.Equal(t, 20*time.Second, cfg.Sync.ReconnectMaxDelay)
	assert.Equal(t, 15*time.Second, cfg.Sync.HeartbeatInterval)

	// Unset fields fall back to defaults.
	assert.Equal(t, 10, cfg.Sync.ReconnectMaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Sync.BatchInterval)
	assert.Equal(t, 2, cfg.Sync.PongTimeoutIntervals)

	require.Len(t, cfg.Connections, 2)
	assert.Equal(t, []string{"agents", "tasks"}, cfg.Connections[0].Channels)
	assert.Equal(t, "/ws/metrics", cfg.Connections[1].Endpoint)

	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "orchestra:sync:", cfg.Redis.Prefix)
}

func TestZeroMaxAttemptsUsesDefault(t *testing.T) {
	cfg, err := Parse([]byte("sync:\n  reconnect_max_attempts: 0\n"))
	require.NoError(t, err)
	cfg.applyDefaults()
	assert.Equal(t, 10, cfg.Sync.ReconnectMaxAttempts)
	assert.NoError(t, cfg.Validate())

	cfg, err = Parse([]byte("sync:\n  reconnect_max_attempts: 2\n"))
	require.NoError(t, err)
	cfg.applyDefaults()
	assert.Equal(t, 2, cfg.Sync.ReconnectMaxAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("listen: [unterminated"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Nil(t, cfg.Redis)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, *DefaultConfig(), cfg.Sync)
}

func TestSyncConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SyncConfig)
	}{
		{"bad scheme", func(c *SyncConfig) { c.BaseURL = "ftp://host" }},
		{"missing host", func(c *SyncConfig) { c.BaseURL = "http://" }},
		{"zero base delay", func(c *SyncConfig) { c.ReconnectBaseDelay = 0 }},
		{"max below base", func(c *SyncConfig) { c.ReconnectMaxDelay = c.ReconnectBaseDelay / 2 }},
		{"negative attempts", func(c *SyncConfig) { c.ReconnectMaxAttempts = -1 }},
		{"zero attempts", func(c *SyncConfig) { c.ReconnectMaxAttempts = 0 }},
		{"zero heartbeat", func(c *SyncConfig) { c.HeartbeatInterval = 0 }},
		{"zero pong intervals", func(c *SyncConfig) { c.PongTimeoutIntervals = 0 }},
		{"zero batch interval", func(c *SyncConfig) { c.BatchInterval = 0 }},
		{"zero send buffer", func(c *SyncConfig) { c.SendBufferSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	for _, base := range []string{"http://a", "https://a", "ws://a:1", "wss://a"} {
		cfg := DefaultConfig()
		cfg.BaseURL = base
		assert.NoError(t, cfg.Validate(), base)
	}
}

func TestDaemonConfigValidateConnections(t *testing.T) {
	cfg := Default()
	cfg.Connections = []ConnectionSpec{{ID: "a"}}
	assert.ErrorContains(t, cfg.Validate(), "endpoint is required")

	cfg.Connections = []ConnectionSpec{
		{Endpoint: "/ws/events"},
		{ID: "/ws/events", Endpoint: "/ws/other"},
	}
	assert.ErrorContains(t, cfg.Validate(), "duplicate id")
}
