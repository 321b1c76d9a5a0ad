package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks the sync client settings.
func (c *SyncConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("base_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("base_url: missing host")
	}
	if c.ReconnectBaseDelay <= 0 {
		return errors.New("reconnect_base_delay must be positive")
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return errors.New("reconnect_max_delay must be >= reconnect_base_delay")
	}
	if c.ReconnectMaxAttempts < 1 {
		return errors.New("reconnect_max_attempts must be >= 1")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat_interval must be positive")
	}
	if c.PongTimeoutIntervals < 1 {
		return errors.New("pong_timeout_intervals must be >= 1")
	}
	if c.BatchInterval <= 0 {
		return errors.New("batch_interval must be positive")
	}
	if c.SendBufferSize <= 0 {
		return errors.New("send_buffer_size must be positive")
	}
	return nil
}

// Validate checks the daemon config, including every connection spec.
func (c *DaemonConfig) Validate() error {
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	seen := make(map[string]bool, len(c.Connections))
	for i, spec := range c.Connections {
		if spec.Endpoint == "" {
			return fmt.Errorf("connections[%d]: endpoint is required", i)
		}
		id := spec.ID
		if id == "" {
			id = spec.Endpoint
		}
		if seen[id] {
			return fmt.Errorf("connections[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
	}
	return nil
}
