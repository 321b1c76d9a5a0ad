package config

import "time"

// SyncConfig holds realtime sync client configuration.
type SyncConfig struct {
	// BaseURL is the origin the dashboard is served from. The WebSocket
	// scheme mirrors it: http -> ws, https -> wss.
	BaseURL string `json:"base_url" yaml:"base_url"`
	// Token is sent as a bearer credential on the upgrade request.
	Token string `json:"-" yaml:"token"`

	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout" yaml:"write_timeout"`

	ReconnectBaseDelay   time.Duration `json:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `json:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	// ReconnectMaxAttempts is the retry ceiling before a connection is
	// marked failed. Zero selects the default of 10.
	ReconnectMaxAttempts int           `json:"reconnect_max_attempts" yaml:"reconnect_max_attempts"`

	HeartbeatInterval    time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	PongTimeoutIntervals int           `json:"pong_timeout_intervals" yaml:"pong_timeout_intervals"`

	BatchInterval  time.Duration `json:"batch_interval" yaml:"batch_interval"`
	SendBufferSize int           `json:"send_buffer_size" yaml:"send_buffer_size"`
	ReadLimit      int64         `json:"read_limit" yaml:"read_limit"`
}

// DefaultConfig returns the default sync client configuration.
func DefaultConfig() *SyncConfig {
	return &SyncConfig{
		BaseURL:              "http://localhost:8080",
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectMaxAttempts: 10,
		HeartbeatInterval:    30 * time.Second,
		PongTimeoutIntervals: 2,
		BatchInterval:        100 * time.Millisecond,
		SendBufferSize:       256,
		ReadLimit:            1 << 20,
	}
}

// applyDefaults fills zero-valued fields from DefaultConfig.
func (c *SyncConfig) applyDefaults() {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = d.ReconnectMaxDelay
	}
	if c.ReconnectMaxAttempts == 0 {
		c.ReconnectMaxAttempts = d.ReconnectMaxAttempts
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PongTimeoutIntervals == 0 {
		c.PongTimeoutIntervals = d.PongTimeoutIntervals
	}
	if c.BatchInterval == 0 {
		c.BatchInterval = d.BatchInterval
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = d.ReadLimit
	}
}
