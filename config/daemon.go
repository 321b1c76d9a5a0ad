package config

import "github.com/orchestra-mcp/realtime/src/bridge"

// DaemonConfig is the root configuration of the syncd process.
type DaemonConfig struct {
	Listen      string              `yaml:"listen"`
	Sync        SyncConfig          `yaml:"sync"`
	Connections []ConnectionSpec    `yaml:"connections"`
	Redis       *bridge.RedisConfig `yaml:"redis"`
}

// ConnectionSpec describes one connection opened at startup.
type ConnectionSpec struct {
	ID       string   `yaml:"id"`
	Endpoint string   `yaml:"endpoint"`
	Channels []string `yaml:"channels"`
}

func (c *DaemonConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":9090"
	}
	c.Sync.applyDefaults()
	if c.Redis != nil {
		d := bridge.DefaultRedisConfig()
		if c.Redis.Addr == "" {
			c.Redis.Addr = d.Addr
		}
		if c.Redis.Prefix == "" {
			c.Redis.Prefix = d.Prefix
		}
	}
}
