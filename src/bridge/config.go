package bridge

import (
	"os"
	"strconv"
	"strings"
)

// RedisConfig holds connection settings for the Redis pub/sub bridge.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`     // Redis address, default "localhost:6379"
	Password string   `yaml:"password"` // Redis password, default ""
	DB       int      `yaml:"db"`       // Redis database number, default 0
	Prefix   string   `yaml:"prefix"`   // Channel prefix, default "orchestra:sync:"
	Relay    []string `yaml:"relay"`    // Event kinds to relay; empty relays all
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "orchestra:sync:",
	}
}

// RedisConfigFromEnv loads Redis configuration from environment variables.
// Falls back to defaults for any missing values.
func RedisConfigFromEnv() *RedisConfig {
	return ApplyEnv(DefaultRedisConfig())
}

// ApplyEnv overrides cfg with any REDIS_* variables that are set and
// returns it.
func ApplyEnv(cfg *RedisConfig) *RedisConfig {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_SYNC_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	if relay := os.Getenv("REDIS_SYNC_RELAY"); relay != "" {
		cfg.Relay = strings.Split(relay, ",")
	}
	return cfg
}
