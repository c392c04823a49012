// Package config loads the chat server settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

const envPrefix = "CHAT_"

type Config struct {
	TCPAddr     string `env:"TCP_ADDR" envDefault:":3000"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":3001"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":2112"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// SendQueueSize bounds the outbound frames buffered per connection.
	// A connection whose queue is full is treated as stalled and disconnected.
	SendQueueSize int           `env:"SEND_QUEUE_SIZE" envDefault:"256"`
	WriteTimeout  time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	PongWait      time.Duration `env:"PONG_WAIT" envDefault:"60s"`
	PingPeriod    time.Duration `env:"PING_PERIOD" envDefault:"20s"`
	MaxFrameBytes int64         `env:"MAX_FRAME_BYTES" envDefault:"8192"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// RedisAddr enables the cross-node relay when set.
	RedisAddr          string `env:"REDIS_ADDR"`
	RedisDB            int    `env:"REDIS_DB" envDefault:"0"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" envDefault:"chat"`

	NodeID string `env:"NODE_ID"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Load parses the CHAT_* environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("send queue size must be positive, got %d", c.SendQueueSize)
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("max frame bytes must be positive, got %d", c.MaxFrameBytes)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping period %s must be shorter than pong wait %s", c.PingPeriod, c.PongWait)
	}
	return nil
}

// RelayEnabled reports whether frames should be shared with other nodes.
func (c Config) RelayEnabled() bool { return c.RedisAddr != "" }
