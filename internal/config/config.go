// Package config defines the relay's runtime settings: defaults, an optional
// YAML file, environment overrides and validation.
package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr             = ":8000"
	DefaultMaxMessageSize   = 4096
	DefaultSendQueueSize    = 256
	DefaultRateLimitBurst   = 5
	DefaultRateLimitRefill  = time.Second
	DefaultPingInterval     = 54 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultHTTPReadTimeout  = 15 * time.Second
	DefaultHTTPWriteTimeout = 15 * time.Second
	DefaultHTTPIdleTimeout  = 60 * time.Second
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// DefaultAllowedOrigins are the local development frontends.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

// RateLimitConfig defines per-session message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// WebSocketConfig controls per-connection transport behavior.
type WebSocketConfig struct {
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendQueueSize  int           `yaml:"send_queue_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
	// IdleTimeout closes a connection that sends no frame for this long.
	// Zero disables it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// HTTPConfig holds listener timeouts.
type HTTPConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the server configuration.
type Config struct {
	Addr           string          `yaml:"addr"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	WebSocket      WebSocketConfig `yaml:"websocket"`
	HTTP           HTTPConfig      `yaml:"http"`
	Log            LogConfig       `yaml:"log"`
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}

	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}
	if c.RateLimit.RefillInterval == 0 {
		c.RateLimit.RefillInterval = DefaultRateLimitRefill
	}

	if c.WebSocket.MaxMessageSize == 0 {
		c.WebSocket.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.WebSocket.SendQueueSize == 0 {
		c.WebSocket.SendQueueSize = DefaultSendQueueSize
	}
	if c.WebSocket.PingInterval == 0 {
		c.WebSocket.PingInterval = DefaultPingInterval
	}
	if c.WebSocket.PongWait == 0 {
		c.WebSocket.PongWait = DefaultPongWait
	}
	if c.WebSocket.WriteWait == 0 {
		c.WebSocket.WriteWait = DefaultWriteWait
	}

	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = DefaultHTTPReadTimeout
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = DefaultHTTPWriteTimeout
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = DefaultHTTPIdleTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
