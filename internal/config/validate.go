package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}

	if c.WebSocket.MaxMessageSize < 1 {
		return errors.New("websocket.max_message_size must be >= 1")
	}
	if c.WebSocket.SendQueueSize < 1 {
		return errors.New("websocket.send_queue_size must be >= 1")
	}
	if c.WebSocket.PongWait <= 0 {
		return errors.New("websocket.pong_wait must be > 0")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return errors.New("websocket.ping_interval must be > 0 and shorter than pong_wait")
	}
	if c.WebSocket.WriteWait <= 0 {
		return errors.New("websocket.write_wait must be > 0")
	}
	if c.WebSocket.IdleTimeout < 0 {
		return errors.New("websocket.idle_timeout must be >= 0")
	}

	if c.RateLimit.Burst < 1 {
		return errors.New("rate_limit.burst must be >= 1")
	}
	if c.RateLimit.RefillInterval <= 0 {
		return errors.New("rate_limit.refill_interval must be > 0")
	}

	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("http.shutdown_timeout must be > 0")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", level)
	}
}
