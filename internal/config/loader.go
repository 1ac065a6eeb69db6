package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file and expands ${VAR} environment references.
// Fields missing from the file are left zero; see LoadAndValidate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return &cfg, nil
}

// LoadAndValidate builds the effective configuration: the file at path
// (if any), then environment overrides, then defaults for anything still
// unset, then validation.
func LoadAndValidate(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	ApplyEnv(cfg, os.LookupEnv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any of the supported environment variables
// that lookup reports as set. Unparseable values are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if port, ok := get("SERVER_PORT"); ok {
		cfg.Addr = normalizeAddr(port)
	}
	if origins, ok := get("ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if v, ok := get("MAX_MESSAGE_SIZE"); ok {
		cfg.WebSocket.MaxMessageSize = parseInt64(v, cfg.WebSocket.MaxMessageSize)
	}
	if v, ok := get("SEND_QUEUE_SIZE"); ok {
		cfg.WebSocket.SendQueueSize = parseInt(v, cfg.WebSocket.SendQueueSize)
	}
	if v, ok := get("IDLE_TIMEOUT"); ok {
		cfg.WebSocket.IdleTimeout = parseDuration(v, cfg.WebSocket.IdleTimeout)
	}
	if v, ok := get("RATE_LIMIT_BURST"); ok {
		cfg.RateLimit.Burst = parseInt(v, cfg.RateLimit.Burst)
	}
	if v, ok := get("RATE_LIMIT_REFILL_INTERVAL"); ok {
		cfg.RateLimit.RefillInterval = parseDuration(v, cfg.RateLimit.RefillInterval)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, ok := get("LOG_FORMAT"); ok {
		cfg.Log.Format = strings.ToLower(v)
	}
}

func normalizeAddr(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64(value string, defaultValue int64) int64 {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func parseInt(value string, defaultValue int) int {
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

// parseDuration accepts a Go duration ("1500ms") or whole seconds ("2").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	return defaultValue
}
