// Package config handles configuration loading from environment variables and .env files.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gravito-framework/connectty-go/pkg/probes"
	"github.com/gravito-framework/connectty-go/pkg/probes/speed"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the Connectty agent
type Config struct {
	// Node identification (defaults to hostname)
	Name string

	// Sampling
	Interval         time.Duration // Time between cycles (default: 10s)
	ProbeTimeout     time.Duration // Budget for introspection probes (default: 2s)
	LookupTimeout    time.Duration // Budget for the global address lookup (default: 5s)
	SpeedTest        bool          // Run the bandwidth test each cycle
	SpeedTestTimeout time.Duration // Budget for the bandwidth test (default: 45s)
	SeriesCapacity   int           // Points kept per series, 0 = unbounded (default: 10000)
	Probes           []string      // Probes to run, empty = all

	// Probe sources
	GlobalIPURL string
	ResolvConf  string

	// Outputs
	HTTPAddr       string        // Address for the HTTP/websocket API
	AllowedOrigins []string      // Websocket origins, empty = any
	RedisURL       string        // Redis for snapshot publishing and remote control, empty = disabled
	SnapshotTTL    time.Duration // Expiry of the published snapshot key (default: 3 × interval)

	// Logging
	LogLevel  string
	LogFormat string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Interval:         10 * time.Second,
		ProbeTimeout:     2 * time.Second,
		LookupTimeout:    5 * time.Second,
		SpeedTest:        true,
		SpeedTestTimeout: 45 * time.Second,
		SeriesCapacity:   10000,
		Probes:           []string{},
		GlobalIPURL:      "https://api.ipify.org",
		ResolvConf:       "/etc/resolv.conf",
		HTTPAddr:         ":8080",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load creates a Config from the environment, after loading an optional .env file
func Load() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if v := os.Getenv("CONNECTTY_NAME"); v != "" {
		cfg.Name = v
	}

	if d, ok := seconds("CONNECTTY_INTERVAL"); ok {
		cfg.Interval = d
	}
	if d, ok := seconds("CONNECTTY_PROBE_TIMEOUT"); ok {
		cfg.ProbeTimeout = d
	}
	if d, ok := seconds("CONNECTTY_LOOKUP_TIMEOUT"); ok {
		cfg.LookupTimeout = d
	}
	if d, ok := seconds("CONNECTTY_SPEEDTEST_TIMEOUT"); ok {
		cfg.SpeedTestTimeout = d
	}
	if d, ok := seconds("CONNECTTY_SNAPSHOT_TTL"); ok {
		cfg.SnapshotTTL = d
	}

	if v := os.Getenv("CONNECTTY_SPEEDTEST"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SpeedTest = b
		}
	}

	if v := os.Getenv("CONNECTTY_SERIES_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SeriesCapacity = n
		}
	}

	// Probe selection (comma-separated): CONNECTTY_PROBES=traffic,active_connections
	if v := os.Getenv("CONNECTTY_PROBES"); v != "" {
		cfg.Probes = ParseList(v)
	}

	if v := os.Getenv("CONNECTTY_GLOBAL_IP_URL"); v != "" {
		cfg.GlobalIPURL = v
	}
	if v := os.Getenv("CONNECTTY_RESOLV_CONF"); v != "" {
		cfg.ResolvConf = v
	}
	if v := os.Getenv("CONNECTTY_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("CONNECTTY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = ParseList(v)
	}

	if v := os.Getenv("CONNECTTY_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		// Common convention
		cfg.RedisURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	return cfg
}

// seconds reads a whole number of seconds from an env variable
func seconds(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// ParseList splits a comma-separated list, dropping empty entries
func ParseList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// EffectiveSnapshotTTL returns the configured TTL or three intervals
func (c *Config) EffectiveSnapshotTTL() time.Duration {
	if c.SnapshotTTL > 0 {
		return c.SnapshotTTL
	}
	return 3 * c.Interval
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return &ConfigError{Field: "Interval", Message: "interval must be positive (set CONNECTTY_INTERVAL)"}
	}
	if c.ProbeTimeout <= 0 {
		return &ConfigError{Field: "ProbeTimeout", Message: "probe timeout must be positive"}
	}
	if c.LookupTimeout <= 0 {
		return &ConfigError{Field: "LookupTimeout", Message: "lookup timeout must be positive"}
	}
	if c.SpeedTest && c.SpeedTestTimeout <= 0 {
		return &ConfigError{Field: "SpeedTestTimeout", Message: "speed test timeout must be positive"}
	}
	if c.SeriesCapacity < 0 {
		return &ConfigError{Field: "SeriesCapacity", Message: "series capacity cannot be negative"}
	}
	for _, name := range c.Probes {
		if !KnownProbe(name) {
			return &ConfigError{Field: "Probes", Message: "unknown probe " + name}
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return &ConfigError{Field: "LogFormat", Message: "log format must be text or json"}
	}
	return nil
}

// KnownProbe reports whether name can be selected in CONNECTTY_PROBES
func KnownProbe(name string) bool {
	if name == speed.Key {
		return true
	}
	for _, n := range probes.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Wants reports whether the probe is selected. An empty selection means all.
func (c *Config) Wants(name string) bool {
	if len(c.Probes) == 0 {
		return true
	}
	for _, n := range c.Probes {
		if n == name {
			return true
		}
	}
	return false
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}
