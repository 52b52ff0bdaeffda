// Package config manages ldapdecode configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete ldapdecode configuration.
type Config struct {
	Capture CaptureConfig `koanf:"capture"`
	Filter  FilterConfig  `koanf:"filter"`
	Flow    FlowConfig    `koanf:"flow"`
	Sink    SinkConfig    `koanf:"sink"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

// CaptureConfig describes what capture files to decode.
type CaptureConfig struct {
	// Paths is the list of capture file paths to decode, each as its own
	// independent decode run (spec.md ss4.9).
	Paths []string `koanf:"paths"`

	// Concurrency bounds how many capture files are decoded at once when
	// multiple paths are given.
	Concurrency int `koanf:"concurrency"`
}

// FilterConfig holds the optional server-endpoint filter (spec.md ss4.9
// step 5): a packet is processed only if the filter's address and/or
// port match either side of the TCP flow.
type FilterConfig struct {
	// ServerAddr, if set, must match src_ip or dst_ip.
	ServerAddr string `koanf:"server_addr"`

	// ServerPort, if nonzero, must match src_port or dst_port.
	ServerPort uint16 `koanf:"server_port"`
}

// ServerAddrValue parses ServerAddr, returning the zero Addr (which
// never matches) if unset.
func (fc FilterConfig) ServerAddrValue() (netip.Addr, error) {
	if fc.ServerAddr == "" {
		return netip.Addr{}, nil
	}
	addr, err := netip.ParseAddr(fc.ServerAddr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse filter.server_addr %q: %w", fc.ServerAddr, err)
	}
	return addr, nil
}

// FlowConfig tunes the FlowAssembler's idle-flow eviction (spec.md ss5).
type FlowConfig struct {
	// MaxIdleFlows caps the number of concurrently buffered flows via
	// LRU eviction. Zero disables eviction.
	MaxIdleFlows int `koanf:"max_idle_flows"`
}

// SinkConfig configures the reference MessageSink renderer.
type SinkConfig struct {
	// Color enables ANSI-colorized per-message output.
	Color bool `koanf:"color"`

	// Summary enables the end-of-run tabular summary.
	Summary bool `koanf:"summary"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			Concurrency: 1,
		},
		Flow: FlowConfig{
			MaxIdleFlows: 4096,
		},
		Sink: SinkConfig{
			Color:   true,
			Summary: true,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for ldapdecode configuration.
// Variables are named LDAPDECODE_<section>_<key>, e.g., LDAPDECODE_LOG_LEVEL.
const envPrefix = "LDAPDECODE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (LDAPDECODE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	LDAPDECODE_METRICS_ADDR       -> metrics.addr
//	LDAPDECODE_METRICS_PATH       -> metrics.path
//	LDAPDECODE_LOG_LEVEL          -> log.level
//	LDAPDECODE_LOG_FORMAT         -> log.format
//	LDAPDECODE_FILTER_SERVER_ADDR -> filter.server_addr
//	LDAPDECODE_FILTER_SERVER_PORT -> filter.server_port
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms LDAPDECODE_FILTER_SERVER_ADDR -> filter.server_addr:
// only the first underscore (the section/field separator) becomes a dot, so
// field names that contain underscores stay intact.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"capture.concurrency": defaults.Capture.Concurrency,
		"flow.max_idle_flows": defaults.Flow.MaxIdleFlows,
		"sink.color":          defaults.Sink.Color,
		"sink.summary":        defaults.Sink.Summary,
		"metrics.addr":        defaults.Metrics.Addr,
		"metrics.path":        defaults.Metrics.Path,
		"log.level":           defaults.Log.Level,
		"log.format":          defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrNoCapturePaths indicates no capture files were configured.
	ErrNoCapturePaths = errors.New("capture.paths must not be empty")

	// ErrInvalidConcurrency indicates capture.concurrency is less than 1.
	ErrInvalidConcurrency = errors.New("capture.concurrency must be >= 1")

	// ErrInvalidServerAddr indicates filter.server_addr does not parse.
	ErrInvalidServerAddr = errors.New("filter.server_addr is invalid")

	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if len(cfg.Capture.Paths) == 0 {
		return ErrNoCapturePaths
	}

	if cfg.Capture.Concurrency < 1 {
		return ErrInvalidConcurrency
	}

	if _, err := cfg.Filter.ServerAddrValue(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidServerAddr, err)
	}

	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
