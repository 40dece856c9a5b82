// Package config loads minipgw's JSON configuration file (spec.md section 6)
// using koanf/v2, the same configuration library family the teacher daemon
// uses for its own YAML config, swapped to the JSON parser spec.md's wire
// format requires.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete minipgw server configuration (spec.md section 3).
type Config struct {
	ServerIP             string   `koanf:"server_ip"`
	ServerPort           uint16   `koanf:"server_port"`
	HTTPPort             uint16   `koanf:"http_port"`
	SessionTimeoutSec    uint32   `koanf:"session_timeout_sec"`
	CDRFile              string   `koanf:"cdr_file"`
	GracefulShutdownRate uint32   `koanf:"graceful_shutdown_rate"`
	LogFile              string   `koanf:"log_file"`
	LogLevel             string   `koanf:"log_level"`
	Blacklist            []string `koanf:"blacklist"`
}

// envPrefix is the environment variable prefix for configuration overrides.
// Variables are named MINIPGW_<KEY>, e.g. MINIPGW_HTTP_PORT.
const envPrefix = "MINIPGW_"

// Sentinel validation errors; each message names the missing/invalid key,
// matching the original C++ config.cpp's named-field validation errors.
var (
	ErrMissingServerIP  = errors.New("server_ip is required")
	ErrInvalidServerIP  = errors.New("server_ip must be a valid IP address")
	ErrMissingPort      = errors.New("server_port must be nonzero")
	ErrMissingHTTPPort  = errors.New("http_port must be nonzero")
	ErrMissingTimeout   = errors.New("session_timeout_sec must be nonzero")
	ErrMissingCDRFile   = errors.New("cdr_file is required")
	ErrMissingShutRate  = errors.New("graceful_shutdown_rate must be >= 1")
	ErrMissingLogFile   = errors.New("log_file is required")
	ErrInvalidLogLevel  = errors.New("log_level must be one of debug|info|warning|error|fatal")
	ErrInvalidBlacklist = errors.New("blacklist entries must be 6-15 decimal digits")
)

// DefaultConfig returns a Config populated with conservative defaults.
// A loaded file and environment overrides take precedence over these.
func DefaultConfig() *Config {
	return &Config{
		ServerIP:             "0.0.0.0",
		ServerPort:           9000,
		HTTPPort:             8080,
		SessionTimeoutSec:    30,
		CDRFile:              "cdr.log",
		GracefulShutdownRate: 10,
		LogFile:              "minipgw.log",
		LogLevel:             "info",
		Blacklist:            nil,
	}
}

// Load reads configuration from a JSON file at path, overlays
// MINIPGW_-prefixed environment variable overrides, and merges on top of
// DefaultConfig(). A key absent from the file keeps its default; a key set
// to null, empty or zero fails Validate explicitly (spec.md section 6).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
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

// envKeyMapper transforms MINIPGW_HTTP_PORT -> http_port.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	return strings.ToLower(s)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	values := map[string]any{
		"server_ip":              defaults.ServerIP,
		"server_port":            defaults.ServerPort,
		"http_port":              defaults.HTTPPort,
		"session_timeout_sec":    defaults.SessionTimeoutSec,
		"cdr_file":               defaults.CDRFile,
		"graceful_shutdown_rate": defaults.GracefulShutdownRate,
		"log_file":               defaults.LogFile,
		"log_level":              defaults.LogLevel,
	}
	for key, val := range values {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks that all required fields are present and well-formed.
func Validate(cfg *Config) error {
	if cfg.ServerIP == "" {
		return ErrMissingServerIP
	}
	if net.ParseIP(cfg.ServerIP) == nil {
		return ErrInvalidServerIP
	}
	if cfg.ServerPort == 0 {
		return ErrMissingPort
	}
	if cfg.HTTPPort == 0 {
		return ErrMissingHTTPPort
	}
	if cfg.SessionTimeoutSec == 0 {
		return ErrMissingTimeout
	}
	if cfg.CDRFile == "" {
		return ErrMissingCDRFile
	}
	if cfg.GracefulShutdownRate < 1 {
		return ErrMissingShutRate
	}
	if cfg.LogFile == "" {
		return ErrMissingLogFile
	}
	if !validLogLevel(cfg.LogLevel) {
		return ErrInvalidLogLevel
	}
	for _, imsi := range cfg.Blacklist {
		if !validIMSIDigits(imsi) {
			return fmt.Errorf("blacklist entry %q: %w", imsi, ErrInvalidBlacklist)
		}
	}
	return nil
}

func validLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warning", "error", "fatal":
		return true
	default:
		return false
	}
}

func validIMSIDigits(s string) bool {
	if len(s) < 6 || len(s) > 15 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// BlacklistSet returns the configured blacklist as a lookup set.
func (c *Config) BlacklistSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Blacklist))
	for _, imsi := range c.Blacklist {
		set[imsi] = struct{}{}
	}
	return set
}
