// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package gateway

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// Serving modes.
const (
	ModeFastCGI = "fcgi" // serve FastCGI requests on a listener
	ModeCGI     = "cgi"  // serve one CGI request from the environment
)

// Config describes how a gateway is served.
type Config struct {
	Mode     string  // ModeFastCGI or ModeCGI
	Listen   string  // FastCGI listen address; see SplitAddress
	Endpoint string  // endpoint reported in exception raisers
	LogLevel string  // zerolog level name
	Stdio    bool    // capture os.Stdout during each request (CGI only)
	Rate     float64 // quests per second admitted; 0 means unlimited
	Burst    int     // burst size for Rate
	Metrics  string  // address for the metrics HTTP listener, if any
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		Mode:     ModeFastCGI,
		Listen:   "localhost:9000",
		LogLevel: zerolog.InfoLevel.String(),
		Burst:    1,
	}
}

type fileConfig struct {
	Mode     string  `toml:"mode"`
	Listen   string  `toml:"listen"`
	Endpoint string  `toml:"endpoint"`
	LogLevel string  `toml:"log_level"`
	Stdio    bool    `toml:"capture_stdout"`
	Rate     float64 `toml:"rate_limit"`
	Burst    int     `toml:"rate_burst"`
	Metrics  string  `toml:"metrics_address"`
}

// LoadConfig reads a TOML configuration file. Settings absent from the file
// keep their default values. The result is validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load gateway config: %w", err)
	}
	if keys := meta.Undecoded(); len(keys) != 0 {
		return Config{}, fmt.Errorf("load gateway config: unknown setting %q", keys[0].String())
	}

	if meta.IsDefined("mode") {
		cfg.Mode = strings.ToLower(strings.TrimSpace(raw.Mode))
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("capture_stdout") {
		cfg.Stdio = raw.Stdio
	}
	if meta.IsDefined("rate_limit") {
		cfg.Rate = raw.Rate
	}
	if meta.IsDefined("rate_burst") {
		cfg.Burst = raw.Burst
	}
	if meta.IsDefined("metrics_address") {
		cfg.Metrics = strings.TrimSpace(raw.Metrics)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports whether c is a usable configuration.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeFastCGI:
		if c.Listen == "" {
			return fmt.Errorf("fcgi mode requires a listen address")
		}
	case ModeCGI:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate limit must be non-negative, got %v", c.Rate)
	}
	if c.Rate > 0 && c.Burst < 1 {
		return fmt.Errorf("rate burst must be positive, got %d", c.Burst)
	}
	if c.Stdio && c.Mode != ModeCGI {
		return fmt.Errorf("capture_stdout requires cgi mode")
	}
	return nil
}

// Level returns the log level named by c, defaulting to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
