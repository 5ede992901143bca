// Package config loads trigdb settings from a TOML file and TRIGDB_*
// environment variables.
//
// Precedence, lowest first: Default(), the TOML file, the environment.
// Command-line flags are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/roach88/trigdb/internal/logging"
)

// Config holds every tunable of a trigdb process.
type Config struct {
	LogLevel  string `toml:"log_level" env:"TRIGDB_LOG_LEVEL"`
	LogFormat string `toml:"log_format" env:"TRIGDB_LOG_FORMAT"`

	// JournalPath enables the SQLite activity journal when non-empty.
	JournalPath string `toml:"journal_path" env:"TRIGDB_JOURNAL"`

	TickInterval Duration `toml:"tick_interval" env:"TRIGDB_TICK_INTERVAL"`
	MaxDepth     int      `toml:"max_depth" env:"TRIGDB_MAX_DEPTH"`

	ManifestDir string `toml:"manifest_dir" env:"TRIGDB_MANIFEST_DIR"`
	ScriptDir   string `toml:"script_dir" env:"TRIGDB_SCRIPT_DIR"`
	Watch       bool   `toml:"watch" env:"TRIGDB_WATCH"`
}

// Duration is a time.Duration that decodes from "250ms" style strings in
// both TOML and the environment.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:     "info",
		LogFormat:    string(logging.FormatConsole),
		TickInterval: Duration{16 * time.Millisecond},
		MaxDepth:     64,
	}
}

// Load builds a configuration from defaults, the optional TOML file at path
// and the environment, then validates it. An empty path skips the file; a
// missing file at a non-empty path is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile decodes a TOML file over cfg. Unknown keys are rejected.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parse config %s: unknown key %q", path, undecoded[0].String())
	}
	return nil
}

// ParseEnv overlays TRIGDB_* environment variables onto target.
func ParseEnv(target *Config) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch logging.Format(c.LogFormat) {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	if c.TickInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval.Duration))
	}
	if c.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("max_depth must be at least 1, got %d", c.MaxDepth))
	}
	return errors.Join(errs...)
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: logging.Format(c.LogFormat)}
}
