// Package kconfig is the boot configuration collaborator (SPEC_FULL.md
// §1.3): a small TOML-backed struct with flag-registerable overrides,
// grounded on runsc's own two-layer (file defaults + flag overrides)
// shape for boot configuration.
package kconfig

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full set of boot-time knobs the kernel reads before
// entering the dispatch loop.
type Config struct {
	// QuantumTicks is the round-robin timer period, in simulated ticks
	// (pkg/timerdev.NewQuantum's period).
	QuantumTicks uint64 `toml:"quantum_ticks"`
	// AppPath is the directory the App Registry's default builder walks
	// for compiled application images.
	AppPath string `toml:"app_path"`
	// PacedConsole makes the `boot` subcommand use pkg/console.Paced
	// instead of an empty pkg/console.Queue. The `run` subcommand
	// ignores it and always attaches the host or pty console.
	PacedConsole bool `toml:"paced_console"`
	// LogLevel is one of "debug", "info", "warn", "error"; cmd/rvkernel
	// maps it to a logrus level for pkg/klog.SetLevel (anything else
	// means info).
	LogLevel string `toml:"log_level"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		QuantumTicks: 8,
		AppPath:      "apps",
		PacedConsole: false,
		LogLevel:     "info",
	}
}

// Load reads and decodes a TOML configuration file, starting from
// Default() so a partial file only overrides the fields it sets.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("kconfig: loading %s: %w", path, err)
	}
	return cfg, nil
}

// RegisterFlags registers flag.FlagSet overrides for every field of cfg,
// mirroring the file + flag two-layer convention: flags parsed after
// Load take precedence over the file's values.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.Uint64Var(&cfg.QuantumTicks, "quantum-ticks", cfg.QuantumTicks, "round-robin timer period, in simulated ticks")
	fs.StringVar(&cfg.AppPath, "app-path", cfg.AppPath, "directory of compiled application images")
	fs.BoolVar(&cfg.PacedConsole, "paced-console", cfg.PacedConsole, "boot only: use the rate-limited simulated console instead of an empty in-memory queue")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
}

// LoadFromFlags loads path (if non-empty and present) over Default() and
// registers fs flags bound to the result, so that a subsequent fs.Parse
// by the caller applies any command-line overrides on top of the file.
func LoadFromFlags(path string, fs *flag.FlagSet) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := Load(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}
	RegisterFlags(fs, &cfg)
	return &cfg, nil
}
