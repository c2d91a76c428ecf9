// Package config defines the top-level configuration for the perpsim engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PERPSIM_* environment variables.
type Config struct {
	Engine   EngineConfig  `toml:"engine"`
	Display  DisplayConfig `toml:"display"`
	LogLevel string        `toml:"log_level"`
}

// EngineConfig holds the simulation engine knobs. All ratios are expressed in
// basis points so the TOML file stays integer-only.
type EngineConfig struct {
	// MarginBufferBps is added on top of the exact leverage-derived margin
	// when sizing order margin previews.
	MarginBufferBps int64 `toml:"margin_buffer_bps"`
	// SlippageBps bounds the post-trade price drift a preview will accept
	// relative to the quoted price.
	SlippageBps int64 `toml:"slippage_bps"`
	// MaxLeverageBps caps the leverage previews will target, e.g. 100000
	// for 10x.
	MaxLeverageBps int64 `toml:"max_leverage_bps"`
	// StrictMode rejects previews whose snapshot is missing an optional
	// field (quotation, benchmark) instead of degrading to an indicative
	// fill, and turns funding gaps into hard errors.
	StrictMode bool `toml:"strict_mode"`
}

// DisplayConfig controls the human-readable decimal rendering attached to
// preview results.
type DisplayConfig struct {
	// Decimals is the number of fractional digits kept when WAD amounts are
	// rendered for display.
	Decimals int32 `toml:"decimals"`
}

// Defaults returns the built-in configuration used when a field is absent
// from the TOML file.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MarginBufferBps: 500,
			SlippageBps:     100,
			MaxLeverageBps:  100_000,
			StrictMode:      false,
		},
		Display: DisplayConfig{
			Decimals: 6,
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Engine.MarginBufferBps < 0 {
		errs = append(errs, "engine: margin_buffer_bps must be >= 0")
	}
	if c.Engine.SlippageBps < 0 {
		errs = append(errs, "engine: slippage_bps must be >= 0")
	}
	if c.Engine.MaxLeverageBps < 10_000 {
		errs = append(errs, "engine: max_leverage_bps must be >= 10000 (1x)")
	}

	if c.Display.Decimals < 0 || c.Display.Decimals > 18 {
		errs = append(errs, fmt.Sprintf("display: decimals must be 0-18, got %d", c.Display.Decimals))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
