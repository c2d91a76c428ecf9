package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PERPSIM_* environment variable overrides, and
// returns the final Config. An empty path skips the file entirely and yields
// defaults plus overrides. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PERPSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators tune the engine at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setInt64(&cfg.Engine.MarginBufferBps, "PERPSIM_ENGINE_MARGIN_BUFFER_BPS")
	setInt64(&cfg.Engine.SlippageBps, "PERPSIM_ENGINE_SLIPPAGE_BPS")
	setInt64(&cfg.Engine.MaxLeverageBps, "PERPSIM_ENGINE_MAX_LEVERAGE_BPS")
	setBool(&cfg.Engine.StrictMode, "PERPSIM_ENGINE_STRICT_MODE")

	setInt32(&cfg.Display.Decimals, "PERPSIM_DISPLAY_DECIMALS")

	setStr(&cfg.LogLevel, "PERPSIM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
