package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays FORGE_* env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	envStr("FORGE_API_KEY", &c.Provider.APIKey)
	envStr("FORGE_API_BASE", &c.Provider.APIBase)
	envStr("FORGE_MODEL", &c.Provider.Model)
	envInt("FORGE_MAX_TOKENS", &c.Provider.MaxTokens)
	envFloat("FORGE_TEMPERATURE", &c.Provider.Temperature)
	envBool("FORGE_STREAMING", &c.Provider.Streaming)
	envStr("FORGE_WORKSPACE", &c.Agents.Workspace)
	envStr("FORGE_DATA_DIR", &c.DataDir)
	envStr("FORGE_SESSIONS_DIR", &c.Sessions.Storage)
	envStr("FORGE_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
}
