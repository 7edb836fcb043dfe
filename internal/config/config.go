package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration for the forge process.
type Config struct {
	Provider    ProviderConfig    `json:"provider"`
	Agents      AgentsConfig      `json:"agents"`
	Tools       ToolsConfig       `json:"tools"`
	Permissions PermissionsConfig `json:"permissions"`
	Hooks       HooksConfig       `json:"hooks"`
	Sessions    SessionsConfig    `json:"sessions"`
	Workflows   WorkflowsConfig   `json:"workflows"`
	Undo        UndoConfig        `json:"undo"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
	DataDir     string            `json:"dataDir"`
}

// ProviderConfig configures the LLM endpoint.
type ProviderConfig struct {
	APIKey      string  `json:"apiKey"`
	APIBase     string  `json:"apiBase"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	AppName     string  `json:"appName"` // OpenRouter X-Title routing header
	AppURL      string  `json:"appUrl"`  // OpenRouter HTTP-Referer routing header
	MaxRetries  int     `json:"maxRetries"`
	RateRPM     int     `json:"rateRpm"` // requests per minute, 0 = unlimited
	Streaming   bool    `json:"streaming"`
}

// AgentsConfig holds agent loop defaults.
type AgentsConfig struct {
	Workspace           string `json:"workspace"`
	RestrictToWorkspace bool   `json:"restrictToWorkspace"`
	MaxIterations       int    `json:"maxIterations"`
	MaxTokensPerRun     int    `json:"maxTokensPerRun"`
	MaxConcurrent       int    `json:"maxConcurrent"`
}

// ToolsConfig holds tool runtime settings.
type ToolsConfig struct {
	BashTimeoutMS    int  `json:"bashTimeoutMs"`    // default 120000
	BashMaxTimeoutMS int  `json:"bashMaxTimeoutMs"` // default 600000
	GrepTimeoutSec   int  `json:"grepTimeoutSec"`   // default 60
	ConfirmTimeout   int  `json:"confirmTimeoutSec"`
	DryRun           bool `json:"dryRun"`
}

// PermissionsConfig configures the permission engine.
type PermissionsConfig struct {
	DefaultLevel  string `json:"defaultLevel"` // "allow", "ask", "deny"
	RateLimit     bool   `json:"rateLimit"`
	DenyThreshold int    `json:"denyThreshold"` // denials in window before backoff
	WindowSec     int    `json:"windowSec"`
	BackoffSec    int    `json:"backoffSec"`
	WatchFiles    bool   `json:"watchFiles"` // hot-reload rule files
}

// HooksConfig configures the hook executor.
type HooksConfig struct {
	TimeoutSec    int  `json:"timeoutSec"` // per-hook, default 10
	MaxResults    int  `json:"maxResults"`
	StopOnFailure bool `json:"stopOnFailure"`
}

// SessionsConfig configures session persistence.
type SessionsConfig struct {
	Storage string `json:"storage"`
}

// WorkflowsConfig configures the workflow engine.
type WorkflowsConfig struct {
	CheckpointDir string `json:"checkpointDir"`
	StepRetryMS   int    `json:"stepRetryMs"` // fixed delay between step retries
	HistoryLimit  int    `json:"historyLimit"`
}

// UndoConfig bounds the undo store.
type UndoConfig struct {
	MaxEntries      int   `json:"maxEntries"`
	MaxSnapshotSize int64 `json:"maxSnapshotSize"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	Protocol string `json:"protocol"` // "grpc" or "http"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			APIBase:     "https://openrouter.ai/api/v1",
			Model:       "anthropic/claude-sonnet-4-5-20250929",
			MaxTokens:   8192,
			Temperature: 0.7,
			AppName:     "forge",
			AppURL:      "https://github.com/forgeworks/forge",
			MaxRetries:  3,
			Streaming:   true,
		},
		Agents: AgentsConfig{
			Workspace:           "~/.forge/workspace",
			RestrictToWorkspace: true,
			MaxIterations:       20,
			MaxTokensPerRun:     200000,
			MaxConcurrent:       8,
		},
		Tools: ToolsConfig{
			BashTimeoutMS:    120_000,
			BashMaxTimeoutMS: 600_000,
			GrepTimeoutSec:   60,
			ConfirmTimeout:   60,
		},
		Permissions: PermissionsConfig{
			DefaultLevel:  "ask",
			RateLimit:     true,
			DenyThreshold: 10,
			WindowSec:     60,
			BackoffSec:    300,
			WatchFiles:    true,
		},
		Hooks: HooksConfig{
			TimeoutSec: 10,
			MaxResults: 20,
		},
		Sessions: SessionsConfig{
			Storage: "~/.forge/sessions",
		},
		Workflows: WorkflowsConfig{
			CheckpointDir: "~/.forge/checkpoints",
			StepRetryMS:   1000,
			HistoryLimit:  50,
		},
		Undo: UndoConfig{
			MaxEntries:      50,
			MaxSnapshotSize: 10 << 20,
		},
		DataDir: "~/.forge",
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// ResolvedDataDir returns the expanded data directory.
func (c *Config) ResolvedDataDir() string { return ExpandHome(c.DataDir) }

// HookTimeout returns the per-hook timeout as a duration.
func (c *Config) HookTimeout() time.Duration {
	sec := c.Hooks.TimeoutSec
	if sec <= 0 {
		sec = 10
	}
	return time.Duration(sec) * time.Second
}
