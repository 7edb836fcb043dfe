package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forgeworks/forge/internal/agent"
	"github.com/forgeworks/forge/internal/config"
	"github.com/forgeworks/forge/internal/hooks"
	"github.com/forgeworks/forge/internal/mcp"
	"github.com/forgeworks/forge/internal/permissions"
	"github.com/forgeworks/forge/internal/providers"
	"github.com/forgeworks/forge/internal/sessions"
	"github.com/forgeworks/forge/internal/shell"
	"github.com/forgeworks/forge/internal/store"
	"github.com/forgeworks/forge/internal/telemetry"
	"github.com/forgeworks/forge/internal/tools"
	"github.com/forgeworks/forge/internal/undo"
	"github.com/forgeworks/forge/internal/workflow"
)

// app bundles every wired subsystem for one CLI invocation.
type app struct {
	cfg       *config.Config
	provider  *providers.OpenAIProvider
	registry  *tools.Registry
	runtime   *tools.Runtime
	shells    *shell.Manager
	perms     *permissions.Engine
	undoStore *undo.Store
	sessions  *sessions.Manager
	agents    *agent.Manager
	mcpMgr    *mcp.Manager
	audit     *store.DB
	workspace string

	shutdownTelemetry telemetry.Shutdown
	cancelWatchers    context.CancelFunc
}

// buildApp wires the full runtime from config. interactive controls whether
// ASK prompts go to the terminal or auto-deny.
func buildApp(ctx context.Context, interactive bool) (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	workspace := config.ExpandHome(cfg.Agents.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	os.MkdirAll(workspace, 0o755)

	shutdownTel, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		return nil, err
	}

	if cfg.Provider.APIKey == "" {
		slog.Warn("no API key configured, set provider.apiKey or FORGE_API_KEY")
	}
	provider := providers.NewOpenAIProvider(
		"openrouter", cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model,
		providers.WithRoutingHeaders(cfg.Provider.AppName, cfg.Provider.AppURL),
		providers.WithRetryConfig(providers.RetryConfig{
			MaxAttempts: cfg.Provider.MaxRetries,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		}),
		providers.WithRateLimit(cfg.Provider.RateRPM),
	)

	audit, err := store.Open(filepath.Join(dataDir, "forge.db"))
	if err != nil {
		return nil, err
	}

	perms := permissions.NewEngine(permissions.Options{
		DenyThreshold: cfg.Permissions.DenyThreshold,
		DenyWindow:    time.Duration(cfg.Permissions.WindowSec) * time.Second,
		DenyBackoff:   time.Duration(cfg.Permissions.BackoffSec) * time.Second,
		Audit:         audit,
		DefaultLevel:  permissions.Level(strings.ToUpper(cfg.Permissions.DefaultLevel)),
	})

	watchCtx, cancelWatchers := context.WithCancel(ctx)
	globalRules := filepath.Join(dataDir, "permissions.json")
	projectRules := filepath.Join(workspace, ".forge", "permissions.json")
	if err := perms.Global().LoadFile(globalRules); err != nil {
		slog.Warn("global permission rules not loaded", "path", globalRules, "error", err)
	}
	if err := perms.Project().LoadFile(projectRules); err != nil {
		slog.Warn("project permission rules not loaded", "path", projectRules, "error", err)
	}
	if cfg.Permissions.WatchFiles {
		if _, err := permissions.Watch(watchCtx, perms.Global(), globalRules); err != nil {
			slog.Warn("permissions.watch_failed", "path", globalRules, "error", err)
		}
		if _, err := permissions.Watch(watchCtx, perms.Project(), projectRules); err != nil {
			slog.Warn("permissions.watch_failed", "path", projectRules, "error", err)
		}
	}

	hookDefs, err := hooks.LoadFile(filepath.Join(dataDir, "hooks.json"))
	if err != nil {
		cancelWatchers()
		audit.Close()
		return nil, err
	}
	hookRunner := hooks.NewRunner(hookDefs, cfg.HookTimeout(), workspace)

	undoStore := undo.NewStore(cfg.Undo.MaxEntries, cfg.Undo.MaxSnapshotSize)
	shells := shell.NewManager()

	registry := tools.NewRegistry()
	restrict := cfg.Agents.RestrictToWorkspace
	registry.Register(tools.NewReadTool(workspace, restrict))
	registry.Register(tools.NewWriteTool(workspace, restrict))
	registry.Register(tools.NewEditTool(workspace, restrict))
	registry.Register(tools.NewGlobTool(workspace, restrict))
	registry.Register(tools.NewGrepTool(workspace, restrict))
	registry.Register(tools.NewBashTool(workspace, shells, cfg.Tools.BashTimeoutMS, cfg.Tools.BashMaxTimeoutMS))
	registry.Register(tools.NewBashOutputTool(shells))
	registry.Register(tools.NewKillShellTool(shells))
	registry.Register(tools.NewWebFetchTool(tools.WebFetchConfig{}))

	var confirmer tools.Confirmer = tools.NoConfirmer{}
	if interactive {
		confirmer = &promptConfirmer{timeout: time.Duration(cfg.Tools.ConfirmTimeout) * time.Second}
	}

	runtime := &tools.Runtime{
		Registry:    registry,
		Permissions: perms,
		Hooks:       hookRunner,
		Undo:        undoStore,
		Confirmer:   confirmer,
	}

	sessionMgr := sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage))
	agentMgr := agent.NewManager(cfg.Agents.MaxConcurrent)

	mcpConfigs, err := mcp.LoadConfig(filepath.Join(dataDir, "mcp.yaml"))
	if err != nil {
		slog.Warn("mcp config not loaded", "error", err)
		mcpConfigs = nil
	}
	mcpMgr := mcp.NewManager(registry, mcpConfigs, "forge", Version)
	if err := mcpMgr.Start(watchCtx); err != nil {
		slog.Warn("mcp.start_failed", "error", err)
	}

	return &app{
		cfg:               cfg,
		provider:          provider,
		registry:          registry,
		runtime:           runtime,
		shells:            shells,
		perms:             perms,
		undoStore:         undoStore,
		sessions:          sessionMgr,
		agents:            agentMgr,
		mcpMgr:            mcpMgr,
		audit:             audit,
		workspace:         workspace,
		shutdownTelemetry: shutdownTel,
		cancelWatchers:    cancelWatchers,
	}, nil
}

// newLoop builds an agent loop against the app's provider and runtime.
func (a *app) newLoop(id string, onEvent func(agent.Event)) *agent.Loop {
	return agent.NewLoop(agent.LoopConfig{
		ID:            id,
		Provider:      a.provider,
		Model:         a.cfg.Provider.Model,
		MaxIterations: a.cfg.Agents.MaxIterations,
		MaxTokens:     int64(a.cfg.Agents.MaxTokensPerRun),
		Runtime:       a.runtime,
		Sessions:      a.sessions,
		OnEvent:       onEvent,
	})
}

// workflowEngine builds the workflow engine on top of the agent manager.
func (a *app) workflowEngine() (*workflow.Engine, error) {
	checkpoints, err := workflow.NewCheckpointStore(config.ExpandHome(a.cfg.Workflows.CheckpointDir))
	if err != nil {
		return nil, err
	}
	runner := &workflow.AgentRunner{
		Manager: a.agents,
		NewLoop: func(agentType string) (*agent.Loop, error) {
			return a.newLoop(agentType, nil), nil
		},
		NewSession: func(title string) string {
			return a.sessions.Create(title).ID
		},
	}
	return workflow.NewEngine(runner,
		workflow.WithCheckpoints(checkpoints),
		workflow.WithRetryDelay(time.Duration(a.cfg.Workflows.StepRetryMS)*time.Millisecond),
	), nil
}

// Close shuts subsystems down in reverse dependency order.
func (a *app) Close() {
	a.mcpMgr.Stop()
	a.cancelWatchers()
	a.shells.KillAll()
	a.provider.Close()
	a.audit.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.shutdownTelemetry(ctx); err != nil {
		slog.Debug("telemetry.shutdown_failed", "error", err)
	}
}
