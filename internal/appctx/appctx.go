// Package appctx wires every component package together into one running
// process: it is the only package allowed to import orchestrator, agents,
// tools, tasks, runmanager and scheduler all at once, so it is where the
// import-cycle-avoiding closures (orchestrator.RunChildFunc,
// orchestrator.Config.ResolveAgent, scheduler.Trigger) get their concrete
// bodies. Grounded on the teacher's cmd/nexus's application-wiring
// function, which plays the same "everything meets here" role.
package appctx

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchestra-run/orchestra/internal/agents"
	"github.com/orchestra-run/orchestra/internal/config"
	"github.com/orchestra-run/orchestra/internal/llm"
	"github.com/orchestra-run/orchestra/internal/models"
	"github.com/orchestra-run/orchestra/internal/observability"
	"github.com/orchestra-run/orchestra/internal/orchestrator"
	"github.com/orchestra-run/orchestra/internal/runmanager"
	"github.com/orchestra-run/orchestra/internal/scheduler"
	"github.com/orchestra-run/orchestra/internal/store"
	"github.com/orchestra-run/orchestra/internal/tasks"
	"github.com/orchestra-run/orchestra/internal/tools"
	"github.com/orchestra-run/orchestra/internal/tools/builtin"
)

// App holds every process-wide dependency and the per-project registries
// built lazily on first use.
type App struct {
	Cfg    *config.Config
	Store  store.ExecutionStore
	LLM    llm.Client
	Runs   *runmanager.Manager
	Logger *slog.Logger

	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	toolLoader *tools.Loader

	mu        sync.Mutex
	toolRegs  map[string]*tools.Registry
	agentRegs map[string]*agents.Registry
}

// New constructs an App from cfg around the already-open store st,
// building the LLM client and reclaiming runs left incomplete by a prior
// process. Builtin tool factories are registered per project by ToolsFor.
func New(cfg *config.Config, st store.ExecutionStore, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := newLLMClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	loader := tools.NewLoader(logger)

	a := &App{
		Cfg:        cfg,
		Store:      st,
		LLM:        client,
		Runs:       runmanager.New(st, logger),
		Logger:     logger,
		Metrics:    observability.NewMetrics(),
		Tracer:     observability.NewTracer("orchestra"),
		toolLoader: loader,
		toolRegs:   make(map[string]*tools.Registry),
		agentRegs:  make(map[string]*agents.Registry),
	}

	// Reclaim AgentRuns orphaned by a crash (completedAt still null from a
	// prior process) per spec.md's "on process restart, orphaned AgentRuns
	// are reclaimed by administrative stop."
	if err := a.Runs.StopAll(context.Background(), ""); err != nil {
		logger.Warn("failed to reclaim orphaned runs at startup", "error", err)
	}

	return a, nil
}

func newLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.DefaultModel,
			MaxTokens:    cfg.LLM.MaxTokens,
			MaxRetries:   cfg.LLM.MaxRetries,
			RetryDelay:   cfg.LLM.RetryDelay,
		})
	default:
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.DefaultModel,
			MaxTokens:    cfg.LLM.MaxTokens,
			MaxRetries:   cfg.LLM.MaxRetries,
			RetryDelay:   cfg.LLM.RetryDelay,
		})
	}
}

// ToolsFor returns (loading on first use) the ToolRegistry for projectDir,
// with builtin tools bound to that project's output directory.
func (a *App) ToolsFor(projectDir string) (*tools.Registry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if reg, ok := a.toolRegs[projectDir]; ok {
		return reg, nil
	}

	outputRoot := filepath.Join(a.Cfg.UserData.RootDir, projectDir, "output")
	builtin.RegisterAll(a.toolLoader, outputRoot)

	reg, err := a.toolLoader.LoadProject(a.Cfg.UserData.RootDir, projectDir)
	if err != nil {
		return nil, fmt.Errorf("load tools for project %q: %w", projectDir, err)
	}
	a.toolRegs[projectDir] = reg
	return reg, nil
}

// AgentsFor returns (loading on first use) the agents.Registry for
// projectDir.
func (a *App) AgentsFor(projectDir string) (*agents.Registry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if reg, ok := a.agentRegs[projectDir]; ok {
		return reg, nil
	}
	reg, err := agents.New(a.Cfg.UserData.RootDir, projectDir, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("load agents for project %q: %w", projectDir, err)
	}
	a.agentRegs[projectDir] = reg
	return reg, nil
}

// preparedRun is a created-and-registered AgentRun ready to be driven by
// an Orchestrator, plus everything building one requires.
type preparedRun struct {
	run      *models.AgentRun
	agentCfg *models.AgentConfig
	toolReg  *tools.Registry
	runCtx   context.Context
	cancel   context.CancelFunc
}

// prepareRun resolves agentName's config and tools, creates its AgentRun
// row, and registers it with RunManager — all synchronously, so the run
// is visible to StopAll/StopTree the instant this returns, regardless of
// whether the caller then drives it inline or hands it to a goroutine.
func (a *App) prepareRun(ctx context.Context, projectDir, agentName, parentRunID, parentAgentName string, callMode models.CallMode) (*preparedRun, error) {
	agentReg, err := a.AgentsFor(projectDir)
	if err != nil {
		return nil, err
	}
	agentCfg, err := agentReg.Get(agentName)
	if err != nil {
		return nil, err
	}

	toolReg, err := a.ToolsFor(projectDir)
	if err != nil {
		return nil, err
	}

	run := &models.AgentRun{
		RunID:           uuid.NewString(),
		AgentName:       agentName,
		ParentAgentName: models.RootParentAgentName,
		StartedAt:       time.Now(),
		CurrentState:    models.RunStateGenerating,
		CallMode:        callMode,
		ProjectDir:      projectDir,
	}
	if parentRunID != "" {
		run.ParentRunID = &parentRunID
	}
	if parentAgentName != "" {
		run.ParentAgentName = parentAgentName
	}
	if err := a.Store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := a.Runs.Register(ctx, run.RunID)
	return &preparedRun{run: run, agentCfg: agentCfg, toolReg: toolReg, runCtx: runCtx, cancel: cancel}, nil
}

// drive builds an Orchestrator for a preparedRun and runs it to completion.
func (a *App) drive(p *preparedRun, projectDir, message string) (string, error) {
	defer p.cancel()

	orch, err := orchestrator.New(orchestrator.Config{
		Agent:        p.agentCfg,
		Store:        a.Store,
		Tools:        p.toolReg,
		ResolveAgent: a.resolveAgent(projectDir),
		RunChild:     a.runChild(projectDir),
		LLM:          a.LLM,
		Model:        a.Cfg.LLM.DefaultModel,
		Tasks:        tasks.New(),
		Logger:       a.Logger,
		LogDir:       filepath.Join(a.Cfg.UserData.RootDir, projectDir, a.Cfg.UserData.LogDir),
		Metrics:      a.Metrics,
		Tracer:       a.Tracer,
	}, p.run)
	if err != nil {
		return "", fmt.Errorf("build orchestrator: %w", err)
	}

	if err := a.Store.UpdateRun(context.Background(), p.run); err != nil {
		a.Logger.Warn("failed to persist run log path", "runId", p.run.RunID, "error", err)
	}

	return orch.Run(p.runCtx, message, orchestrator.DefaultMaxIterations)
}

// Invoke launches a fresh AgentRun for agentName in projectDir and drives
// it to completion, used both by interactive invocation and by
// RunChildFunc so every synchronous entry point shares one path.
func (a *App) Invoke(ctx context.Context, projectDir, agentName, message, parentRunID, parentAgentName string, callMode models.CallMode) (string, error) {
	p, err := a.prepareRun(ctx, projectDir, agentName, parentRunID, parentAgentName, callMode)
	if err != nil {
		return "", err
	}
	return a.drive(p, projectDir, message)
}

func (a *App) resolveAgent(projectDir string) func(name string) (*models.AgentConfig, bool) {
	return func(name string) (*models.AgentConfig, bool) {
		reg, err := a.AgentsFor(projectDir)
		if err != nil {
			return nil, false
		}
		cfg, err := reg.Get(name)
		if err != nil {
			return nil, false
		}
		return cfg, true
	}
}

func (a *App) runChild(projectDir string) orchestrator.RunChildFunc {
	return func(ctx context.Context, agentName, message, parentRunID, parentAgentName string, callMode models.CallMode) (string, error) {
		return a.Invoke(ctx, projectDir, agentName, message, parentRunID, parentAgentName, callMode)
	}
}

// Trigger implements scheduler.Trigger: it creates and registers the
// schedule's AgentRun through the same prepareRun step Invoke uses, then
// hands it to a goroutine to drive to completion, returning as soon as
// the run has started rather than waiting for it to finish — per
// scheduler.Trigger's own contract and spec.md §5's concurrent-runs
// requirement. A launch failure (bad agent name, store error) is
// returned directly; a failure during the run itself is only logged,
// since by then Trigger has already returned.
func (a *App) Trigger(ctx context.Context, s *models.Schedule) error {
	p, err := a.prepareRun(context.Background(), s.ProjectDir, s.AgentName, "", models.RootParentAgentName, models.CallModeSynchronous)
	if err != nil {
		return err
	}

	go func() {
		if _, err := a.drive(p, s.ProjectDir, s.Message); err != nil {
			a.Logger.Warn("scheduled run failed", "runId", p.run.RunID, "schedule", s.ScheduleID, "error", err)
		}
	}()

	return nil
}

// NewScheduler builds a scheduler.Runner wired to a.Trigger.
func (a *App) NewScheduler() *scheduler.Runner {
	return scheduler.New(a.Store, a.Trigger, a.Logger)
}

// Close releases the store and stops every registered agent watcher.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, reg := range a.agentRegs {
		_ = reg.Close()
	}
	return a.Store.Close()
}
