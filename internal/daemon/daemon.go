// Package daemon assembles the workflow engine from configuration and
// serves it over the IPC socket and the optional HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gobby-stack/gobby/internal/actions"
	"github.com/gobby-stack/gobby/internal/agent"
	"github.com/gobby-stack/gobby/internal/condition"
	"github.com/gobby-stack/gobby/internal/config"
	"github.com/gobby-stack/gobby/internal/contextsrc"
	"github.com/gobby-stack/gobby/internal/engine"
	"github.com/gobby-stack/gobby/internal/events"
	"github.com/gobby-stack/gobby/internal/executor"
	"github.com/gobby-stack/gobby/internal/httpapi"
	"github.com/gobby-stack/gobby/internal/ipc"
	"github.com/gobby-stack/gobby/internal/lifecycle"
	"github.com/gobby-stack/gobby/internal/llm"
	"github.com/gobby-stack/gobby/internal/mcpclient"
	"github.com/gobby-stack/gobby/internal/pipeline"
	"github.com/gobby-stack/gobby/internal/plugins/workspace"
	"github.com/gobby-stack/gobby/internal/state"
	"github.com/gobby-stack/gobby/internal/stepmachine"
	"github.com/gobby-stack/gobby/internal/tasks"
	"github.com/gobby-stack/gobby/internal/types"
	"github.com/gobby-stack/gobby/internal/webhook"
	"github.com/gobby-stack/gobby/internal/workflow"
)

// Daemon owns every long-lived component.
type Daemon struct {
	cfg     *config.Config
	baseDir string
	logger  *slog.Logger

	svc  *Service
	hub  *mcpclient.Hub
	ipc  *ipc.Server
	http *httpapi.Server
	cron *cron.Cron
}

// New builds the engine and its collaborators from cfg. Paths resolve
// against baseDir. Definitions are loaded before New returns.
func New(ctx context.Context, cfg *config.Config, baseDir string, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	eval := condition.New(logger)
	registry := actions.NewRegistry()
	exec := actions.NewExecutor(registry, eval, cfg.Actions.DefaultTimeout, logger)

	shell := executor.NewShellExecutor()
	shell.DefaultShell = cfg.Actions.Shell
	shell.DefaultTimeout = cfg.Actions.ShellTimeout

	states, err := state.NewYAMLStore(cfg.StateDir(baseDir))
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	executions, err := state.NewYAMLExecutionStore(cfg.ExecutionsDir(baseDir))
	if err != nil {
		return nil, fmt.Errorf("opening execution store: %w", err)
	}

	taskStore := tasks.NewFileStore(cfg.TasksDir(baseDir))
	if err := taskStore.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}

	provider, err := llm.NewFromConfig(cfg.LLM, shell)
	if err != nil {
		logger.Warn("llm bridge unavailable", "error", err)
		provider = llm.Unavailable{Err: err}
	}
	hub := mcpclient.NewHub(cfg.MCP, logger)
	hooks := webhook.NewClient(cfg.Webhooks, logger)

	deps := &actions.Deps{
		States:       states,
		Tasks:        taskStore,
		Context:      contextsrc.NewFileProvider(cfg.ContextDir(baseDir), logger),
		LLM:          provider,
		MCP:          hub,
		Webhooks:     hooks,
		Shell:        shell,
		Spawner:      agent.NewTmuxSpawner(),
		ShellTimeout: cfg.Actions.ShellTimeout,
	}
	if err := registerActions(cfg, baseDir, registry, deps, logger); err != nil {
		return nil, err
	}

	defs := newDefinitions(cfg, baseDir, registry, eval, logger)
	if _, err := defs.Reload(); err != nil {
		return nil, fmt.Errorf("loading definitions: %w", err)
	}

	steps := stepmachine.New(defs, exec, cfg.Actions.MaxChainDepth, logger)
	deps.Control = steps

	bus := events.NewBus(logger)
	var eng *engine.Engine
	pipes := pipeline.New(defs, executions, shell, provider, hooks, eval, pipeline.Options{
		ApprovalTimeout: cfg.Approvals.DefaultTimeout,
		Observer:        func(event string, x *types.Execution) { eng.ObservePipeline(event, x) },
	}, logger)
	eng = engine.New(engine.Components{
		States:    states,
		Steps:     steps,
		Lifecycle: lifecycle.New(defs, exec, logger),
		Pipelines: pipes,
		Bus:       bus,
	}, engine.Options{
		ArchiveOnEnd: cfg.State.ArchiveOnEnd,
	}, logger)

	d := &Daemon{
		cfg:     cfg,
		baseDir: baseDir,
		logger:  logger,
		svc:     &Service{Engine: eng, Registry: defs, Bus: bus, logger: logger},
		hub:     hub,
	}
	d.ipc = ipc.NewServer(cfg.SocketPath(baseDir), &Handler{svc: d.svc}, logger)
	if cfg.Daemon.EnableHTTP && cfg.Daemon.HTTPAddr != "" {
		d.http = httpapi.New(cfg.Daemon.HTTPAddr, d.svc, bus, logger)
	}
	return d, nil
}

func registerActions(cfg *config.Config, baseDir string, registry *actions.Registry, deps *actions.Deps, logger *slog.Logger) error {
	if err := actions.RegisterBuiltins(registry, deps); err != nil {
		return fmt.Errorf("registering actions: %w", err)
	}
	plugins, err := actions.LoadPlugins(cfg.PluginsDir(baseDir), []actions.Plugin{workspace.New()}, registry, deps, logger)
	if err != nil {
		return fmt.Errorf("loading plugins: %w", err)
	}
	if len(plugins) > 0 {
		logger.Info("plugins registered", "plugins", plugins)
	}
	return nil
}

func newDefinitions(cfg *config.Config, baseDir string, registry *actions.Registry, eval *condition.Evaluator, logger *slog.Logger) *workflow.Registry {
	dirs := cfg.WorkflowDirs(baseDir)
	userDir := ""
	if len(dirs) > 1 {
		userDir = dirs[1]
	}
	return workflow.NewRegistry(workflow.NewLoader(dirs[0], userDir), registry, eval, logger)
}

// Validator returns a definition registry with the daemon's action set and
// nothing else wired, for checking definitions without a running daemon.
// Definitions are not loaded.
func Validator(cfg *config.Config, baseDir string, logger *slog.Logger) (*workflow.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	eval := condition.New(logger)
	registry := actions.NewRegistry()
	deps := &actions.Deps{Shell: executor.NewShellExecutor()}
	if err := registerActions(cfg, baseDir, registry, deps, logger); err != nil {
		return nil, err
	}
	return newDefinitions(cfg, baseDir, registry, eval, logger), nil
}

// Service returns the engine facade shared by the IPC and HTTP surfaces.
func (d *Daemon) Service() *Service {
	return d.svc
}

// Run serves until ctx is cancelled, then shuts everything down.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.ipc.StartAsync(ctx); err != nil {
		return fmt.Errorf("starting IPC server: %w", err)
	}

	sweeper, err := d.startSweeper(ctx)
	if err != nil {
		d.shutdown()
		return err
	}
	d.cron = sweeper

	httpErr := make(chan error, 1)
	if d.http != nil {
		go func() { httpErr <- d.http.Start() }()
	}

	d.logger.Info("daemon running", "socket", d.ipc.Path(), "http", d.cfg.Daemon.HTTPAddr, "http_enabled", d.http != nil)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	d.shutdown()
	return runErr
}

func (d *Daemon) shutdown() {
	d.logger.Info("daemon shutting down")

	if d.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.http.Shutdown(ctx); err != nil {
			d.logger.Warn("http shutdown", "error", err)
		}
		cancel()
	}
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
	d.ipc.Shutdown()
	d.svc.Engine.Close()
	if err := d.hub.Close(); err != nil {
		d.logger.Warn("closing mcp servers", "error", err)
	}
}

// startSweeper schedules approval expiry on the configured cron spec.
func (d *Daemon) startSweeper(ctx context.Context) (*cron.Cron, error) {
	spec := d.cfg.Approvals.SweepSchedule
	if spec == "" {
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		n, err := d.svc.Engine.ExpireApprovals(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("approval sweep failed", "error", err)
			return
		}
		if n > 0 {
			d.logger.Info("expired approvals", "count", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid approvals.sweep_schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
