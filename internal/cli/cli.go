// Package cli wires the reactor's collaborators from configuration and
// exposes the cco command surface: handle-event (the reactor entry),
// watchdog, and version.
package cli

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/mohsen1/cco/internal/claude"
	"github.com/mohsen1/cco/internal/config"
	"github.com/mohsen1/cco/internal/escalate"
	"github.com/mohsen1/cco/internal/events"
	"github.com/mohsen1/cco/internal/git"
	"github.com/mohsen1/cco/internal/github"
	"github.com/mohsen1/cco/internal/orchestrator"
	"github.com/mohsen1/cco/internal/state"
	"github.com/mohsen1/cco/internal/watchdog"
)

// App is the CLI application with its root command.
type App struct {
	rootCmd *cobra.Command

	version string
	commit  string
	date    string
}

// New creates the CLI application.
func New() *App {
	app := &App{}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion records build-time version information.
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "cco",
		Short: "Autonomous code-change orchestrator",
		Long: `cco reacts to repository events: it decomposes a labeled issue into a
hierarchy of coding tasks, drives LLM workers on isolated branches, and
collects the work through a pyramid of pull requests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.AddCommand(newHandleEventCmd())
	a.rootCmd.AddCommand(newWatchdogCmd())
	a.rootCmd.AddCommand(newVersionCmd(a))
}

// runtime bundles everything wired from one configuration.
type runtime struct {
	cfg       *config.Config
	logger    *log.Logger
	gateway   *github.Client
	store     *state.Store
	git       *git.Client
	agent     *claude.Dispatcher
	escalator escalate.Escalator
	bus       *events.Bus
}

// wireRuntime builds the collaborators for one invocation. Configuration
// errors surface here and exit non-zero.
func wireRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	// One run id per invocation ties every log line and dispatched
	// follow-up back to this reactor execution.
	runID := ulid.Make().String()
	logger := newLogger(cfg.LogLevel).With("run", runID)

	gateway, err := github.NewClient(cfg.GitHubToken, cfg.RepoOwner, cfg.RepoName, logger)
	if err != nil {
		return nil, err
	}

	ring, err := claude.ParseRing(cfg.ClaudeConfigsJSON)
	if err != nil {
		return nil, err
	}

	gitClient := git.NewClient(cfg.RepoPath)
	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) {
		if e.IsFailure() {
			logger.Warn(e.String())
			return
		}
		logger.Info(e.String())
	})

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		gateway:   gateway,
		store:     state.NewStore(gitClient, logger),
		git:       gitClient,
		agent:     claude.NewDispatcher(claude.NewCLIClient(), ring, claude.DefaultDispatchConfig, logger),
		escalator: escalate.ForConfig(cfg.EscalationWebhook),
		bus:       bus,
	}, nil
}

func (rt *runtime) reactor() *orchestrator.Reactor {
	return orchestrator.New(orchestrator.Config{
		RepoOwner:         rt.cfg.RepoOwner,
		RepoName:          rt.cfg.RepoName,
		RepoPath:          rt.cfg.RepoPath,
		MaxEms:            rt.cfg.MaxEms,
		MaxWorkersPerEM:   rt.cfg.MaxWorkersPerEM,
		ReviewWaitMinutes: rt.cfg.ReviewWaitMinutes,
		DispatchStagger:   time.Duration(rt.cfg.DispatchStaggerMs) * time.Millisecond,
		PRLabel:           rt.cfg.PRLabel,
		BaseBranch:        rt.cfg.BaseBranch,
	}, orchestrator.Dependencies{
		Gateway:   rt.gateway,
		Agent:     rt.agent,
		Store:     rt.store,
		Git:       rt.git,
		Bus:       rt.bus,
		Escalator: rt.escalator,
		Logger:    rt.logger,
	})
}

func (rt *runtime) watchdog() *watchdog.Watchdog {
	return watchdog.New(watchdog.Config{
		TriggerLabel: rt.cfg.PRLabel,
		StallTimeout: time.Duration(rt.cfg.StallTimeoutMinutes) * time.Minute,
		BaseBranch:   rt.cfg.BaseBranch,
	}, rt.gateway, rt.store, rt.escalator, rt.logger)
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "cco",
	})
	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}
