// Command takt is the task-runner CLI: it loads layered configuration,
// wires the Piece Engine's collaborators (agent client, VCS, GitHub issue,
// repertoire, localization), and exposes the run/watch/add/list/switch/
// clear/eject/config sub-commands described in SPEC_FULL.md §6. Command
// tree shape, color helpers, and persistent-flag layout are grounded on
// the teacher's cmd/cobra_cli.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cklxx/takt/internal/agentclient"
	"github.com/cklxx/takt/internal/ghissue"
	"github.com/cklxx/takt/internal/i18n"
	"github.com/cklxx/takt/internal/observability"
	"github.com/cklxx/takt/internal/piece"
	"github.com/cklxx/takt/internal/repertoire"
	"github.com/cklxx/takt/internal/taktconfig"
	"github.com/cklxx/takt/internal/taktlog"
	"github.com/cklxx/takt/internal/taskqueue"
	"github.com/cklxx/takt/internal/vcsclient"
)

// version is stamped at build time via -ldflags; "dev" otherwise.
var version = "dev"

var (
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// App bundles every narrow collaborator the sub-commands share, built once
// in PersistentPreRunE so each command function stays a thin RunE.
type App struct {
	ProjectDir string
	Logger     *slog.Logger
	Resolver   *taktconfig.Resolver
	Config     taktconfig.ResolvedConfig

	Store       *taskqueue.Store
	Loader      *piece.Loader
	AgentClient agentclient.Client
	VCS         vcsclient.Client
	Issues      ghissue.Client
	Repertoire  repertoire.Client
	Bundles     *i18n.Bundles
}

// Localizer returns a Localizer bound to the resolved project language.
func (a *App) Localizer() i18n.Localizer {
	return a.Bundles.Localizer(a.Config.Language)
}

func newApp() (*App, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determine working directory: %w", err)
	}

	resolver := taktconfig.NewResolver(wd)
	cfg, err := resolver.Resolve()
	if err != nil {
		return nil, err
	}

	metrics, err := taskqueue.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("init task queue metrics: %w", err)
	}
	store := taskqueue.NewStore(wd, metrics)
	if err := store.EnsureDirs(); err != nil {
		return nil, err
	}

	bundles := i18n.Load()
	store.Localizer = bundles.Localizer(cfg.Language)

	loader, err := piece.NewLoader(filepath.Join(wd, ".takt", "pieces"), globalPiecesDir(), builtinPiecesDir())
	if err != nil {
		return nil, err
	}
	loader.DisabledBuiltins = toSet(cfg.DisabledBuiltins)

	var client agentclient.Client
	switch cfg.DefaultProvider {
	case string(agentclient.ProviderMock), "":
		client = agentclient.NewMockScript(nil)
	default:
		client = agentclient.NewStub(agentclient.Provider(cfg.DefaultProvider))
	}

	logger := taktlog.New(os.Stderr, taktlog.ParseLevel(os.Getenv("TAKT_LOG_LEVEL")))

	return &App{
		ProjectDir:  wd,
		Logger:      logger,
		Resolver:    resolver,
		Config:      cfg,
		Store:       store,
		Loader:      loader,
		AgentClient: client,
		VCS:         vcsclient.New(wd),
		Issues:      ghissue.NewStub(),
		Repertoire:  repertoire.NewGitClient(wd, nil),
		Bundles:     bundles,
	}, nil
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item] = true
	}
	return out
}

func globalPiecesDir() string {
	if dir := os.Getenv("TAKT_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "pieces")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".takt", "pieces")
	}
	return ""
}

func builtinPiecesDir() string {
	return os.Getenv("TAKT_BUILTIN_PIECES_DIR")
}

// newRootCommand builds the command tree. App construction is deferred to
// PersistentPreRunE so `--help` and `version` never need a resolved config
// or a writable .takt directory.
func newRootCommand() *cobra.Command {
	var app *App

	root := &cobra.Command{
		Use:   "takt",
		Short: "Orchestrate long-running AI coding agents through YAML-defined pieces",
		Long: fmt.Sprintf(`%s

takt drives external coding-agent "personas" through user-authored workflows
("pieces"): directed graphs of movements, evaluated with textual, aggregate,
or AI-judged routing rules until a terminal state is reached.

%s
  takt "fix the flaky retry test"    # run a task immediately
  takt run "#42"                     # resolve and run a GitHub issue
  takt watch                         # start the polling worker pool
  takt add "refactor the parser"     # queue a task without running it
  takt list                          # show queued/completed/failed tasks`,
			bold("takt "+version), bold("EXAMPLES:")),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			built, err := newApp()
			if err != nil {
				return err
			}
			app = built
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			pieceID, _ := cmd.Flags().GetString("piece")
			return runTask(cmd.Context(), app, joinArgs(args), pieceID)
		},
	}

	root.PersistentFlags().StringP("piece", "p", "", "piece identifier to run (overrides the task file's piece)")
	root.PersistentFlags().IntP("concurrency", "c", 0, "worker pool size (overrides config)")

	root.AddCommand(newRunCommand(&app))
	root.AddCommand(newWatchCommand(&app))
	root.AddCommand(newAddCommand(&app))
	root.AddCommand(newListCommand(&app))
	root.AddCommand(newSwitchCommand(&app))
	root.AddCommand(newClearCommand(&app))
	root.AddCommand(newEjectCommand(&app))
	root.AddCommand(newConfigCommand(&app))
	root.AddCommand(newVersionCommand())

	return root
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

// installSignalHandling wires SIGINT/SIGTERM to the supervisor's
// grace-then-force sequence: first signal triggers Drain, a second signal
// triggers AbortAll. A drain that times out does not call AbortAll.
func installSignalHandling(ctx context.Context, drain, abort func()) context.Context {
	runCtx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(os.Stderr, yellow("\ninterrupt received; draining in-flight tasks (press Ctrl-C again to force-abort)"))
		cancel()
		go drain()

		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, red("second interrupt; aborting in-flight tasks"))
			abort()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return runCtx
}

// setupObservability loads .takt/observability.yaml (or its defaults, which
// leave tracing off and metrics on :9090) and wires the tracer/meter
// providers every lower package's otel.Tracer()/otel.Meter() calls pick up
// through the global registry. Errors here are logged, never fatal: a
// broken collector endpoint shouldn't stop a task runner from running
// tasks.
func setupObservability() func() {
	wd, err := os.Getwd()
	if err != nil {
		return func() {}
	}
	cfg, err := observability.LoadConfig(filepath.Join(wd, ".takt", "observability.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s observability config: %v\n", yellow("warning:"), err)
		cfg = observability.DefaultConfig()
	}

	ctx := context.Background()
	tracingShutdown, err := observability.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s tracing disabled: %v\n", yellow("warning:"), err)
		tracingShutdown = func(context.Context) error { return nil }
	}
	metricsShutdown, err := observability.SetupMetrics(cfg.Metrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s metrics disabled: %v\n", yellow("warning:"), err)
		metricsShutdown = func(context.Context) error { return nil }
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracingShutdown(shutdownCtx)
		_ = metricsShutdown(shutdownCtx)
	}
}

func main() {
	if renderer, err := NewMarkdownRenderer(); err == nil {
		globalMarkdownRenderer = renderer
	}

	shutdown := setupObservability()
	defer shutdown()

	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}
