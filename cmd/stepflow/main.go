// Command stepflow compiles, checks, draws and registers step programs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/internal/definition"
	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/internal/expressions"
	"github.com/rendis/stepflow/internal/logging"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/telemetry"
	"github.com/rendis/stepflow/pkg/flow"
)

// app is the state shared by every subcommand, set up in PersistentPreRunE.
type app struct {
	cfg        Config
	configPath string
	logger     *slog.Logger
	loader     *definition.Loader
	telemetry  *telemetry.Providers
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "stepflow",
		Short:         "stepflow - declarative step programs compiled to state graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.shutdown(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", settingsPath(), "settings file")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddGroup(
		&cobra.Group{ID: "build", Title: "Program Commands:"},
		&cobra.Group{ID: "registry", Title: "Registry Commands:"},
	)
	root.AddCommand(
		a.compileCmd(),
		a.validateCmd(),
		a.diagramCmd(),
		a.defineCmd(),
		a.listCmd(),
		a.historyCmd(),
		a.deleteCmd(),
		a.serveCmd(),
		a.installCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	a.cfg = cfg
	a.logger = logging.New(os.Stderr, cfg.LogLevel)

	a.telemetry, err = telemetry.Init(cmd.Context(), cfg.Telemetry, "stepflow", version, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	engines, err := expressions.NewEngines()
	if err != nil {
		return fmt.Errorf("expression engines: %w", err)
	}
	a.loader, err = definition.NewLoader(engines)
	return err
}

// shutdown flushes telemetry. Errors are logged only.
func (a *app) shutdown(ctx context.Context) {
	if a.telemetry == nil {
		return
	}
	if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.WarnContext(ctx, "telemetry shutdown failed", "error", err)
	}
}

// buildOptions are the flow options every build of this process uses.
func (a *app) buildOptions() []flow.BuildOption {
	opts := []flow.BuildOption{flow.WithLogger(a.logger)}
	if a.cfg.ConcurrentBranches > 0 {
		opts = append(opts, flow.WithConcurrentBranches(a.cfg.ConcurrentBranches))
	}
	return opts
}

func (a *app) renderer() diagram.Renderer {
	return diagram.Renderer{MermaidASCIIDir: a.cfg.MermaidASCIIDir}
}

// openStore opens and migrates the registry database.
func (a *app) openStore(ctx context.Context) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o700); err != nil {
		return nil, err
	}
	s, err := store.NewLibSQLStore("file:" + a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// registry wraps s with registry instrumentation when telemetry is on.
func (a *app) registry(s store.Store) store.Store {
	return telemetry.WrapStore(s)
}
