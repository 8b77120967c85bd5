// kitchen is the CLI front end for the recipe/cab/backend core (spec §1
// names the CLI out of scope for the core itself; this binary is its thin
// external collaborator). Grounded on the teacher's cmd/cwl-runner/main.go:
// a cobra root command with persistent logging/output flags and verb
// subcommands delegating into the core packages.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/caracal/kitchen/internal/config"
	"github.com/caracal/kitchen/internal/logging"
)

var (
	logLevel       string
	logFormat      string
	logDir         string
	defaultBackend string
	statusAddr     string
	includePaths   []string
	maxOpenFiles   int
)

const version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "kitchen",
		Short:   "Runs declarative data-processing recipes",
		Version: version,
		Long: `kitchen loads recipe/cab documents, prevalidates a recipe's
parameters, and schedules its steps against a pluggable execution backend.

Examples:
  # Run a recipe's last-declared pipeline
  kitchen run recipe.yml ms=foo.ms

  # Run a specific recipe, selecting steps and tags
  kitchen run recipe.yml my_recipe --steps calibrate:image --tags=slow

  # Describe a recipe's inputs/outputs/step tree
  kitchen doc recipe.yml my_recipe

  # Build every cab image a recipe references
  kitchen build recipe.yml my_recipe
`,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "text, json")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "directory for per-step log files (strftime-templated)")
	rootCmd.PersistentFlags().StringVar(&defaultBackend, "backend", "", "default execution backend (local, container, batch)")
	rootCmd.PersistentFlags().StringVar(&statusAddr, "status-addr", "", "address for the optional live-progress SSE server")
	rootCmd.PersistentFlags().StringSliceVar(&includePaths, "include", nil, "additional _include/_use search paths, in STIMELA_INCLUDE order")
	rootCmd.PersistentFlags().IntVar(&maxOpenFiles, "max-open-files", 0, "RLIMIT_NOFILE cap applied to locally-spawned processes (0: inherit)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(buildCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := logging.ParseLevel(logLevel)
	return logging.NewLogger(level, logFormat)
}

// colorEnabled reports whether stderr is a terminal, the same isatty check
// the teacher's output layer would use to decide whether to colorize.
func colorEnabled() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

func runConfig() config.RunConfig {
	cfg := config.DefaultRunConfig()
	cfg.ApplyEnv()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if logDir != "" {
		cfg.LogDir = logDir
	}
	if defaultBackend != "" {
		cfg.Backend = defaultBackend
	}
	if statusAddr != "" {
		cfg.StatusAddr = statusAddr
	}
	if maxOpenFiles != 0 {
		cfg.MaxOpenFiles = maxOpenFiles
	}
	cfg.SearchPaths = append(cfg.SearchPaths, includePaths...)
	return cfg
}

// withInterruptCancel returns a context cancelled on SIGINT/SIGTERM (spec
// §7 *Cancelled*: "operator interrupt... runtime performs cleanup").
func withInterruptCancel(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("received interrupt, cancelling run")
		cancel()
	}()
	return ctx, cancel
}
