// Package main implements the squirrel CLI: create, scan, and sync a data
// store from the command line (§6).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/data-squirrel/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
	flagJSON       bool
)

// skipConfigAnnotation marks commands that do not need a resolved config
// (none currently do, but the hook stays available for one that doesn't).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the resolved config and logger built once in
// PersistentPreRunE, so RunE handlers never re-derive either.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics — a command tree bug,
// never a user-facing condition, since PersistentPreRunE always populates it
// before any RunE handler runs.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "squirrel",
		Short:   "Peer-to-peer, eventually-consistent file synchronizer",
		Long:    "squirrel indexes a directory tree into a metadata database and syncs it, one pull at a time, against any other squirrel store.",
		Version: version,
		// Silence Cobra's default error/usage printing — commands report
		// their own errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newSyncFromCmd())
	cmd.AddCommand(newRulesCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration and stores it, along
// with a level-appropriate logger, in the command's context.
func loadCLIContext(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	envPath := os.Getenv("SQUIRREL_CONFIG")
	cfgPath := config.ResolveConfigPath(flagConfigPath, envPath, logger)

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	finalLogger := buildLogger(cfg)
	cc := &CLIContext{Cfg: cfg, Logger: finalLogger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger whose level is set by the config
// file's log_level, then overridden by whichever of --verbose/--debug/
// --quiet was passed (Cobra enforces they're mutually exclusive).
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
