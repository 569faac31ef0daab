// Package main provides the CLI entrypoint for aura.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/aura/internal/config"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

var (
	globalOpts struct {
		verbose    bool
		configPath string
	}
	logger *slog.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "aura",
	Short: "Ambient sonification of Graylog log activity",
	Long: `aura samples recent log activity from Graylog and turns it into sound.

A background sound loops continuously with its volume following the message
rate, and short tones mark errors and warnings as they appear.

The configuration file is read from --config, $AURA_CONFIG or ./config.json.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, config.ResolvePath(globalOpts.configPath), logger)
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: $AURA_CONFIG or ./config.json)")
}

// setupLogger configures the global slog logger.
func setupLogger() {
	level := slog.LevelInfo
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// reportError logs a fatal error, naming each offending configuration field.
func reportError(err error) {
	l := logger
	if l == nil {
		l = slog.Default()
	}

	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			reportError(e)
		}
		return
	}

	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		attrs := []any{"field", cfgErr.Field, "reason", cfgErr.Reason}
		if cfgErr.Err != nil {
			attrs = append(attrs, "error", cfgErr.Err)
		}
		l.Error("invalid configuration", attrs...)
		return
	}

	l.Error("aura failed", "error", err)
}
