package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/vidpub/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run without a valid config,
// e.g. so a broken file can still be inspected.
const skipConfigAnnotation = "skip-config"

// CLIFlags holds the persistent flag values.
type CLIFlags struct {
	ConfigPath string
	TokenFile  string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is what every subcommand receives through cmd.Context().
type CLIContext struct {
	Flags  CLIFlags
	Logger *slog.Logger
	Cfg    *config.Resolved
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. It panics
// if called from a command that bypassed the root command.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "vidpub",
		Short:   "YouTube upload CLI and API server",
		Long:    "Authenticate with YouTube and publish videos over the resumable upload protocol.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc := &CLIContext{Flags: flags}

			if cmd.Annotations[skipConfigAnnotation] == "" {
				resolved, err := loadConfig(cmd, &flags)
				if err != nil {
					return err
				}

				cc.Cfg = resolved
			}

			cc.Logger = buildLogger(os.Stderr, cc.Cfg, &flags)
			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.TokenFile, "token-file", "", "token file path")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newCategoriesCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain.
func loadConfig(cmd *cobra.Command, flags *CLIFlags) (*config.Resolved, error) {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	// Only pass flags the user explicitly set.
	if cmd.Flags().Changed("token-file") {
		cli.TokenFile = &flags.TokenFile
	}

	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		v := f.Value.String()
		cli.Listen = &v
	}

	if f := cmd.Flags().Lookup("chunk-size"); f != nil && f.Changed {
		v := f.Value.String()
		cli.ChunkSize = &v
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return resolved, nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger(w io.Writer, cfg *config.Resolved, flags *CLIFlags) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = cfg.Logging.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
