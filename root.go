package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/keyviewer-cloud/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that run without a resolved config.
const skipConfigAnnotation = "skipConfig"

// CLIFlags holds the global persistent flags.
type CLIFlags struct {
	ConfigPath string
	Provider   string
	JSON       bool
	Verbose    bool
	Quiet      bool
	Ephemeral  bool
}

// CLIContext is what every subcommand receives through cmd.Context().
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
	Out    io.Writer

	logCloser io.Closer
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext installed by the root pre-run. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("keyviewer-cloud: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "keyviewer-cloud",
		Short:   "Sign in to GitHub or Google Drive and sync KeyViewer settings",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, flags)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			if cc.logCloser != nil {
				return cc.logCloser.Close()
			}

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.Provider, "provider", "", "provider to sign in with (github or google)")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	pf.BoolVar(&flags.Ephemeral, "ephemeral", false, "keep credentials in memory only")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves configuration and builds the logger for cmd.
func newCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	cc := &CLIContext{Flags: flags, Out: cmd.OutOrStdout()}

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		cc.Logger = bootstrapLogger(flags)
		return cc, nil
	}

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}
	if cmd.Flags().Changed("provider") {
		cli.Provider = flags.Provider
	}

	if cmd.Flags().Changed("ephemeral") {
		cli.Ephemeral = &flags.Ephemeral
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = resolved

	logger, closer, err := buildLogger(resolved.Logging, flags, os.Stderr)
	if err != nil {
		return nil, err
	}

	cc.Logger = logger
	cc.logCloser = closer

	return cc, nil
}

// bootstrapLogger is used before config is loaded. It only honors flags.
func bootstrapLogger(flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn
	if flags.Verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates the logger from the [logging] section. Config-file
// log level provides the baseline; --verbose and --quiet override it.
// The returned closer is non-nil when logs go to log_file.
func buildLogger(cfg config.LoggingConfig, flags CLIFlags, stderr *os.File) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.LogLevel)

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	var (
		w      io.Writer = stderr
		closer io.Closer
		tty    = stderr != nil && isatty.IsTerminal(stderr.Fd())
	)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}

		w, closer, tty = f, f, false
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch {
	case cfg.LogFormat == "json", cfg.LogFormat == "auto" && !tty:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler), closer, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
