package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-tts-batch/internal/adapterinfo"
	"github.com/nupi-ai/plugin-tts-batch/internal/config"
)

// offlineCommand marks commands that never reach a provider, so missing API
// keys are not an error for them.
const offlineCommand = "ttsbatch/offline"

// app carries the state shared by every subcommand of one invocation.
type app struct {
	cfg     config.Config
	cfgFile string
	logger  *slog.Logger
	stdout  io.Writer
	stderr  io.Writer
	// lookup overrides the process environment in tests.
	lookup func(string) (string, bool)
	dotEnv string
}

// NewRootCmd builds the ttsbatch command tree writing to stdout and stderr.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	return newApp(stdout, stderr).rootCmd()
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		logger: slog.New(slog.NewTextHandler(stderr, nil)),
		dotEnv: ".env",
	}
}

func (a *app) rootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           adapterinfo.Info.BinaryName,
		Short:         "Batch text-to-speech from CSV scripts",
		Version:       adapterinfo.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Loader{
				Lookup:     a.lookup,
				Cmd:        cmd,
				ConfigFile: a.cfgFile,
				DotEnv:     a.dotEnv,
				Defaults:   &defaults,
				Offline:    isOffline(cmd),
			}.Load()
			if err != nil {
				return err
			}
			a.cfg = loaded
			a.logger = newLogger(a.stderr, loaded.LogLevel)
			return nil
		},
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(a.newRunCmd())
	cmd.AddCommand(a.newTemplateCmd())
	cmd.AddCommand(a.newVoicesCmd())
	cmd.AddCommand(a.newHistoryCmd())
	cmd.AddCommand(a.newServeCmd())

	return cmd
}

func markOffline(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[offlineCommand] = "true"
	return cmd
}

func isOffline(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[offlineCommand] == "true" {
			return true
		}
	}
	return false
}

func newLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
