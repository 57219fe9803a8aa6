package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	debug       bool
	configPath  string
	provider    string
	trace       bool
	metricsAddr string

	telemetry *telemetry
}

func newRootCommand() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "promptloop",
		Short: "promptloop - evaluate and improve prompt templates",
		Long: `promptloop evaluates versioned prompt templates against datasets and
improves them automatically.

Each run executes a template on every dataset entry, validates the output
against the template's output contract and scores it with an LLM judge.
The improve command proposes new versions from the failures, evaluates them
on the same entries and promotes the best one when it clears every gate.`,
		Version:      version,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.BoolVar(&g.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&g.configPath, "config", "", "Config file, or the directory to search for .promptloop.yaml (default: working directory)")
	flags.StringVar(&g.provider, "provider", "", "Override the configured provider (openai, ollama, groq, huggingface, anthropic, copilot, mock)")
	flags.BoolVar(&g.trace, "trace", false, "Print OpenTelemetry spans to stderr")
	flags.StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if g.debug {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
		if g.trace {
			t, err := startTracing(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			g.telemetry = t
		}
		return nil
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return g.shutdown(cmd.Context())
	}

	cmd.AddCommand(newEvalCommand(g))
	cmd.AddCommand(newImproveCommand(g))
	cmd.AddCommand(newTemplateCommand(g))
	cmd.AddCommand(newCacheCommand(g))

	return cmd
}

// shutdown flushes tracing. It is safe to call more than once.
func (g *globalOptions) shutdown(ctx context.Context) error {
	if g.telemetry == nil {
		return nil
	}
	t := g.telemetry
	g.telemetry = nil
	return t.Shutdown(ctx)
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.ExecuteContext(context.Background())
}
