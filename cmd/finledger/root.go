package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/finledger/internal/anthropic"
	"github.com/MikeSquared-Agency/finledger/internal/config"
	"github.com/MikeSquared-Agency/finledger/internal/gemini"
	"github.com/MikeSquared-Agency/finledger/internal/ingest"
	"github.com/MikeSquared-Agency/finledger/internal/ledger"
	"github.com/MikeSquared-Agency/finledger/internal/llm"
	"github.com/MikeSquared-Agency/finledger/internal/normalize"
	"github.com/MikeSquared-Agency/finledger/internal/reconcile"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	configPath string
	cfg        config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "finledger",
		Short:         "Reconciled financial ledger with a guarded question-answering layer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			opts.cfg = cfg
			// MCP speaks on stdout, so its logs go to stderr.
			out := cmd.OutOrStdout()
			if cmd.Name() == "mcp" {
				out = cmd.ErrOrStderr()
			}
			setupLogging(out, cfg.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (environment variables override it)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newIngestCommand(opts))
	cmd.AddCommand(newMCPCommand(opts))

	return cmd
}

func setupLogging(w io.Writer, level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func reconcileConfig(cfg config.Config) reconcile.Config {
	return reconcile.Config{
		Primary:   ledger.Source(cfg.PrimarySource),
		Tolerance: cfg.MergeTolerance,
	}
}

func sourceSpecs(cfg config.Config) []ingest.SourceSpec {
	return []ingest.SourceSpec{
		{Normalizer: normalize.NewQuickBooks(), Path: cfg.QuickBooksPath},
		{Normalizer: normalize.NewRootfi(), Path: cfg.RootfiPath},
	}
}

// newCompleter returns the configured model client, or nil when the
// selected provider has no key.
func newCompleter(ctx context.Context, cfg config.Config) (llm.Completer, error) {
	if !cfg.LLMConfigured() {
		return nil, nil
	}
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		slog.Info("gemini client ready", "model", cfg.GeminiModel)
		return c, nil
	default:
		slog.Info("anthropic client ready", "model", cfg.AnthropicModel)
		return anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	}
}

func requireDatabase(cfg config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}
