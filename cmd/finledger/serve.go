package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/finledger/internal/api"
	"github.com/MikeSquared-Agency/finledger/internal/hermes"
	"github.com/MikeSquared-Agency/finledger/internal/ingest"
	"github.com/MikeSquared-Agency/finledger/internal/nlq"
	"github.com/MikeSquared-Agency/finledger/internal/query"
	"github.com/MikeSquared-Agency/finledger/internal/slack"
	"github.com/MikeSquared-Agency/finledger/internal/store"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var ingestOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, NATS ingest listener and chat endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, ingestOnStart)
		},
	}
	cmd.Flags().BoolVar(&ingestOnStart, "ingest-on-start", false, "run a replace ingestion before serving")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, ingestOnStart bool) error {
	cfg := opts.cfg
	logger := slog.Default()

	if err := requireDatabase(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database")

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	querySvc := query.NewService(db)
	ingestSvc := ingest.NewService(reconcileConfig(cfg), sourceSpecs(cfg), db, logger)

	if cfg.NatsURL != "" {
		bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer bus.Close()
		if err := bus.Subscribe(hermes.SubjectIngestRequested, ingestSvc.HandleIngestRequested); err != nil {
			return fmt.Errorf("subscribe %s: %w", hermes.SubjectIngestRequested, err)
		}
		ingestSvc.SetPublisher(bus)
	} else {
		logger.Warn("NATS_URL not set, ingest events disabled")
	}

	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		ingestSvc.SetNotifier(slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger))
		logger.Info("slack ingest notifications enabled", "channel", cfg.SlackChannel)
	}

	apiOpts := api.Options{
		APIToken: cfg.APIToken,
		Ingest:   ingestSvc,
		Runs:     db,
		Health:   db,
	}

	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create %s client: %w", cfg.LLMProvider, err)
	}
	if completer != nil {
		apiOpts.Chat = nlq.NewService(
			nlq.NewLLMPlanner(completer, logger),
			nlq.NewLLMNarrator(completer, logger),
			querySvc,
			db,
			nlq.Options{Timeout: cfg.NLQTimeout, HistoryLimit: cfg.ChatHistoryLimit},
			logger,
		)
	} else {
		logger.Warn("no LLM key configured, chat disabled", "provider", cfg.LLMProvider)
	}

	if ingestOnStart {
		report, err := ingestSvc.Run(ctx, ingest.ModeReplace)
		if err != nil {
			return fmt.Errorf("initial ingest: %w", err)
		}
		logger.Info("initial ingest complete", "run_id", report.RunID, "periods", report.Counts.Periods)
	}

	server := api.NewServer(cfg.Port, querySvc, apiOpts, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("finledger running", "port", cfg.Port, "version", version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}
	return nil
}
