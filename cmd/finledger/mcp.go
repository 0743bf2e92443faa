package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/finledger/internal/mcpserver"
	"github.com/MikeSquared-Agency/finledger/internal/query"
	"github.com/MikeSquared-Agency/finledger/internal/store"
)

func newMCPCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the ledger query tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if err := requireDatabase(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := store.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			logger := slog.Default()
			logger.Info("MCP server starting on stdio", "version", version)
			return mcpserver.Serve(ctx, mcpserver.NewTools(query.NewService(db), logger), version)
		},
	}
}
