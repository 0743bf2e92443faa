package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/finledger/internal/ingest"
	"github.com/MikeSquared-Agency/finledger/internal/store"
)

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var (
		mode   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Normalize both sources, reconcile them and store the ledger",
		Long: "Reads the QuickBooks and Rootfi reports, reconciles them and replaces the stored ledger.\n" +
			"With --dry-run nothing is written and a replace dry run needs no database.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := ingest.ParseMode(mode)
			if err != nil {
				return err
			}
			cfg := opts.cfg
			logger := slog.Default()
			ctx := cmd.Context()

			var repo ingest.Repository
			if !dryRun || m == ingest.ModeUpsert {
				if err := requireDatabase(cfg); err != nil {
					return err
				}
				db, err := store.New(ctx, cfg.DatabaseURL)
				if err != nil {
					return fmt.Errorf("connect to database: %w", err)
				}
				defer db.Close()
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				repo = db
			}

			svc := ingest.NewService(reconcileConfig(cfg), sourceSpecs(cfg), repo, logger)
			var report *ingest.Report
			if dryRun {
				report, err = svc.DryRun(ctx, m)
			} else {
				report, err = svc.Run(ctx, m)
			}
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(ingest.ModeReplace), "replace or upsert")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "reconcile without writing")
	return cmd
}

func printReport(w io.Writer, r *ingest.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
