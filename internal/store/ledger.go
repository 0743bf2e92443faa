package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

// ReplaceLedger swaps the stored ledger for snap and closes the run as ok,
// all in one transaction. Readers see either the old or the new ledger.
func (s *Store) ReplaceLedger(ctx context.Context, run ledger.Run, snap *ledger.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}

	for _, table := range []string{"line_item_value", "metric_value", "raw_line_item_value", "raw_metric_value", "period"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"period"},
		[]string{"period_start", "period_end", "currency", "sources"},
		pgx.CopyFromSlice(len(snap.Periods), func(i int) ([]any, error) {
			p := snap.Periods[i]
			sources := make([]string, len(p.Sources))
			for j, src := range p.Sources {
				sources[j] = string(src)
			}
			return []any{p.Period.Start, p.Period.End, p.Currency, sources}, nil
		}),
	); err != nil {
		return fmt.Errorf("copy periods: %w", err)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"raw_metric_value"},
		[]string{"period_start", "period_end", "source", "metric", "value"},
		pgx.CopyFromSlice(len(snap.RawMetrics), func(i int) ([]any, error) {
			m := snap.RawMetrics[i]
			return []any{m.Period.Start, m.Period.End, string(m.Source), m.Metric, m.Value}, nil
		}),
	); err != nil {
		return fmt.Errorf("copy raw metrics: %w", err)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"raw_line_item_value"},
		[]string{"period_start", "period_end", "source", "category", "path", "name", "account_id", "value"},
		pgx.CopyFromSlice(len(snap.RawLineItems), func(i int) ([]any, error) {
			li := snap.RawLineItems[i]
			return []any{li.Period.Start, li.Period.End, string(li.Source), li.Category, li.Path, li.Name, li.AccountID, li.Value}, nil
		}),
	); err != nil {
		return fmt.Errorf("copy raw line items: %w", err)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"metric_value"},
		[]string{"period_start", "period_end", "metric", "value", "provenance"},
		pgx.CopyFromSlice(len(snap.Metrics), func(i int) ([]any, error) {
			m := snap.Metrics[i]
			return []any{m.Period.Start, m.Period.End, m.Metric, m.Value, m.Provenance}, nil
		}),
	); err != nil {
		return fmt.Errorf("copy metrics: %w", err)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"line_item_value"},
		[]string{"period_start", "period_end", "category", "path", "name", "account_id", "value", "provenance"},
		pgx.CopyFromSlice(len(snap.LineItems), func(i int) ([]any, error) {
			li := snap.LineItems[i]
			return []any{li.Period.Start, li.Period.End, li.Category, li.Path, li.Name, li.AccountID, li.Value, li.Provenance}, nil
		}),
	); err != nil {
		return fmt.Errorf("copy line items: %w", err)
	}

	for _, iss := range snap.Issues {
		details, err := json.Marshal(iss.Detail)
		if err != nil {
			return fmt.Errorf("marshal issue details: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO ingestion_issue (run_id, level, source, period_start, period_end, metric, message, details)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			run.ID, iss.Level, iss.Source, iss.Period.Start, iss.Period.End, iss.Metric, iss.Message, details,
		)
		if err != nil {
			return fmt.Errorf("insert issue: %w", err)
		}
	}

	counts, err := json.Marshal(snap.Counts())
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE ingestion_run SET status = $2, counts = $3, finished_at = now()
		WHERE id = $1`,
		run.ID, ledger.RunOK, counts,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run: run %s not found", run.ID)
	}

	return tx.Commit(ctx)
}

// RawObservations loads every stored raw observation with period currencies.
func (s *Store) RawObservations(ctx context.Context) (ledger.Observations, error) {
	var obs ledger.Observations

	rows, err := s.pool.Query(ctx, `
		SELECT period_start, source, metric, value
		FROM raw_metric_value
		ORDER BY period_start, source, metric`)
	if err != nil {
		return obs, fmt.Errorf("query raw metrics: %w", err)
	}
	obs.Metrics, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.MetricObservation, error) {
		var m ledger.MetricObservation
		var d dateRow
		var src string
		if err := row.Scan(&d.start, &src, &m.Metric, &m.Value); err != nil {
			return m, err
		}
		m.Period, m.Source = d.period(), ledger.Source(src)
		return m, nil
	})
	if err != nil {
		return obs, fmt.Errorf("scan raw metrics: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT period_start, source, category, path, name, account_id, value
		FROM raw_line_item_value
		ORDER BY period_start, source, category, path`)
	if err != nil {
		return obs, fmt.Errorf("query raw line items: %w", err)
	}
	obs.LineItems, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.LineItemObservation, error) {
		var li ledger.LineItemObservation
		var d dateRow
		var src string
		if err := row.Scan(&d.start, &src, &li.Category, &li.Path, &li.Name, &li.AccountID, &li.Value); err != nil {
			return li, err
		}
		li.Period, li.Source = d.period(), ledger.Source(src)
		return li, nil
	})
	if err != nil {
		return obs, fmt.Errorf("scan raw line items: %w", err)
	}

	periods, err := s.ListPeriods(ctx)
	if err != nil {
		return obs, err
	}
	for _, p := range periods {
		obs.SetCurrency(p.Period, p.Currency)
	}
	return obs, nil
}
