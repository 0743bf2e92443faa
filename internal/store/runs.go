package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

// RunRecord is a stored ingestion run.
type RunRecord struct {
	ledger.Run
	Counts ledger.Counts `json:"counts"`
	Error  string        `json:"error,omitempty"`
}

// CreateRun records the start of an ingestion run.
func (s *Store) CreateRun(ctx context.Context, run ledger.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingestion_run (id, mode, primary_source, tolerance, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.Mode, string(run.Primary), run.Tolerance, ledger.RunRunning, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ingestion run: %w", err)
	}
	return nil
}

// FailRun closes a run as failed. The stored ledger is left untouched.
func (s *Store) FailRun(ctx context.Context, id uuid.UUID, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_run SET status = $2, error = $3, finished_at = now()
		WHERE id = $1`,
		id, ledger.RunError, msg,
	)
	if err != nil {
		return fmt.Errorf("fail ingestion run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, mode, primary_source, tolerance, status, counts, error, started_at, finished_at
		FROM ingestion_run
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ingestion runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RunRecord, error) {
		var r RunRecord
		var primary string
		var counts []byte
		if err := row.Scan(&r.ID, &r.Mode, &primary, &r.Tolerance, &r.Status, &counts, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return r, err
		}
		r.Primary = ledger.Source(primary)
		if len(counts) > 0 {
			if err := json.Unmarshal(counts, &r.Counts); err != nil {
				return r, fmt.Errorf("decode counts: %w", err)
			}
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan ingestion runs: %w", err)
	}
	return runs, nil
}

// RunIssues returns the issues logged by a run.
func (s *Store) RunIssues(ctx context.Context, runID uuid.UUID) ([]ledger.Issue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT level, source, period_start, metric, message, details
		FROM ingestion_issue
		WHERE run_id = $1
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run issues: %w", err)
	}
	issues, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Issue, error) {
		var iss ledger.Issue
		var d dateRow
		var details []byte
		if err := row.Scan(&iss.Level, &iss.Source, &d.start, &iss.Metric, &iss.Message, &details); err != nil {
			return iss, err
		}
		iss.Period = d.period()
		if err := json.Unmarshal(details, &iss.Detail); err != nil {
			return iss, fmt.Errorf("decode issue details: %w", err)
		}
		return iss, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan run issues: %w", err)
	}
	return issues, nil
}
