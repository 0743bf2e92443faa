package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

// dateRow normalizes a scanned DATE to the ledger's month period.
type dateRow struct {
	start time.Time
}

func (d dateRow) period() ledger.Period {
	return ledger.PeriodOf(d.start)
}

// ListPeriods returns all periods ordered by start date.
func (s *Store) ListPeriods(ctx context.Context) ([]ledger.PeriodRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT period_start, currency, sources
		FROM period
		ORDER BY period_start`)
	if err != nil {
		return nil, fmt.Errorf("query periods: %w", err)
	}
	periods, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.PeriodRecord, error) {
		var p ledger.PeriodRecord
		var d dateRow
		var sources []string
		if err := row.Scan(&d.start, &p.Currency, &sources); err != nil {
			return p, err
		}
		p.Period = d.period()
		for _, src := range sources {
			p.Sources = append(p.Sources, ledger.Source(src))
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan periods: %w", err)
	}
	return periods, nil
}

// MetricValues returns canonical values of metric for periods overlapping start..end.
func (s *Store) MetricValues(ctx context.Context, metric string, start, end time.Time) ([]ledger.CanonicalMetric, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT period_start, metric, value, provenance
		FROM metric_value
		WHERE metric = $1 AND period_end >= $2 AND period_start <= $3
		ORDER BY period_start`,
		metric, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query metric values: %w", err)
	}
	values, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.CanonicalMetric, error) {
		var m ledger.CanonicalMetric
		var d dateRow
		if err := row.Scan(&d.start, &m.Metric, &m.Value, &m.Provenance); err != nil {
			return m, err
		}
		m.Period = d.period()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan metric values: %w", err)
	}
	return values, nil
}

// LineItemValues returns canonical line items of category for periods overlapping start..end.
func (s *Store) LineItemValues(ctx context.Context, category string, start, end time.Time) ([]ledger.CanonicalLineItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT period_start, category, path, name, account_id, value, provenance
		FROM line_item_value
		WHERE category = $1 AND period_end >= $2 AND period_start <= $3
		ORDER BY period_start, path`,
		category, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.CanonicalLineItem, error) {
		var li ledger.CanonicalLineItem
		var d dateRow
		if err := row.Scan(&d.start, &li.Category, &li.Path, &li.Name, &li.AccountID, &li.Value, &li.Provenance); err != nil {
			return li, err
		}
		li.Period = d.period()
		return li, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan line items: %w", err)
	}
	return items, nil
}
