package ledger

import (
	"context"
	"time"
)

// Snapshot is a fully reconciled ledger held in memory. It is what an
// ingestion run persists, and it can serve reads directly.
type Snapshot struct {
	Periods      []PeriodRecord
	RawMetrics   []MetricObservation
	RawLineItems []LineItemObservation
	Metrics      []CanonicalMetric
	LineItems    []CanonicalLineItem
	Issues       []Issue
}

// Counts returns the row counts of the snapshot.
func (s *Snapshot) Counts() Counts {
	return Counts{
		Periods:      len(s.Periods),
		RawMetrics:   len(s.RawMetrics),
		RawLineItems: len(s.RawLineItems),
		Metrics:      len(s.Metrics),
		LineItems:    len(s.LineItems),
		Issues:       len(s.Issues),
	}
}

// Observations returns the raw observations the snapshot was built from.
func (s *Snapshot) Observations() Observations {
	obs := Observations{
		Metrics:   append([]MetricObservation(nil), s.RawMetrics...),
		LineItems: append([]LineItemObservation(nil), s.RawLineItems...),
	}
	for _, p := range s.Periods {
		obs.SetCurrency(p.Period, p.Currency)
	}
	return obs
}

// ListPeriods returns all periods ordered by start date.
func (s *Snapshot) ListPeriods(_ context.Context) ([]PeriodRecord, error) {
	return append([]PeriodRecord(nil), s.Periods...), nil
}

// MetricValues returns canonical values of metric for periods overlapping start..end.
func (s *Snapshot) MetricValues(_ context.Context, metric string, start, end time.Time) ([]CanonicalMetric, error) {
	var out []CanonicalMetric
	for _, m := range s.Metrics {
		if m.Metric == metric && m.Period.Overlaps(start, end) {
			out = append(out, m)
		}
	}
	return out, nil
}

// LineItemValues returns canonical line items of category for periods overlapping start..end.
func (s *Snapshot) LineItemValues(_ context.Context, category string, start, end time.Time) ([]CanonicalLineItem, error) {
	var out []CanonicalLineItem
	for _, li := range s.LineItems {
		if li.Category == category && li.Period.Overlaps(start, end) {
			out = append(out, li)
		}
	}
	return out, nil
}
