// Package query is the read-only aggregation layer over the canonical ledger.
// Every number shown to a user, directly or through chat, comes from here.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

// ErrInvalidInput marks errors caused by the caller's arguments.
var ErrInvalidInput = errors.New("invalid input")

// ErrNoData is returned by the metric, breakdown and compare operations when
// the ledger holds no periods at all.
var ErrNoData = errors.New("no periods available")

// Mixed is the provenance of an aggregate built from differently sourced values.
const Mixed = "mixed"

// MaxLevel bounds breakdown depth.
const MaxLevel = 10

// Grouping granularities for metric series.
const (
	GroupByMonth   = "month"
	GroupByQuarter = "quarter"
	GroupByYear    = "year"
)

// Source is the read side of a canonical ledger.
type Source interface {
	ListPeriods(ctx context.Context) ([]ledger.PeriodRecord, error)
	MetricValues(ctx context.Context, metric string, start, end time.Time) ([]ledger.CanonicalMetric, error)
	LineItemValues(ctx context.Context, category string, start, end time.Time) ([]ledger.CanonicalLineItem, error)
}

// Service answers the four read operations.
type Service struct {
	src Source
}

func NewService(src Source) *Service {
	return &Service{src: src}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// PeriodRow is one entry of ListPeriods.
type PeriodRow struct {
	Start    string   `json:"period_start"`
	End      string   `json:"period_end"`
	Label    string   `json:"label"`
	Currency string   `json:"currency,omitempty"`
	Sources  []string `json:"sources,omitempty"`
}

// ListPeriods returns all periods ordered by start date. With
// includeProvenance each row lists the sources that reported it.
func (s *Service) ListPeriods(ctx context.Context, includeProvenance bool) ([]PeriodRow, error) {
	periods, err := s.periods(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]PeriodRow, 0, len(periods))
	for _, p := range periods {
		row := PeriodRow{
			Start:    p.Period.Start.Format(ledger.DateLayout),
			End:      p.Period.End.Format(ledger.DateLayout),
			Label:    p.Period.Key(),
			Currency: p.Currency,
		}
		if includeProvenance {
			row.Sources = make([]string, 0, len(p.Sources))
			for _, src := range p.Sources {
				row.Sources = append(row.Sources, string(src))
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// MetricQuery selects a metric over a date range. Nil bounds default to the
// first and last available period.
type MetricQuery struct {
	Metric            string
	Start             *time.Time
	End               *time.Time
	GroupBy           string
	IncludeProvenance bool
}

// SeriesPoint is one bucket of a metric series.
type SeriesPoint struct {
	Period     string  `json:"period"`
	Value      float64 `json:"value"`
	Provenance string  `json:"provenance,omitempty"`
}

// MetricResult is the answer to a MetricQuery.
type MetricResult struct {
	Metric   string        `json:"metric"`
	Start    string        `json:"start"`
	End      string        `json:"end"`
	GroupBy  string        `json:"group_by"`
	Total    float64       `json:"total"`
	Series   []SeriesPoint `json:"series"`
	Currency string        `json:"currency,omitempty"`
}

// QueryMetric totals a metric over a range and buckets it by month, quarter
// or year.
func (s *Service) QueryMetric(ctx context.Context, q MetricQuery) (*MetricResult, error) {
	if !ledger.IsMetric(q.Metric) {
		return nil, invalid("unknown metric %q", q.Metric)
	}
	groupBy := q.GroupBy
	if groupBy == "" {
		groupBy = GroupByMonth
	}
	bucket, ok := bucketFuncs[groupBy]
	if !ok {
		return nil, invalid("unknown group_by %q", q.GroupBy)
	}

	periods, start, end, err := s.resolveRange(ctx, q.Start, q.End)
	if err != nil {
		return nil, err
	}

	values, err := s.src.MetricValues(ctx, q.Metric, start, end)
	if err != nil {
		return nil, fmt.Errorf("metric values: %w", err)
	}

	type agg struct {
		sum  decimal.Decimal
		prov string
	}
	buckets := make(map[string]*agg)
	total := decimal.Zero
	for _, v := range values {
		d := decimal.NewFromFloat(v.Value)
		total = total.Add(d)
		key := bucket(v.Period)
		a, ok := buckets[key]
		if !ok {
			buckets[key] = &agg{sum: d, prov: v.Provenance}
			continue
		}
		a.sum = a.sum.Add(d)
		if a.prov != v.Provenance {
			a.prov = Mixed
		}
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := &MetricResult{
		Metric:   q.Metric,
		Start:    start.Format(ledger.DateLayout),
		End:      end.Format(ledger.DateLayout),
		GroupBy:  groupBy,
		Total:    total.InexactFloat64(),
		Series:   make([]SeriesPoint, 0, len(keys)),
		Currency: currency(periods, start, end),
	}
	for _, k := range keys {
		pt := SeriesPoint{Period: k, Value: buckets[k].sum.InexactFloat64()}
		if q.IncludeProvenance {
			pt.Provenance = buckets[k].prov
		}
		res.Series = append(res.Series, pt)
	}
	return res, nil
}

var bucketFuncs = map[string]func(ledger.Period) string{
	GroupByMonth:   func(p ledger.Period) string { return p.Key() },
	GroupByQuarter: func(p ledger.Period) string { return ledger.QuarterLabel(p.Start) },
	GroupByYear:    func(p ledger.Period) string { return ledger.YearLabel(p.Start) },
}

// BreakdownQuery selects a category's line items over a date range.
type BreakdownQuery struct {
	Category          string
	Start             *time.Time
	End               *time.Time
	Level             int
	IncludeProvenance bool
}

// BreakdownRow is one truncated-path group.
type BreakdownRow struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Share      float64 `json:"share"`
	Provenance string  `json:"provenance,omitempty"`
}

// BreakdownResult is the answer to a BreakdownQuery.
type BreakdownResult struct {
	Category string         `json:"category"`
	Start    string         `json:"start"`
	End      string         `json:"end"`
	Level    int            `json:"level"`
	Total    float64        `json:"total"`
	Rows     []BreakdownRow `json:"rows"`
	Currency string         `json:"currency,omitempty"`
}

// QueryBreakdown groups line items by their path truncated to Level segments
// and reports each group's share of the category total.
func (s *Service) QueryBreakdown(ctx context.Context, q BreakdownQuery) (*BreakdownResult, error) {
	if !ledger.IsCategory(q.Category) {
		return nil, invalid("unknown category %q", q.Category)
	}
	if q.Level < 1 || q.Level > MaxLevel {
		return nil, invalid("level must be between 1 and %d, got %d", MaxLevel, q.Level)
	}

	periods, start, end, err := s.resolveRange(ctx, q.Start, q.End)
	if err != nil {
		return nil, err
	}

	items, err := s.src.LineItemValues(ctx, q.Category, start, end)
	if err != nil {
		return nil, fmt.Errorf("line item values: %w", err)
	}

	type agg struct {
		sum  decimal.Decimal
		prov string
	}
	groups := make(map[string]*agg)
	total := decimal.Zero
	for _, li := range items {
		d := decimal.NewFromFloat(li.Value)
		total = total.Add(d)
		name := truncatePath(li.Path, q.Level)
		a, ok := groups[name]
		if !ok {
			groups[name] = &agg{sum: d, prov: li.Provenance}
			continue
		}
		a.sum = a.sum.Add(d)
		if a.prov != li.Provenance {
			a.prov = Mixed
		}
	}

	res := &BreakdownResult{
		Category: q.Category,
		Start:    start.Format(ledger.DateLayout),
		End:      end.Format(ledger.DateLayout),
		Level:    q.Level,
		Total:    total.InexactFloat64(),
		Rows:     make([]BreakdownRow, 0, len(groups)),
		Currency: currency(periods, start, end),
	}
	for name, a := range groups {
		row := BreakdownRow{Name: name, Value: a.sum.InexactFloat64()}
		if !total.IsZero() {
			row.Share = a.sum.Div(total).InexactFloat64()
		}
		if q.IncludeProvenance {
			row.Provenance = a.prov
		}
		res.Rows = append(res.Rows, row)
	}
	sort.Slice(res.Rows, func(i, j int) bool {
		ai, aj := math.Abs(res.Rows[i].Value), math.Abs(res.Rows[j].Value)
		if ai != aj {
			return ai > aj
		}
		return res.Rows[i].Name < res.Rows[j].Name
	})
	return res, nil
}

// truncatePath keeps the first level segments of a "A > B > C" path.
func truncatePath(path string, level int) string {
	parts := strings.Split(path, ">")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			segments = append(segments, p)
		}
	}
	if len(segments) > level {
		segments = segments[:level]
	}
	return strings.Join(segments, " > ")
}

// CompareQuery compares a metric across two period labels such as "2024",
// "2024-03", "2024-Q1" or "2024-01-01..2024-02-15".
type CompareQuery struct {
	Metric            string
	PeriodA           string
	PeriodB           string
	IncludeProvenance bool
}

// CompareResult is the answer to a CompareQuery. DeltaPct is nil when the
// first value is zero.
type CompareResult struct {
	Metric      string   `json:"metric"`
	PeriodA     string   `json:"period_a"`
	PeriodB     string   `json:"period_b"`
	AValue      float64  `json:"a_value"`
	BValue      float64  `json:"b_value"`
	DeltaAbs    float64  `json:"delta_abs"`
	DeltaPct    *float64 `json:"delta_pct,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	ProvenanceA string   `json:"provenance_a,omitempty"`
	ProvenanceB string   `json:"provenance_b,omitempty"`
}

// ComparePeriods returns both totals and their absolute and relative change.
func (s *Service) ComparePeriods(ctx context.Context, q CompareQuery) (*CompareResult, error) {
	if !ledger.IsMetric(q.Metric) {
		return nil, invalid("unknown metric %q", q.Metric)
	}
	aStart, aEnd, err := ledger.ParseLabel(q.PeriodA)
	if err != nil {
		return nil, invalid("period_a: %v", err)
	}
	bStart, bEnd, err := ledger.ParseLabel(q.PeriodB)
	if err != nil {
		return nil, invalid("period_b: %v", err)
	}

	periods, err := s.periods(ctx)
	if err != nil {
		return nil, err
	}
	if len(periods) == 0 {
		return nil, ErrNoData
	}

	a, provA, err := s.sumMetric(ctx, q.Metric, aStart, aEnd)
	if err != nil {
		return nil, err
	}
	b, provB, err := s.sumMetric(ctx, q.Metric, bStart, bEnd)
	if err != nil {
		return nil, err
	}

	delta := b.Sub(a)
	res := &CompareResult{
		Metric:   q.Metric,
		PeriodA:  strings.TrimSpace(q.PeriodA),
		PeriodB:  strings.TrimSpace(q.PeriodB),
		AValue:   a.InexactFloat64(),
		BValue:   b.InexactFloat64(),
		DeltaAbs: delta.InexactFloat64(),
		Currency: currency(periods, minTime(aStart, bStart), maxTime(aEnd, bEnd)),
	}
	if !a.IsZero() {
		pct := delta.Div(a.Abs()).InexactFloat64()
		res.DeltaPct = &pct
	}
	if q.IncludeProvenance {
		res.ProvenanceA, res.ProvenanceB = provA, provB
	}
	return res, nil
}

func (s *Service) sumMetric(ctx context.Context, metric string, start, end time.Time) (decimal.Decimal, string, error) {
	values, err := s.src.MetricValues(ctx, metric, start, end)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("metric values: %w", err)
	}
	sum := decimal.Zero
	prov := ""
	for i, v := range values {
		sum = sum.Add(decimal.NewFromFloat(v.Value))
		switch {
		case i == 0:
			prov = v.Provenance
		case prov != v.Provenance:
			prov = Mixed
		}
	}
	return sum, prov, nil
}

func (s *Service) periods(ctx context.Context) ([]ledger.PeriodRecord, error) {
	periods, err := s.src.ListPeriods(ctx)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	sort.SliceStable(periods, func(i, j int) bool {
		return periods[i].Period.Start.Before(periods[j].Period.Start)
	})
	return periods, nil
}

// resolveRange fills nil bounds from the available periods. Only explicitly
// inverted bounds are an input error; an empty ledger is ErrNoData.
func (s *Service) resolveRange(ctx context.Context, start, end *time.Time) ([]ledger.PeriodRecord, time.Time, time.Time, error) {
	if start != nil && end != nil && start.After(*end) {
		return nil, time.Time{}, time.Time{}, invalid("start %s is after end %s",
			start.Format(ledger.DateLayout), end.Format(ledger.DateLayout))
	}

	periods, err := s.periods(ctx)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	if len(periods) == 0 {
		return nil, time.Time{}, time.Time{}, ErrNoData
	}

	var from, to time.Time
	if start != nil {
		from = *start
	} else {
		from = periods[0].Period.Start
	}
	if end != nil {
		to = *end
	} else {
		to = periods[len(periods)-1].Period.End
	}
	return periods, from, to, nil
}

// currency returns the currency shared by all periods in range, or Mixed
// when they differ.
func currency(periods []ledger.PeriodRecord, start, end time.Time) string {
	cur := ""
	for _, p := range periods {
		if p.Currency == "" || !p.Period.Overlaps(start, end) {
			continue
		}
		if cur == "" {
			cur = p.Currency
		} else if cur != p.Currency {
			return Mixed
		}
	}
	return cur
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
