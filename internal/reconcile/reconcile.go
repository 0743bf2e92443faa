// Package reconcile folds raw observations from both sources into the
// canonical ledger. Run is a pure function of its inputs.
package reconcile

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

// IssueLevel is the level of every mismatch issue.
const IssueLevel = "warn"

// MismatchMessage is the message of every mismatch issue.
const MismatchMessage = "metric mismatch beyond tolerance; using primary source"

// relativeFloor keeps relative comparisons of values near zero meaningful.
const relativeFloor = 1.0

// Config selects the tie-break source and how far apart two values may be.
type Config struct {
	Primary   ledger.Source
	Tolerance float64
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := ledger.ParseSource(string(c.Primary)); err != nil {
		return fmt.Errorf("primary source: %w", err)
	}
	if c.Tolerance < 0 || math.IsNaN(c.Tolerance) || math.IsInf(c.Tolerance, 0) {
		return errors.New("tolerance must be a finite value >= 0")
	}
	return nil
}

// WithinTolerance compares two values. A tolerance of at least 1 is an
// absolute bound on |a-b|; below 1 it is relative to max(|a|, |b|, 1).
func WithinTolerance(a, b, tol float64) bool {
	diff := math.Abs(a - b)
	if tol >= 1 {
		return diff <= tol
	}
	denom := math.Max(math.Max(math.Abs(a), math.Abs(b)), relativeFloor)
	return diff/denom <= tol
}

type metricKey struct {
	period ledger.Period
	metric string
}

type lineGroupKey struct {
	period   ledger.Period
	category string
}

// Run reconciles obs and returns the complete canonical snapshot.
func Run(cfg Config, obs ledger.Observations) (*ledger.Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	snap := &ledger.Snapshot{
		RawMetrics:   dedupeMetrics(obs.Metrics),
		RawLineItems: dedupeLineItems(obs.LineItems),
	}
	snap.Periods = periods(snap.RawMetrics, snap.RawLineItems, obs.Currencies)
	snap.Metrics, snap.Issues = mergeMetrics(cfg, snap.RawMetrics)
	snap.LineItems = mergeLineItems(cfg, snap.RawLineItems)
	return snap, nil
}

// dedupeMetrics keeps the last observation per (period, source, metric) and
// returns them in canonical order.
func dedupeMetrics(in []ledger.MetricObservation) []ledger.MetricObservation {
	type key struct {
		period ledger.Period
		source ledger.Source
		metric string
	}
	idx := make(map[key]int, len(in))
	var out []ledger.MetricObservation
	for _, m := range in {
		k := key{m.Period, m.Source, m.Metric}
		if i, ok := idx[k]; ok {
			out[i] = m
			continue
		}
		idx[k] = len(out)
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Period.Start.Equal(b.Period.Start) {
			return a.Period.Start.Before(b.Period.Start)
		}
		if ra, rb := ledger.MetricRank(a.Metric), ledger.MetricRank(b.Metric); ra != rb {
			return ra < rb
		}
		if a.Metric != b.Metric {
			return a.Metric < b.Metric
		}
		return a.Source < b.Source
	})
	return out
}

// dedupeLineItems keeps the last observation per (period, source, category,
// path) and returns them in canonical order.
func dedupeLineItems(in []ledger.LineItemObservation) []ledger.LineItemObservation {
	type key struct {
		period   ledger.Period
		source   ledger.Source
		category string
		path     string
	}
	idx := make(map[key]int, len(in))
	var out []ledger.LineItemObservation
	for _, li := range in {
		k := key{li.Period, li.Source, li.Category, li.Path}
		if i, ok := idx[k]; ok {
			out[i] = li
			continue
		}
		idx[k] = len(out)
		out = append(out, li)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Period.Start.Equal(b.Period.Start) {
			return a.Period.Start.Before(b.Period.Start)
		}
		if ra, rb := ledger.CategoryRank(a.Category), ledger.CategoryRank(b.Category); ra != rb {
			return ra < rb
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Source < b.Source
	})
	return out
}

// periods is the union of months seen in either source. Sources lists who
// reported metrics for the month.
func periods(metrics []ledger.MetricObservation, items []ledger.LineItemObservation, currencies map[ledger.Period]string) []ledger.PeriodRecord {
	reported := make(map[ledger.Period]map[ledger.Source]bool)
	touch := func(p ledger.Period) {
		if reported[p] == nil {
			reported[p] = make(map[ledger.Source]bool)
		}
	}
	for _, m := range metrics {
		touch(m.Period)
		reported[m.Period][m.Source] = true
	}
	for _, li := range items {
		touch(li.Period)
	}

	out := make([]ledger.PeriodRecord, 0, len(reported))
	for p, srcs := range reported {
		rec := ledger.PeriodRecord{Period: p, Currency: currencies[p]}
		for _, s := range ledger.Sources {
			if srcs[s] {
				rec.Sources = append(rec.Sources, s)
			}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Start.Before(out[j].Period.Start) })
	return out
}

func mergeMetrics(cfg Config, raw []ledger.MetricObservation) ([]ledger.CanonicalMetric, []ledger.Issue) {
	other := cfg.Primary.Other()

	var keys []metricKey
	values := make(map[metricKey]map[ledger.Source]float64)
	for _, m := range raw {
		k := metricKey{m.Period, m.Metric}
		if values[k] == nil {
			values[k] = make(map[ledger.Source]float64, 2)
			keys = append(keys, k)
		}
		values[k][m.Source] = m.Value
	}

	var (
		out    []ledger.CanonicalMetric
		issues []ledger.Issue
	)
	for _, k := range keys {
		byKey := values[k]
		pv, hasPrimary := byKey[cfg.Primary]
		ov, hasOther := byKey[other]

		c := ledger.CanonicalMetric{Period: k.period, Metric: k.metric}
		switch {
		case hasPrimary && hasOther:
			c.Value = pv
			if WithinTolerance(pv, ov, cfg.Tolerance) {
				c.Provenance = ledger.CombinedProvenance(cfg.Primary)
			} else {
				c.Provenance = string(cfg.Primary)
				issues = append(issues, ledger.Issue{
					Level:   IssueLevel,
					Source:  strings.Join([]string{string(cfg.Primary), string(other)}, ","),
					Period:  k.period,
					Metric:  k.metric,
					Message: MismatchMessage,
					Detail: ledger.IssueDetail{
						PrimaryValue: pv,
						OtherValue:   ov,
						Delta:        math.Abs(pv - ov),
						Tolerance:    cfg.Tolerance,
					},
				})
			}
		case hasPrimary:
			c.Value, c.Provenance = pv, string(cfg.Primary)
		case hasOther:
			c.Value, c.Provenance = ov, string(other)
		default:
			continue
		}
		out = append(out, c)
	}
	return out, issues
}

// mergeLineItems copies, per (period, category), the primary source's full
// set of leaves or, when it has none, the other source's set.
func mergeLineItems(cfg Config, raw []ledger.LineItemObservation) []ledger.CanonicalLineItem {
	var keys []lineGroupKey
	groups := make(map[lineGroupKey]map[ledger.Source][]ledger.LineItemObservation)
	for _, li := range raw {
		k := lineGroupKey{li.Period, li.Category}
		if groups[k] == nil {
			groups[k] = make(map[ledger.Source][]ledger.LineItemObservation, 2)
			keys = append(keys, k)
		}
		groups[k][li.Source] = append(groups[k][li.Source], li)
	}

	var out []ledger.CanonicalLineItem
	for _, k := range keys {
		chosen := cfg.Primary
		set := groups[k][chosen]
		if len(set) == 0 {
			chosen = cfg.Primary.Other()
			set = groups[k][chosen]
		}
		for _, li := range set {
			out = append(out, ledger.CanonicalLineItem{
				Period:     li.Period,
				Category:   li.Category,
				Path:       li.Path,
				Name:       li.Name,
				AccountID:  li.AccountID,
				Value:      li.Value,
				Provenance: string(chosen),
			})
		}
	}
	return out
}
