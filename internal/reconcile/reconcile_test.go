package reconcile

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

var (
	jan = ledger.MonthPeriod(2024, time.January)
	feb = ledger.MonthPeriod(2024, time.February)
)

func metric(p ledger.Period, src ledger.Source, name string, v float64) ledger.MetricObservation {
	return ledger.MetricObservation{Period: p, Source: src, Metric: name, Value: v}
}

func item(p ledger.Period, src ledger.Source, category, path string, v float64) ledger.LineItemObservation {
	return ledger.LineItemObservation{Period: p, Source: src, Category: category, Path: path, Name: path, Value: v}
}

func fixture() ledger.Observations {
	obs := ledger.Observations{
		Metrics: []ledger.MetricObservation{
			metric(jan, ledger.SourceQuickBooks, ledger.MetricRevenueTotal, 100),
			metric(jan, ledger.SourceRootfi, ledger.MetricRevenueTotal, 101),
			metric(jan, ledger.SourceQuickBooks, ledger.MetricNetIncome, 40),
			metric(feb, ledger.SourceRootfi, ledger.MetricTaxesTotal, 7),
			metric(feb, ledger.SourceQuickBooks, ledger.MetricRevenueTotal, 500),
			metric(feb, ledger.SourceRootfi, ledger.MetricRevenueTotal, 200),
		},
		LineItems: []ledger.LineItemObservation{
			item(jan, ledger.SourceQuickBooks, ledger.CategoryRevenue, "Consulting", 60),
			item(jan, ledger.SourceQuickBooks, ledger.CategoryRevenue, "Widgets", 40),
			item(jan, ledger.SourceRootfi, ledger.CategoryRevenue, "Sales > Online", 101),
			item(jan, ledger.SourceQuickBooks, ledger.CategoryOperatingExpense, "Rent", 30),
		},
	}
	obs.SetCurrency(jan, "USD")
	return obs
}

func TestWithinTolerance(t *testing.T) {
	tests := []struct {
		a, b, tol float64
		want      bool
	}{
		{100, 101, 1.0, true},
		{100, 101.5, 1.0, false},
		{100, 101, 0.5, true},
		{100, 101, 0.005, false},
		{100, 100.4, 0.005, true},
		{0.2, 0.4, 0.1, false},
		{0.2, 0.25, 0.1, true},
		{5, 5, 0, true},
		{5, 5.01, 0, false},
	}
	for _, tt := range tests {
		if got := WithinTolerance(tt.a, tt.b, tt.tol); got != tt.want {
			t.Errorf("WithinTolerance(%v, %v, %v) = %v, want %v", tt.a, tt.b, tt.tol, got, tt.want)
		}
	}
}

func TestRun_ToleranceBoundary(t *testing.T) {
	obs := ledger.Observations{Metrics: []ledger.MetricObservation{
		metric(jan, ledger.SourceRootfi, ledger.MetricRevenueTotal, 100),
		metric(jan, ledger.SourceQuickBooks, ledger.MetricRevenueTotal, 101),
	}}

	snap, err := Run(Config{Primary: ledger.SourceRootfi, Tolerance: 1.0}, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Metrics) != 1 || snap.Metrics[0].Provenance != "rootfi+quickbooks" || snap.Metrics[0].Value != 100 {
		t.Errorf("tolerance 1.0: metrics = %+v", snap.Metrics)
	}
	if len(snap.Issues) != 0 {
		t.Errorf("tolerance 1.0: expected no issues, got %+v", snap.Issues)
	}

	snap, err = Run(Config{Primary: ledger.SourceRootfi, Tolerance: 0.005}, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Metrics[0].Provenance != "rootfi" || snap.Metrics[0].Value != 100 {
		t.Errorf("tolerance 0.005: metric = %+v", snap.Metrics[0])
	}
	if len(snap.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(snap.Issues))
	}
	issue := snap.Issues[0]
	if issue.Detail.Delta != 1.0 || issue.Detail.PrimaryValue != 100 || issue.Detail.OtherValue != 101 {
		t.Errorf("issue detail = %+v", issue.Detail)
	}
	if issue.Level != IssueLevel || issue.Source != "rootfi,quickbooks" || issue.Message != MismatchMessage {
		t.Errorf("issue = %+v", issue)
	}
}

func TestRun_MetricMerge(t *testing.T) {
	snap, err := Run(Config{Primary: ledger.SourceRootfi, Tolerance: 1.0}, fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []ledger.CanonicalMetric{
		{Period: jan, Metric: ledger.MetricRevenueTotal, Value: 101, Provenance: "rootfi+quickbooks"},
		{Period: jan, Metric: ledger.MetricNetIncome, Value: 40, Provenance: "quickbooks"},
		{Period: feb, Metric: ledger.MetricRevenueTotal, Value: 200, Provenance: "rootfi"},
		{Period: feb, Metric: ledger.MetricTaxesTotal, Value: 7, Provenance: "rootfi"},
	}
	if diff := cmp.Diff(want, snap.Metrics); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
	if len(snap.Issues) != 1 || snap.Issues[0].Period != feb || snap.Issues[0].Detail.Delta != 300 {
		t.Errorf("issues = %+v", snap.Issues)
	}
}

func TestRun_ProvenanceCoverage(t *testing.T) {
	snap, err := Run(Config{Primary: ledger.SourceQuickBooks, Tolerance: 1.0}, fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw := make(map[string]bool)
	for _, m := range snap.RawMetrics {
		raw[m.Period.Key()+"/"+m.Metric+"/"+string(m.Source)] = true
	}
	for _, m := range snap.Metrics {
		if m.Provenance == "" {
			t.Errorf("metric %s %s has no provenance", m.Period.Key(), m.Metric)
		}
		found := false
		for _, src := range ledger.Sources {
			if raw[m.Period.Key()+"/"+m.Metric+"/"+string(src)] {
				found = true
			}
		}
		if !found {
			t.Errorf("metric %s %s has no raw observation", m.Period.Key(), m.Metric)
		}
	}
	for _, li := range snap.LineItems {
		if li.Provenance != string(ledger.SourceQuickBooks) && li.Provenance != string(ledger.SourceRootfi) {
			t.Errorf("line item %s has provenance %q", li.Path, li.Provenance)
		}
	}
}

func TestRun_NoDoubleCounting(t *testing.T) {
	for _, primary := range ledger.Sources {
		snap, err := Run(Config{Primary: primary, Tolerance: 1.0}, fixture())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		bySource := make(map[string]map[string]bool)
		for _, li := range snap.LineItems {
			k := li.Period.Key() + "/" + li.Category
			if bySource[k] == nil {
				bySource[k] = make(map[string]bool)
			}
			bySource[k][li.Provenance] = true
		}
		for k, srcs := range bySource {
			if len(srcs) != 1 {
				t.Errorf("primary %s: group %s mixes sources %v", primary, k, srcs)
			}
		}

		var revenue float64
		for _, li := range snap.LineItems {
			if li.Period == jan && li.Category == ledger.CategoryRevenue {
				revenue += li.Value
			}
		}
		want := map[ledger.Source]float64{ledger.SourceQuickBooks: 100, ledger.SourceRootfi: 101}[primary]
		if revenue != want {
			t.Errorf("primary %s: jan revenue leaves sum to %v, want %v", primary, revenue, want)
		}
	}
}

func TestRun_LineItemFallback(t *testing.T) {
	snap, err := Run(Config{Primary: ledger.SourceRootfi, Tolerance: 1.0}, fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var rent *ledger.CanonicalLineItem
	for i := range snap.LineItems {
		if snap.LineItems[i].Path == "Rent" {
			rent = &snap.LineItems[i]
		}
	}
	if rent == nil || rent.Provenance != "quickbooks" {
		t.Errorf("expected Rent to fall back to quickbooks, got %+v", rent)
	}
}

func TestRun_Idempotent(t *testing.T) {
	cfg := Config{Primary: ledger.SourceRootfi, Tolerance: 0.01}
	first, err := Run(cfg, fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Run(cfg, first.Observations())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("rebuild differs (-first +second):\n%s", diff)
	}
}

func TestRun_LastWriteWins(t *testing.T) {
	obs := ledger.Observations{Metrics: []ledger.MetricObservation{
		metric(jan, ledger.SourceRootfi, ledger.MetricNetIncome, 1),
		metric(jan, ledger.SourceRootfi, ledger.MetricNetIncome, 2),
	}}
	snap, err := Run(Config{Primary: ledger.SourceRootfi, Tolerance: 1}, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.RawMetrics) != 1 || snap.RawMetrics[0].Value != 2 {
		t.Errorf("raw metrics = %+v", snap.RawMetrics)
	}
}

func TestRun_AbsenceIsNotZero(t *testing.T) {
	snap, err := Run(Config{Primary: ledger.SourceRootfi, Tolerance: 1}, fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, m := range snap.Metrics {
		if m.Period == feb && m.Metric == ledger.MetricNetIncome {
			t.Errorf("unexpected canonical row for unreported metric: %+v", m)
		}
	}
}

func TestRun_Periods(t *testing.T) {
	snap, err := Run(Config{Primary: ledger.SourceRootfi, Tolerance: 1}, fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []ledger.PeriodRecord{
		{Period: jan, Currency: "USD", Sources: []ledger.Source{ledger.SourceQuickBooks, ledger.SourceRootfi}},
		{Period: feb, Sources: []ledger.Source{ledger.SourceQuickBooks, ledger.SourceRootfi}},
	}
	if diff := cmp.Diff(want, snap.Periods); diff != "" {
		t.Errorf("periods mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{Primary: "xero", Tolerance: 1},
		{Primary: ledger.SourceRootfi, Tolerance: -1},
		{Primary: ledger.SourceRootfi, Tolerance: math.NaN()},
	}
	for _, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for %+v", cfg)
		}
	}
	if _, err := Run(Config{Primary: "xero"}, ledger.Observations{}); err == nil {
		t.Error("Run should reject an invalid config")
	}
}
