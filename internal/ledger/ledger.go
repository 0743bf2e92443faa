package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies which report export produced an observation.
type Source string

const (
	SourceQuickBooks Source = "quickbooks"
	SourceRootfi     Source = "rootfi"
)

// Sources lists every supported source in a fixed order.
var Sources = []Source{SourceQuickBooks, SourceRootfi}

// ParseSource validates a source name.
func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Other returns the counterpart of a source.
func (s Source) Other() Source {
	if s == SourceQuickBooks {
		return SourceRootfi
	}
	return SourceQuickBooks
}

// CombinedProvenance is the provenance tag for a value both sources agreed on.
func CombinedProvenance(primary Source) string {
	return string(primary) + "+" + string(primary.Other())
}

// MetricObservation is one source's unreconciled value for a metric in a period.
type MetricObservation struct {
	Period Period  `json:"period"`
	Source Source  `json:"source"`
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

// LineItemObservation is one source's unreconciled leaf value in a period.
type LineItemObservation struct {
	Period    Period  `json:"period"`
	Source    Source  `json:"source"`
	Category  string  `json:"category"`
	Path      string  `json:"path"`
	Name      string  `json:"name"`
	AccountID string  `json:"account_id,omitempty"`
	Value     float64 `json:"value"`
}

// Observations is the raw input to reconciliation.
type Observations struct {
	Metrics    []MetricObservation
	LineItems  []LineItemObservation
	Currencies map[Period]string
}

// Add appends another batch of observations. Currencies already set are kept.
func (o *Observations) Add(other Observations) {
	o.Metrics = append(o.Metrics, other.Metrics...)
	o.LineItems = append(o.LineItems, other.LineItems...)
	for p, cur := range other.Currencies {
		o.SetCurrency(p, cur)
	}
}

// SetCurrency records a period's currency unless one is already known.
func (o *Observations) SetCurrency(p Period, currency string) {
	if currency == "" {
		return
	}
	if o.Currencies == nil {
		o.Currencies = make(map[Period]string)
	}
	if _, ok := o.Currencies[p]; !ok {
		o.Currencies[p] = currency
	}
}

// CanonicalMetric is the authoritative value of a metric in a period.
type CanonicalMetric struct {
	Period     Period  `json:"period"`
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
	Provenance string  `json:"provenance"`
}

// CanonicalLineItem is the authoritative value of a leaf in a period.
type CanonicalLineItem struct {
	Period     Period  `json:"period"`
	Category   string  `json:"category"`
	Path       string  `json:"path"`
	Name       string  `json:"name"`
	AccountID  string  `json:"account_id,omitempty"`
	Value      float64 `json:"value"`
	Provenance string  `json:"provenance"`
}

// PeriodRecord is a period as listed to readers.
type PeriodRecord struct {
	Period   Period   `json:"period"`
	Currency string   `json:"currency,omitempty"`
	Sources  []Source `json:"sources,omitempty"`
}

// IssueDetail carries both sides of a disagreement.
type IssueDetail struct {
	PrimaryValue float64 `json:"primary_value"`
	OtherValue   float64 `json:"other_value"`
	Delta        float64 `json:"delta"`
	Tolerance    float64 `json:"tolerance"`
}

// Issue records a disagreement surfaced during reconciliation.
type Issue struct {
	Level   string      `json:"level"`
	Source  string      `json:"source"`
	Period  Period      `json:"period"`
	Metric  string      `json:"metric"`
	Message string      `json:"message"`
	Detail  IssueDetail `json:"detail"`
}

// Counts summarises the size of a ledger.
type Counts struct {
	Periods      int `json:"periods"`
	RawMetrics   int `json:"raw_metrics"`
	RawLineItems int `json:"raw_line_items"`
	Metrics      int `json:"metrics"`
	LineItems    int `json:"line_items"`
	Issues       int `json:"issues"`
}

// Run status values.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunError   = "error"
)

// Run is the audit record of one ingestion.
type Run struct {
	ID         uuid.UUID  `json:"run_id"`
	Mode       string     `json:"mode"`
	Primary    Source     `json:"primary_source"`
	Tolerance  float64    `json:"tolerance"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
