package normalize

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

// Normalizer converts one source's report export into raw observations.
type Normalizer interface {
	Source() ledger.Source
	Normalize(data []byte) (*Result, error)
}

// Note is a data-quality remark. Notes never block a run.
type Note struct {
	Source  ledger.Source `json:"source"`
	Period  string        `json:"period,omitempty"`
	Field   string        `json:"field"`
	Message string        `json:"message"`
}

func (n Note) String() string {
	if n.Period != "" {
		return fmt.Sprintf("%s %s %s: %s", n.Source, n.Period, n.Field, n.Message)
	}
	return fmt.Sprintf("%s %s: %s", n.Source, n.Field, n.Message)
}

// Result is the flat output of one normalizer.
type Result struct {
	Source    ledger.Source
	Currency  string
	Metrics   []ledger.MetricObservation
	LineItems []ledger.LineItemObservation
	Notes     []Note
}

// Periods returns the distinct months seen in the result, ordered.
func (r *Result) Periods() []ledger.Period {
	seen := make(map[ledger.Period]bool)
	var out []ledger.Period
	add := func(p ledger.Period) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, m := range r.Metrics {
		add(m.Period)
	}
	for _, li := range r.LineItems {
		add(li.Period)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Observations converts the result into reconciliation input.
func (r *Result) Observations() ledger.Observations {
	obs := ledger.Observations{Metrics: r.Metrics, LineItems: r.LineItems}
	for _, p := range r.Periods() {
		obs.SetCurrency(p, r.Currency)
	}
	return obs
}

func (r *Result) note(period, field, format string, args ...any) {
	r.Notes = append(r.Notes, Note{
		Source:  r.Source,
		Period:  period,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// SourceError reports a source that could not be read at all.
type SourceError struct {
	Source ledger.Source
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s unreadable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NormalizeFile reads path and runs n over it. Any failure is returned as a
// *SourceError.
func NormalizeFile(n Normalizer, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceError{Source: n.Source(), Err: fmt.Errorf("read %s: %w", path, err)}
	}
	res, err := n.Normalize(data)
	if err != nil {
		return nil, &SourceError{Source: n.Source(), Err: err}
	}
	return res, nil
}

// cleanLabel trims and NFC-normalizes a report label so equal labels key equally.
func cleanLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
