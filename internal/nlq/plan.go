package nlq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
	"github.com/MikeSquared-Agency/finledger/internal/query"
)

// MaxCalls caps the number of tool calls in one plan.
const MaxCalls = 5

// FixedClarification is returned whenever a plan is rejected.
const FixedClarification = "I couldn't map that question to the available financial data. " +
	"Please name the metric or category you are interested in and the period (for example \"revenue_total for 2024-Q1\")."

// Tool names accepted in a plan.
const (
	ToolListPeriods    = "list_periods"
	ToolQueryMetric    = "query_metric"
	ToolQueryBreakdown = "query_breakdown"
	ToolComparePeriods = "compare_periods"
)

// Tools lists the allowlisted tool names.
var Tools = []string{ToolListPeriods, ToolQueryMetric, ToolQueryBreakdown, ToolComparePeriods}

// Call is one validated, executable tool call.
type Call interface {
	Name() string
	execute(ctx context.Context, svc *query.Service) (any, error)
}

// ListPeriodsCall lists available periods.
type ListPeriodsCall struct {
	IncludeProvenance bool `json:"include_provenance,omitempty"`
}

// QueryMetricCall totals a metric over an optional date range.
type QueryMetricCall struct {
	Metric            string `json:"metric"`
	Start             string `json:"start,omitempty"`
	End               string `json:"end,omitempty"`
	GroupBy           string `json:"group_by,omitempty"`
	IncludeProvenance bool   `json:"include_provenance,omitempty"`

	start, end *time.Time
}

// QueryBreakdownCall breaks a category down by path prefix.
type QueryBreakdownCall struct {
	Category          string `json:"category"`
	Start             string `json:"start,omitempty"`
	End               string `json:"end,omitempty"`
	Level             *int   `json:"level,omitempty"`
	IncludeProvenance bool   `json:"include_provenance,omitempty"`

	start, end *time.Time
}

// ComparePeriodsCall compares a metric across two period labels.
type ComparePeriodsCall struct {
	Metric            string `json:"metric"`
	PeriodA           string `json:"period_a"`
	PeriodB           string `json:"period_b"`
	IncludeProvenance bool   `json:"include_provenance,omitempty"`
}

func (ListPeriodsCall) Name() string    { return ToolListPeriods }
func (QueryMetricCall) Name() string    { return ToolQueryMetric }
func (QueryBreakdownCall) Name() string { return ToolQueryBreakdown }
func (ComparePeriodsCall) Name() string { return ToolComparePeriods }

func (c ListPeriodsCall) execute(ctx context.Context, svc *query.Service) (any, error) {
	return svc.ListPeriods(ctx, c.IncludeProvenance)
}

func (c QueryMetricCall) execute(ctx context.Context, svc *query.Service) (any, error) {
	return svc.QueryMetric(ctx, query.MetricQuery{
		Metric:            c.Metric,
		Start:             c.start,
		End:               c.end,
		GroupBy:           c.GroupBy,
		IncludeProvenance: c.IncludeProvenance,
	})
}

func (c QueryBreakdownCall) execute(ctx context.Context, svc *query.Service) (any, error) {
	level := 1
	if c.Level != nil {
		level = *c.Level
	}
	return svc.QueryBreakdown(ctx, query.BreakdownQuery{
		Category:          c.Category,
		Start:             c.start,
		End:               c.end,
		Level:             level,
		IncludeProvenance: c.IncludeProvenance,
	})
}

func (c ComparePeriodsCall) execute(ctx context.Context, svc *query.Service) (any, error) {
	return svc.ComparePeriods(ctx, query.CompareQuery{
		Metric:            c.Metric,
		PeriodA:           c.PeriodA,
		PeriodB:           c.PeriodB,
		IncludeProvenance: c.IncludeProvenance,
	})
}

// Outcome is the result of validating planner output: ValidPlan or
// Clarification.
type Outcome interface {
	isOutcome()
}

// ValidPlan is a plan whose every call passed validation.
type ValidPlan struct {
	Calls []Call
}

// Clarification replaces a plan that must not be executed. FromPlanner marks
// a question the planner asked itself.
type Clarification struct {
	Message     string
	Reasons     []string
	FromPlanner bool
}

func (ValidPlan) isOutcome()     {}
func (Clarification) isOutcome() {}

type wirePlan struct {
	Calls         []wireCall `json:"calls"`
	Clarification string     `json:"clarification"`
}

type wireCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Validate turns untrusted planner output into an Outcome. It never fails:
// any violation rejects the whole plan.
func Validate(raw string) Outcome {
	obj, ok := extractJSON(raw)
	if !ok {
		return reject("planner output is not a JSON object")
	}

	var plan wirePlan
	if err := decodeStrict(obj, &plan); err != nil {
		return reject(fmt.Sprintf("plan: %v", err))
	}

	question := strings.TrimSpace(plan.Clarification)
	switch {
	case len(plan.Calls) == 0 && question != "":
		return Clarification{Message: question, Reasons: []string{"planner requested clarification"}, FromPlanner: true}
	case len(plan.Calls) == 0:
		return reject("plan has no calls")
	case question != "":
		return reject("plan mixes calls with a clarifying question")
	case len(plan.Calls) > MaxCalls:
		return reject(fmt.Sprintf("plan has %d calls, limit is %d", len(plan.Calls), MaxCalls))
	}

	var (
		calls   []Call
		reasons []string
	)
	for i, wc := range plan.Calls {
		call, errs := validateCall(wc)
		for _, err := range errs {
			reasons = append(reasons, fmt.Sprintf("call %d (%s): %v", i+1, wc.Name, err))
		}
		if call != nil {
			calls = append(calls, call)
		}
	}
	if len(reasons) > 0 {
		return Clarification{Message: FixedClarification, Reasons: reasons}
	}
	return ValidPlan{Calls: calls}
}

func reject(reason string) Clarification {
	return Clarification{Message: FixedClarification, Reasons: []string{reason}}
}

func validateCall(wc wireCall) (Call, []error) {
	args := wc.Args
	if len(bytes.TrimSpace(args)) == 0 || bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		args = json.RawMessage("{}")
	}

	switch wc.Name {
	case ToolListPeriods:
		var c ListPeriodsCall
		if err := decodeStrict(args, &c); err != nil {
			return nil, []error{err}
		}
		return c, nil

	case ToolQueryMetric:
		var c QueryMetricCall
		if err := decodeStrict(args, &c); err != nil {
			return nil, []error{err}
		}
		var errs []error
		errs = append(errs, checkMetric(c.Metric)...)
		switch c.GroupBy {
		case "", query.GroupByMonth, query.GroupByQuarter, query.GroupByYear:
		default:
			errs = append(errs, fmt.Errorf("invalid group_by %q", c.GroupBy))
		}
		var dateErrs []error
		c.start, c.end, dateErrs = checkRange(c.Start, c.End)
		errs = append(errs, dateErrs...)
		if len(errs) > 0 {
			return nil, errs
		}
		return c, nil

	case ToolQueryBreakdown:
		var c QueryBreakdownCall
		if err := decodeStrict(args, &c); err != nil {
			return nil, []error{err}
		}
		var errs []error
		if !ledger.IsCategory(c.Category) {
			errs = append(errs, fmt.Errorf("unknown category %q", c.Category))
		}
		if c.Level != nil && (*c.Level < 1 || *c.Level > query.MaxLevel) {
			errs = append(errs, fmt.Errorf("level must be between 1 and %d", query.MaxLevel))
		}
		var dateErrs []error
		c.start, c.end, dateErrs = checkRange(c.Start, c.End)
		errs = append(errs, dateErrs...)
		if len(errs) > 0 {
			return nil, errs
		}
		return c, nil

	case ToolComparePeriods:
		var c ComparePeriodsCall
		if err := decodeStrict(args, &c); err != nil {
			return nil, []error{err}
		}
		errs := checkMetric(c.Metric)
		if _, _, err := ledger.ParseLabel(c.PeriodA); err != nil {
			errs = append(errs, fmt.Errorf("period_a: %w", err))
		}
		if _, _, err := ledger.ParseLabel(c.PeriodB); err != nil {
			errs = append(errs, fmt.Errorf("period_b: %w", err))
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return c, nil
	}
	return nil, []error{fmt.Errorf("tool %q is not allowed", wc.Name)}
}

func checkMetric(metric string) []error {
	if !ledger.IsMetric(metric) {
		return []error{fmt.Errorf("unknown metric %q", metric)}
	}
	return nil
}

func checkRange(start, end string) (*time.Time, *time.Time, []error) {
	var (
		errs     []error
		from, to *time.Time
	)
	if start != "" {
		t, err := ledger.ParseDate(start)
		if err != nil {
			errs = append(errs, fmt.Errorf("start: %w", err))
		} else {
			from = &t
		}
	}
	if end != "" {
		t, err := ledger.ParseDate(end)
		if err != nil {
			errs = append(errs, fmt.Errorf("end: %w", err))
		} else {
			to = &t
		}
	}
	if from != nil && to != nil && from.After(*to) {
		errs = append(errs, fmt.Errorf("start %s is after end %s", start, end))
	}
	return from, to, errs
}

// decodeStrict decodes exactly one JSON value and rejects unknown fields.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// extractJSON returns the first JSON object in s, tolerating code fences and
// surrounding prose.
func extractJSON(s string) (json.RawMessage, bool) {
	i := strings.IndexByte(s, '{')
	if i < 0 {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s[i:]))
	var obj json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	return obj, true
}
