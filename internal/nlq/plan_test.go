package nlq

import (
	"strings"
	"testing"
)

func TestValidate_ValidPlan(t *testing.T) {
	raw := "Here is the plan:\n```json\n" + `{"calls": [
		{"name": "query_metric", "args": {"metric": "revenue_total", "start": "2024-01-01", "end": "2024-03-31", "group_by": "quarter"}},
		{"name": "query_breakdown", "args": {"category": "operating_expense", "level": 2}},
		{"name": "compare_periods", "args": {"metric": "net_income", "period_a": "2024-Q1", "period_b": "2024-Q2"}},
		{"name": "list_periods"}
	], "clarification": ""}` + "\n```"

	out := Validate(raw)
	plan, ok := out.(ValidPlan)
	if !ok {
		t.Fatalf("expected ValidPlan, got %+v", out)
	}
	if len(plan.Calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(plan.Calls))
	}

	qm := plan.Calls[0].(QueryMetricCall)
	if qm.start == nil || qm.end == nil || qm.start.Format("2006-01-02") != "2024-01-01" {
		t.Errorf("dates not parsed: %+v", qm)
	}
	qb := plan.Calls[1].(QueryBreakdownCall)
	if qb.Level == nil || *qb.Level != 2 || qb.start != nil {
		t.Errorf("breakdown = %+v", qb)
	}
	if plan.Calls[3].Name() != ToolListPeriods {
		t.Errorf("call[3] = %s", plan.Calls[3].Name())
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"not json", "revenue was 310", "not a JSON object"},
		{"truncated json", `{"calls": [`, "not a JSON object"},
		{"unknown tool", `{"calls":[{"name":"run_sql","args":{"sql":"select 1"}}]}`, "not allowed"},
		{"free-form computation", `{"calls":[{"name":"query_metric","args":{"metric":"revenue_total","expression":"revenue*2"}}]}`, "unknown field"},
		{"raw data access", `{"calls":[{"name":"list_periods","args":{"table":"raw_metric_value"}}]}`, "unknown field"},
		{"unknown top-level field", `{"calls":[{"name":"list_periods"}],"code":"rm -rf"}`, "unknown field"},
		{"unknown metric", `{"calls":[{"name":"query_metric","args":{"metric":"ebitda"}}]}`, "unknown metric"},
		{"unknown category", `{"calls":[{"name":"query_breakdown","args":{"category":"marketing"}}]}`, "unknown category"},
		{"malformed date", `{"calls":[{"name":"query_metric","args":{"metric":"net_income","start":"2024-02-30"}}]}`, "start"},
		{"inverted range", `{"calls":[{"name":"query_metric","args":{"metric":"net_income","start":"2024-03-01","end":"2024-01-01"}}]}`, "after end"},
		{"bad group_by", `{"calls":[{"name":"query_metric","args":{"metric":"net_income","group_by":"week"}}]}`, "group_by"},
		{"level zero", `{"calls":[{"name":"query_breakdown","args":{"category":"revenue","level":0}}]}`, "level"},
		{"level too deep", `{"calls":[{"name":"query_breakdown","args":{"category":"revenue","level":11}}]}`, "level"},
		{"level wrong type", `{"calls":[{"name":"query_breakdown","args":{"category":"revenue","level":"2"}}]}`, "cannot unmarshal"},
		{"bad compare label", `{"calls":[{"name":"compare_periods","args":{"metric":"net_income","period_a":"last year","period_b":"2024"}}]}`, "period_a"},
		{"no calls", `{"calls":[]}`, "no calls"},
		{"calls with question", `{"calls":[{"name":"list_periods"}],"clarification":"which year?"}`, "mixes calls"},
		{"too many calls", `{"calls":[` + strings.Repeat(`{"name":"list_periods"},`, MaxCalls) + `{"name":"list_periods"}]}`, "limit is 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Validate(tt.raw)
			c, ok := out.(Clarification)
			if !ok {
				t.Fatalf("expected Clarification, got %+v", out)
			}
			if c.Message != FixedClarification || c.FromPlanner {
				t.Errorf("expected fixed clarification, got %+v", c)
			}
			if !strings.Contains(strings.Join(c.Reasons, "; "), tt.reason) {
				t.Errorf("reasons %q do not mention %q", c.Reasons, tt.reason)
			}
		})
	}
}

func TestValidate_OneBadCallRejectsAll(t *testing.T) {
	raw := `{"calls":[
		{"name":"list_periods"},
		{"name":"query_metric","args":{"metric":"revenue_total"}},
		{"name":"query_metric","args":{"metric":"made_up"}}
	]}`
	if _, ok := Validate(raw).(Clarification); !ok {
		t.Fatal("a plan with one invalid call must be rejected as a whole")
	}
}

func TestValidate_PlannerClarification(t *testing.T) {
	out := Validate(`{"calls": [], "clarification": "Which year do you mean?"}`)
	c, ok := out.(Clarification)
	if !ok {
		t.Fatalf("expected Clarification, got %+v", out)
	}
	if !c.FromPlanner || c.Message != "Which year do you mean?" {
		t.Errorf("clarification = %+v", c)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{`Sure! {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`, true},
		{`no json here`, ``, false},
		{`{"a":`, ``, false},
	}
	for _, tt := range tests {
		got, ok := extractJSON(tt.in)
		if ok != tt.ok {
			t.Errorf("extractJSON(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && string(got) != tt.want {
			t.Errorf("extractJSON(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
