package nlq

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/finledger/internal/query"
)

// numberRe matches numeric tokens with optional thousands separators,
// decimals, percent sign and magnitude suffix.
var numberRe = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)(\s*(?:%|percent\b|bn\b|billion\b|million\b|thousand\b|[kKmMbB]\b))?`)

// labelRe matches period labels: a year, optionally followed by a month,
// quarter or half, optionally followed by a day.
var labelRe = regexp.MustCompile(`\b(?:19|20|21)\d{2}(?:-(?:Q[1-4]|H[12]|\d{2})(?:-\d{2})?)?\b`)

// countRe matches the unit word after a bare count ("3 months").
var countRe = regexp.MustCompile(`^\s+(?:months?|quarters?|years?|periods?|calls?)\b`)

type numToken struct {
	text     string
	value    float64
	tol      float64
	percent  bool
	decimals int
	// label is the period label the token is part of, if any.
	label string
	// count marks a bare integer followed by a unit word.
	count bool
}

// numericTokens extracts the numbers a reader would take as facts. Tokens
// glued to a preceding letter, like the "1" in "Q1", are not numbers.
func numericTokens(s string) []numToken {
	labels := labelRe.FindAllStringIndex(s, -1)
	var out []numToken
	for _, m := range numberRe.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > 0 {
			prev, _ := utf8.DecodeLastRuneInString(s[:m[0]])
			if unicode.IsLetter(prev) || prev == '_' {
				continue
			}
		}
		digits := strings.TrimRight(strings.ReplaceAll(s[m[2]:m[3]], ",", ""), ".")
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			continue
		}
		decimals := 0
		if i := strings.IndexByte(digits, '.'); i >= 0 {
			decimals = len(digits) - i - 1
		}

		tok := numToken{text: strings.TrimSpace(s[m[0]:m[1]]), decimals: decimals}
		mult := 1.0
		if m[4] >= 0 {
			switch suffix := strings.ToLower(strings.TrimSpace(s[m[4]:m[5]])); suffix {
			case "%", "percent":
				tok.percent = true
			case "k", "thousand":
				mult = 1e3
			case "m", "million":
				mult = 1e6
			case "b", "bn", "billion":
				mult = 1e9
			}
		} else if decimals == 0 && countRe.MatchString(s[m[3]:]) {
			tok.count = true
		}
		for _, l := range labels {
			if decimals == 0 && m[4] < 0 && m[2] >= l[0] && m[2] < l[1] {
				tok.label = s[l[0]:l[1]]
				break
			}
		}
		tok.value = v * mult
		tok.tol = 0.5 * math.Pow10(-decimals) * mult
		out = append(out, tok)
	}
	return out
}

// factSet is what an answer may cite: numeric values and period labels.
type factSet struct {
	values []float64
	labels map[string]bool
}

func (f *factSet) addLabel(label string) {
	f.labels[label] = true
	f.labels[label[:4]] = true
}

// facts collects every number present in the tool outputs: numeric fields,
// numbers inside strings, and list lengths. Numbers that are part of a
// period label are recorded as labels only.
func facts(outputs []ToolOutput) factSet {
	fs := factSet{labels: make(map[string]bool)}
	for _, o := range outputs {
		data, err := json.Marshal(o)
		if err != nil {
			continue
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		fs.collect(v)
	}
	return fs
}

func (f *factSet) collect(v any) {
	switch v := v.(type) {
	case float64:
		f.values = append(f.values, math.Abs(v))
	case string:
		for _, tok := range numericTokens(v) {
			if tok.label != "" {
				f.addLabel(tok.label)
				continue
			}
			f.values = append(f.values, tok.value)
		}
	case []any:
		f.values = append(f.values, float64(len(v)))
		for _, e := range v {
			f.collect(e)
		}
	case map[string]any:
		for _, e := range v {
			f.collect(e)
		}
	}
}

// Ungrounded returns the numeric tokens of answer that cannot be traced to a
// tool output. Rounded renderings of a fact, and percentages of a ratio, are
// accepted. The question contributes period labels only, never figures.
// Bare counts followed by a unit word are not checked.
func Ungrounded(answer, question string, outputs []ToolOutput) []string {
	known := facts(outputs)
	for _, l := range labelRe.FindAllString(question, -1) {
		known.addLabel(l)
	}

	var bad []string
	for _, tok := range numericTokens(answer) {
		if tok.count {
			continue
		}
		if tok.label != "" && (known.labels[tok.label] || known.labels[tok.label[:4]]) {
			continue
		}
		if !matchesFact(tok, known.values) {
			bad = append(bad, tok.text)
		}
	}
	return bad
}

func matchesFact(tok numToken, known []float64) bool {
	const eps = 1e-9
	for _, f := range known {
		if math.Abs(tok.value-f) <= tok.tol+eps {
			return true
		}
		if tok.percent && math.Abs(tok.value-f*100) <= tok.tol+eps {
			return true
		}
	}
	return false
}

// FactSummary renders tool outputs as plain sentences. It is used whenever
// narration is unavailable or not grounded.
func FactSummary(outputs []ToolOutput) string {
	if len(outputs) == 0 {
		return "No data was retrieved."
	}
	var lines []string
	for _, o := range outputs {
		if o.Error != "" {
			lines = append(lines, fmt.Sprintf("%s failed: %s.", o.Call, o.Error))
			continue
		}
		lines = append(lines, summarize(o))
	}
	return strings.Join(lines, "\n")
}

func summarize(o ToolOutput) string {
	switch r := o.Result.(type) {
	case []query.PeriodRow:
		if len(r) == 0 {
			return "No periods are available."
		}
		return fmt.Sprintf("Available periods: %s to %s (%d periods).", r[0].Label, r[len(r)-1].Label, len(r))

	case *query.MetricResult:
		parts := make([]string, 0, len(r.Series))
		for _, pt := range r.Series {
			parts = append(parts, fmt.Sprintf("%s: %s", pt.Period, num(pt.Value)))
		}
		s := fmt.Sprintf("%s from %s to %s: total %s%s", r.Metric, r.Start, r.End, num(r.Total), currencySuffix(r.Currency))
		if len(parts) > 0 {
			s += " (" + strings.Join(parts, "; ") + ")"
		}
		return s + "."

	case *query.BreakdownResult:
		parts := make([]string, 0, len(r.Rows))
		for _, row := range r.Rows {
			parts = append(parts, fmt.Sprintf("%s %s (share %s)", row.Name, num(row.Value), num(row.Share)))
		}
		s := fmt.Sprintf("%s from %s to %s: total %s%s", r.Category, r.Start, r.End, num(r.Total), currencySuffix(r.Currency))
		if len(parts) > 0 {
			s += "; " + strings.Join(parts, ", ")
		}
		return s + "."

	case *query.CompareResult:
		s := fmt.Sprintf("%s: %s was %s, %s was %s, change %s",
			r.Metric, r.PeriodA, num(r.AValue), r.PeriodB, num(r.BValue), num(r.DeltaAbs))
		if r.DeltaPct != nil {
			s += fmt.Sprintf(" (ratio %s)", num(*r.DeltaPct))
		}
		return s + currencySuffix(r.Currency) + "."
	}
	return fmt.Sprintf("%s returned no summarizable result.", o.Call)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func currencySuffix(cur string) string {
	if cur == "" || cur == query.Mixed {
		return ""
	}
	return " " + cur
}
