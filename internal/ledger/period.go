package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Period is a calendar month. Start and End are UTC midnights of the first
// and last day.
type Period struct {
	Start time.Time
	End   time.Time
}

// MonthPeriod returns the period covering the given month.
func MonthPeriod(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, -1)}
}

// PeriodOf returns the month containing t.
func PeriodOf(t time.Time) Period {
	return MonthPeriod(t.Year(), t.Month())
}

// NewPeriod validates that start..end spans exactly one calendar month.
func NewPeriod(start, end time.Time) (Period, error) {
	p := PeriodOf(start)
	if !p.Start.Equal(dateOnly(start)) || !p.End.Equal(dateOnly(end)) {
		return Period{}, fmt.Errorf("%s..%s is not a calendar month", start.Format(DateLayout), end.Format(DateLayout))
	}
	return p, nil
}

// Key is the month label, e.g. "2024-01".
func (p Period) Key() string {
	return p.Start.Format("2006-01")
}

// Overlaps reports whether the period intersects the inclusive range.
func (p Period) Overlaps(start, end time.Time) bool {
	return !p.End.Before(start) && !p.Start.After(end)
}

func (p Period) String() string {
	return p.Start.Format(DateLayout) + ".." + p.End.Format(DateLayout)
}

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"start": p.Start.Format(DateLayout),
		"end":   p.End.Format(DateLayout),
	})
}

// ParseDate parses a strict YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// QuarterLabel returns "YYYY-Qn" for the quarter containing t.
func QuarterLabel(t time.Time) string {
	return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
}

// YearLabel returns "YYYY".
func YearLabel(t time.Time) string {
	return strconv.Itoa(t.Year())
}

var (
	quarterLabel = regexp.MustCompile(`^(\d{4})-Q([1-4])$`)
	monthLabel   = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
	yearLabel    = regexp.MustCompile(`^(\d{4})$`)
)

// ParseLabel resolves a period label to an inclusive date range. Accepted
// forms: "2024", "2024-03", "2024-Q1" and "2024-01-01..2024-03-31".
func ParseLabel(label string) (start, end time.Time, err error) {
	label = strings.TrimSpace(label)

	if m := quarterLabel.FindStringSubmatch(label); m != nil {
		year, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		start = time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 3, -1), nil
	}

	if m := monthLabel.FindStringSubmatch(label); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return time.Time{}, time.Time{}, fmt.Errorf("unsupported period label %q", label)
		}
		p := MonthPeriod(year, time.Month(month))
		return p.Start, p.End, nil
	}

	if m := yearLabel.FindStringSubmatch(label); m != nil {
		year, _ := strconv.Atoi(m[1])
		return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC), nil
	}

	if from, to, ok := strings.Cut(label, ".."); ok {
		start, err = ParseDate(from)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end, err = ParseDate(to)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if start.After(end) {
			return time.Time{}, time.Time{}, fmt.Errorf("period label %q: start after end", label)
		}
		return start, end, nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("unsupported period label %q", label)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
