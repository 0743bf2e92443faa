package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var errBlank = errors.New("blank amount")

// ParseMoney parses a report amount such as "1,234.50", "$12" or "(45.00)".
// Parenthesised amounts are negative. Blank input returns an error wrapping
// errBlank so callers can tell it apart from garbage.
func ParseMoney(s string) (decimal.Decimal, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errBlank
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", orig, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) String() string { return string(f) }

// rawAmount parses a JSON amount that may be a number, a string or null.
func rawAmount(raw json.RawMessage) (decimal.Decimal, error) {
	var s flexString
	if err := s.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %s: %w", raw, err)
	}
	return ParseMoney(string(s))
}

// isNull reports whether a raw JSON value is absent or null.
func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// amountOrZero parses an amount and records a note when it falls back to zero.
func (r *Result) amountOrZero(period, field string, parse func() (decimal.Decimal, error)) decimal.Decimal {
	d, err := parse()
	if err == nil {
		return d
	}
	if errors.Is(err, errBlank) {
		r.note(period, field, "blank amount treated as 0")
	} else {
		r.note(period, field, "malformed amount treated as 0: %v", err)
	}
	return decimal.Zero
}
