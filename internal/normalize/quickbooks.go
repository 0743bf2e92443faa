package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

// QuickBooks report groups that open a line item category.
var qbCategories = map[string]string{
	"Income":        ledger.CategoryRevenue,
	"COGS":          ledger.CategoryCOGS,
	"Expenses":      ledger.CategoryOperatingExpense,
	"OtherIncome":   ledger.CategoryOtherIncome,
	"OtherExpenses": ledger.CategoryOtherExpense,
}

// QuickBooks report groups whose summary row is a canonical metric.
var qbMetrics = map[string]string{
	"Income":             ledger.MetricRevenueTotal,
	"COGS":               ledger.MetricCOGSTotal,
	"GrossProfit":        ledger.MetricGrossProfit,
	"Expenses":           ledger.MetricOperatingExpensesTotal,
	"NetOperatingIncome": ledger.MetricOperatingProfit,
	"OtherIncome":        ledger.MetricNonOperatingRevenueTotal,
	"OtherExpenses":      ledger.MetricNonOperatingExpensesTotal,
	"NetIncome":          ledger.MetricNetIncome,
}

var qbTitleLayouts = []string{"Jan 2006", "January 2006"}

type qbReport struct {
	Data struct {
		Header struct {
			Currency string `json:"Currency"`
		} `json:"Header"`
		Columns struct {
			Column []struct {
				ColTitle string `json:"ColTitle"`
			} `json:"Column"`
		} `json:"Columns"`
		Rows qbRows `json:"Rows"`
	} `json:"data"`
}

type qbCell struct {
	Value flexString `json:"value"`
	ID    flexString `json:"id"`
}

type qbCells struct {
	ColData []qbCell `json:"ColData"`
}

type qbRow struct {
	Type    string   `json:"type"`
	Group   string   `json:"group"`
	Header  qbCells  `json:"Header"`
	Rows    qbRows   `json:"Rows"`
	Summary qbCells  `json:"Summary"`
	ColData []qbCell `json:"ColData"`
}

// qbRows holds child rows. Entries that are not JSON objects are dropped.
type qbRows struct {
	Row []qbRow
}

func (r *qbRows) UnmarshalJSON(b []byte) error {
	var wire struct {
		Row []json.RawMessage `json:"Row"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	r.Row = r.Row[:0]
	for _, raw := range wire.Row {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			continue
		}
		var row qbRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return err
		}
		r.Row = append(r.Row, row)
	}
	return nil
}

type monthColumn struct {
	index  int
	period ledger.Period
}

// QuickBooks normalizes a QuickBooks profit and loss report ("Format A"):
// months are report columns and line items are nested section rows.
type QuickBooks struct{}

func NewQuickBooks() *QuickBooks { return &QuickBooks{} }

func (*QuickBooks) Source() ledger.Source { return ledger.SourceQuickBooks }

// Normalize parses a QuickBooks report.
func (q *QuickBooks) Normalize(data []byte) (*Result, error) {
	var report qbReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode quickbooks report: %w", err)
	}

	var cols []monthColumn
	for i, c := range report.Data.Columns.Column {
		if p, ok := monthFromTitle(c.ColTitle); ok {
			cols = append(cols, monthColumn{index: i, period: p})
		}
	}
	if len(cols) == 0 {
		return nil, errors.New("quickbooks report has no month columns")
	}

	res := &Result{
		Source:   ledger.SourceQuickBooks,
		Currency: strings.TrimSpace(report.Data.Header.Currency),
	}
	for _, row := range report.Data.Rows.Row {
		q.walk(res, cols, row, "", nil)
	}
	return res, nil
}

func (q *QuickBooks) walk(res *Result, cols []monthColumn, row qbRow, category string, segments []string) {
	var label string
	if len(row.Header.ColData) > 0 {
		label = cleanLabel(row.Header.ColData[0].Value.String())
	}

	next := segments
	if cat, ok := qbCategories[row.Group]; ok {
		// Paths start below the category section so both sources key alike.
		category = cat
		next = nil
	} else if label != "" {
		next = append(append([]string(nil), segments...), label)
	}

	if metric, ok := qbMetrics[row.Group]; ok {
		for _, col := range cols {
			if col.index >= len(row.Summary.ColData) {
				continue
			}
			cell := row.Summary.ColData[col.index]
			v := res.amountOrZero(col.period.Key(), metric, func() (decimal.Decimal, error) {
				return ParseMoney(cell.Value.String())
			})
			res.Metrics = append(res.Metrics, ledger.MetricObservation{
				Period: col.period,
				Source: ledger.SourceQuickBooks,
				Metric: metric,
				Value:  v.InexactFloat64(),
			})
		}
	}

	if row.Type == "Data" {
		q.dataRow(res, cols, row, category, next)
		return
	}

	for _, child := range row.Rows.Row {
		q.walk(res, cols, child, category, next)
	}
}

func (q *QuickBooks) dataRow(res *Result, cols []monthColumn, row qbRow, category string, segments []string) {
	if len(row.ColData) == 0 {
		return
	}
	name := cleanLabel(row.ColData[0].Value.String())
	if name == "" {
		return
	}
	if category == "" {
		res.note("", name, "data row outside any category skipped")
		return
	}

	path := strings.Join(append(append([]string(nil), segments...), name), PathSeparator)
	accountID := strings.TrimSpace(row.ColData[0].ID.String())

	for _, col := range cols {
		if col.index >= len(row.ColData) {
			continue
		}
		cell := row.ColData[col.index]
		v := res.amountOrZero(col.period.Key(), path, func() (decimal.Decimal, error) {
			return ParseMoney(cell.Value.String())
		})
		res.LineItems = append(res.LineItems, ledger.LineItemObservation{
			Period:    col.period,
			Source:    ledger.SourceQuickBooks,
			Category:  category,
			Path:      path,
			Name:      name,
			AccountID: accountID,
			Value:     v.InexactFloat64(),
		})
	}
}

// monthFromTitle maps a column title like "Jan 2024" to its month. Totals
// and other titles are rejected.
func monthFromTitle(title string) (ledger.Period, bool) {
	title = strings.TrimSpace(title)
	if title == "" || strings.EqualFold(title, "total") {
		return ledger.Period{}, false
	}
	for _, layout := range qbTitleLayouts {
		if t, err := time.Parse(layout, title); err == nil {
			return ledger.PeriodOf(t), true
		}
	}
	return ledger.Period{}, false
}
