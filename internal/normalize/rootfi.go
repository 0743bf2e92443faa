package normalize

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

// Rootfi scalar fields mapped to canonical metrics. Absent or null scalars
// are not emitted.
var rfScalars = []struct {
	field  string
	metric string
}{
	{"gross_profit", ledger.MetricGrossProfit},
	{"operating_profit", ledger.MetricOperatingProfit},
	{"taxes", ledger.MetricTaxesTotal},
	{"net_profit", ledger.MetricNetIncome},
}

// Rootfi category subtrees with the category of their leaves and the metric
// derived from summing those leaves.
var rfTrees = []struct {
	field    string
	category string
	total    string
}{
	{"revenue", ledger.CategoryRevenue, ledger.MetricRevenueTotal},
	{"cost_of_goods_sold", ledger.CategoryCOGS, ledger.MetricCOGSTotal},
	{"operating_expenses", ledger.CategoryOperatingExpense, ledger.MetricOperatingExpensesTotal},
	{"non_operating_revenue", ledger.CategoryNonOperatingRevenue, ledger.MetricNonOperatingRevenueTotal},
	{"non_operating_expenses", ledger.CategoryNonOperatingExpense, ledger.MetricNonOperatingExpensesTotal},
}

type rfNode struct {
	Name      flexString      `json:"name"`
	Value     json.RawMessage `json:"value"`
	AccountID flexString      `json:"account_id"`
	LineItems []rfNode        `json:"line_items"`
}

// Rootfi normalizes a Rootfi profit and loss export ("Format B"): one object
// per period with scalar totals and nested category trees.
type Rootfi struct{}

func NewRootfi() *Rootfi { return &Rootfi{} }

func (*Rootfi) Source() ledger.Source { return ledger.SourceRootfi }

// Normalize parses a Rootfi export.
func (rf *Rootfi) Normalize(data []byte) (*Result, error) {
	var report struct {
		Data []map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode rootfi report: %w", err)
	}
	if len(report.Data) == 0 {
		return nil, errors.New("rootfi report has no periods")
	}

	res := &Result{Source: ledger.SourceRootfi}
	periods := 0
	for i, obj := range report.Data {
		p, err := rfPeriod(obj)
		if err != nil {
			res.note("", fmt.Sprintf("data[%d]", i), "period skipped: %v", err)
			continue
		}
		periods++
		if err := rf.period(res, p, obj); err != nil {
			return nil, fmt.Errorf("period %s: %w", p.Key(), err)
		}
	}
	if periods == 0 {
		return nil, errors.New("rootfi report has no well-formed periods")
	}
	return res, nil
}

func (rf *Rootfi) period(res *Result, p ledger.Period, obj map[string]json.RawMessage) error {
	key := p.Key()

	for _, s := range rfScalars {
		raw, ok := obj[s.field]
		if !ok || isNull(raw) {
			continue
		}
		v := res.amountOrZero(key, s.field, func() (decimal.Decimal, error) { return rawAmount(raw) })
		res.Metrics = append(res.Metrics, ledger.MetricObservation{
			Period: p,
			Source: ledger.SourceRootfi,
			Metric: s.metric,
			Value:  v.InexactFloat64(),
		})
	}

	for _, tree := range rfTrees {
		var wire []rfNode
		if raw, ok := obj[tree.field]; ok && !isNull(raw) {
			if err := json.Unmarshal(raw, &wire); err != nil {
				return fmt.Errorf("decode %s: %w", tree.field, err)
			}
		}

		total := decimal.Zero
		for _, leaf := range Flatten(rf.nodes(res, key, wire)) {
			total = total.Add(leaf.Leaf.Value)
			res.LineItems = append(res.LineItems, ledger.LineItemObservation{
				Period:    p,
				Source:    ledger.SourceRootfi,
				Category:  tree.category,
				Path:      leaf.Path(),
				Name:      leaf.Leaf.Name,
				AccountID: leaf.Leaf.AccountID,
				Value:     leaf.Leaf.Value.InexactFloat64(),
			})
		}
		res.Metrics = append(res.Metrics, ledger.MetricObservation{
			Period: p,
			Source: ledger.SourceRootfi,
			Metric: tree.total,
			Value:  total.InexactFloat64(),
		})
	}
	return nil
}

// nodes converts wire nodes into the report tree. Nameless nodes are dropped
// along with their children.
func (rf *Rootfi) nodes(res *Result, period string, wire []rfNode) []Node {
	out := make([]Node, 0, len(wire))
	for _, n := range wire {
		name := cleanLabel(n.Name.String())
		if name == "" {
			continue
		}
		if len(n.LineItems) > 0 {
			out = append(out, &Branch{Name: name, Children: rf.nodes(res, period, n.LineItems)})
			continue
		}
		value := n.Value
		out = append(out, &Leaf{
			Name:      name,
			AccountID: n.AccountID.String(),
			Value:     res.amountOrZero(period, name, func() (decimal.Decimal, error) { return rawAmount(value) }),
		})
	}
	return out
}

func rfPeriod(obj map[string]json.RawMessage) (ledger.Period, error) {
	var start, end string
	if err := json.Unmarshal(obj["period_start"], &start); err != nil {
		return ledger.Period{}, fmt.Errorf("period_start: %w", err)
	}
	if err := json.Unmarshal(obj["period_end"], &end); err != nil {
		return ledger.Period{}, fmt.Errorf("period_end: %w", err)
	}
	s, err := ledger.ParseDate(start)
	if err != nil {
		return ledger.Period{}, err
	}
	e, err := ledger.ParseDate(end)
	if err != nil {
		return ledger.Period{}, err
	}
	return ledger.NewPeriod(s, e)
}
