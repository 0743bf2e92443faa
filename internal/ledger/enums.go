package ledger

import "slices"

// Canonical metric names, in reporting order.
const (
	MetricRevenueTotal              = "revenue_total"
	MetricCOGSTotal                 = "cogs_total"
	MetricGrossProfit               = "gross_profit"
	MetricOperatingExpensesTotal    = "operating_expenses_total"
	MetricOperatingProfit           = "operating_profit"
	MetricNonOperatingRevenueTotal  = "non_operating_revenue_total"
	MetricNonOperatingExpensesTotal = "non_operating_expenses_total"
	MetricTaxesTotal                = "taxes_total"
	MetricNetIncome                 = "net_income"
)

// Line item categories, in reporting order.
const (
	CategoryRevenue             = "revenue"
	CategoryCOGS                = "cogs"
	CategoryOperatingExpense    = "operating_expense"
	CategoryNonOperatingRevenue = "non_operating_revenue"
	CategoryNonOperatingExpense = "non_operating_expense"
	CategoryOtherIncome         = "other_income"
	CategoryOtherExpense        = "other_expense"
	CategoryUnknown             = "unknown"
)

var metrics = []string{
	MetricRevenueTotal,
	MetricCOGSTotal,
	MetricGrossProfit,
	MetricOperatingExpensesTotal,
	MetricOperatingProfit,
	MetricNonOperatingRevenueTotal,
	MetricNonOperatingExpensesTotal,
	MetricTaxesTotal,
	MetricNetIncome,
}

var categories = []string{
	CategoryRevenue,
	CategoryCOGS,
	CategoryOperatingExpense,
	CategoryNonOperatingRevenue,
	CategoryNonOperatingExpense,
	CategoryOtherIncome,
	CategoryOtherExpense,
	CategoryUnknown,
}

// Metrics returns the canonical metric enumeration.
func Metrics() []string { return slices.Clone(metrics) }

// Categories returns the canonical category enumeration.
func Categories() []string { return slices.Clone(categories) }

func IsMetric(name string) bool { return slices.Contains(metrics, name) }

func IsCategory(name string) bool { return slices.Contains(categories, name) }

// MetricRank orders metrics by enumeration position; unknown names sort last.
func MetricRank(name string) int {
	if i := slices.Index(metrics, name); i >= 0 {
		return i
	}
	return len(metrics)
}

// CategoryRank orders categories by enumeration position; unknown names sort last.
func CategoryRank(name string) int {
	if i := slices.Index(categories, name); i >= 0 {
		return i
	}
	return len(categories)
}
