// Package mcpserver exposes the four read operations as MCP tools.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
	"github.com/MikeSquared-Agency/finledger/internal/metrics"
	"github.com/MikeSquared-Agency/finledger/internal/query"
)

var MetadataListPeriods = &mcp.Tool{
	Name:        "list_periods",
	Description: "List the monthly periods present in the ledger, ordered by start date.",
}

var MetadataQueryMetric = &mcp.Tool{
	Name: "query_metric",
	Description: "Total a canonical metric over an inclusive date range and return a series " +
		"grouped by month, quarter or year. Omitted dates default to the first and last available period.",
}

var MetadataQueryBreakdown = &mcp.Tool{
	Name: "query_breakdown",
	Description: "Group a category's line items by their account path truncated to `level` segments " +
		"and return each group's value and share of the category total.",
}

var MetadataComparePeriods = &mcp.Tool{
	Name: "compare_periods",
	Description: "Compare a metric between two period labels (YYYY, YYYY-MM, YYYY-Qn or " +
		"YYYY-MM-DD..YYYY-MM-DD) and return both totals with absolute and relative change.",
}

type InputListPeriods struct {
	IncludeProvenance bool `json:"include_provenance,omitempty" jsonschema:"list the sources that reported each period"`
}

type OutputListPeriods struct {
	Periods []query.PeriodRow `json:"periods"`
}

type InputQueryMetric struct {
	Metric            string `json:"metric" jsonschema:"canonical metric name, e.g. revenue_total"`
	Start             string `json:"start,omitempty" jsonschema:"inclusive start date YYYY-MM-DD"`
	End               string `json:"end,omitempty" jsonschema:"inclusive end date YYYY-MM-DD"`
	GroupBy           string `json:"group_by,omitempty" jsonschema:"month, quarter or year; default month"`
	IncludeProvenance bool   `json:"include_provenance,omitempty" jsonschema:"tag each series point with its provenance"`
}

type InputQueryBreakdown struct {
	Category          string `json:"category" jsonschema:"line item category, e.g. operating_expense"`
	Start             string `json:"start,omitempty" jsonschema:"inclusive start date YYYY-MM-DD"`
	End               string `json:"end,omitempty" jsonschema:"inclusive end date YYYY-MM-DD"`
	Level             int    `json:"level,omitempty" jsonschema:"path depth from 1 to 10; default 1"`
	IncludeProvenance bool   `json:"include_provenance,omitempty" jsonschema:"tag each row with its provenance"`
}

type InputComparePeriods struct {
	Metric            string `json:"metric" jsonschema:"canonical metric name"`
	PeriodA           string `json:"period_a" jsonschema:"baseline period label"`
	PeriodB           string `json:"period_b" jsonschema:"period label compared against the baseline"`
	IncludeProvenance bool   `json:"include_provenance,omitempty" jsonschema:"report the provenance of each side"`
}

// Tools holds the handlers. They are plain methods so tests can call them
// without a transport.
type Tools struct {
	query  *query.Service
	logger *slog.Logger
}

func NewTools(q *query.Service, logger *slog.Logger) *Tools {
	return &Tools{query: q, logger: logger}
}

// NewServer registers every tool on a fresh MCP server.
func NewServer(t *Tools, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "finledger", Version: version}, nil)
	mcp.AddTool(server, MetadataListPeriods, t.ListPeriods)
	mcp.AddTool(server, MetadataQueryMetric, t.QueryMetric)
	mcp.AddTool(server, MetadataQueryBreakdown, t.QueryBreakdown)
	mcp.AddTool(server, MetadataComparePeriods, t.ComparePeriods)
	return server
}

// Serve runs the server over stdio until ctx ends or the client disconnects.
func Serve(ctx context.Context, t *Tools, version string) error {
	return NewServer(t, version).Run(ctx, &mcp.StdioTransport{})
}

func (t *Tools) ListPeriods(ctx context.Context, _ *mcp.CallToolRequest, in InputListPeriods) (*mcp.CallToolResult, OutputListPeriods, error) {
	rows, err := t.query.ListPeriods(ctx, in.IncludeProvenance)
	if err != nil {
		return nil, OutputListPeriods{}, t.fail("list_periods", err)
	}
	metrics.QueryRequests.WithLabelValues("list_periods", "ok").Inc()
	return nil, OutputListPeriods{Periods: rows}, nil
}

func (t *Tools) QueryMetric(ctx context.Context, _ *mcp.CallToolRequest, in InputQueryMetric) (*mcp.CallToolResult, query.MetricResult, error) {
	start, end, err := dateRange(in.Start, in.End)
	if err != nil {
		return nil, query.MetricResult{}, t.fail("query_metric", err)
	}
	res, err := t.query.QueryMetric(ctx, query.MetricQuery{
		Metric:            in.Metric,
		Start:             start,
		End:               end,
		GroupBy:           in.GroupBy,
		IncludeProvenance: in.IncludeProvenance,
	})
	if err != nil {
		return nil, query.MetricResult{}, t.fail("query_metric", err)
	}
	metrics.QueryRequests.WithLabelValues("query_metric", "ok").Inc()
	return nil, *res, nil
}

func (t *Tools) QueryBreakdown(ctx context.Context, _ *mcp.CallToolRequest, in InputQueryBreakdown) (*mcp.CallToolResult, query.BreakdownResult, error) {
	start, end, err := dateRange(in.Start, in.End)
	if err != nil {
		return nil, query.BreakdownResult{}, t.fail("query_breakdown", err)
	}
	level := in.Level
	if level == 0 {
		level = 1
	}
	res, err := t.query.QueryBreakdown(ctx, query.BreakdownQuery{
		Category:          in.Category,
		Start:             start,
		End:               end,
		Level:             level,
		IncludeProvenance: in.IncludeProvenance,
	})
	if err != nil {
		return nil, query.BreakdownResult{}, t.fail("query_breakdown", err)
	}
	metrics.QueryRequests.WithLabelValues("query_breakdown", "ok").Inc()
	return nil, *res, nil
}

func (t *Tools) ComparePeriods(ctx context.Context, _ *mcp.CallToolRequest, in InputComparePeriods) (*mcp.CallToolResult, query.CompareResult, error) {
	res, err := t.query.ComparePeriods(ctx, query.CompareQuery{
		Metric:            in.Metric,
		PeriodA:           in.PeriodA,
		PeriodB:           in.PeriodB,
		IncludeProvenance: in.IncludeProvenance,
	})
	if err != nil {
		return nil, query.CompareResult{}, t.fail("compare_periods", err)
	}
	metrics.QueryRequests.WithLabelValues("compare_periods", "ok").Inc()
	return nil, *res, nil
}

func (t *Tools) fail(op string, err error) error {
	metrics.QueryRequests.WithLabelValues(op, "error").Inc()
	t.logger.Debug("mcp tool failed", "tool", op, "error", err)
	return err
}

func dateRange(start, end string) (*time.Time, *time.Time, error) {
	s, err := optionalDate("start", start)
	if err != nil {
		return nil, nil, err
	}
	e, err := optionalDate("end", end)
	if err != nil {
		return nil, nil, err
	}
	return s, e, nil
}

func optionalDate(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := ledger.ParseDate(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", query.ErrInvalidInput, name, err)
	}
	return &t, nil
}
