package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
	"github.com/MikeSquared-Agency/finledger/internal/metrics"
	"github.com/MikeSquared-Agency/finledger/internal/query"
)

// GET /api/v1/periods
func (s *Server) listPeriods(w http.ResponseWriter, r *http.Request) {
	prov, err := boolParam(r, "include_provenance")
	if err != nil {
		s.queryError(w, "list_periods", err)
		return
	}
	rows, err := s.query.ListPeriods(r.Context(), prov)
	if err != nil {
		s.queryError(w, "list_periods", err)
		return
	}
	metrics.QueryRequests.WithLabelValues("list_periods", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"periods": rows})
}

// GET /api/v1/metrics/timeseries
func (s *Server) queryMetric(w http.ResponseWriter, r *http.Request) {
	q := query.MetricQuery{
		Metric:  r.URL.Query().Get("metric"),
		GroupBy: r.URL.Query().Get("group_by"),
	}
	var err error
	if q.Start, err = dateParam(r, "start"); err == nil {
		if q.End, err = dateParam(r, "end"); err == nil {
			q.IncludeProvenance, err = boolParam(r, "include_provenance")
		}
	}
	if err != nil {
		s.queryError(w, "query_metric", err)
		return
	}

	res, err := s.query.QueryMetric(r.Context(), q)
	if err != nil {
		s.queryError(w, "query_metric", err)
		return
	}
	metrics.QueryRequests.WithLabelValues("query_metric", "ok").Inc()
	writeJSON(w, http.StatusOK, res)
}

// GET /api/v1/metrics/compare
func (s *Server) comparePeriods(w http.ResponseWriter, r *http.Request) {
	q := query.CompareQuery{
		Metric:  r.URL.Query().Get("metric"),
		PeriodA: r.URL.Query().Get("period_a"),
		PeriodB: r.URL.Query().Get("period_b"),
	}
	var err error
	if q.IncludeProvenance, err = boolParam(r, "include_provenance"); err != nil {
		s.queryError(w, "compare_periods", err)
		return
	}

	res, err := s.query.ComparePeriods(r.Context(), q)
	if err != nil {
		s.queryError(w, "compare_periods", err)
		return
	}
	metrics.QueryRequests.WithLabelValues("compare_periods", "ok").Inc()
	writeJSON(w, http.StatusOK, res)
}

// GET /api/v1/breakdown
func (s *Server) queryBreakdown(w http.ResponseWriter, r *http.Request) {
	q := query.BreakdownQuery{
		Category: r.URL.Query().Get("category"),
		Level:    1,
	}
	var err error
	if v := r.URL.Query().Get("level"); v != "" {
		if q.Level, err = strconv.Atoi(v); err != nil {
			err = fmt.Errorf("%w: level must be an integer", query.ErrInvalidInput)
		}
	}
	if err == nil {
		if q.Start, err = dateParam(r, "start"); err == nil {
			if q.End, err = dateParam(r, "end"); err == nil {
				q.IncludeProvenance, err = boolParam(r, "include_provenance")
			}
		}
	}
	if err != nil {
		s.queryError(w, "query_breakdown", err)
		return
	}

	res, err := s.query.QueryBreakdown(r.Context(), q)
	if err != nil {
		s.queryError(w, "query_breakdown", err)
		return
	}
	metrics.QueryRequests.WithLabelValues("query_breakdown", "ok").Inc()
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) queryError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, query.ErrInvalidInput):
		metrics.QueryRequests.WithLabelValues(op, "invalid").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, query.ErrNoData):
		metrics.QueryRequests.WithLabelValues(op, "no_data").Inc()
		writeError(w, http.StatusNotFound, err.Error())
	default:
		metrics.QueryRequests.WithLabelValues(op, "error").Inc()
		s.logger.Error("query failed", "operation", op, "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
	}
}

func dateParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := ledger.ParseDate(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", query.ErrInvalidInput, name, err)
	}
	return &t, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be true or false", query.ErrInvalidInput, name)
	}
	return b, nil
}
