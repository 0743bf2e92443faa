// Package ingest runs the normalize, reconcile and persist pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MikeSquared-Agency/finledger/internal/hermes"
	"github.com/MikeSquared-Agency/finledger/internal/ledger"
	"github.com/MikeSquared-Agency/finledger/internal/metrics"
	"github.com/MikeSquared-Agency/finledger/internal/normalize"
	"github.com/MikeSquared-Agency/finledger/internal/reconcile"
)

// Mode selects how a run treats previously stored raw data.
type Mode string

const (
	// ModeReplace rebuilds raw and canonical data from this run alone.
	ModeReplace Mode = "replace"
	// ModeUpsert merges this run's raw observations over the stored ones,
	// then rebuilds canonical data from the merged set.
	ModeUpsert Mode = "upsert"
)

// StatusDryRun marks a report that was never persisted.
const StatusDryRun = "dry_run"

var (
	ErrIngestInProgress = errors.New("ingestion already in progress")
	ErrNoSources        = errors.New("no source could be normalized")
)

// ParseMode validates a mode name. Empty means replace.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeReplace:
		return ModeReplace, nil
	case ModeUpsert:
		return ModeUpsert, nil
	}
	return "", fmt.Errorf("unknown ingest mode %q", s)
}

// SourceSpec pairs a normalizer with the file it reads.
type SourceSpec struct {
	Normalizer normalize.Normalizer
	Path       string
}

// Repository persists runs and ledgers.
type Repository interface {
	CreateRun(ctx context.Context, run ledger.Run) error
	FailRun(ctx context.Context, id uuid.UUID, runErr error) error
	ReplaceLedger(ctx context.Context, run ledger.Run, snap *ledger.Snapshot) error
	RawObservations(ctx context.Context) (ledger.Observations, error)
}

// Publisher emits events. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Notifier is told about every finished run.
type Notifier interface {
	NotifyIngest(ctx context.Context, r *Report) error
}

// SourceFailure is a source that could not be read at all.
type SourceFailure struct {
	Source ledger.Source `json:"source"`
	Error  string        `json:"error"`
}

// Report is the outcome of a run.
type Report struct {
	RunID        uuid.UUID        `json:"run_id"`
	Status       string           `json:"status"`
	Mode         Mode             `json:"mode"`
	Counts       ledger.Counts    `json:"counts"`
	Issues       []ledger.Issue   `json:"issues"`
	Notes        []normalize.Note `json:"notes,omitempty"`
	SourceErrors []SourceFailure  `json:"source_errors"`
}

// Service serializes ingestion runs.
type Service struct {
	cfg      reconcile.Config
	sources  []SourceSpec
	repo     Repository
	pub      Publisher
	notifier Notifier
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

func NewService(cfg reconcile.Config, sources []SourceSpec, repo Repository, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		sources: sources,
		repo:    repo,
		sem:     semaphore.NewWeighted(1),
		logger:  logger,
	}
}

// SetPublisher enables event publishing.
func (s *Service) SetPublisher(p Publisher) { s.pub = p }

// SetNotifier enables run notifications.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// Run waits for any in-flight run, then ingests.
func (s *Service) Run(ctx context.Context, mode Mode) (*Report, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	return s.run(ctx, mode)
}

// TryRun ingests unless a run is already in flight, in which case it
// returns ErrIngestInProgress.
func (s *Service) TryRun(ctx context.Context, mode Mode) (*Report, error) {
	if !s.sem.TryAcquire(1) {
		return nil, ErrIngestInProgress
	}
	defer s.sem.Release(1)
	return s.run(ctx, mode)
}

// DryRun normalizes and reconciles without writing anything.
func (s *Service) DryRun(ctx context.Context, mode Mode) (*Report, error) {
	report := &Report{Status: StatusDryRun, Mode: mode, Issues: []ledger.Issue{}, SourceErrors: []SourceFailure{}}
	snap, err := s.build(ctx, mode, report)
	if err != nil {
		return nil, err
	}
	report.Counts = snap.Counts()
	report.Issues = append(report.Issues, snap.Issues...)
	return report, nil
}

func (s *Service) run(ctx context.Context, mode Mode) (*Report, error) {
	start := time.Now()
	run := ledger.Run{
		ID:        uuid.New(),
		Mode:      string(mode),
		Primary:   s.cfg.Primary,
		Tolerance: s.cfg.Tolerance,
		Status:    ledger.RunRunning,
		StartedAt: start.UTC(),
	}
	report := &Report{RunID: run.ID, Status: ledger.RunRunning, Mode: mode, Issues: []ledger.Issue{}, SourceErrors: []SourceFailure{}}

	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	snap, err := s.build(ctx, mode, report)
	if err == nil {
		err = s.repo.ReplaceLedger(ctx, run, snap)
	}
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		report.Status = ledger.RunError
		// The run record must close even when ctx is what failed.
		if ferr := s.repo.FailRun(context.WithoutCancel(ctx), run.ID, err); ferr != nil {
			s.logger.Error("failed to record run failure", "run_id", run.ID, "error", ferr)
		}
		metrics.IngestRuns.WithLabelValues(string(mode), ledger.RunError).Inc()
		s.logger.Error("ingestion failed", "run_id", run.ID, "mode", mode, "error", err)
		s.finish(ctx, report, err)
		return nil, fmt.Errorf("ingest run %s: %w", run.ID, err)
	}

	report.Status = ledger.RunOK
	report.Counts = snap.Counts()
	report.Issues = append(report.Issues, snap.Issues...)
	metrics.IngestRuns.WithLabelValues(string(mode), ledger.RunOK).Inc()
	metrics.ReconcileIssues.Add(float64(len(snap.Issues)))

	for _, iss := range snap.Issues {
		s.logger.Warn("reconciliation issue",
			"run_id", run.ID,
			"period", iss.Period.Key(),
			"metric", iss.Metric,
			"primary_value", iss.Detail.PrimaryValue,
			"other_value", iss.Detail.OtherValue,
			"delta", iss.Detail.Delta,
		)
	}
	s.logger.Info("ingestion complete",
		"run_id", run.ID,
		"mode", mode,
		"periods", report.Counts.Periods,
		"metrics", report.Counts.Metrics,
		"line_items", report.Counts.LineItems,
		"issues", report.Counts.Issues,
		"source_errors", len(report.SourceErrors),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	s.finish(ctx, report, nil)
	return report, nil
}

// build normalizes every source and reconciles the result. Source failures
// are confined to the report unless no source could be read.
func (s *Service) build(ctx context.Context, mode Mode, report *Report) (*ledger.Snapshot, error) {
	var existing ledger.Observations
	if mode == ModeUpsert {
		var err error
		existing, err = s.repo.RawObservations(ctx)
		if err != nil {
			return nil, fmt.Errorf("load raw observations: %w", err)
		}
	}

	var fresh ledger.Observations
	read := 0
	for _, spec := range s.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := spec.Normalizer.Source()
		res, err := normalize.NormalizeFile(spec.Normalizer, spec.Path)
		if err != nil {
			metrics.SourceErrors.WithLabelValues(string(src)).Inc()
			s.logger.Warn("source could not be normalized", "source", src, "path", spec.Path, "error", err)
			report.SourceErrors = append(report.SourceErrors, SourceFailure{Source: src, Error: err.Error()})
			continue
		}
		read++
		for _, n := range res.Notes {
			s.logger.Debug("data quality note", "source", n.Source, "period", n.Period, "field", n.Field, "message", n.Message)
		}
		metrics.NormalizeNotes.WithLabelValues(string(src)).Add(float64(len(res.Notes)))
		report.Notes = append(report.Notes, res.Notes...)
		fresh.Add(res.Observations())
	}
	if read == 0 {
		return nil, ErrNoSources
	}

	snap, err := reconcile.Run(s.cfg, merge(existing, fresh))
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	return snap, nil
}

// merge lays fresh over existing. Reconciliation keeps the last observation
// per key, so fresh values win; fresh currencies also win.
func merge(existing, fresh ledger.Observations) ledger.Observations {
	out := ledger.Observations{
		Metrics:   append(append([]ledger.MetricObservation(nil), existing.Metrics...), fresh.Metrics...),
		LineItems: append(append([]ledger.LineItemObservation(nil), existing.LineItems...), fresh.LineItems...),
	}
	for p, cur := range fresh.Currencies {
		out.SetCurrency(p, cur)
	}
	for p, cur := range existing.Currencies {
		out.SetCurrency(p, cur)
	}
	return out
}

func (s *Service) finish(ctx context.Context, report *Report, runErr error) {
	if s.pub != nil {
		evt := hermes.IngestCompleted{
			RunID:  report.RunID,
			Status: report.Status,
			Mode:   string(report.Mode),
			Counts: report.Counts,
		}
		for _, f := range report.SourceErrors {
			evt.SourceErrors = append(evt.SourceErrors, string(f.Source)+": "+f.Error)
		}
		if runErr != nil {
			evt.Error = runErr.Error()
		}
		if err := s.pub.Publish(hermes.SubjectIngestCompleted, evt); err != nil {
			s.logger.Warn("publish ingest completed failed", "run_id", report.RunID, "error", err)
		}
		for _, iss := range report.Issues {
			if err := s.pub.Publish(hermes.SubjectReconcileIssue, hermes.ReconcileIssue{RunID: report.RunID, Issue: iss}); err != nil {
				s.logger.Warn("publish reconcile issue failed", "run_id", report.RunID, "error", err)
			}
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyIngest(context.WithoutCancel(ctx), report); err != nil {
			s.logger.Warn("ingest notification failed", "run_id", report.RunID, "error", err)
		}
	}
}
