package hermes

import (
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

const (
	// SubjectIngestRequested asks a running service to ingest both sources.
	SubjectIngestRequested = "finledger.ingest.requested"
	// SubjectIngestCompleted is published once per finished run, ok or not.
	SubjectIngestCompleted = "finledger.ingest.completed"
	// SubjectReconcileIssue carries one reconciliation issue.
	SubjectReconcileIssue = "finledger.reconcile.issue"
)

// IngestRequested is the payload of SubjectIngestRequested. An empty mode
// means replace.
type IngestRequested struct {
	Mode        string `json:"mode,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// IngestCompleted summarises a finished run.
type IngestCompleted struct {
	RunID        uuid.UUID     `json:"run_id"`
	Status       string        `json:"status"`
	Mode         string        `json:"mode"`
	Counts       ledger.Counts `json:"counts"`
	SourceErrors []string      `json:"source_errors,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// ReconcileIssue is one issue raised by a run.
type ReconcileIssue struct {
	RunID uuid.UUID `json:"run_id"`
	ledger.Issue
}
