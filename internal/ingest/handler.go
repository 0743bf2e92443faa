package ingest

import (
	"context"
	"encoding/json"

	"github.com/MikeSquared-Agency/finledger/internal/hermes"
)

// HandleIngestRequested runs an ingestion for a NATS request. Requests that
// arrive during a run wait for it to finish.
func (s *Service) HandleIngestRequested(subject string, data []byte) {
	var req hermes.IngestRequested
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Warn("failed to parse ingest request", "subject", subject, "error", err)
			return
		}
	}
	mode, err := ParseMode(req.Mode)
	if err != nil {
		s.logger.Warn("rejected ingest request", "subject", subject, "error", err)
		return
	}

	s.logger.Info("ingest requested", "mode", mode, "requested_by", req.RequestedBy)
	if _, err := s.Run(context.Background(), mode); err != nil {
		// run already logged and published the failure
		s.logger.Debug("requested ingest did not complete", "error", err)
	}
}
