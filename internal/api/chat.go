package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/finledger/internal/nlq"
)

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// POST /api/v1/chat
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	if s.opts.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "no language model is configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	sessionID := uuid.Nil
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "session_id must be a UUID")
			return
		}
		sessionID = id
	}

	resp, err := s.opts.Chat.Chat(r.Context(), sessionID, req.Message)
	switch {
	case errors.Is(err, nlq.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		if r.Context().Err() != nil {
			return
		}
		s.logger.Error("chat turn failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat failed")
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}
