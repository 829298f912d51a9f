package api

import (
	"encoding/json"
	"net/http"

	"github.com/nolan/converse/internal/store"
)

// handleListConflicts returns a user's unresolved conflicts.
func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "user_id is required")
		return
	}

	conflicts, err := s.engine.UnresolvedConflicts(r.Context(), userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": toConflictList(conflicts)})
}

// handleResolveConflict resolves one conflict with the requested
// strategy and returns the resolution event.
func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := r.PathValue("id")
	var req struct {
		Strategy   string          `json:"strategy"`
		Resolution json.RawMessage `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ev, err := s.engine.Resolve(r.Context(), conflictID, store.Strategy(req.Strategy), req.Resolution)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	s.metrics.RecordConflictResolved()

	writeJSON(w, http.StatusOK, map[string]any{
		"new_event_id": ev.ID,
		"event":        toEventJSON(ev),
	})
}

// handleStats aggregates a user's sync activity.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "user_id is required")
		return
	}

	stats, err := s.engine.Statistics(r.Context(), userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsJSON(stats))
}
