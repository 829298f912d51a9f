package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nolan/converse/internal/engine"
	"github.com/nolan/converse/internal/store"
	"github.com/nolan/converse/internal/vclock"
)

// handleInitiateSync starts a sync session: the device receives every
// event it has not acknowledged plus its current vector clock.
func (s *Server) handleInitiateSync(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	session, err := s.engine.InitiateSync(r.Context(), deviceID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	s.metrics.RecordSyncSession()

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":     deviceID,
		"pending":       toEventList(session.Pending),
		"pending_count": len(session.Pending),
		"vector_clock":  session.Clock,
	})
}

// handleCompleteSync acknowledges applied events up to a timestamp.
func (s *Server) handleCompleteSync(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	var req struct {
		SyncedUpTo time.Time `json:"synced_up_to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if err := s.engine.CompleteSync(r.Context(), deviceID, req.SyncedUpTo); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSyncStatus reports a device's sync health.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	st, err := s.engine.SyncStatus(r.Context(), deviceID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusJSON{
		DeviceID:     st.DeviceID,
		Active:       st.Active,
		LastSyncAt:   st.LastSyncAt,
		PendingCount: st.PendingCount,
		Conflicts:    toConflictList(st.Conflicts),
		VectorClock:  st.Clock,
		Healthy:      st.Healthy,
	})
}

type recordEventRequest struct {
	DeviceID    string          `json:"device_id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Operation   string          `json:"operation"`
	Payload     json.RawMessage `json:"payload"`
	VectorClock vclock.Clock    `json:"vector_clock"`
}

func (req recordEventRequest) toInput() engine.EventInput {
	return engine.EventInput{
		DeviceID:   req.DeviceID,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Operation:  store.Operation(req.Operation),
		Payload:    req.Payload,
		Clock:      req.VectorClock,
	}
}

// handleRecordEvent appends one device-originated event.
func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req recordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ev, err := s.engine.RecordEvent(r.Context(), req.toInput())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	s.metrics.RecordEvents(1)

	writeJSON(w, http.StatusCreated, toEventJSON(ev))
}

// handleBatchRecord appends many events in order. Failures are
// reported per index; events recorded before a failure stay recorded.
func (s *Server) handleBatchRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Events []recordEventRequest `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	inputs := make([]engine.EventInput, len(req.Events))
	for i, ev := range req.Events {
		inputs[i] = ev.toInput()
	}

	res, err := s.engine.BatchRecord(r.Context(), inputs)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	s.metrics.RecordEvents(int64(res.Recorded))

	savedIDs := make([]string, 0, len(res.Events))
	for _, ev := range res.Events {
		savedIDs = append(savedIDs, ev.ID)
	}
	type batchErrorJSON struct {
		Index   int    `json:"index"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	errs := make([]batchErrorJSON, 0, len(res.Errors))
	for _, be := range res.Errors {
		errs = append(errs, batchErrorJSON{
			Index:   be.Index,
			Code:    errorCode(be.Err),
			Message: be.Err.Error(),
		})
	}

	status := http.StatusCreated
	if len(errs) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{
		"saved_ids": savedIDs,
		"errors":    errs,
	})
}
