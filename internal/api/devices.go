package api

import (
	"encoding/json"
	"net/http"

	"github.com/nolan/converse/internal/store"
)

// handleRegisterDevice registers a device and returns it with its
// initial vector clock.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		Name     string `json:"name"`
		Kind     string `json:"kind"`
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	dev, clock, err := s.engine.RegisterDevice(r.Context(), req.UserID, req.Name, store.DeviceKind(req.Kind), req.Platform)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"device":       toDeviceJSON(dev),
		"vector_clock": clock,
	})
}

// handleListDevices lists a user's devices, most recently synced first.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "user_id is required")
		return
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	devices, err := s.engine.ListDevices(r.Context(), userID, activeOnly)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	out := make([]deviceJSON, 0, len(devices))
	for i := range devices {
		out = append(out, toDeviceJSON(&devices[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

// handleDeactivateDevice soft-deletes a device.
func (s *Server) handleDeactivateDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if err := s.engine.DeactivateDevice(r.Context(), deviceID); err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
