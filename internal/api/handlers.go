package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/devilrob/felshare-cloud/internal/device"
	"github.com/devilrob/felshare-cloud/internal/hub"
)

// switchRequest is the body for boolean device commands.
type switchRequest struct {
	On bool `json:"on"`
}

// handleState returns the mirrored device state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.hub.State(r.Context())
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleDiagnostics returns the hub's diagnostic view.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	diag, err := s.hub.Diagnostics(r.Context())
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, diag)
}

// handlePower enqueues a power command. Returns 409 while HVAC sync
// holds the lock.
func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	s.writeCommandResult(w, s.hub.SetPower(r.Context(), req.On))
}

// handleFan enqueues a fan command.
func (s *Server) handleFan(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	s.writeCommandResult(w, s.hub.SetFan(r.Context(), req.On))
}

// handleOilName enqueues an oil name change.
func (s *Server) handleOilName(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	s.writeCommandResult(w, s.hub.SetOilName(r.Context(), req.Name))
}

// handleConsumption enqueues a consumption rate change (ml/h).
func (s *Server) handleConsumption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MlPerHour float64 `json:"ml_per_hour"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.MlPerHour < 0 {
		writeBadRequest(w, "ml_per_hour must not be negative")
		return
	}
	s.writeCommandResult(w, s.hub.SetConsumption(r.Context(), req.MlPerHour))
}

// handleCapacity enqueues a tank capacity change (ml).
func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ml int `json:"ml"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Ml < 0 {
		writeBadRequest(w, "ml must not be negative")
		return
	}
	s.writeCommandResult(w, s.hub.SetCapacity(r.Context(), req.Ml))
}

// handleRemaining enqueues a remaining oil change (ml).
func (s *Server) handleRemaining(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ml int `json:"ml"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Ml < 0 {
		writeBadRequest(w, "ml must not be negative")
		return
	}
	s.writeCommandResult(w, s.hub.SetRemaining(r.Context(), req.Ml))
}

// handleSchedule enqueues a full work schedule replacement. Returns 409
// while HVAC sync holds the lock.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req device.Schedule
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	err := s.hub.SetSchedule(r.Context(), req)
	if errors.Is(err, device.ErrInvalidTime) {
		writeBadRequest(w, err.Error())
		return
	}
	s.writeCommandResult(w, err)
}

// handleHvacSync enables or disables the thermostat-follow automation.
func (s *Server) handleHvacSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.hub.SetHvacSync(r.Context(), req.Enabled); err != nil {
		writeInternalError(w, err.Error())
		return
	}
	diag, err := s.hub.Diagnostics(r.Context())
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, diag.HvacSync)
}

// handleRefresh requests a state refresh from the device. The poll
// governor decides what is actually sent, so the response reports what
// went out rather than promising anything.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := s.hub.RefreshStatus(r.Context())
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeCommandResult maps a hub command error onto the HTTP response.
func (s *Server) writeCommandResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
	case errors.Is(err, hub.ErrCommandRejected):
		writeLocked(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
