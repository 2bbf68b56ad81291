package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nhle/mailvault/internal/store"
	"github.com/nhle/mailvault/internal/validate"
)

// settingsPayload is the request/response shape for the validation
// settings.
type settingsPayload struct {
	DelaySeconds     int  `json:"delay_seconds"`
	IntervalDays     int  `json:"interval_days"`
	ScheduledRefresh bool `json:"scheduled_refresh"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	payload := settingsPayload{
		DelaySeconds: 5,
		IntervalDays: validate.DefaultIntervalDays,
	}

	if raw, err := s.store.GetSetting(r.Context(), store.SettingValidationDelaySeconds); err == nil && raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			payload.DelaySeconds = n
		}
	}
	if raw, err := s.store.GetSetting(r.Context(), store.SettingValidationIntervalDays); err == nil && raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			payload.IntervalDays = n
		}
	}
	if raw, err := s.store.GetSetting(r.Context(), store.SettingScheduledRefresh); err == nil {
		payload.ScheduledRefresh = raw == "true"
	}

	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DelaySeconds < 0 || req.DelaySeconds > validate.MaxDelaySeconds {
		writeError(w, http.StatusBadRequest, "delay_seconds must be between 0 and 60")
		return
	}
	if req.IntervalDays < validate.MinIntervalDays || req.IntervalDays > validate.MaxIntervalDays {
		writeError(w, http.StatusBadRequest, "interval_days must be between 1 and 90")
		return
	}

	scheduled := "false"
	if req.ScheduledRefresh {
		scheduled = "true"
	}

	updates := map[string]string{
		store.SettingValidationDelaySeconds: strconv.Itoa(req.DelaySeconds),
		store.SettingValidationIntervalDays: strconv.Itoa(req.IntervalDays),
		store.SettingScheduledRefresh:       scheduled,
	}
	for key, value := range updates {
		if err := s.store.SetSetting(r.Context(), key, value); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, req)
}
