package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/mailvault/internal/model"
	"github.com/nhle/mailvault/internal/store"
	"github.com/nhle/mailvault/internal/validate"
)

// handleValidateStream runs a validation batch and streams its progress
// as server-sent events. Query parameters: group_id restricts the batch,
// ids (comma-separated account ids) retries a subset, delay overrides the
// inter-item throttle.
//
// The run itself does not depend on the consumer: a dropped connection
// stops the event writes but every result row is still persisted.
func (s *Server) handleValidateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	accounts, runType, err := s.resolveBatch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(accounts) == 0 {
		writeError(w, http.StatusNotFound, "no accounts to validate")
		return
	}

	delay := intQuery(r, "delay", s.delaySetting(r.Context()))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeEvent := func(payload interface{}) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		// Write failures mean the consumer went away; the run continues.
		if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}

	// Detach from the request context so a disconnect cannot abort the
	// run mid-batch; persistence must finish either way.
	runCtx := context.WithoutCancel(r.Context())

	sink := validate.SinkFunc(func(e validate.Event) { writeEvent(e) })
	if _, err := s.runner.Run(runCtx, accounts, runType, delay, sink); err != nil {
		if errors.Is(err, validate.ErrRunInProgress) {
			writeEvent(map[string]string{"kind": "error", "message": err.Error()})
			return
		}
		s.logger.Error("validation run failed", zap.Error(err))
		writeEvent(map[string]string{"kind": "error", "message": "validation run failed"})
	}
}

// resolveBatch picks the accounts for this run. Explicit ids mean a
// retry of that subset; otherwise all active accounts (optionally one
// group) are validated.
func (s *Server) resolveBatch(r *http.Request) ([]model.Account, model.RunType, error) {
	if raw := r.URL.Query().Get("ids"); raw != "" {
		var accounts []model.Account
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			account, err := s.store.GetAccount(r.Context(), id)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return nil, "", err
			}
			accounts = append(accounts, *account)
		}
		return accounts, model.RunRetry, nil
	}

	active := model.StatusActive
	accounts, err := s.store.ListAccounts(r.Context(), store.AccountFilter{
		GroupID: r.URL.Query().Get("group_id"),
		Status:  &active,
	})
	if err != nil {
		return nil, "", err
	}
	return accounts, model.RunManual, nil
}

// delaySetting reads the configured inter-item delay, defaulting to 5s.
func (s *Server) delaySetting(ctx context.Context) int {
	raw, err := s.store.GetSetting(ctx, store.SettingValidationDelaySeconds)
	if err != nil || raw == "" {
		return 5
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > validate.MaxDelaySeconds {
		return 5
	}
	return n
}
