package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailvault/internal/model"
	"github.com/nhle/mailvault/internal/store"
)

// accountSummary is the listing shape. Secrets are never included and
// the client id is elided to its first characters.
type accountSummary struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	ClientID      string     `json:"client_id"`
	GroupID       string     `json:"group_id"`
	Remark        string     `json:"remark"`
	Status        string     `json:"status"`
	LastValidated *time.Time `json:"last_validated,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// accountDetail is the single-account shape with decrypted secrets, for
// editing.
type accountDetail struct {
	accountSummary
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

func summarize(a model.Account) accountSummary {
	clientID := a.ClientID
	if len(clientID) > 8 {
		clientID = clientID[:8] + "..."
	}
	return accountSummary{
		ID:            a.ID,
		Email:         a.Email,
		ClientID:      clientID,
		GroupID:       a.GroupID,
		Remark:        a.Remark,
		Status:        string(a.Status),
		LastValidated: a.LastValidated,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	filter := store.AccountFilter{GroupID: r.URL.Query().Get("group_id")}
	accounts, err := s.store.ListAccounts(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	payload := make([]accountSummary, 0, len(accounts))
	for _, a := range accounts {
		payload = append(payload, summarize(a))
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleImportAccounts bulk-imports delimited account lines. Malformed
// and duplicate lines are skipped; the response reports the added count.
func (s *Server) handleImportAccounts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accounts string `json:"accounts"`
		GroupID  string `json:"group_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Accounts) == "" {
		writeError(w, http.StatusBadRequest, "no account lines provided")
		return
	}

	added, skipped := 0, 0
	for _, line := range strings.Split(req.Accounts, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		account, err := model.ParseAccountLine(line)
		if err != nil {
			skipped++
			continue
		}
		account.GroupID = req.GroupID

		if _, err := s.store.CreateAccount(r.Context(), account); err != nil {
			if !errors.Is(err, store.ErrDuplicate) {
				s.logger.Warn("importing account failed",
					zap.String("email", account.Email), zap.Error(err))
			}
			skipped++
			continue
		}
		added++
	}

	if added == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]int{"added": 0, "skipped": skipped})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"added": added, "skipped": skipped})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.GetAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	detail := accountDetail{
		accountSummary: summarize(*account),
		Password:       account.Password,
		RefreshToken:   account.RefreshToken,
	}
	detail.ClientID = account.ClientID // full value for editing
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		ClientID     string `json:"client_id"`
		RefreshToken string `json:"refresh_token"`
		GroupID      string `json:"group_id"`
		Remark       string `json:"remark"`
		Status       string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.ClientID == "" || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "email, client_id and refresh_token are required")
		return
	}
	status := model.AccountStatus(req.Status)
	if status == "" {
		status = model.StatusActive
	}
	if status != model.StatusActive && status != model.StatusDisabled {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	err := s.store.UpdateAccount(r.Context(), model.Account{
		ID:           r.PathValue("id"),
		Email:        req.Email,
		Password:     req.Password,
		ClientID:     req.ClientID,
		RefreshToken: req.RefreshToken,
		GroupID:      req.GroupID,
		Remark:       req.Remark,
		Status:       status,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAccount(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleExportAccounts streams accounts in the delimited import format.
// An optional group_ids query parameter (comma-separated) restricts the
// export.
func (s *Server) handleExportAccounts(w http.ResponseWriter, r *http.Request) {
	var groupIDs []string
	if raw := r.URL.Query().Get("group_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				groupIDs = append(groupIDs, id)
			}
		}
	}

	accounts, err := s.store.ExportAccounts(r.Context(), groupIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(accounts) == 0 {
		writeError(w, http.StatusNotFound, "no accounts to export")
		return
	}

	lines := make([]string, 0, len(accounts))
	for _, a := range accounts {
		lines = append(lines, model.ExportAccountLine(a))
	}

	filename := "accounts_" + time.Now().Format("20060102_150405") + ".txt"
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write([]byte(strings.Join(lines, "\n")))
}

func (s *Server) handleValidationLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListValidationLogs(r.Context(), r.PathValue("id"), 50)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
