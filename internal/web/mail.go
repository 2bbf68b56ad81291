package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/nhle/mailvault/internal/model"
)

const defaultPageSize = 20

// handleListMessages fetches one page of headers for the account,
// failing over across backends. Query parameters: folder (inbox, junk,
// deleted), offset, page_size.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.GetAccountByEmail(r.Context(), r.PathValue("email"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	folder := model.Folder(r.URL.Query().Get("folder"))
	if folder == "" {
		folder = model.FolderInbox
	}
	if !folder.Valid() {
		writeError(w, http.StatusBadRequest, "unknown folder")
		return
	}

	offset := intQuery(r, "offset", 0)
	pageSize := intQuery(r, "page_size", defaultPageSize)

	page, err := s.engine.ListMessages(r.Context(), *account, folder, offset, pageSize)
	if err != nil {
		s.logger.Warn("listing messages failed",
			zap.String("email", account.Email),
			zap.String("folder", string(folder)),
			zap.Error(err),
		)
		writeError(w, aggregatedStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleMessageDetail(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.GetAccountByEmail(r.Context(), r.PathValue("email"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	folder := model.Folder(r.URL.Query().Get("folder"))
	if folder == "" {
		folder = model.FolderInbox
	}
	if !folder.Valid() {
		writeError(w, http.StatusBadRequest, "unknown folder")
		return
	}

	detail, err := s.engine.GetMessageDetail(r.Context(), *account, folder, r.PathValue("id"))
	if err != nil {
		s.logger.Warn("fetching message detail failed",
			zap.String("email", account.Email),
			zap.Error(err),
		)
		writeError(w, aggregatedStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleDeleteMessages bulk-deletes messages by their Graph ids.
func (s *Server) handleDeleteMessages(w http.ResponseWriter, r *http.Request) {
	account, err := s.store.GetAccountByEmail(r.Context(), r.PathValue("email"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "no message ids provided")
		return
	}

	outcome, err := s.engine.DeleteMessages(r.Context(), *account, req.IDs)
	if err != nil {
		s.logger.Warn("deleting messages failed",
			zap.String("email", account.Email),
			zap.Int("count", len(req.IDs)),
			zap.Error(err),
		)
		writeError(w, aggregatedStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
