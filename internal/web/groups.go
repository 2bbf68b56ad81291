package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nhle/mailvault/internal/model"
)

// groupPayload is the request/response shape for group CRUD.
type groupPayload struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Color        string `json:"color"`
	AccountCount int    `json:"account_count,omitempty"`
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.GetGroups(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	payload := make([]groupPayload, 0, len(groups))
	for _, g := range groups {
		count, err := s.store.GroupAccountCount(r.Context(), g.ID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		payload = append(payload, groupPayload{
			ID:           g.ID,
			Name:         g.Name,
			Description:  g.Description,
			Color:        g.Color,
			AccountCount: count,
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "group name is required")
		return
	}

	group, err := s.store.CreateGroup(r.Context(), model.Group{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, groupPayload{
		ID:          group.ID,
		Name:        group.Name,
		Description: group.Description,
		Color:       group.Color,
	})
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "group name is required")
		return
	}

	err := s.store.UpdateGroup(r.Context(), model.Group{
		ID:          r.PathValue("id"),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteGroup(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
