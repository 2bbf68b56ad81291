// Package web exposes the HTTP surface: session login, group and account
// management, mail retrieval, and the streamed validation run.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailvault/internal/loginguard"
	"github.com/nhle/mailvault/internal/model"
	"github.com/nhle/mailvault/internal/retrieve"
	"github.com/nhle/mailvault/internal/store"
	"github.com/nhle/mailvault/internal/validate"
)

const sessionCookie = "mailvault_session"

// Engine is the retrieval surface the handlers need.
type Engine interface {
	ListMessages(ctx context.Context, account model.Account, folder model.Folder, offset, pageSize int) (*model.MessagePage, error)
	GetMessageDetail(ctx context.Context, account model.Account, folder model.Folder, id string) (*model.MessageDetail, error)
	DeleteMessages(ctx context.Context, account model.Account, ids []string) (*model.BatchDeleteOutcome, error)
}

// Server wires the core components behind an http.Handler.
type Server struct {
	store         store.Store
	engine        Engine
	runner        *validate.Runner
	guard         *loginguard.Guard
	sessions      *sessionStore
	logger        *zap.Logger
	adminPassword string
}

// New creates the web server. adminPassword gates login; the login guard
// rate-limits attempts per client IP.
func New(st store.Store, engine Engine, runner *validate.Runner, guard *loginguard.Guard, adminPassword string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:         st,
		engine:        engine,
		runner:        runner,
		guard:         guard,
		sessions:      newSessionStore(12 * time.Hour),
		logger:        logger,
		adminPassword: adminPassword,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	mux.Handle("GET /api/groups", s.auth(s.handleListGroups))
	mux.Handle("POST /api/groups", s.auth(s.handleCreateGroup))
	mux.Handle("PUT /api/groups/{id}", s.auth(s.handleUpdateGroup))
	mux.Handle("DELETE /api/groups/{id}", s.auth(s.handleDeleteGroup))

	mux.Handle("GET /api/accounts", s.auth(s.handleListAccounts))
	mux.Handle("POST /api/accounts", s.auth(s.handleImportAccounts))
	mux.Handle("GET /api/accounts/export", s.auth(s.handleExportAccounts))
	mux.Handle("GET /api/accounts/{id}", s.auth(s.handleGetAccount))
	mux.Handle("PUT /api/accounts/{id}", s.auth(s.handleUpdateAccount))
	mux.Handle("DELETE /api/accounts/{id}", s.auth(s.handleDeleteAccount))
	mux.Handle("GET /api/accounts/{id}/logs", s.auth(s.handleValidationLogs))

	mux.Handle("GET /api/emails/{email}", s.auth(s.handleListMessages))
	mux.Handle("GET /api/emails/{email}/{id}", s.auth(s.handleMessageDetail))
	mux.Handle("POST /api/emails/{email}/delete", s.auth(s.handleDeleteMessages))

	mux.Handle("GET /api/validate/stream", s.auth(s.handleValidateStream))

	mux.Handle("GET /api/settings", s.auth(s.handleGetSettings))
	mux.Handle("PUT /api/settings", s.auth(s.handleUpdateSettings))

	return mux
}

// auth requires a valid session cookie.
func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || !s.sessions.Valid(cookie.Value, time.Now()) {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		next(w, r)
	})
}

// handleLogin checks the admin password, guarded per client IP against
// brute force.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sourceKey := clientIP(r)

	allowed, remaining := s.guard.CheckAllowed(sourceKey)
	if !allowed {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":            "too many failed attempts",
			"retry_after_secs": remaining,
		})
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.adminPassword)) != 1 {
		s.guard.RecordFailure(sourceKey)
		s.logger.Info("failed login attempt", zap.String("source", sourceKey))
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	s.guard.RecordSuccess(sourceKey)

	sess, err := s.sessions.Create(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "creating session")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientIP extracts the request's source address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps store sentinel errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, "already exists")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// aggregatedStatus picks a status for a retrieval failure.
func aggregatedStatus(err error) int {
	var agg *retrieve.AggregatedError
	if errors.As(err, &agg) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
