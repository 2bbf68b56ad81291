package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailvault/internal/loginguard"
	"github.com/nhle/mailvault/internal/model"
	"github.com/nhle/mailvault/internal/retrieve"
	"github.com/nhle/mailvault/internal/secret"
	"github.com/nhle/mailvault/internal/store"
	"github.com/nhle/mailvault/internal/token"
	"github.com/nhle/mailvault/internal/validate"
)

const testAdminPassword = "admin-pass"

type fakeEngine struct {
	page    *model.MessagePage
	detail  *model.MessageDetail
	outcome *model.BatchDeleteOutcome
	err     error
}

func (f *fakeEngine) ListMessages(context.Context, model.Account, model.Folder, int, int) (*model.MessagePage, error) {
	return f.page, f.err
}

func (f *fakeEngine) GetMessageDetail(context.Context, model.Account, model.Folder, string) (*model.MessageDetail, error) {
	return f.detail, f.err
}

func (f *fakeEngine) DeleteMessages(context.Context, model.Account, []string) (*model.BatchDeleteOutcome, error) {
	return f.outcome, f.err
}

type fakeTokens struct{}

func (fakeTokens) Acquire(context.Context, token.Profile, string, string) (string, error) {
	return "access-token", nil
}

func newTestServer(t *testing.T, engine Engine) (*Server, store.Store) {
	t.Helper()

	cipher, err := secret.New("test-master-secret")
	require.NoError(t, err)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), cipher)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	runner := validate.NewRunner(st, cipher, fakeTokens{}, nil)
	srv := New(st, engine, runner, loginguard.New(), testAdminPassword, nil)
	return srv, st
}

// login performs the password exchange and returns the session cookie.
func login(t *testing.T, handler http.Handler) *http.Cookie {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"password":"`+testAdminPassword+`"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func authedRequest(t *testing.T, handler http.Handler, cookie *http.Cookie, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"password":"wrong"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})
	handler := srv.Handler()

	for i := 0; i < loginguard.DefaultThreshold; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/login",
			strings.NewReader(`{"password":"wrong"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// Even the correct password is refused during the lockout.
	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"password":"`+testAdminPassword+`"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "retry_after_secs")
}

func TestImportListAndElision(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})
	handler := srv.Handler()
	cookie := login(t, handler)

	body := `{"accounts":"user1@x.com----pw----client-id-12345678----refresh-1\nnot-a-valid-line\nuser2@x.com--------cid2----refresh-2"}`
	rec := authedRequest(t, handler, cookie, http.MethodPost, "/api/accounts", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"added":2`)
	assert.Contains(t, rec.Body.String(), `"skipped":1`)

	rec = authedRequest(t, handler, cookie, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)

	listing := rec.Body.String()
	// Long client ids are elided, short ones pass through.
	assert.Contains(t, listing, `"client-i..."`)
	assert.Contains(t, listing, `"cid2"`)
	// Secrets never appear in listings, not even encrypted.
	assert.NotContains(t, listing, "refresh-1")
	assert.NotContains(t, listing, "password")
}

func TestExportRoundTrips(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})
	handler := srv.Handler()
	cookie := login(t, handler)

	line := "user1@x.com----pw----client-1----refresh-1"
	rec := authedRequest(t, handler, cookie, http.MethodPost, "/api/accounts",
		fmt.Sprintf(`{"accounts":%q}`, line))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = authedRequest(t, handler, cookie, http.MethodGet, "/api/accounts/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, line, strings.TrimSpace(rec.Body.String()))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
}

func TestListMessagesEndpoint(t *testing.T) {
	engine := &fakeEngine{page: &model.MessagePage{
		Messages: []model.Message{{ID: "m1", Subject: "hello"}},
		Backend:  model.BackendGraph,
	}}
	srv, st := newTestServer(t, engine)
	handler := srv.Handler()
	cookie := login(t, handler)

	_, err := st.CreateAccount(context.Background(), model.Account{
		Email: "user@x.com", ClientID: "c", RefreshToken: "r",
	})
	require.NoError(t, err)

	rec := authedRequest(t, handler, cookie, http.MethodGet, "/api/emails/user@x.com?folder=inbox", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"m1"`)
	assert.Contains(t, rec.Body.String(), `"graph"`)

	rec = authedRequest(t, handler, cookie, http.MethodGet, "/api/emails/user@x.com?folder=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = authedRequest(t, handler, cookie, http.MethodGet, "/api/emails/missing@x.com", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMessagesAggregatedFailure(t *testing.T) {
	engine := &fakeEngine{err: &retrieve.AggregatedError{
		Op: "list messages",
		Attempts: []retrieve.AttemptError{
			{Backend: model.BackendGraph, Err: errors.New("graph down")},
			{Backend: model.BackendIMAPModern, Err: errors.New("modern down")},
			{Backend: model.BackendIMAPLegacy, Err: errors.New("legacy down")},
		},
	}}
	srv, st := newTestServer(t, engine)
	handler := srv.Handler()
	cookie := login(t, handler)

	_, err := st.CreateAccount(context.Background(), model.Account{
		Email: "user@x.com", ClientID: "c", RefreshToken: "r",
	})
	require.NoError(t, err)

	rec := authedRequest(t, handler, cookie, http.MethodGet, "/api/emails/user@x.com", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "graph down")
	assert.Contains(t, rec.Body.String(), "legacy down")
}

func TestValidateStream(t *testing.T) {
	srv, st := newTestServer(t, &fakeEngine{})
	handler := srv.Handler()
	cookie := login(t, handler)

	_, err := st.CreateAccount(context.Background(), model.Account{
		Email: "user@x.com", ClientID: "c", RefreshToken: "r",
	})
	require.NoError(t, err)

	rec := authedRequest(t, handler, cookie, http.MethodGet, "/api/validate/stream?delay=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"kind":"start"`)
	assert.Contains(t, body, `"kind":"progress"`)
	assert.Contains(t, body, `"kind":"complete"`)
	assert.Contains(t, body, "user@x.com")
}

func TestValidateStreamNoAccounts(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})
	handler := srv.Handler()
	cookie := login(t, handler)

	rec := authedRequest(t, handler, cookie, http.MethodGet, "/api/validate/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})
	handler := srv.Handler()
	cookie := login(t, handler)

	rec := authedRequest(t, handler, cookie, http.MethodPut, "/api/settings",
		`{"delay_seconds":10,"interval_days":14,"scheduled_refresh":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = authedRequest(t, handler, cookie, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"delay_seconds":10`)
	assert.Contains(t, rec.Body.String(), `"interval_days":14`)
	assert.Contains(t, rec.Body.String(), `"scheduled_refresh":true`)

	rec = authedRequest(t, handler, cookie, http.MethodPut, "/api/settings",
		`{"delay_seconds":999,"interval_days":14}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGroupLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEngine{})
	handler := srv.Handler()
	cookie := login(t, handler)

	rec := authedRequest(t, handler, cookie, http.MethodPost, "/api/groups", `{"name":"Work"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = authedRequest(t, handler, cookie, http.MethodPost, "/api/groups", `{"name":"Work"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = authedRequest(t, handler, cookie, http.MethodGet, "/api/groups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Work")
	assert.Contains(t, rec.Body.String(), model.DefaultGroupName)
}
