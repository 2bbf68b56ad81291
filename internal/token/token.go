// Package token exchanges stored refresh credentials for short-lived
// access tokens against the provider's token endpoints.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nhle/mailvault/internal/redact"
)

// Profile selects a token endpoint and scope. All profiles use the OAuth2
// refresh-token grant; they differ only in URL and requested scope.
type Profile struct {
	Name     string
	TokenURL string
	Scope    string
}

// The three provider profiles. Graph serves the REST backend and
// credential validation, IMAP serves the modern protocol host, Legacy
// serves the older host with the scope-less live.com grant.
var (
	ProfileGraph = Profile{
		Name:     "graph",
		TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		Scope:    "https://graph.microsoft.com/.default",
	}
	ProfileIMAP = Profile{
		Name:     "imap",
		TokenURL: "https://login.microsoftonline.com/consumers/oauth2/v2.0/token",
		Scope:    "https://outlook.office.com/IMAP.AccessAsUser.All offline_access",
	}
	ProfileLegacy = Profile{
		Name:     "legacy",
		TokenURL: "https://login.live.com/oauth20_token.srf",
		Scope:    "",
	}
)

// ErrorKind distinguishes a provider rejection from a transport failure.
type ErrorKind string

const (
	KindRejected  ErrorKind = "rejected"
	KindTransport ErrorKind = "transport"
)

// Error is a failed token acquisition. Body is already redacted and safe
// to persist or display.
type Error struct {
	Profile string
	Kind    ErrorKind
	Status  int
	Body    string
	cause   error
}

func (e *Error) Error() string {
	if e.Kind == KindTransport {
		return fmt.Sprintf("token (%s): transport error: %s", e.Profile, e.Body)
	}
	return fmt.Sprintf("token (%s): rejected with status %d: %s", e.Profile, e.Status, e.Body)
}

func (e *Error) Unwrap() error { return e.cause }

// acquireTimeout bounds a single token call. There is no retry here;
// retry policy belongs to callers.
const acquireTimeout = 30 * time.Second

// Client performs the refresh-token grant. The zero value is not usable;
// construct with NewClient.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a token client with the fixed per-call timeout.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: acquireTimeout},
	}
}

// tokenResponse is the subset of the provider response we read. The
// access token is used immediately and never persisted.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Acquire exchanges refreshToken for an access token using the given
// profile. A non-200 response or a response without an access_token field
// is a *Error with KindRejected; network failures are KindTransport.
func (c *Client) Acquire(ctx context.Context, profile Profile, clientID, refreshToken string) (string, error) {
	form := url.Values{
		"client_id":     {clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	if profile.Scope != "" {
		form.Set("scope", profile.Scope)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, profile.TokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{
			Profile: profile.Name,
			Kind:    KindTransport,
			Body:    redact.Error(err),
			cause:   err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", &Error{
			Profile: profile.Name,
			Kind:    KindTransport,
			Status:  resp.StatusCode,
			Body:    redact.Error(err),
			cause:   err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &Error{
			Profile: profile.Name,
			Kind:    KindRejected,
			Status:  resp.StatusCode,
			Body:    redact.String(string(body)),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", &Error{
			Profile: profile.Name,
			Kind:    KindRejected,
			Status:  resp.StatusCode,
			Body:    redact.String(string(body)),
		}
	}

	return tr.AccessToken, nil
}
