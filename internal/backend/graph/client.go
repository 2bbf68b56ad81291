// Package graph is a thin client for the Microsoft Graph mail API, the
// primary retrieval backend.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mailvault/internal/model"
	"github.com/nhle/mailvault/internal/redact"
)

// DefaultBaseURL is the production Graph API root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// batchLimit is the maximum number of sub-requests Graph accepts in one
// JSON batch call.
const batchLimit = 20

// listSelect limits list responses to the header fields we render.
const listSelect = "id,subject,from,receivedDateTime,isRead,hasAttachments,bodyPreview"

// detailSelect adds the full body for single-message reads.
const detailSelect = "id,subject,from,toRecipients,ccRecipients,receivedDateTime,isRead,hasAttachments,body,bodyPreview"

// folderNames maps logical folders onto Graph's well-known folder ids.
var folderNames = map[model.Folder]string{
	model.FolderInbox:   "inbox",
	model.FolderJunk:    "junkemail",
	model.FolderDeleted: "deleteditems",
}

// Client is a thin HTTP client for the Graph mail endpoints. The access
// token is supplied per call because every failover attempt acquires its
// own token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Graph client. An empty baseURL selects the
// production API root.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListMessages fetches up to pageSize headers from the folder, skipping
// offset messages counted from the newest.
func (c *Client) ListMessages(ctx context.Context, accessToken string, folder model.Folder, offset, pageSize int) ([]model.Message, error) {
	name, ok := folderNames[folder]
	if !ok {
		return nil, fmt.Errorf("unknown folder %q", folder)
	}

	params := url.Values{
		"$top":     {strconv.Itoa(pageSize)},
		"$select":  {listSelect},
		"$orderby": {"receivedDateTime desc"},
	}
	if offset > 0 {
		params.Set("$skip", strconv.Itoa(offset))
	}

	var list listResponse
	path := "/me/mailFolders/" + name + "/messages?" + params.Encode()
	if err := c.get(ctx, accessToken, path, "outlook.body-content-type='text'", &list); err != nil {
		return nil, err
	}

	messages := make([]model.Message, 0, len(list.Value))
	for _, m := range list.Value {
		messages = append(messages, toModel(m))
	}
	return messages, nil
}

// GetMessage fetches a single message with its full body.
func (c *Client) GetMessage(ctx context.Context, accessToken, id string) (*model.MessageDetail, error) {
	params := url.Values{"$select": {detailSelect}}

	var m message
	path := "/me/messages/" + url.PathEscape(id) + "?" + params.Encode()
	if err := c.get(ctx, accessToken, path, "outlook.body-content-type='html'", &m); err != nil {
		return nil, err
	}

	detail := &model.MessageDetail{
		Message: toModel(m),
		To:      joinAddresses(m.ToRecipients),
		Cc:      joinAddresses(m.CcRecipients),
		Backend: model.BackendGraph,
	}
	if m.Body != nil {
		detail.Body = m.Body.Content
		detail.BodyType = m.Body.ContentType
	}
	return detail, nil
}

// DeleteMessages deletes the given message ids via Graph JSON batching,
// at most batchLimit sub-requests per call.
func (c *Client) DeleteMessages(ctx context.Context, accessToken string, ids []string) (*model.BatchDeleteOutcome, error) {
	outcome := &model.BatchDeleteOutcome{Failed: map[string]string{}}

	for start := 0; start < len(ids); start += batchLimit {
		end := start + batchLimit
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		req := batchRequest{Requests: make([]batchItem, 0, len(chunk))}
		for i, id := range chunk {
			req.Requests = append(req.Requests, batchItem{
				ID:     strconv.Itoa(i + 1),
				Method: http.MethodDelete,
				URL:    "/me/messages/" + url.PathEscape(id),
			})
		}

		var resp batchResponse
		if err := c.post(ctx, accessToken, "/$batch", req, &resp); err != nil {
			return nil, err
		}

		for _, r := range resp.Responses {
			idx, err := strconv.Atoi(r.ID)
			if err != nil || idx < 1 || idx > len(chunk) {
				continue
			}
			id := chunk[idx-1]
			if r.Status >= 200 && r.Status < 300 {
				outcome.Deleted = append(outcome.Deleted, id)
			} else {
				outcome.Failed[id] = fmt.Sprintf("status %d", r.Status)
			}
		}
	}

	if len(outcome.Failed) == 0 {
		outcome.Failed = nil
	}
	return outcome, nil
}

// get performs an authenticated GET and unmarshals the JSON response.
func (c *Client) get(ctx context.Context, accessToken, path, prefer string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	return c.do(req, path, result)
}

// post performs an authenticated POST with a JSON body.
func (c *Client) post(ctx context.Context, accessToken, path string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, result)
}

// do executes the request and decodes the response. Non-2xx responses
// become errors carrying the redacted Graph error message.
func (c *Client) do(req *http.Request, path string, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing %s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var graphErr errorResponse
		if json.Unmarshal(respBody, &graphErr) == nil && graphErr.Error.Message != "" {
			return fmt.Errorf(
				"graph API error (%d) on %s %s: %s: %s",
				resp.StatusCode, req.Method, path,
				graphErr.Error.Code, redact.String(graphErr.Error.Message),
			)
		}
		return fmt.Errorf(
			"unexpected status %d on %s %s: %s",
			resp.StatusCode, req.Method, path, redact.String(string(respBody)),
		)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshaling response from %s %s: %w", req.Method, path, err)
	}
	return nil
}

// toModel converts a wire message into the shared model type.
func toModel(m message) model.Message {
	return model.Message{
		ID:             m.ID,
		Subject:        m.Subject,
		From:           m.From.EmailAddress.Address,
		Date:           m.ReceivedDateTime,
		IsRead:         m.IsRead,
		HasAttachments: m.HasAttachments,
		BodyPreview:    m.BodyPreview,
	}
}

// joinAddresses renders a recipient list as a comma-separated string.
func joinAddresses(recipients []recipient) string {
	addrs := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r.EmailAddress.Address != "" {
			addrs = append(addrs, r.EmailAddress.Address)
		}
	}
	return strings.Join(addrs, ", ")
}
