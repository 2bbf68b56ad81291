// Package imapmail is the protocol retrieval backend: IMAP over TLS with
// SASL XOAUTH2 authentication.
package imapmail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"

	"github.com/nhle/mailvault/internal/model"
)

// The two provider hosts. The modern host pairs with the "imap" token
// profile, the legacy host with the "legacy" profile.
const (
	ModernAddr = "outlook.live.com:993"
	LegacyAddr = "outlook.office365.com:993"
)

// Client connects to a single IMAP host. Credentials are supplied per
// call; one Client is shared across accounts.
type Client struct {
	addr string
}

// NewClient creates an IMAP backend client for addr (host:port).
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// Addr returns the host this client dials.
func (c *Client) Addr() string {
	return c.addr
}

// connect dials the server over TLS and authenticates with XOAUTH2. The
// caller owns the returned connection and must Logout.
func (c *Client) connect(_ context.Context, account, accessToken string) (*imapclient.Client, error) {
	client, err := imapclient.DialTLS(c.addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", c.addr, err)
	}

	if err := client.Authenticate(sasl.NewXoauth2Client(account, accessToken)); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("XOAUTH2 authentication for %s on %s: %w", account, c.addr, err)
	}

	return client, nil
}

// selectFolder probes the candidate mailbox names for folder and selects
// the first one the server accepts.
func selectFolder(client *imapclient.Client, folder model.Folder) (string, error) {
	name, probeErr := probeFolder(folder, func(name string) error {
		_, err := client.Select(name, nil).Wait()
		return err
	})
	if probeErr != nil {
		probeErr.Available = listMailboxes(client)
		return "", probeErr
	}
	return name, nil
}

// listMailboxes collects the server's mailbox names for diagnostics.
// Failures here are swallowed: this only enriches an existing error.
func listMailboxes(client *imapclient.Client) []string {
	listCmd := client.List("", "*", nil)
	boxes, err := listCmd.Collect()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(boxes))
	for _, box := range boxes {
		names = append(names, box.Mailbox)
	}
	return names
}

// ListMessages returns up to pageSize headers from folder, skipping
// offset messages counted from the newest. IMAP search yields messages
// oldest-first, so paging slices from the tail and reverses; this is
// O(n) per call because the protocol has no server-side cursor.
func (c *Client) ListMessages(ctx context.Context, account, accessToken string, folder model.Folder, offset, pageSize int) ([]model.Message, error) {
	client, err := c.connect(ctx, account, accessToken)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := selectFolder(client, folder); err != nil {
		return nil, err
	}

	searchData, err := client.Search(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", folder, err)
	}

	nums := searchData.AllSeqNums()
	page := pageFromNewest(nums, offset, pageSize)
	if len(page) == 0 {
		return nil, nil
	}

	seqSet := imap.SeqSetNum(page...)
	fetchCmd := client.Fetch(seqSet, &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
	})
	defer fetchCmd.Close()

	byNum := make(map[uint32]model.Message, len(page))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		byNum[buf.SeqNum] = messageFromBuffer(buf)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching headers from %s: %w", folder, err)
	}

	// Preserve newest-first order; FETCH responses arrive in server order.
	messages := make([]model.Message, 0, len(page))
	for _, num := range page {
		if m, ok := byNum[num]; ok {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

// GetMessage fetches the full body of one message by its sequence number
// within folder.
func (c *Client) GetMessage(ctx context.Context, account, accessToken string, folder model.Folder, id string) (*model.MessageDetail, error) {
	num, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP message id %q: %w", id, err)
	}

	client, err := c.connect(ctx, account, accessToken)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	// The detail path selects the primary mapped name only; candidate
	// enumeration is listing-specific.
	primary := folderCandidates[folder]
	if len(primary) == 0 {
		return nil, fmt.Errorf("unknown folder %q", folder)
	}
	if _, err := client.Select(primary[0], nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", primary[0], err)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.SeqSetNum(uint32(num)), &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message %s not found in %s", id, folder)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message %s: %w", id, err)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("closing fetch: %w", err)
	}

	detail := &model.MessageDetail{
		Message: messageFromBuffer(buf),
	}
	detail.ID = id

	if buf.Envelope != nil {
		detail.To = joinAddresses(buf.Envelope.To)
		detail.Cc = joinAddresses(buf.Envelope.Cc)
	}

	if raw := buf.FindBodySection(bodySection); raw != nil {
		text, html := parseBody(raw)
		if text != "" {
			detail.Body = text
			detail.BodyType = "text"
		} else {
			detail.Body = html
			detail.BodyType = "html"
		}
	}

	return detail, nil
}

// pageFromNewest slices an ascending (oldest-first) sequence-number list
// into a newest-first page at the given offset.
func pageFromNewest(nums []uint32, offset, pageSize int) []uint32 {
	if offset < 0 {
		offset = 0
	}
	if pageSize <= 0 || offset >= len(nums) {
		return nil
	}

	end := len(nums) - offset
	start := end - pageSize
	if start < 0 {
		start = 0
	}

	page := make([]uint32, 0, end-start)
	for i := end - 1; i >= start; i-- {
		page = append(page, nums[i])
	}
	return page
}

// messageFromBuffer maps a fetched envelope onto the shared model type.
func messageFromBuffer(buf *imapclient.FetchMessageBuffer) model.Message {
	m := model.Message{
		ID: strconv.FormatUint(uint64(buf.SeqNum), 10),
	}

	if buf.Envelope != nil {
		m.Subject = buf.Envelope.Subject
		m.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			m.From = buf.Envelope.From[0].Addr()
		}
	}

	for _, flag := range buf.Flags {
		if flag == imap.FlagSeen {
			m.IsRead = true
		}
	}

	return m
}

// joinAddresses renders an address list as a comma-separated string.
func joinAddresses(addrs []imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.Addr())
	}
	return strings.Join(parts, ", ")
}

// parseBody extracts the text/plain and text/html parts of a raw RFC 822
// message. An unparseable message is treated as plain text.
func parseBody(raw []byte) (text, html string) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := header.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && text == "":
			text = string(body)
		case strings.HasPrefix(contentType, "text/html") && html == "":
			html = string(body)
		}
	}

	return text, html
}
