package model

import "time"

// Folder is one of the logical mailbox folders the engine knows how to map
// onto every backend's own naming.
type Folder string

const (
	FolderInbox   Folder = "inbox"
	FolderJunk    Folder = "junk"
	FolderDeleted Folder = "deleted"
)

// Valid reports whether f is one of the closed folder set.
func (f Folder) Valid() bool {
	switch f {
	case FolderInbox, FolderJunk, FolderDeleted:
		return true
	}
	return false
}

// Backend identifies which retrieval path served (or failed to serve) a
// request.
type Backend string

const (
	BackendGraph      Backend = "graph"
	BackendIMAPModern Backend = "imap-modern"
	BackendIMAPLegacy Backend = "imap-legacy"
)

// Message is a single mail header row as listed from any backend. ID is
// backend-native: an opaque Graph message id or a decimal IMAP sequence
// number, valid only against the backend that produced it.
type Message struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	From           string    `json:"from"`
	Date           time.Time `json:"date"`
	IsRead         bool      `json:"is_read"`
	HasAttachments bool      `json:"has_attachments"`
	BodyPreview    string    `json:"body_preview"`
}

// MessagePage is one page of headers, newest first.
//
// HasMore is a heuristic: a full-sized page is assumed to have more behind
// it. Neither Graph paging nor IMAP search exposes an exact remaining
// count, so an exactly-page-sized final page over-reports.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Backend  Backend   `json:"backend"`
	HasMore  bool      `json:"has_more"`
}

// MessageDetail is the full content of a single message.
type MessageDetail struct {
	Message
	To       string  `json:"to"`
	Cc       string  `json:"cc"`
	Body     string  `json:"body"`
	BodyType string  `json:"body_type"`
	Backend  Backend `json:"served_by"`
}

// BatchDeleteOutcome reports per-id results of a bulk delete.
type BatchDeleteOutcome struct {
	Deleted []string          `json:"deleted"`
	Failed  map[string]string `json:"failed,omitempty"`
}
