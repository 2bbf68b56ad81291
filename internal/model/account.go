package model

import (
	"fmt"
	"strings"
	"time"
)

// AccountStatus marks whether an account participates in retrieval and
// validation runs.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusDisabled AccountStatus = "disabled"
)

// Account is a stored third-party mailbox credential set. Password and
// RefreshToken hold tagged ciphertext at rest; the store decrypts them on
// single-account reads. ClientID is not a secret and stays plaintext.
type Account struct {
	ID            string        `db:"id"`
	Email         string        `db:"email"`
	Password      string        `db:"password"`
	ClientID      string        `db:"client_id"`
	RefreshToken  string        `db:"refresh_token"`
	GroupID       string        `db:"group_id"`
	Remark        string        `db:"remark"`
	Status        AccountStatus `db:"status"`
	LastValidated *time.Time    `db:"last_validated"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
}

// Group is a named collection of accounts.
type Group struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Color       string    `db:"color"`
	CreatedAt   time.Time `db:"created_at"`
}

// DefaultGroupName is the group that always exists and absorbs accounts
// from deleted groups.
const DefaultGroupName = "Default"

// RunType records what triggered a validation pass.
type RunType string

const (
	RunManual    RunType = "manual"
	RunRetry     RunType = "retry"
	RunScheduled RunType = "scheduled"
)

// Outcome is the result of validating one account's refresh credential.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// ValidationLogEntry is one append-only audit row for a validation attempt.
// Email is denormalized so the audit trail survives account deletion edits.
type ValidationLogEntry struct {
	ID        string    `db:"id"`
	AccountID string    `db:"account_id"`
	Email     string    `db:"email"`
	RunType   RunType   `db:"run_type"`
	Outcome   Outcome   `db:"outcome"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}

// ImportDelimiter separates the fields of a pasted account line.
const ImportDelimiter = "----"

// ParseAccountLine parses one import line of the form
// email----password----client_id----refresh_token. The password field may
// be empty; extra trailing fields are ignored.
func ParseAccountLine(line string) (Account, error) {
	parts := strings.Split(strings.TrimSpace(line), ImportDelimiter)
	if len(parts) < 4 {
		return Account{}, fmt.Errorf("invalid account line: want 4 fields separated by %q, got %d", ImportDelimiter, len(parts))
	}

	email := strings.TrimSpace(parts[0])
	clientID := strings.TrimSpace(parts[2])
	refreshToken := strings.TrimSpace(parts[3])
	if email == "" || clientID == "" || refreshToken == "" {
		return Account{}, fmt.Errorf("invalid account line: email, client_id and refresh_token are required")
	}

	return Account{
		Email:        email,
		Password:     strings.TrimSpace(parts[1]),
		ClientID:     clientID,
		RefreshToken: refreshToken,
		Status:       StatusActive,
	}, nil
}

// ExportAccountLine renders an account back into the import format.
func ExportAccountLine(a Account) string {
	return strings.Join([]string{a.Email, a.Password, a.ClientID, a.RefreshToken}, ImportDelimiter)
}
