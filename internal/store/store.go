package store

import (
	"context"
	"time"

	"github.com/nhle/mailvault/internal/model"
)

// AccountFilter narrows ListAccounts.
type AccountFilter struct {
	GroupID string
	Status  *model.AccountStatus
}

// Store is the persistence interface for groups, accounts, validation
// logs, and settings. Account secrets are encrypted on write; methods
// returning a single account decrypt them, while ListAccounts leaves them
// as stored so per-account decryption failures can be handled one record
// at a time.
type Store interface {
	// === Groups ===

	CreateGroup(ctx context.Context, g model.Group) (model.Group, error)
	UpdateGroup(ctx context.Context, g model.Group) error
	DeleteGroup(ctx context.Context, id string) error
	GetGroups(ctx context.Context) ([]model.Group, error)
	GetGroupByID(ctx context.Context, id string) (*model.Group, error)
	DefaultGroupID(ctx context.Context) (string, error)
	GroupAccountCount(ctx context.Context, groupID string) (int, error)

	// === Accounts ===

	CreateAccount(ctx context.Context, a model.Account) (model.Account, error)
	UpdateAccount(ctx context.Context, a model.Account) error
	DeleteAccount(ctx context.Context, id string) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]model.Account, error)
	ExportAccounts(ctx context.Context, groupIDs []string) ([]model.Account, error)
	TouchLastValidated(ctx context.Context, id string, at time.Time) error

	// === Validation logs ===

	InsertValidationLog(ctx context.Context, entry model.ValidationLogEntry) error
	ListValidationLogs(ctx context.Context, accountID string, limit int) ([]model.ValidationLogEntry, error)
	DeleteValidationLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// === Settings ===

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}

// Setting keys consumed by the validation scheduler and web layer.
const (
	SettingValidationDelaySeconds = "validation_delay_seconds"
	SettingValidationIntervalDays = "validation_interval_days"
	SettingScheduledRefresh       = "scheduled_refresh_enabled"
	SettingLastScheduledRun       = "last_scheduled_run"
)
