package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailvault/internal/model"
)

// InsertValidationLog appends one audit row. Rows are never mutated after
// insert; the message must already be redacted by the caller.
func (s *SQLiteStore) InsertValidationLog(ctx context.Context, entry model.ValidationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validation_logs (id, account_id, email, run_type, outcome, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AccountID, entry.Email,
		entry.RunType, entry.Outcome, entry.Message, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting validation log for %s: %w", entry.Email, err)
	}
	return nil
}

// ListValidationLogs returns an account's audit rows, newest first.
func (s *SQLiteStore) ListValidationLogs(ctx context.Context, accountID string, limit int) ([]model.ValidationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []model.ValidationLogEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT * FROM validation_logs
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying validation logs for %s: %w", accountID, err)
	}
	return entries, nil
}

// DeleteValidationLogsBefore removes audit rows older than cutoff and
// returns how many were deleted.
func (s *SQLiteStore) DeleteValidationLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM validation_logs WHERE created_at < ?", cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweeping validation logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting swept validation logs: %w", err)
	}
	return n, nil
}
