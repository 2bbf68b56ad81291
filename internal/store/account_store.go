package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailvault/internal/model"
)

// encryptSecrets returns a copy of a with password and refresh token
// encrypted. Encryption is idempotent, so re-encrypting already-tagged
// values on every write is safe and transparently upgrades legacy
// plaintext rows.
func (s *SQLiteStore) encryptSecrets(a model.Account) (model.Account, error) {
	var err error
	if a.Password != "" {
		if a.Password, err = s.cipher.Encrypt(a.Password); err != nil {
			return model.Account{}, fmt.Errorf("encrypting password: %w", err)
		}
	}
	if a.RefreshToken, err = s.cipher.Encrypt(a.RefreshToken); err != nil {
		return model.Account{}, fmt.Errorf("encrypting refresh token: %w", err)
	}
	return a, nil
}

// decryptSecrets returns a copy of a with password and refresh token
// decrypted. A failed decryption is fatal to this read.
func (s *SQLiteStore) decryptSecrets(a model.Account) (model.Account, error) {
	var err error
	if a.Password, err = s.cipher.Decrypt(a.Password); err != nil {
		return model.Account{}, fmt.Errorf("decrypting password for %s: %w", a.Email, err)
	}
	if a.RefreshToken, err = s.cipher.Decrypt(a.RefreshToken); err != nil {
		return model.Account{}, fmt.Errorf("decrypting refresh token for %s: %w", a.Email, err)
	}
	return a, nil
}

// CreateAccount inserts a new account, encrypting its secrets. A missing
// id or group is filled in (default group).
func (s *SQLiteStore) CreateAccount(ctx context.Context, a model.Account) (model.Account, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = model.StatusActive
	}
	if a.GroupID == "" {
		defaultID, err := s.DefaultGroupID(ctx)
		if err != nil {
			return model.Account{}, err
		}
		a.GroupID = defaultID
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	enc, err := s.encryptSecrets(a)
	if err != nil {
		return model.Account{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			id, email, password, client_id, refresh_token,
			group_id, remark, status, last_validated, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		enc.ID, enc.Email, enc.Password, enc.ClientID, enc.RefreshToken,
		enc.GroupID, enc.Remark, enc.Status, nil, enc.CreatedAt, enc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Account{}, fmt.Errorf("creating account %s: %w", a.Email, ErrDuplicate)
		}
		return model.Account{}, fmt.Errorf("creating account %s: %w", a.Email, err)
	}
	return a, nil
}

// UpdateAccount rewrites an account's mutable fields, re-encrypting
// secrets. The single-writer connection serializes concurrent updates so
// encrypted columns cannot interleave.
func (s *SQLiteStore) UpdateAccount(ctx context.Context, a model.Account) error {
	enc, err := s.encryptSecrets(a)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET
			email = ?, password = ?, client_id = ?, refresh_token = ?,
			group_id = ?, remark = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		enc.Email, enc.Password, enc.ClientID, enc.RefreshToken,
		enc.GroupID, enc.Remark, enc.Status, time.Now().UTC(), enc.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("updating account %s: %w", a.ID, ErrDuplicate)
		}
		return fmt.Errorf("updating account %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccount removes an account; its validation logs cascade.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAccount retrieves one account with decrypted secrets.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := s.db.GetContext(ctx, &a, "SELECT * FROM accounts WHERE id = ?", id)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}

	dec, err := s.decryptSecrets(a)
	if err != nil {
		return nil, err
	}
	return &dec, nil
}

// GetAccountByEmail retrieves one account by address with decrypted
// secrets.
func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	var a model.Account
	err := s.db.GetContext(ctx, &a, "SELECT * FROM accounts WHERE email = ?", email)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting account %s: %w", email, err)
	}

	dec, err := s.decryptSecrets(a)
	if err != nil {
		return nil, err
	}
	return &dec, nil
}

// ListAccounts retrieves accounts ordered by creation time. Secrets are
// returned as stored (encrypted); callers that need plaintext decrypt per
// record so a single bad row does not fail the whole listing.
func (s *SQLiteStore) ListAccounts(ctx context.Context, filter AccountFilter) ([]model.Account, error) {
	query := "SELECT * FROM accounts"
	var conditions []string
	var args []interface{}

	if filter.GroupID != "" {
		conditions = append(conditions, "group_id = ?")
		args = append(args, filter.GroupID)
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *filter.Status)
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at"

	var accounts []model.Account
	if err := s.db.SelectContext(ctx, &accounts, query, args...); err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	return accounts, nil
}

// ExportAccounts returns accounts (optionally limited to groupIDs) with
// decrypted secrets, for rendering into the delimited export format.
func (s *SQLiteStore) ExportAccounts(ctx context.Context, groupIDs []string) ([]model.Account, error) {
	query := "SELECT * FROM accounts"
	var args []interface{}
	if len(groupIDs) > 0 {
		var err error
		query, args, err = sqlx.In(query+" WHERE group_id IN (?)", groupIDs)
		if err != nil {
			return nil, fmt.Errorf("expanding group filter: %w", err)
		}
	}
	query += " ORDER BY created_at"

	var accounts []model.Account
	if err := s.db.SelectContext(ctx, &accounts, query, args...); err != nil {
		return nil, fmt.Errorf("querying accounts for export: %w", err)
	}

	out := make([]model.Account, 0, len(accounts))
	for _, a := range accounts {
		dec, err := s.decryptSecrets(a)
		if err != nil {
			return nil, err
		}
		out = append(out, dec)
	}
	return out, nil
}

// TouchLastValidated stamps an account's last successful validation time.
func (s *SQLiteStore) TouchLastValidated(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET last_validated = ? WHERE id = ?", at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("stamping last_validated for %s: %w", id, err)
	}
	return nil
}
