package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailvault/internal/model"
)

// seedDefaultGroup creates the default group if it does not exist yet.
func (s *SQLiteStore) seedDefaultGroup() error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO groups (id, name, description, color, created_at)
		VALUES (?, ?, 'Ungrouped accounts', '#666666', ?)`,
		uuid.New().String(), model.DefaultGroupName, time.Now().UTC(),
	)
	return err
}

// DefaultGroupID returns the id of the default group.
func (s *SQLiteStore) DefaultGroupID(ctx context.Context) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, "SELECT id FROM groups WHERE name = ?", model.DefaultGroupName)
	if err != nil {
		return "", fmt.Errorf("looking up default group: %w", err)
	}
	return id, nil
}

// CreateGroup inserts a new group. A missing id is generated.
func (s *SQLiteStore) CreateGroup(ctx context.Context, g model.Group) (model.Group, error) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, name, description, color, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.Description, g.Color, g.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Group{}, fmt.Errorf("creating group %q: %w", g.Name, ErrDuplicate)
		}
		return model.Group{}, fmt.Errorf("creating group %q: %w", g.Name, err)
	}
	return g, nil
}

// UpdateGroup updates a group's name, description, and color.
func (s *SQLiteStore) UpdateGroup(ctx context.Context, g model.Group) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET name = ?, description = ?, color = ? WHERE id = ?`,
		g.Name, g.Description, g.Color, g.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("updating group %s: %w", g.ID, ErrDuplicate)
		}
		return fmt.Errorf("updating group %s: %w", g.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGroup removes a group, moving its accounts to the default group
// first. The default group itself cannot be deleted.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	defaultID, err := s.DefaultGroupID(ctx)
	if err != nil {
		return err
	}
	if id == defaultID {
		return fmt.Errorf("the default group cannot be deleted")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE accounts SET group_id = ? WHERE group_id = ?", defaultID, id,
	); err != nil {
		return fmt.Errorf("reassigning accounts from group %s: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting group %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// GetGroups retrieves all groups ordered by creation time.
func (s *SQLiteStore) GetGroups(ctx context.Context) ([]model.Group, error) {
	var groups []model.Group
	err := s.db.SelectContext(ctx, &groups, "SELECT * FROM groups ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	return groups, nil
}

// GetGroupByID retrieves a single group.
func (s *SQLiteStore) GetGroupByID(ctx context.Context, id string) (*model.Group, error) {
	var g model.Group
	err := s.db.GetContext(ctx, &g, "SELECT * FROM groups WHERE id = ?", id)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting group %s: %w", id, err)
	}
	return &g, nil
}

// GroupAccountCount returns how many accounts belong to a group.
func (s *SQLiteStore) GroupAccountCount(ctx context.Context, groupID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM accounts WHERE group_id = ?", groupID)
	if err != nil {
		return 0, fmt.Errorf("counting accounts in group %s: %w", groupID, err)
	}
	return count, nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
