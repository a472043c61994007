package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/nexuzy/fides/internal/errors"
	"github.com/nexuzy/fides/internal/models"
)

const itemColumns = `id, name, category_a, category_b, variant, owner_id,
	created_at, updated_at, sync_state, attachment_path`

// PutItem inserts a new item. The item is persisted with sync_state pending
// regardless of what the caller set; only the reconciler flips it to synced.
func (s *Store) PutItem(ctx context.Context, item *models.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	item.SyncState = models.SyncPending

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO items (id, name, category_a, category_b, variant, owner_id,
		created_at, updated_at, sync_state, attachment_path)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.Name, item.CategoryA, item.CategoryB, item.VariantTag,
		item.OwnerID,
		models.FormatTime(item.CreatedAt),
		models.FormatTime(item.UpdatedAt),
		int(item.SyncState),
		nullableString(item.AttachmentPath),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Newf(apperrors.ErrConflict, "item %s already exists", item.ID)
		}
		return wrapDB("failed to insert item", err)
	}
	return nil
}

// InsertSyncedItem inserts an item pulled from the remote store, preserving
// its timestamps and marking it synced. Used only by the initial import.
func (s *Store) InsertSyncedItem(ctx context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO items (id, name, category_a, category_b, variant, owner_id,
		created_at, updated_at, sync_state, attachment_path)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.Name, item.CategoryA, item.CategoryB, item.VariantTag,
		item.OwnerID,
		models.FormatTime(item.CreatedAt),
		models.FormatTime(item.UpdatedAt),
		int(models.SyncSynced),
		nullableString(item.AttachmentPath),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Newf(apperrors.ErrConflict, "item %s already exists", item.ID)
		}
		return wrapDB("failed to insert imported item", err)
	}
	return nil
}

// UpdateItem applies caller-editable fields to an item. Any edit resets the
// item to pending and bumps updated_at, so the next sync run re-pushes it.
func (s *Store) UpdateItem(ctx context.Context, id string, fields models.ItemFields) error {
	if err := fields.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	UPDATE items
	SET name = ?, category_a = ?, category_b = ?, variant = ?,
		updated_at = ?, sync_state = ?
	WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		fields.Name, fields.CategoryA, fields.CategoryB, fields.VariantTag,
		models.FormatTime(time.Now().UTC()),
		int(models.SyncPending),
		id,
	)
	if err != nil {
		return wrapDB("failed to update item", err)
	}
	return requireRow(res, "item not found")
}

// SetItemAttachment records the remote blob path of an item's attachment.
// The path must be a remote path; local filesystem paths never land here.
func (s *Store) SetItemAttachment(ctx context.Context, id, remotePath string) error {
	if remotePath == "" {
		return apperrors.New(apperrors.ErrValidation, "empty attachment path")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET attachment_path = ?, updated_at = ?, sync_state = ? WHERE id = ?`,
		remotePath,
		models.FormatTime(time.Now().UTC()),
		int(models.SyncPending),
		id,
	)
	if err != nil {
		return wrapDB("failed to set attachment path", err)
	}
	return requireRow(res, "item not found")
}

// DeleteItem removes an item row immediately. Remote delete propagation is
// the reconciler's problem, not the store's.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return wrapDB("failed to delete item", err)
	}
	return requireRow(res, "item not found")
}

// ListItems returns all items, newest first.
func (s *Store) ListItems(ctx context.Context) ([]models.Item, error) {
	return s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY created_at DESC`)
}

// ListItemsByOwner returns items owned by an account, newest first.
func (s *Store) ListItemsByOwner(ctx context.Context, ownerID string) ([]models.Item, error) {
	return s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID)
}

// ListPendingItems returns items awaiting a remote push, in ascending
// creation order. Push runs process records in this order.
func (s *Store) ListPendingItems(ctx context.Context) ([]models.Item, error) {
	return s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE sync_state = ? ORDER BY created_at ASC`,
		int(models.SyncPending))
}

// GetItem retrieves an item by id.
func (s *Store) GetItem(ctx context.Context, id string) (*models.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "item not found")
		}
		return nil, wrapDB("failed to get item", err)
	}
	return item, nil
}

// MarkItemSynced flips an item to synced, but only if the row still matches
// the pushed snapshot: still pending and unedited since updatedAt. Called
// only after a confirmed remote write. Returns false when nothing flipped,
// which means the item was edited or deleted while the push was in flight
// and must stay pending for the next run.
func (s *Store) MarkItemSynced(ctx context.Context, id string, updatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET sync_state = ? WHERE id = ? AND sync_state = ? AND updated_at = ?`,
		int(models.SyncSynced), id, int(models.SyncPending),
		models.FormatTime(updatedAt))
	if err != nil {
		return false, wrapDB("failed to mark item synced", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDB("failed to read mark result", err)
	}
	return n > 0, nil
}

// CountItems returns the number of local items.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, wrapDB("failed to count items", err)
	}
	return n, nil
}

// CountPendingItems returns the number of items awaiting a push. The UI polls
// this as its only window into background sync health.
func (s *Store) CountPendingItems(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE sync_state = ?`,
		int(models.SyncPending)).Scan(&n)
	if err != nil {
		return 0, wrapDB("failed to count pending items", err)
	}
	return n, nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...interface{}) ([]models.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDB("failed to query items", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, wrapDB("failed to scan item", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("item rows iteration failed", err)
	}
	return items, nil
}

func scanItem(row rowScanner) (*models.Item, error) {
	var (
		item       models.Item
		createdAt  string
		updatedAt  string
		syncState  int
		attachment sql.NullString
	)
	err := row.Scan(&item.ID, &item.Name, &item.CategoryA, &item.CategoryB,
		&item.VariantTag, &item.OwnerID, &createdAt, &updatedAt, &syncState,
		&attachment)
	if err != nil {
		return nil, err
	}

	if item.CreatedAt, err = models.ParseTimeOrZero(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = models.ParseTimeOrZero(updatedAt); err != nil {
		return nil, err
	}
	item.SyncState = models.SyncState(syncState)
	if attachment.Valid && attachment.String != "" {
		p := attachment.String
		item.AttachmentPath = &p
	}
	return &item, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// requireRow converts a zero-rows-affected result into a NOT_FOUND error.
func requireRow(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDB("failed to get rows affected", err)
	}
	if n == 0 {
		return apperrors.New(apperrors.ErrNotFound, msg)
	}
	return nil
}
