package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/nexuzy/fides/internal/errors"
	"github.com/nexuzy/fides/internal/models"
)

// PutAccount inserts or replaces an account by id.
//
// Handle uniqueness is enforced here, before any remote call can happen: a
// handle already held by a differently-id'd account is rejected with a
// CONFLICT error.
func (s *Store) PutAccount(ctx context.Context, acc *models.Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE handle = ?`, acc.Handle).Scan(&existingID)
	switch {
	case err == nil:
		if existingID != acc.ID {
			return apperrors.Newf(apperrors.ErrConflict,
				"handle %q already taken by another account", acc.Handle)
		}
	case errors.Is(err, sql.ErrNoRows):
		// handle free
	default:
		return wrapDB("handle lookup failed", err)
	}

	query := `
	INSERT INTO accounts (id, handle, credential_digest, role, created_at, last_authenticated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		handle = excluded.handle,
		credential_digest = excluded.credential_digest,
		role = excluded.role,
		last_authenticated_at = excluded.last_authenticated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		acc.ID,
		acc.Handle,
		acc.CredentialDigest,
		string(acc.Role),
		models.FormatTime(acc.CreatedAt),
		nullableTime(acc.LastAuthenticatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Newf(apperrors.ErrConflict,
				"handle %q already taken by another account", acc.Handle)
		}
		return wrapDB("failed to upsert account", err)
	}
	return nil
}

// InsertImportedAccount inserts an account pulled from the remote store.
// Unlike PutAccount it never replaces an existing row; a duplicate id or
// handle is reported as a CONFLICT so the import can skip it.
func (s *Store) InsertImportedAccount(ctx context.Context, acc *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO accounts (id, handle, credential_digest, role, created_at, last_authenticated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		acc.ID,
		acc.Handle,
		acc.CredentialDigest,
		string(acc.Role),
		models.FormatTime(acc.CreatedAt),
		nullableTime(acc.LastAuthenticatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Newf(apperrors.ErrConflict,
				"imported account %s collides with an existing row", acc.ID)
		}
		return wrapDB("failed to insert imported account", err)
	}
	return nil
}

// GetAccountByHandle retrieves an account by its handle (case-sensitive).
func (s *Store) GetAccountByHandle(ctx context.Context, handle string) (*models.Account, error) {
	return s.getAccount(ctx,
		`SELECT id, handle, credential_digest, role, created_at, last_authenticated_at
		 FROM accounts WHERE handle = ?`, handle)
}

// GetAccountByID retrieves an account by id.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	return s.getAccount(ctx,
		`SELECT id, handle, credential_digest, role, created_at, last_authenticated_at
		 FROM accounts WHERE id = ?`, id)
}

func (s *Store) getAccount(ctx context.Context, query string, arg string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "account not found")
		}
		return nil, wrapDB("failed to get account", err)
	}
	return acc, nil
}

// ListAccounts returns all accounts.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, handle, credential_digest, role, created_at, last_authenticated_at
		 FROM accounts ORDER BY created_at ASC`)
	if err != nil {
		return nil, wrapDB("failed to list accounts", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, wrapDB("failed to scan account", err)
		}
		accounts = append(accounts, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("account rows iteration failed", err)
	}
	return accounts, nil
}

// DeleteAccount removes an account by id. Missing ids are reported, never
// silently ignored.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return wrapDB("failed to delete account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDB("failed to get rows affected", err)
	}
	if n == 0 {
		return apperrors.New(apperrors.ErrNotFound, "account not found")
	}
	return nil
}

// TouchLastAuthenticated records a successful authentication time.
func (s *Store) TouchLastAuthenticated(ctx context.Context, id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET last_authenticated_at = ? WHERE id = ?`,
		models.FormatTime(t), id)
	if err != nil {
		return wrapDB("failed to update last authenticated", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDB("failed to get rows affected", err)
	}
	if n == 0 {
		return apperrors.New(apperrors.ErrNotFound, "account not found")
	}
	return nil
}

// CountAccounts returns the number of local accounts.
func (s *Store) CountAccounts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, wrapDB("failed to count accounts", err)
	}
	return n, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		acc       models.Account
		role      string
		createdAt string
		lastAuth  sql.NullString
	)
	err := row.Scan(&acc.ID, &acc.Handle, &acc.CredentialDigest, &role, &createdAt, &lastAuth)
	if err != nil {
		return nil, err
	}
	acc.Role = models.Role(role)

	if acc.CreatedAt, err = models.ParseTimeOrZero(createdAt); err != nil {
		return nil, err
	}
	if lastAuth.Valid && lastAuth.String != "" {
		t, err := models.ParseTime(lastAuth.String)
		if err != nil {
			return nil, err
		}
		acc.LastAuthenticatedAt = &t
	}
	return &acc, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return models.FormatTime(*t)
}
