package db

import (
	"database/sql"
	"strings"
	"sync"

	apperrors "github.com/nexuzy/fides/internal/errors"
)

// Store provides CRUD operations for accounts and items.
//
// All methods are synchronous and durable on return: a nil error means the
// write reached stable storage. The store serializes writers with its own
// mutex on top of the single-connection discipline, so callers never need
// their own locking.
type Store struct {
	db *sql.DB

	// mu guards writes; reads go straight to the connection.
	mu sync.Mutex
}

// NewStore creates a Store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for testing purposes.
func (s *Store) DB() *sql.DB {
	return s.db
}

// isUniqueViolation detects SQLite unique-constraint failures. The driver
// reports them only through the error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// wrapDB wraps a driver error as a database AppError.
func wrapDB(msg string, err error) error {
	return apperrors.Wrap(apperrors.ErrDatabase, msg, err)
}
