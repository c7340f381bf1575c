package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/daviddao/poflow/internal/retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when the addressed PO does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when creating a PO whose number is taken.
	ErrExists = errors.New("already exists")
)

// MapSQLError translates sqlite result codes into the errors callers act
// on. Busy and locked databases become retry.ErrTransient so the store's
// backoff picks them up.
func MapSQLError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	code := sqliteErr.Code()
	switch code & 0xff {
	// Another connection holds the write lock; try again.
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", retry.ErrTransient, err)

	case sqlite3.SQLITE_CONSTRAINT:
		if code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed") {

			return fmt.Errorf("%w: %w", ErrExists, err)
		}
		return fmt.Errorf("sqlite constraint error: %w", err)
	}

	return err
}
