package db

import (
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/teranos/pulsegraph/errors"
)

// ErrDatabaseClosed is returned when a write races shutdown and the
// connection is already closed.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection is closed,
// either as ErrDatabaseClosed or as the raw database/sql message.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	// database/sql returns an unexported error value for this
	return strings.Contains(err.Error(), "database is closed")
}

// IsBusy reports whether err is SQLite's busy or locked condition, which
// outlasted the busy timeout.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
