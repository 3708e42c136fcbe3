// Package shared holds small cross-cutting helpers with no home of
// their own.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// modernc.org/sqlite surfaces lock contention as plain error strings,
// so classification is substring matching on the two shapes it emits.

// IsSQLiteBusyError reports whether err is a SQLITE_BUSY failure,
// raised when another connection holds the database lock.
func IsSQLiteBusyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError reports whether err is a "database is locked"
// failure.
func IsSQLiteLockedError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports whether err is either form of SQLite
// lock contention. Writes hitting one of these are retried.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}
