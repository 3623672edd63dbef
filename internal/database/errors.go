package database

import (
	"errors"
	"strings"
)

// Sentinel errors distinguishing the relational store's failure classes,
// per the not-found/unique/foreign-key/check/connection-lost/other
// taxonomy the store's callers must be able to discriminate.
var (
	ErrNotFound            = errors.New("database: not found")
	ErrUniqueViolation     = errors.New("database: unique violation")
	ErrForeignKeyViolation = errors.New("database: foreign key violation")
	ErrCheckViolation      = errors.New("database: check violation")
	ErrConnectionLost      = errors.New("database: connection lost")
)

// classifySQLiteError inspects a raw error from mattn/go-sqlite3 (or a
// wrapped variant) and maps it onto one of the sentinel errors above,
// falling back to wrapping the original error unchanged.
func classifySQLiteError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &wrappedError{sentinel: ErrUniqueViolation, cause: err}
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return &wrappedError{sentinel: ErrForeignKeyViolation, cause: err}
	case strings.Contains(msg, "CHECK constraint failed"):
		return &wrappedError{sentinel: ErrCheckViolation, cause: err}
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "unable to open database file"):
		return &wrappedError{sentinel: ErrConnectionLost, cause: err}
	default:
		return err
	}
}

type wrappedError struct {
	sentinel error
	cause    error
}

func (w *wrappedError) Error() string { return w.cause.Error() }
func (w *wrappedError) Unwrap() error { return w.sentinel }

// checkViolation builds a synthetic check-violation error for invariants
// enforced in Go rather than by a SQLite CHECK clause (e.g. the
// last-owner-of-an-organization rule).
func checkViolation(msg string) error {
	return &wrappedError{sentinel: ErrCheckViolation, cause: errors.New(msg)}
}
