package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/patientcore/internal/platform/apperr"
)

// PostgreSQL error codes the services react to.
const (
	CodeUniqueViolation     = "23505"
	CodeExclusionViolation  = "23P01"
	CodeForeignKeyViolation = "23503"
	CodeCheckViolation      = "23514"
	CodeSerializationFail   = "40001"
	CodeDeadlockDetected    = "40P01"
)

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation reports whether err comes from a unique index or an
// exclusion constraint.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == CodeUniqueViolation || pgErr.Code == CodeExclusionViolation
	}
	return false
}

// HasCode reports whether err is a PgError with the given SQLSTATE.
func HasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// ConstraintName returns the violated constraint, if err is a PgError.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// Classify turns a raw store error into the apperr taxonomy. Errors that are
// already classified pass through unchanged. Server-side errors other than
// constraint and serialization failures are returned as-is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if IsNoRows(err) {
		return apperr.NotFound("record not found")
	}
	if IsUniqueViolation(err) {
		return &apperr.Error{Kind: apperr.ErrConflict, Message: "conflicting record exists", Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case CodeSerializationFail, CodeDeadlockDetected:
			return apperr.Unavailable(err)
		}
		return err
	}

	// Everything left is a transport-level failure: refused or reset
	// connections, pool exhaustion, cancelled or expired contexts.
	return apperr.Unavailable(err)
}
