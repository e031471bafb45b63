package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ledgercore/internal/core/apperror"
)

// PostgreSQL error codes the ledger reacts to.
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// mapError translates driver errors into application errors. Errors that
// already are AppErrors, and unknown errors, pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.AsAppError(err); ok {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgLockNotAvailable:
		return apperror.NewLockTimeout(pgErr.TableName).WithCause(err)
	case pgDeadlockDetected, pgSerializationFailure:
		return apperror.NewContention(err)
	case pgUniqueViolation:
		return apperror.NewDuplicate(pgErr.TableName, pgErr.ConstraintName, pgErr.Detail).WithCause(err)
	case pgCheckViolation:
		return apperror.NewValidation("constraint violated: "+pgErr.ConstraintName).WithCause(err)
	}
	return err
}

// MapError is mapError for repositories in sub-packages.
func MapError(err error) error {
	return mapError(err)
}

// IsNoRows reports whether err means an empty result.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
