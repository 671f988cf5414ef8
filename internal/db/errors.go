package db

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/parkir-api/internal/common"
)

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeNotNullViolation     = "23502"
	codeInvalidText          = "22P02"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeQueryCanceled        = "57014"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// MapError converts pgx and network failures into application errors. Errors
// already carrying a kind pass through untouched.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if common.IsAppError(err) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NewAppError(common.KindNotFound, "NOT_FOUND", "record not found", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return common.Transient("store timeout", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return common.NewAppError(common.KindConflict, "CONFLICT", "duplicate record", err).
				WithDetails(map[string]string{"constraint": pgErr.ConstraintName})
		case codeForeignKeyViolation:
			return common.NewAppError(common.KindInvalidInput, "INVALID_REFERENCE", "referenced record does not exist", err).
				WithDetails(map[string]string{"constraint": pgErr.ConstraintName})
		case codeCheckViolation, codeNotNullViolation, codeInvalidText:
			return common.NewAppError(common.KindInvalidInput, "INVALID_INPUT", "value rejected by store", err).
				WithDetails(map[string]string{"constraint": pgErr.ConstraintName})
		case codeSerializationFailure, codeDeadlockDetected, codeQueryCanceled, codeAdminShutdown, codeCannotConnectNow:
			return common.Transient("store contention", err)
		}
		return common.Internal("store failure", err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return common.Transient("store unavailable", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return common.Transient("store unavailable", err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return common.Transient("store unavailable", err)
	}
	return common.Internal("store failure", err)
}

// IsUniqueViolation reports whether err is a unique violation on the named constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
