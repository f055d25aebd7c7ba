package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsUniqueViolation reports whether err is a unique constraint violation. When
// constraintName is provided the violation must reference that constraint.
// Postgres errors are matched by SQLSTATE; sqlite errors by message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) && constraintName == "" {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return false
		}
		return constraintName == "" || pgErr.ConstraintName == constraintName
	}

	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}

// IsNotFound reports whether a gorm lookup found no rows.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsRetryableTx reports whether the database aborted a transaction in a way
// that succeeds when the whole transaction is replayed.
func IsRetryableTx(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
