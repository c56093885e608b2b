// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlrec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/canonical/sqlrec/internal/decode"
	"github.com/canonical/sqlrec/internal/pool"
	"github.com/canonical/sqlrec/internal/stmt"
)

var ErrNoRows = sql.ErrNoRows
var ErrTxDone = sql.ErrTxDone

var (
	// ErrNestedTransaction is matched by NestedTransactionError.
	ErrNestedTransaction = errors.New("sqlrec: nested transaction")

	// ErrExecution is matched by ExecutionError.
	ErrExecution = errors.New("sqlrec: statement failed")

	// ErrStatementTimeout is matched by StatementTimeoutError.
	ErrStatementTimeout = errors.New("sqlrec: statement timed out")
)

// Build errors. They are returned before a statement reaches the database.
var (
	ErrUnknownField          = stmt.ErrUnknownField
	ErrEmptyUpdate           = stmt.ErrEmptyUpdate
	ErrUnconditionalMutation = stmt.ErrUnconditionalMutation
	ErrInvalidPagination     = stmt.ErrInvalidPagination
	ErrCompressedFilter      = stmt.ErrCompressedFilter
	ErrNoPrimaryKey          = stmt.ErrNoPrimaryKey
	ErrEmptyBatch            = stmt.ErrEmptyBatch
	ErrInvalidJoin           = stmt.ErrInvalidJoin
)

// Runtime errors.
var (
	ErrPoolTimeout    = pool.ErrTimeout
	ErrDecode         = decode.ErrDecode
	ErrUnexpectedNull = decode.ErrUnexpectedNull
)

type (
	UnknownFieldError          = stmt.UnknownFieldError
	EmptyUpdateError           = stmt.EmptyUpdateError
	UnconditionalMutationError = stmt.UnconditionalMutationError
	InvalidPaginationError     = stmt.InvalidPaginationError
	CompressedFilterError      = stmt.CompressedFilterError
	InvalidJoinError           = stmt.InvalidJoinError
	PoolTimeoutError           = pool.TimeoutError
	DecodeError                = decode.DecodeError
)

// NestedTransactionError is returned when a transaction is begun with a
// context that already carries an open transaction.
type NestedTransactionError struct {
	// Open is the id of the transaction already open.
	Open string
}

func (e *NestedTransactionError) Error() string {
	return fmt.Sprintf("sqlrec: cannot begin a transaction inside open transaction %s", e.Open)
}

func (e *NestedTransactionError) Is(err error) bool { return err == ErrNestedTransaction }

// ExecutionError is returned when the database fails a statement. It holds
// the statement text but never its parameters.
type ExecutionError struct {
	Op    string
	Table string
	SQL   string
	Err   error
}

func (e *ExecutionError) Error() string {
	msg := "sqlrec: " + e.Op
	if e.Table != "" {
		msg += " on " + e.Table
	}
	msg += fmt.Sprintf(" failed: %v", e.Err)
	if e.SQL != "" {
		msg += " [" + e.SQL + "]"
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(err error) bool { return err == ErrExecution }

// StatementTimeoutError is the cause of an ExecutionError when a statement
// ran longer than the statement timeout.
type StatementTimeoutError struct {
	Timeout time.Duration
}

func (e *StatementTimeoutError) Error() string {
	return fmt.Sprintf("statement timed out after %s", e.Timeout)
}

func (e *StatementTimeoutError) Is(err error) bool { return err == ErrStatementTimeout }

func (e *StatementTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// IsBuildError reports whether err was raised while building a statement.
func IsBuildError(err error) bool {
	for _, target := range []error{
		ErrUnknownField, ErrEmptyUpdate, ErrUnconditionalMutation,
		ErrInvalidPagination, ErrCompressedFilter, ErrNoPrimaryKey, ErrEmptyBatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err means that no row matched.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoRows)
}

// retryable reports whether err is a transport error raised before the
// server could have acted on the statement.
func retryable(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, syscall.ECONNRESET)
}

// Driver error codes for constraint violations.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	mysqlDuplicateEntry   = 1062
	mysqlForeignKeyParent = 1451
	mysqlForeignKeyChild  = 1452
)

// IsUniqueConstraintError reports whether err resulted from a uniqueness
// constraint violation.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return containsAny(err.Error(),
		"Error 1062",
		"violates unique constraint",
		"UNIQUE constraint failed",
	)
}

// IsForeignKeyConstraintError reports whether err resulted from a foreign
// key constraint violation.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgForeignKeyViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlForeignKeyParent || myErr.Number == mysqlForeignKeyChild
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return containsAny(err.Error(),
		"Error 1451",
		"Error 1452",
		"violates foreign key constraint",
		"FOREIGN KEY constraint failed",
	)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
