// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package stmt

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the typed build errors below.
var (
	ErrUnknownField          = errors.New("sqlrec: unknown field")
	ErrEmptyUpdate           = errors.New("sqlrec: update has no changed fields")
	ErrUnconditionalMutation = errors.New("sqlrec: unconditional mutation")
	ErrInvalidPagination     = errors.New("sqlrec: invalid pagination")
	ErrCompressedFilter      = errors.New("sqlrec: compressed field in filter")
	ErrNoPrimaryKey          = errors.New("sqlrec: record has no primary key")
	ErrEmptyBatch            = errors.New("sqlrec: empty batch")
	ErrInvalidJoin           = errors.New("sqlrec: invalid join")
)

// UnknownFieldError is returned when a statement references a field the
// record does not declare.
type UnknownFieldError struct {
	Table string
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("sqlrec: unknown field %q in %s", e.Field, e.Table)
}

// Is reports whether err is ErrUnknownField.
func (e *UnknownFieldError) Is(err error) bool { return err == ErrUnknownField }

// EmptyUpdateError is returned when an update assigns no columns.
type EmptyUpdateError struct {
	Table string
}

func (e *EmptyUpdateError) Error() string {
	return fmt.Sprintf("sqlrec: update of %s has no changed fields", e.Table)
}

// Is reports whether err is ErrEmptyUpdate.
func (e *EmptyUpdateError) Is(err error) bool { return err == ErrEmptyUpdate }

// UnconditionalMutationError is returned when an update or delete has no
// predicate and was not explicitly allowed to affect every row.
type UnconditionalMutationError struct {
	Table string
	Op    string
}

func (e *UnconditionalMutationError) Error() string {
	return fmt.Sprintf("sqlrec: %s on %s without a predicate", e.Op, e.Table)
}

// Is reports whether err is ErrUnconditionalMutation.
func (e *UnconditionalMutationError) Is(err error) bool { return err == ErrUnconditionalMutation }

// InvalidPaginationError is returned for negative limits or offsets.
type InvalidPaginationError struct {
	Limit  int
	Offset int
}

func (e *InvalidPaginationError) Error() string {
	return fmt.Sprintf("sqlrec: invalid pagination (limit %d, offset %d)", e.Limit, e.Offset)
}

// Is reports whether err is ErrInvalidPagination.
func (e *InvalidPaginationError) Is(err error) bool { return err == ErrInvalidPagination }

// CompressedFilterError is returned when a predicate or ordering refers to
// a compressed field, whose stored form cannot be compared.
type CompressedFilterError struct {
	Table string
	Field string
}

func (e *CompressedFilterError) Error() string {
	return fmt.Sprintf("sqlrec: field %q of %s is compressed and cannot be filtered", e.Field, e.Table)
}

// Is reports whether err is ErrCompressedFilter.
func (e *CompressedFilterError) Is(err error) bool { return err == ErrCompressedFilter }

// InvalidJoinError is returned for a join without a record or a condition,
// or whose alias is invalid or already in use.
type InvalidJoinError struct {
	Alias  string
	Reason string
}

func (e *InvalidJoinError) Error() string {
	return fmt.Sprintf("sqlrec: invalid join %q: %s", e.Alias, e.Reason)
}

// Is reports whether err is ErrInvalidJoin.
func (e *InvalidJoinError) Is(err error) bool { return err == ErrInvalidJoin }
