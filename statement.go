// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlrec

import (
	"github.com/canonical/sqlrec/internal/meta"
	"github.com/canonical/sqlrec/internal/stmt"
)

type (
	// Statement is a built SQL statement and its parameters.
	Statement = stmt.Statement

	// Builder builds statements for a dialect.
	Builder = stmt.Builder

	Dialect     = stmt.Dialect
	Predicate   = stmt.Predicate
	SelectQuery = stmt.SelectQuery
	Order       = stmt.Order
	Assignment  = stmt.Assignment

	// Join joins another record to a SelectQuery.
	Join = stmt.Join

	// Part is the run of result columns of a joined select that decodes
	// into one record.
	Part = stmt.Part

	// Option modifies an update or delete.
	Option = stmt.Option

	// Record is the definition of a record type.
	Record = meta.Record

	// FieldDef declares one field of a record for Register.
	FieldDef = meta.FieldDef
)

// StatementKind tells reads from mutations.
type StatementKind = stmt.Kind

const (
	KindSelect = stmt.KindSelect
	KindCount  = stmt.KindCount
	KindInsert = stmt.KindInsert
	KindUpdate = stmt.KindUpdate
	KindDelete = stmt.KindDelete
)

var (
	MySQL    = stmt.MySQL
	SQLite   = stmt.SQLite
	Postgres = stmt.Postgres
)

// NewBuilder returns a statement builder for d, for building statements
// without a database.
func NewBuilder(d Dialect) *Builder { return stmt.New(d) }

func Eq(field string, v any) Predicate { return stmt.Eq(field, v) }
func Ne(field string, v any) Predicate { return stmt.Ne(field, v) }
func Lt(field string, v any) Predicate { return stmt.Lt(field, v) }
func Le(field string, v any) Predicate { return stmt.Le(field, v) }
func Gt(field string, v any) Predicate { return stmt.Gt(field, v) }
func Ge(field string, v any) Predicate { return stmt.Ge(field, v) }

// In matches rows whose field is one of vs. An empty list matches nothing.
func In(field string, vs ...any) Predicate { return stmt.In(field, vs...) }

// NotIn matches rows whose field is none of vs. An empty list matches
// everything.
func NotIn(field string, vs ...any) Predicate { return stmt.NotIn(field, vs...) }

// Between matches lo <= field <= hi.
func Between(field string, lo, hi any) Predicate { return stmt.Between(field, lo, hi) }

// Like matches field against a pattern whose wildcards are not escaped.
func Like(field, pattern string) Predicate { return stmt.Like(field, pattern) }

func Contains(field, s string) Predicate  { return stmt.Contains(field, s) }
func HasPrefix(field, s string) Predicate { return stmt.HasPrefix(field, s) }
func HasSuffix(field, s string) Predicate { return stmt.HasSuffix(field, s) }
func IsNull(field string) Predicate       { return stmt.IsNull(field) }
func NotNull(field string) Predicate      { return stmt.NotNull(field) }
func And(ps ...Predicate) Predicate       { return stmt.And(ps...) }
func Or(ps ...Predicate) Predicate        { return stmt.Or(ps...) }
func Not(p Predicate) Predicate           { return stmt.Not(p) }

// The Opt variants return nil, which And and Or skip, when the value is
// nil, a nil pointer or empty.

func EqOpt(field string, v any) Predicate           { return stmt.EqOpt(field, v) }
func ContainsOpt(field, s string) Predicate         { return stmt.ContainsOpt(field, s) }
func HasPrefixOpt(field, s string) Predicate        { return stmt.HasPrefixOpt(field, s) }
func BetweenOpt(field string, lo, hi any) Predicate { return stmt.BetweenOpt(field, lo, hi) }
func InOpt(field string, vs []any) Predicate        { return stmt.InOpt(field, vs) }

// EqField matches rows where fields a and b, typically of joined records,
// are equal.
func EqField(a, b string) Predicate { return stmt.EqField(a, b) }

func InnerJoin(m *Record, alias string, on Predicate) Join { return stmt.InnerJoin(m, alias, on) }
func LeftJoin(m *Record, alias string, on Predicate) Join  { return stmt.LeftJoin(m, alias, on) }

func Asc(field string) Order             { return stmt.Asc(field) }
func Desc(field string) Order            { return stmt.Desc(field) }
func Set(field string, v any) Assignment { return stmt.Set(field, v) }
func AllowUnconditional() Option         { return stmt.AllowUnconditional() }

// RecordOf returns the definition of the record type T.
func RecordOf[T any]() (*Record, error) {
	return meta.Of[T]()
}

// Register installs the record definition of T, replacing the one derived
// from its struct tags.
func Register[T any](table string, defs []FieldDef) error {
	m, err := meta.Define[T](table, defs)
	if err != nil {
		return err
	}
	meta.Register(m)
	return nil
}

// MustRegister is like Register but panics on error. It is called by
// generated code.
func MustRegister[T any](table string, defs []FieldDef) {
	if err := Register[T](table, defs); err != nil {
		panic(err)
	}
}
