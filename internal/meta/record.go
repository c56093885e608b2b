// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package meta

import (
	"fmt"
	"reflect"

	"github.com/canonical/sqlrec/internal/value"
)

// Field describes a single struct field mapped to a column.
type Field struct {
	// Name is the name of the struct field.
	Name string

	// Column is the SQL column the field is stored in.
	Column string

	// Pos is the position of the field in Record.Fields.
	Pos int

	// Index is the struct field index sequence, as used by
	// reflect.Value.FieldByIndex.
	Index []int

	Type     reflect.Type
	Kind     value.Kind
	Nullable bool

	// PK is true for primary key fields.
	PK bool

	// Auto marks server assigned columns. They are left out of inserts
	// when zero.
	Auto bool

	// ReadOnly fields are never part of a default update.
	ReadOnly bool

	// Compress is true when the column holds a compressed payload.
	Compress bool

	// OmitEmpty fields are left out of inserts when zero.
	OmitEmpty bool
}

// Updatable reports whether the field is assigned by record updates
// that do not name their fields explicitly.
func (f *Field) Updatable() bool {
	return !f.PK && !f.ReadOnly && !f.Auto
}

// Record describes how a struct type maps to a table. A Record is immutable
// once built and is safe to share.
type Record struct {
	Type   reflect.Type
	Table  string
	Fields []*Field

	key      []*Field
	byColumn map[string]*Field
	byName   map[string]*Field
}

func newRecord(typ reflect.Type, table string, fields []*Field) (*Record, error) {
	if !ValidIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q for %s", table, typ)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("type %s has no mapped fields", typ)
	}
	r := &Record{
		Type:     typ,
		Table:    table,
		Fields:   fields,
		byColumn: make(map[string]*Field, len(fields)),
		byName:   make(map[string]*Field, len(fields)),
	}
	for i, f := range fields {
		if _, dup := r.byColumn[f.Column]; dup {
			return nil, fmt.Errorf("column %q appears more than once in %s", f.Column, typ)
		}
		if f.Compress && f.Kind != value.KindText && f.Kind != value.KindBlob {
			return nil, fmt.Errorf("field %s.%s: only text and blob columns can be compressed", typ.Name(), f.Name)
		}
		f.Pos = i
		r.byColumn[f.Column] = f
		r.byName[f.Name] = f
		if f.PK {
			r.key = append(r.key, f)
		}
	}
	return r, nil
}

// Key returns the primary key fields in declaration order.
func (r *Record) Key() []*Field {
	return r.key
}

// Lookup resolves a field by column name, then by struct field name.
func (r *Record) Lookup(ref string) (*Field, bool) {
	if f, ok := r.byColumn[ref]; ok {
		return f, true
	}
	f, ok := r.byName[ref]
	return f, ok
}

// Columns returns the column names of all fields, in order.
func (r *Record) Columns() []string {
	cols := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		cols[i] = f.Column
	}
	return cols
}

// Struct returns the struct value held by rec, which must be a value of, or
// a non-nil pointer to, the record type.
func (r *Record) Struct(rec any) (reflect.Value, error) {
	v := reflect.ValueOf(rec)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil %s", v.Type())
		}
		v = v.Elem()
	}
	if v.Type() != r.Type {
		return reflect.Value{}, fmt.Errorf("expected %s, got %T", r.Type, rec)
	}
	return v, nil
}

// Value returns the Value held by field f of struct value rec.
func (r *Record) Value(rec reflect.Value, f *Field) (value.Value, error) {
	v, err := value.Of(rec.FieldByIndex(f.Index).Interface())
	if err != nil {
		return value.Value{}, fmt.Errorf("field %s.%s: %w", r.Type.Name(), f.Name, err)
	}
	return v, nil
}

// IsZero reports whether field f of rec holds its zero value.
func (r *Record) IsZero(rec reflect.Value, f *Field) bool {
	return rec.FieldByIndex(f.Index).IsZero()
}
