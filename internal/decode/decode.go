// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package decode converts raw result rows into records.
package decode

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/canonical/sqlrec/internal/compress"
	"github.com/canonical/sqlrec/internal/meta"
	"github.com/canonical/sqlrec/internal/value"
)

var (
	// ErrDecode is matched by every DecodeError.
	ErrDecode = errors.New("sqlrec: decode failed")

	// ErrUnexpectedNull is wrapped by DecodeError when a NULL is read
	// into a field that cannot hold it.
	ErrUnexpectedNull = errors.New("NULL in non-nullable field")
)

// DecodeError is returned when a column cannot be converted into its
// field.
type DecodeError struct {
	Table  string
	Column string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("sqlrec: decoding %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("sqlrec: decoding %s.%s: %v", e.Table, e.Column, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports whether err is ErrDecode.
func (e *DecodeError) Is(err error) bool { return err == ErrDecode }

// Decoder assigns the columns of a result row, by position, to the fields
// of a record.
type Decoder struct {
	m      *meta.Record
	fields []*meta.Field
}

// New returns a decoder for rows whose columns hold the fields at the given
// positions of m. Nil positions mean every field in record order.
func New(m *meta.Record, positions []int) (*Decoder, error) {
	d := &Decoder{m: m}
	if positions == nil {
		d.fields = m.Fields
		return d, nil
	}
	d.fields = make([]*meta.Field, len(positions))
	for i, pos := range positions {
		if pos < 0 || pos >= len(m.Fields) {
			return nil, &DecodeError{Table: m.Table, Err: fmt.Errorf("column %d maps to no field", i)}
		}
		d.fields[i] = m.Fields[pos]
	}
	return d, nil
}

// Columns returns the number of columns the decoder expects.
func (d *Decoder) Columns() int {
	return len(d.fields)
}

// Targets returns scan destinations for one row.
func (d *Decoder) Targets() []any {
	targets := make([]any, len(d.fields))
	for i := range targets {
		targets[i] = new(any)
	}
	return targets
}

// Row converts a row scanned into Targets and assigns it to dest, which
// must be a settable struct value of the record type. dest is only
// modified if every column converts.
func (d *Decoder) Row(targets []any, dest reflect.Value) error {
	if len(targets) != len(d.fields) {
		return &DecodeError{
			Table: d.m.Table,
			Err:   fmt.Errorf("expected %d columns, got %d", len(d.fields), len(targets)),
		}
	}
	if dest.Type() != d.m.Type {
		return &DecodeError{Table: d.m.Table, Err: fmt.Errorf("cannot decode into %s", dest.Type())}
	}
	out := reflect.New(d.m.Type).Elem()
	out.Set(dest)
	for i, f := range d.fields {
		raw := targets[i]
		if p, ok := raw.(*any); ok {
			raw = *p
		}
		if err := d.column(f, raw, out); err != nil {
			return err
		}
	}
	dest.Set(out)
	return nil
}

func (d *Decoder) column(f *meta.Field, raw any, out reflect.Value) error {
	fail := func(err error) error {
		return &DecodeError{Table: d.m.Table, Column: f.Column, Err: err}
	}
	if f.Compress {
		var err error
		if raw, err = decompress(raw); err != nil {
			return fail(err)
		}
	}
	v, err := value.FromDriver(raw, f.Kind)
	if err != nil {
		return fail(err)
	}
	dst := out.FieldByIndex(f.Index)
	if v.IsNull() {
		if !f.Nullable {
			return fail(ErrUnexpectedNull)
		}
		// Fields made nullable by their tag store NULL as the zero value.
		if _, nillable, _ := value.KindOf(dst.Type()); !nillable {
			dst.SetZero()
			return nil
		}
	}
	if err := value.Assign(dst, v); err != nil {
		return fail(err)
	}
	return nil
}

func decompress(raw any) (any, error) {
	var b []byte
	switch x := raw.(type) {
	case []byte:
		b = x
	case string:
		b = []byte(x)
	default:
		return raw, nil
	}
	if !compress.IsEncoded(b) {
		return raw, nil
	}
	return compress.Decode(b)
}
