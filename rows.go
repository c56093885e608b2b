// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlrec

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/canonical/sqlrec/internal/decode"
	"github.com/canonical/sqlrec/internal/meta"
	"github.com/canonical/sqlrec/internal/stmt"
)

var errRowsClosed = errors.New("sqlrec: rows are closed")

// Rows is the result of a query. Its connection is held until Close is
// called or Next reports the end of the rows.
type Rows struct {
	rows *sql.Rows
	stmt Statement

	// decs caches a decoder per part of the statement.
	decs []partDecoder

	// fail wraps errors returned by the driver while reading rows.
	fail func(error) error
	// done is called once, with the first error encountered, when the
	// rows are closed.
	done func(error)

	err    error
	closed bool
}

// Next prepares the next row for Decode or Scan. It returns false at the end
// of the rows or after an error, which is then returned by Err.
func (r *Rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if r.rows.Next() {
		return true
	}
	if err := r.rows.Err(); err != nil {
		r.err = r.fail(err)
	}
	r.Close()
	return false
}

// Decode assigns the current row to dest, which must be a pointer to a
// record struct. If the row cannot be decoded dest is left unchanged and
// the rows are closed.
//
// The rows of a select with joins decode into one destination per part of
// the statement, in order. Parts without a destination are skipped. A
// destination may be a pointer to a record pointer, which is set to nil
// when every column of its part is NULL, as for a left join that matched
// no row.
func (r *Rows) Decode(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.closed {
		return errRowsClosed
	}
	parts := r.parts()
	if len(dest) == 0 || len(dest) > len(parts) {
		return fmt.Errorf("sqlrec: rows decode into at most %d records, got %d destinations", len(parts), len(dest))
	}
	outs := make([]reflect.Value, len(dest))
	optional := make([]bool, len(dest))
	decs := make([]*decode.Decoder, len(dest))
	for i, d := range dest {
		rv := reflect.ValueOf(d)
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return fmt.Errorf("sqlrec: need non-nil pointer to struct, got %T", d)
		}
		typ := rv.Elem().Type()
		if typ.Kind() == reflect.Pointer {
			optional[i], typ = true, typ.Elem()
		}
		if typ.Kind() != reflect.Struct {
			return fmt.Errorf("sqlrec: need non-nil pointer to struct, got %T", d)
		}
		dec, err := r.decoder(i, parts[i], typ)
		if err != nil {
			return r.abort(err)
		}
		outs[i], decs[i] = rv.Elem(), dec
	}

	var targets []any
	spans := make([][2]int, len(decs))
	for i, p := range parts {
		start := len(targets)
		if i < len(decs) {
			targets = append(targets, decs[i].Targets()...)
			spans[i] = [2]int{start, len(targets)}
			continue
		}
		for j := p.Start; j < p.End; j++ {
			targets = append(targets, new(any))
		}
	}
	if err := r.rows.Scan(targets...); err != nil {
		return r.abort(r.fail(err))
	}

	// Every destination is decoded before any is assigned.
	decoded := make([]reflect.Value, len(decs))
	for i, dec := range decs {
		cols := targets[spans[i][0]:spans[i][1]]
		if optional[i] && allNull(cols) {
			continue
		}
		typ := outs[i].Type()
		if optional[i] {
			typ = typ.Elem()
		}
		rec := reflect.New(typ)
		if !optional[i] {
			rec.Elem().Set(outs[i])
		} else if !outs[i].IsNil() {
			rec.Elem().Set(outs[i].Elem())
		}
		if err := dec.Row(cols, rec.Elem()); err != nil {
			return r.abort(err)
		}
		decoded[i] = rec
	}
	for i, out := range outs {
		switch {
		case !optional[i]:
			out.Set(decoded[i].Elem())
		case decoded[i].IsValid():
			out.Set(decoded[i])
		default:
			out.SetZero()
		}
	}
	return nil
}

// Scan copies the columns of the current row into dest, as sql.Rows.Scan
// does.
func (r *Rows) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.closed {
		return errRowsClosed
	}
	if err := r.rows.Scan(dest...); err != nil {
		return r.abort(r.fail(err))
	}
	return nil
}

// Err returns the error, if any, encountered while reading the rows.
func (r *Rows) Err() error {
	return r.err
}

// Close releases the connection of the rows and returns the first error
// encountered. It may be called more than once.
func (r *Rows) Close() error {
	if r.closed {
		return r.err
	}
	r.closed = true
	if err := r.rows.Close(); err != nil && r.err == nil {
		r.err = r.fail(err)
	}
	r.done(r.err)
	return r.err
}

func (r *Rows) abort(err error) error {
	if r.err == nil {
		r.err = err
	}
	r.Close()
	return r.err
}

type partDecoder struct {
	typ reflect.Type
	dec *decode.Decoder
}

// parts returns the column runs of the statement. A statement without joins
// has a single run decoding into any record type.
func (r *Rows) parts() []stmt.Part {
	if len(r.stmt.Parts) > 0 {
		return r.stmt.Parts
	}
	return []stmt.Part{{Start: 0, End: len(r.stmt.Columns)}}
}

func (r *Rows) decoder(i int, p stmt.Part, typ reflect.Type) (*decode.Decoder, error) {
	if r.decs == nil {
		r.decs = make([]partDecoder, len(r.parts()))
	}
	if d := r.decs[i]; d.dec != nil && d.typ == typ {
		return d.dec, nil
	}
	m := p.Record
	if m == nil {
		var err error
		if m, err = meta.For(typ); err != nil {
			return nil, err
		}
	} else if m.Type != typ {
		return nil, &decode.DecodeError{
			Table: m.Table,
			Err:   fmt.Errorf("columns of %s decode into %s, not %s", p.Alias, m.Type, typ),
		}
	}
	var positions []int
	if r.stmt.Columns != nil {
		positions = r.stmt.Columns[p.Start:p.End]
	}
	dec, err := decode.New(m, positions)
	if err != nil {
		return nil, err
	}
	r.decs[i] = partDecoder{typ: typ, dec: dec}
	return dec, nil
}

func allNull(targets []any) bool {
	for _, t := range targets {
		if p, ok := t.(*any); !ok || *p != nil {
			return false
		}
	}
	return true
}
