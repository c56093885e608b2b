// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package value

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindUInt
	KindFloat
	KindDecimal
	KindText
	KindBlob
	KindTimestamp
	KindBool
)

var kindNames = [...]string{
	KindNull:      "null",
	KindInt:       "int",
	KindUInt:      "uint",
	KindFloat:     "float",
	KindDecimal:   "decimal",
	KindText:      "text",
	KindBlob:      "blob",
	KindTimestamp: "timestamp",
	KindBool:      "bool",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a SQL-bindable value. The zero Value is NULL.
//
// Values are used both for statement parameters and for decoded columns. They
// are never rendered into SQL text; Arg returns the form handed to the driver.
type Value struct {
	kind Kind
	i    int64
	u    uint64
	f    float64
	s    string
	b    []byte
	t    time.Time
}

// Null returns the NULL value.
func Null() Value { return Value{} }

// Int returns a signed integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// UInt returns an unsigned integer value.
func UInt(v uint64) Value { return Value{kind: KindUInt, u: v} }

// Float returns a floating point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Decimal returns a fixed-point value. The decimal is held in its canonical
// string encoding.
func Decimal(d decimal.Decimal) Value { return Value{kind: KindDecimal, s: d.String()} }

// ParseDecimal returns a fixed-point value from its string encoding.
func ParseDecimal(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Value{}, errors.New("invalid decimal encoding")
	}
	return Decimal(d), nil
}

// Text returns a string value.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Blob returns a byte string value. The slice is not copied; callers must not
// modify it afterwards.
func Blob(v []byte) Value { return Value{kind: KindBlob, b: v} }

// Timestamp returns a date-time value. The location of t is preserved so that
// values carrying a fixed offset survive a round trip.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

// Bool returns a boolean value.
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int returns the integer held by v. It returns 0 for other kinds.
func (v Value) Int() int64 { return v.i }

// UInt returns the unsigned integer held by v.
func (v Value) UInt() uint64 { return v.u }

// Float returns the float held by v.
func (v Value) Float() float64 { return v.f }

// Decimal returns the decimal held by v.
func (v Value) Decimal() decimal.Decimal {
	d, _ := decimal.NewFromString(v.s)
	return d
}

// Text returns the string held by a text or decimal value.
func (v Value) Text() string { return v.s }

// Blob returns the bytes held by v.
func (v Value) Blob() []byte { return v.b }

// Time returns the timestamp held by v.
func (v Value) Time() time.Time { return v.t }

// Bool returns the boolean held by v.
func (v Value) Bool() bool { return v.i != 0 }

// Arg returns the driver argument for v. Unsigned integers that do not fit
// in an int64 are passed in decimal form.
func (v Value) Arg() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindUInt:
		if v.u > math.MaxInt64 {
			return strconv.FormatUint(v.u, 10)
		}
		return v.u
	case KindFloat:
		return v.f
	case KindDecimal, KindText:
		return v.s
	case KindBlob:
		return v.b
	case KindTimestamp:
		return v.t
	case KindBool:
		return v.i != 0
	}
	return nil
}

// Equal reports whether v and o hold the same variant and value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt, KindBool:
		return v.i == o.i
	case KindUInt:
		return v.u == o.u
	case KindFloat:
		return v.f == o.f
	case KindDecimal:
		return v.Decimal().Equal(o.Decimal())
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	case KindTimestamp:
		return v.t.Equal(o.t)
	}
	return false
}

// String returns a debugging representation of v.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUInt:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindDecimal:
		return v.s
	case KindText:
		return strconv.Quote(v.s)
	case KindBlob:
		return fmt.Sprintf("blob(%d)", len(v.b))
	case KindTimestamp:
		return v.t.Format(time.RFC3339Nano)
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	}
	return v.kind.String()
}
