// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package value

import (
	"bytes"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var (
	timeType        = reflect.TypeOf(time.Time{})
	decimalType     = reflect.TypeOf(decimal.Decimal{})
	nullDecimalType = reflect.TypeOf(decimal.NullDecimal{})
	scannerType     = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	valuerType      = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
)

// nullTypes maps the database/sql nullable wrappers to the kind they hold.
var nullTypes = map[reflect.Type]Kind{
	reflect.TypeOf(sql.NullString{}):  KindText,
	reflect.TypeOf(sql.NullInt64{}):   KindInt,
	reflect.TypeOf(sql.NullInt32{}):   KindInt,
	reflect.TypeOf(sql.NullInt16{}):   KindInt,
	reflect.TypeOf(sql.NullByte{}):    KindInt,
	reflect.TypeOf(sql.NullFloat64{}): KindFloat,
	reflect.TypeOf(sql.NullBool{}):    KindBool,
	reflect.TypeOf(sql.NullTime{}):    KindTimestamp,
	nullDecimalType:                   KindDecimal,
}

// KindOf returns the kind used to store values of Go type t, and whether t
// can hold NULL. ok is false if t has no representation in the value model.
func KindOf(t reflect.Type) (kind Kind, nullable bool, ok bool) {
	if t.Kind() == reflect.Pointer {
		kind, _, ok = KindOf(t.Elem())
		return kind, true, ok
	}
	if k, found := nullTypes[t]; found {
		return k, true, true
	}
	switch t {
	case timeType:
		return KindTimestamp, false, true
	case decimalType:
		return KindDecimal, false, true
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return KindInt, false, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindUInt, false, true
	case reflect.Float32, reflect.Float64:
		return KindFloat, false, true
	case reflect.String:
		return KindText, false, true
	case reflect.Bool:
		return KindBool, false, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return KindBlob, true, true
		}
	}
	return KindNull, false, false
}

// Of converts a Go value into a Value.
func Of(v any) (Value, error) {
	if v == nil {
		return Null(), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return Null(), nil
		}
		if _, ok := v.(driver.Valuer); !ok || rv.Elem().Type().Implements(valuerType) {
			return Of(rv.Elem().Interface())
		}
	}
	switch x := v.(type) {
	case Value:
		return x, nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return UInt(uint64(x)), nil
	case uint8:
		return UInt(uint64(x)), nil
	case uint16:
		return UInt(uint64(x)), nil
	case uint32:
		return UInt(uint64(x)), nil
	case uint64:
		return UInt(x), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return Text(x), nil
	case []byte:
		if x == nil {
			return Null(), nil
		}
		return Blob(bytes.Clone(x)), nil
	case bool:
		return Bool(x), nil
	case time.Time:
		return Timestamp(x), nil
	case decimal.Decimal:
		return Decimal(x), nil
	case decimal.NullDecimal:
		if !x.Valid {
			return Null(), nil
		}
		return Decimal(x.Decimal), nil
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return Value{}, err
		}
		if _, nested := dv.(driver.Valuer); nested {
			return Value{}, fmt.Errorf("cannot convert %T: Value returned another Valuer", v)
		}
		return Of(dv)
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return UInt(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return Text(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if rv.IsNil() {
				return Null(), nil
			}
			return Blob(bytes.Clone(rv.Bytes())), nil
		}
	}
	return Value{}, fmt.Errorf("unsupported type %T", v)
}

// FromDriver converts a raw column value, as returned by a database driver,
// into a Value of the given kind.
func FromDriver(src any, kind Kind) (Value, error) {
	if src == nil {
		return Null(), nil
	}
	fail := func(err error) (Value, error) {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			err = numErr.Err
		}
		if err == nil {
			return Value{}, fmt.Errorf("cannot convert %T to %s", src, kind)
		}
		return Value{}, fmt.Errorf("cannot convert %T to %s: %w", src, kind, err)
	}
	switch kind {
	case KindInt:
		n, err := toInt64(src)
		if err != nil {
			return fail(err)
		}
		return Int(n), nil
	case KindUInt:
		n, err := toUint64(src)
		if err != nil {
			return fail(err)
		}
		return UInt(n), nil
	case KindFloat:
		f, err := toFloat64(src)
		if err != nil {
			return fail(err)
		}
		return Float(f), nil
	case KindDecimal:
		d, err := toDecimal(src)
		if err != nil {
			return fail(err)
		}
		return Decimal(d), nil
	case KindText:
		switch x := src.(type) {
		case string:
			return Text(x), nil
		case []byte:
			return Text(string(x)), nil
		case int64:
			return Text(strconv.FormatInt(x, 10)), nil
		case float64:
			return Text(strconv.FormatFloat(x, 'g', -1, 64)), nil
		}
	case KindBlob:
		switch x := src.(type) {
		case []byte:
			return Blob(bytes.Clone(x)), nil
		case string:
			return Blob([]byte(x)), nil
		}
	case KindTimestamp:
		t, err := toTime(src)
		if err != nil {
			return fail(err)
		}
		return Timestamp(t), nil
	case KindBool:
		b, err := toBool(src)
		if err != nil {
			return fail(err)
		}
		return Bool(b), nil
	case KindNull:
		return Null(), nil
	}
	return fail(nil)
}

var errUnsupported = errors.New("unsupported source type")

func toInt64(src any) (int64, error) {
	switch x := src.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, strconv.ErrRange
		}
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, strconv.ErrRange
		}
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, strconv.ErrRange
		}
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(x, 10, 64)
	}
	return 0, errUnsupported
}

func toUint64(src any) (uint64, error) {
	switch x := src.(type) {
	case uint64:
		return x, nil
	case uint:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case []byte:
		return strconv.ParseUint(string(x), 10, 64)
	case string:
		return strconv.ParseUint(x, 10, 64)
	}
	n, err := toInt64(src)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return uint64(n), nil
}

func toFloat64(src any) (float64, error) {
	switch x := src.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	case string:
		return strconv.ParseFloat(x, 64)
	}
	n, err := toInt64(src)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

func toDecimal(src any) (decimal.Decimal, error) {
	switch x := src.(type) {
	case string:
		return decimal.NewFromString(x)
	case []byte:
		return decimal.NewFromString(string(x))
	case float64:
		return decimal.NewFromFloat(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	}
	return decimal.Decimal{}, errUnsupported
}

// timeLayouts are the textual timestamp encodings produced by the supported
// drivers when they do not return time.Time directly.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func toTime(src any) (time.Time, error) {
	var s string
	switch x := src.(type) {
	case time.Time:
		return x, nil
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case []byte:
		s = string(x)
	case string:
		s = x
	default:
		return time.Time{}, errUnsupported
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognised timestamp encoding")
}

func toBool(src any) (bool, error) {
	switch x := src.(type) {
	case bool:
		return x, nil
	case []byte:
		return strconv.ParseBool(string(x))
	case string:
		return strconv.ParseBool(x)
	}
	n, err := toInt64(src)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// Assign stores v into dst, converting it to dst's type. dst must be
// settable.
func Assign(dst reflect.Value, v Value) error {
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(v.Arg())
	}
	if v.IsNull() {
		switch dst.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
			dst.SetZero()
			return nil
		}
		return fmt.Errorf("cannot assign NULL to %s", dst.Type())
	}
	switch dst.Kind() {
	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		if err := Assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	case reflect.Interface:
		dst.Set(reflect.ValueOf(v.Arg()))
		return nil
	}
	if dst.Type() == timeType {
		if v.kind != KindTimestamp {
			return assignErr(dst, v)
		}
		dst.Set(reflect.ValueOf(v.t))
		return nil
	}
	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		switch v.kind {
		case KindInt, KindBool:
			n = v.i
		case KindUInt:
			if v.u > math.MaxInt64 {
				return assignErr(dst, v)
			}
			n = int64(v.u)
		default:
			return assignErr(dst, v)
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("value out of range for %s", dst.Type())
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var n uint64
		switch v.kind {
		case KindUInt:
			n = v.u
		case KindInt, KindBool:
			if v.i < 0 {
				return fmt.Errorf("value out of range for %s", dst.Type())
			}
			n = uint64(v.i)
		default:
			return assignErr(dst, v)
		}
		if dst.OverflowUint(n) {
			return fmt.Errorf("value out of range for %s", dst.Type())
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		var f float64
		switch v.kind {
		case KindFloat:
			f = v.f
		case KindInt:
			f = float64(v.i)
		case KindUInt:
			f = float64(v.u)
		case KindDecimal:
			f = v.Decimal().InexactFloat64()
		default:
			return assignErr(dst, v)
		}
		if dst.OverflowFloat(f) {
			return fmt.Errorf("value out of range for %s", dst.Type())
		}
		dst.SetFloat(f)
	case reflect.String:
		switch v.kind {
		case KindText, KindDecimal:
			dst.SetString(v.s)
		case KindBlob:
			dst.SetString(string(v.b))
		default:
			return assignErr(dst, v)
		}
	case reflect.Bool:
		switch v.kind {
		case KindBool, KindInt:
			dst.SetBool(v.i != 0)
		default:
			return assignErr(dst, v)
		}
	case reflect.Slice:
		if dst.Type().Elem().Kind() != reflect.Uint8 {
			return assignErr(dst, v)
		}
		var b []byte
		switch v.kind {
		case KindBlob:
			b = bytes.Clone(v.b)
		case KindText:
			b = []byte(v.s)
		default:
			return assignErr(dst, v)
		}
		dst.Set(reflect.ValueOf(b).Convert(dst.Type()))
	default:
		return assignErr(dst, v)
	}
	return nil
}

func assignErr(dst reflect.Value, v Value) error {
	return fmt.Errorf("cannot assign %s value to %s", v.kind, dst.Type())
}
