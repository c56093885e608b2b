// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package value

import (
	"database/sql"
	"database/sql/driver"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type status int

type textValuer struct{ s string }

func (v textValuer) Value() (driver.Value, error) { return v.s, nil }

func TestOf(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("X", 3600))
	name := "fred"
	var nilName *string

	tests := []struct {
		in   any
		want Value
	}{
		{nil, Null()},
		{42, Int(42)},
		{int8(-3), Int(-3)},
		{uint32(7), UInt(7)},
		{uint64(math.MaxUint64), UInt(math.MaxUint64)},
		{1.5, Float(1.5)},
		{"x", Text("x")},
		{[]byte("ab"), Blob([]byte("ab"))},
		{true, Bool(true)},
		{ts, Timestamp(ts)},
		{decimal.RequireFromString("12.50"), Decimal(decimal.RequireFromString("12.5"))},
		{decimal.NullDecimal{}, Null()},
		{&name, Text("fred")},
		{nilName, Null()},
		{status(2), Int(2)},
		{sql.NullString{String: "y", Valid: true}, Text("y")},
		{sql.NullInt64{}, Null()},
		{textValuer{"v"}, Text("v")},
		{Int(9), Int(9)},
	}
	for _, test := range tests {
		got, err := Of(test.in)
		require.NoError(t, err, "%#v", test.in)
		assert.True(t, test.want.Equal(got), "Of(%#v) = %s, want %s", test.in, got, test.want)
	}
}

func TestOfUnsupported(t *testing.T) {
	_, err := Of(struct{ A int }{1})
	assert.ErrorContains(t, err, "unsupported type")

	_, err = Of(map[string]int{})
	assert.Error(t, err)
}

func TestTimestampKeepsOffset(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("X", -5*3600))
	v := Timestamp(ts)
	_, off := v.Time().Zone()
	assert.Equal(t, -5*3600, off)
}

func TestFromDriver(t *testing.T) {
	ts := time.Date(2023, 11, 5, 8, 1, 2, 0, time.UTC)
	tests := []struct {
		src  any
		kind Kind
		want Value
	}{
		{nil, KindInt, Null()},
		{int64(5), KindInt, Int(5)},
		{[]byte("-12"), KindInt, Int(-12)},
		{"12", KindInt, Int(12)},
		{int64(1), KindUInt, UInt(1)},
		{[]byte("18446744073709551615"), KindUInt, UInt(math.MaxUint64)},
		{[]byte("2.25"), KindFloat, Float(2.25)},
		{int64(3), KindFloat, Float(3)},
		{[]byte("10.10"), KindDecimal, Decimal(decimal.RequireFromString("10.1"))},
		{float64(0.5), KindDecimal, Decimal(decimal.RequireFromString("0.5"))},
		{[]byte("hi"), KindText, Text("hi")},
		{"hi", KindBlob, Blob([]byte("hi"))},
		{ts, KindTimestamp, Timestamp(ts)},
		{[]byte("2023-11-05 08:01:02"), KindTimestamp, Timestamp(ts)},
		{"2023-11-05T08:01:02Z", KindTimestamp, Timestamp(ts)},
		{int64(1), KindBool, Bool(true)},
		{[]byte("0"), KindBool, Bool(false)},
		{true, KindBool, Bool(true)},
	}
	for _, test := range tests {
		got, err := FromDriver(test.src, test.kind)
		require.NoError(t, err, "%#v as %s", test.src, test.kind)
		assert.True(t, test.want.Equal(got), "FromDriver(%#v, %s) = %s, want %s", test.src, test.kind, got, test.want)
	}
}

func TestArg(t *testing.T) {
	assert.Equal(t, uint64(math.MaxInt64), UInt(math.MaxInt64).Arg())
	assert.Equal(t, "9223372036854775808", UInt(math.MaxInt64+1).Arg())
	assert.Equal(t, "18446744073709551615", UInt(math.MaxUint64).Arg())

	arg, err := driver.DefaultParameterConverter.ConvertValue(UInt(math.MaxUint64).Arg())
	require.NoError(t, err)
	got, err := FromDriver(arg, KindUInt)
	require.NoError(t, err)
	assert.True(t, UInt(math.MaxUint64).Equal(got))
}

func TestFromDriverErrors(t *testing.T) {
	_, err := FromDriver([]byte("abc"), KindInt)
	assert.ErrorContains(t, err, "cannot convert []uint8 to int")
	assert.NotContains(t, err.Error(), "abc")

	_, err = FromDriver(int64(-1), KindUInt)
	assert.Error(t, err)

	_, err = FromDriver(uint64(math.MaxUint64), KindInt)
	assert.Error(t, err)

	_, err = FromDriver(time.Now(), KindBlob)
	assert.Error(t, err)

	_, err = FromDriver("yesterday", KindTimestamp)
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		typ      any
		kind     Kind
		nullable bool
	}{
		{int64(0), KindInt, false},
		{uint16(0), KindUInt, false},
		{"", KindText, false},
		{[]byte(nil), KindBlob, true},
		{time.Time{}, KindTimestamp, false},
		{decimal.Decimal{}, KindDecimal, false},
		{sql.NullTime{}, KindTimestamp, true},
		{decimal.NullDecimal{}, KindDecimal, true},
		{new(int), KindInt, true},
		{status(0), KindInt, false},
	}
	for _, test := range tests {
		kind, nullable, ok := KindOf(reflect.TypeOf(test.typ))
		assert.True(t, ok, "%T", test.typ)
		assert.Equal(t, test.kind, kind, "%T", test.typ)
		assert.Equal(t, test.nullable, nullable, "%T", test.typ)
	}

	_, _, ok := KindOf(reflect.TypeOf(struct{}{}))
	assert.False(t, ok)
}

func TestAssign(t *testing.T) {
	var s struct {
		I   int32
		U   uint8
		F   float64
		S   string
		B   []byte
		T   time.Time
		P   *string
		N   sql.NullInt64
		D   decimal.Decimal
		Ok  bool
		Any any
	}
	rv := reflect.ValueOf(&s).Elem()
	ts := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, Assign(rv.Field(0), Int(-7)))
	require.NoError(t, Assign(rv.Field(1), UInt(200)))
	require.NoError(t, Assign(rv.Field(2), Int(3)))
	require.NoError(t, Assign(rv.Field(3), Text("x")))
	require.NoError(t, Assign(rv.Field(4), Blob([]byte{1, 2})))
	require.NoError(t, Assign(rv.Field(5), Timestamp(ts)))
	require.NoError(t, Assign(rv.Field(6), Text("p")))
	require.NoError(t, Assign(rv.Field(7), Int(11)))
	require.NoError(t, Assign(rv.Field(8), Decimal(decimal.RequireFromString("1.25"))))
	require.NoError(t, Assign(rv.Field(9), Bool(true)))
	require.NoError(t, Assign(rv.Field(10), Text("any")))

	assert.Equal(t, int32(-7), s.I)
	assert.Equal(t, uint8(200), s.U)
	assert.Equal(t, 3.0, s.F)
	assert.Equal(t, "x", s.S)
	assert.Equal(t, []byte{1, 2}, s.B)
	assert.True(t, ts.Equal(s.T))
	require.NotNil(t, s.P)
	assert.Equal(t, "p", *s.P)
	assert.Equal(t, sql.NullInt64{Int64: 11, Valid: true}, s.N)
	assert.True(t, decimal.RequireFromString("1.25").Equal(s.D))
	assert.True(t, s.Ok)
	assert.Equal(t, "any", s.Any)

	require.NoError(t, Assign(rv.Field(6), Null()))
	assert.Nil(t, s.P)
	require.NoError(t, Assign(rv.Field(7), Null()))
	assert.False(t, s.N.Valid)
}

func TestAssignErrors(t *testing.T) {
	var s struct {
		I8 int8
		S  string
		U  uint
	}
	rv := reflect.ValueOf(&s).Elem()

	assert.ErrorContains(t, Assign(rv.Field(0), Int(300)), "out of range")
	assert.ErrorContains(t, Assign(rv.Field(1), Null()), "cannot assign NULL")
	assert.ErrorContains(t, Assign(rv.Field(1), Int(1)), "cannot assign int value to string")
	assert.ErrorContains(t, Assign(rv.Field(2), Int(-1)), "out of range")
}
