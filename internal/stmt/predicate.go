// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package stmt

import (
	"reflect"
	"strings"
)

// Predicate is a node of a filter tree. Values held by a predicate are
// always bound as parameters.
type Predicate interface {
	render(w *writer) error
}

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "<>"
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Comparison compares a field with a value. Comparing with NULL using OpEq
// or OpNe renders IS NULL or IS NOT NULL.
type Comparison struct {
	Field string
	Op    Op
	Value any
}

// FieldComparison compares two fields, typically of joined records.
type FieldComparison struct {
	Left  string
	Op    Op
	Right string
}

// InList matches fields whose value is one of Values.
type InList struct {
	Field  string
	Values []any
	Negate bool
}

// Range matches fields between Low and High inclusive.
type Range struct {
	Field string
	Low   any
	High  any
}

// Pattern matches fields against a LIKE pattern.
type Pattern struct {
	Field   string
	Pattern string
}

// NullCheck matches fields that are NULL, or not NULL when Negate is set.
type NullCheck struct {
	Field  string
	Negate bool
}

// Conjunction joins predicates with AND or OR. Nil and empty terms are
// skipped.
type Conjunction struct {
	Or    bool
	Terms []Predicate
}

// Negation inverts a predicate.
type Negation struct {
	Term Predicate
}

func Eq(field string, v any) Predicate { return &Comparison{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Predicate { return &Comparison{Field: field, Op: OpNe, Value: v} }
func Lt(field string, v any) Predicate { return &Comparison{Field: field, Op: OpLt, Value: v} }
func Le(field string, v any) Predicate { return &Comparison{Field: field, Op: OpLe, Value: v} }
func Gt(field string, v any) Predicate { return &Comparison{Field: field, Op: OpGt, Value: v} }
func Ge(field string, v any) Predicate { return &Comparison{Field: field, Op: OpGe, Value: v} }

// EqField matches rows where fields a and b are equal.
func EqField(a, b string) Predicate { return &FieldComparison{Left: a, Op: OpEq, Right: b} }

// In matches any of vs. An empty list matches nothing.
func In(field string, vs ...any) Predicate { return &InList{Field: field, Values: vs} }

// NotIn matches none of vs. An empty list matches everything.
func NotIn(field string, vs ...any) Predicate {
	return &InList{Field: field, Values: vs, Negate: true}
}

// Between matches lo <= field <= hi.
func Between(field string, lo, hi any) Predicate {
	return &Range{Field: field, Low: lo, High: hi}
}

// Like matches a raw LIKE pattern, wildcards included.
func Like(field, pattern string) Predicate { return &Pattern{Field: field, Pattern: pattern} }

// Contains matches values containing s.
func Contains(field, s string) Predicate {
	return &Pattern{Field: field, Pattern: "%" + escapeLike(s) + "%"}
}

// HasPrefix matches values starting with s.
func HasPrefix(field, s string) Predicate {
	return &Pattern{Field: field, Pattern: escapeLike(s) + "%"}
}

// HasSuffix matches values ending with s.
func HasSuffix(field, s string) Predicate {
	return &Pattern{Field: field, Pattern: "%" + escapeLike(s)}
}

func IsNull(field string) Predicate  { return &NullCheck{Field: field} }
func NotNull(field string) Predicate { return &NullCheck{Field: field, Negate: true} }

func And(ps ...Predicate) Predicate { return &Conjunction{Terms: ps} }
func Or(ps ...Predicate) Predicate  { return &Conjunction{Or: true, Terms: ps} }
func Not(p Predicate) Predicate     { return &Negation{Term: p} }

// EqOpt is Eq, or nil when v is absent. A value is absent when it is nil,
// a nil pointer or an empty string.
func EqOpt(field string, v any) Predicate {
	if absent(v) {
		return nil
	}
	return Eq(field, v)
}

// ContainsOpt is Contains, or nil when s is empty.
func ContainsOpt(field, s string) Predicate {
	if s == "" {
		return nil
	}
	return Contains(field, s)
}

// HasPrefixOpt is HasPrefix, or nil when s is empty.
func HasPrefixOpt(field, s string) Predicate {
	if s == "" {
		return nil
	}
	return HasPrefix(field, s)
}

// BetweenOpt is Between, or nil unless both bounds are present.
func BetweenOpt(field string, lo, hi any) Predicate {
	if absent(lo) || absent(hi) {
		return nil
	}
	return Between(field, lo, hi)
}

// InOpt is In, or nil when vs is nil. A non-nil empty list still matches
// nothing.
func InOpt(field string, vs []any) Predicate {
	if vs == nil {
		return nil
	}
	return In(field, vs...)
}

func absent(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// isEmpty reports whether p renders no condition.
func isEmpty(p Predicate) bool {
	switch p := p.(type) {
	case nil:
		return true
	case *Conjunction:
		for _, t := range p.Terms {
			if !isEmpty(t) {
				return false
			}
		}
		return true
	case *Negation:
		return isEmpty(p.Term)
	}
	return false
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (p *Comparison) render(w *writer) error {
	c, err := w.ref(p.Field, true)
	if err != nil {
		return err
	}
	v, err := w.convert(c.Field, p.Value)
	if err != nil {
		return err
	}
	w.col(c)
	if v.IsNull() && (p.Op == OpEq || p.Op == OpNe) {
		if p.Op == OpEq {
			w.sb.WriteString(" IS NULL")
		} else {
			w.sb.WriteString(" IS NOT NULL")
		}
		return nil
	}
	w.sb.WriteString(" " + string(p.Op) + " ")
	w.bind(v)
	return nil
}

func (p *FieldComparison) render(w *writer) error {
	l, err := w.ref(p.Left, true)
	if err != nil {
		return err
	}
	r, err := w.ref(p.Right, true)
	if err != nil {
		return err
	}
	w.col(l)
	w.sb.WriteString(" " + string(p.Op) + " ")
	w.col(r)
	return nil
}

func (p *InList) render(w *writer) error {
	c, err := w.ref(p.Field, true)
	if err != nil {
		return err
	}
	if len(p.Values) == 0 {
		if p.Negate {
			w.sb.WriteString("1 = 1")
		} else {
			w.sb.WriteString("1 = 0")
		}
		return nil
	}
	w.col(c)
	if p.Negate {
		w.sb.WriteString(" NOT IN (")
	} else {
		w.sb.WriteString(" IN (")
	}
	for i, x := range p.Values {
		v, err := w.convert(c.Field, x)
		if err != nil {
			return err
		}
		if i > 0 {
			w.sb.WriteString(", ")
		}
		w.bind(v)
	}
	w.sb.WriteString(")")
	return nil
}

func (p *Range) render(w *writer) error {
	c, err := w.ref(p.Field, true)
	if err != nil {
		return err
	}
	lo, err := w.convert(c.Field, p.Low)
	if err != nil {
		return err
	}
	hi, err := w.convert(c.Field, p.High)
	if err != nil {
		return err
	}
	w.col(c)
	w.sb.WriteString(" BETWEEN ")
	w.bind(lo)
	w.sb.WriteString(" AND ")
	w.bind(hi)
	return nil
}

func (p *Pattern) render(w *writer) error {
	c, err := w.ref(p.Field, true)
	if err != nil {
		return err
	}
	v, err := w.convert(c.Field, p.Pattern)
	if err != nil {
		return err
	}
	w.col(c)
	w.sb.WriteString(" LIKE ")
	w.bind(v)
	w.sb.WriteString(w.d.likeEscape)
	return nil
}

func (p *NullCheck) render(w *writer) error {
	c, err := w.ref(p.Field, false)
	if err != nil {
		return err
	}
	w.col(c)
	if p.Negate {
		w.sb.WriteString(" IS NOT NULL")
	} else {
		w.sb.WriteString(" IS NULL")
	}
	return nil
}

func (p *Conjunction) render(w *writer) error {
	sep := " AND "
	if p.Or {
		sep = " OR "
	}
	n := 0
	for _, t := range p.Terms {
		if isEmpty(t) {
			continue
		}
		if n > 0 {
			w.sb.WriteString(sep)
		}
		n++
		if err := w.nested(t); err != nil {
			return err
		}
	}
	return nil
}

func (p *Negation) render(w *writer) error {
	if isEmpty(p.Term) {
		return nil
	}
	w.sb.WriteString("NOT ")
	return w.parens(p.Term)
}
