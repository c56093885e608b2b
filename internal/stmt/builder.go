// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package stmt

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/canonical/sqlrec/internal/compress"
	"github.com/canonical/sqlrec/internal/meta"
	"github.com/canonical/sqlrec/internal/value"
)

// Kind is the kind of a built statement.
type Kind uint8

const (
	KindSelect Kind = iota
	KindCount
	KindInsert
	KindUpdate
	KindDelete
)

var kindNames = [...]string{
	KindSelect: "select",
	KindCount:  "count",
	KindInsert: "insert",
	KindUpdate: "update",
	KindDelete: "delete",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Statement is a built SQL statement. The number of placeholders in SQL
// always equals len(Args), in the same order.
type Statement struct {
	SQL  string
	Args []value.Value
	Kind Kind

	// Table is the table the statement reads or mutates.
	Table string

	// Columns holds, for each result column, the position of the record
	// field it decodes into.
	Columns []int

	// Parts is set for selects with joins. Each part is the run of Columns
	// holding positions of the fields of one record.
	Parts []Part
}

// Part is a run of the result columns of a select with joins. The fields
// at Columns[Start:End] belong to Record.
type Part struct {
	Record     *meta.Record
	Alias      string
	Start, End int
}

// IsRead reports whether the statement does not mutate data.
func (s *Statement) IsRead() bool {
	return s.Kind == KindSelect || s.Kind == KindCount
}

// Params returns the driver arguments of the statement.
func (s *Statement) Params() []any {
	params := make([]any, len(s.Args))
	for i, a := range s.Args {
		params[i] = a.Arg()
	}
	return params
}

// Order is a single ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Asc orders by field ascending.
func Asc(field string) Order { return Order{Field: field} }

// Desc orders by field descending.
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// SelectQuery describes a select. Empty Fields selects every field in record
// order. A zero Limit means no limit.
//
// With Joins, fields are referred to as "alias.field", and unqualified
// references are fields of the selected record. Alias names the selected
// record and defaults to its table name, as the alias of a join does. The
// result columns are grouped by record in join order.
type SelectQuery struct {
	Fields  []string
	Where   Predicate
	OrderBy []Order
	Limit   int
	Offset  int

	Alias string
	Joins []Join
}

// Join joins the table of Record to a select. Rows of a left join that match
// nothing read as NULL.
type Join struct {
	Record *meta.Record
	Alias  string
	On     Predicate
	Left   bool
}

// InnerJoin returns a Join of m under alias on the condition on.
func InnerJoin(m *meta.Record, alias string, on Predicate) Join {
	return Join{Record: m, Alias: alias, On: on}
}

// LeftJoin returns a left Join of m under alias on the condition on.
func LeftJoin(m *meta.Record, alias string, on Predicate) Join {
	return Join{Record: m, Alias: alias, On: on, Left: true}
}

// Assignment sets a field to a value in an update.
type Assignment struct {
	Field string
	Value any
}

// Set returns an Assignment.
func Set(field string, v any) Assignment {
	return Assignment{Field: field, Value: v}
}

// Option modifies a mutation.
type Option func(*options)

type options struct {
	unconditional bool
}

// AllowUnconditional permits an update or delete without a predicate.
func AllowUnconditional() Option {
	return func(o *options) { o.unconditional = true }
}

// Builder builds statements for a dialect. A Builder holds no state
// between calls and is safe for concurrent use.
type Builder struct {
	Dialect Dialect

	// CompressThreshold is the size from which compressed fields are
	// stored compressed.
	CompressThreshold int
}

// New returns a Builder for d.
func New(d Dialect) *Builder {
	return &Builder{Dialect: d, CompressThreshold: compress.DefaultThreshold}
}

// writer accumulates SQL text and its arguments.
type writer struct {
	d    Dialect
	m    *meta.Record
	sb   strings.Builder
	args []value.Value

	// sources are the records a select reads, m first. Column names are
	// qualified by their alias when qualify is set.
	sources []source
	qualify bool
}

type source struct {
	alias string
	m     *meta.Record
}

// col is a resolved field reference.
type col struct {
	*meta.Field
	alias string
}

func (b *Builder) writer(m *meta.Record) *writer {
	d := b.Dialect
	if d.quoteIdent == nil {
		d = MySQL
	}
	return &writer{d: d, m: m, sources: []source{{alias: m.Table, m: m}}}
}

func (w *writer) ident(name string) {
	w.sb.WriteString(w.d.Ident(name))
}

func (w *writer) bind(v value.Value) {
	w.args = append(w.args, v)
	w.sb.WriteString(w.d.Placeholder(len(w.args)))
}

// field resolves a field reference. Compressed fields are rejected when
// filter is set.
func (w *writer) field(ref string, filter bool) (*meta.Field, error) {
	c, err := w.ref(ref, filter)
	return c.Field, err
}

// ref resolves a field reference that may be qualified by the alias of a
// joined record.
func (w *writer) ref(ref string, filter bool) (col, error) {
	src, name := w.sources[0], ref
	if alias, rest, ok := strings.Cut(ref, "."); ok && w.qualify {
		i := w.source(alias)
		if i < 0 {
			return col{}, &UnknownFieldError{Table: w.m.Table, Field: ref}
		}
		src, name = w.sources[i], rest
	}
	f, ok := src.m.Lookup(name)
	if !ok {
		return col{}, &UnknownFieldError{Table: src.m.Table, Field: name}
	}
	if filter && f.Compress {
		return col{}, &CompressedFilterError{Table: src.m.Table, Field: name}
	}
	c := col{Field: f}
	if w.qualify {
		c.alias = src.alias
	}
	return c, nil
}

func (w *writer) source(alias string) int {
	for i, src := range w.sources {
		if src.alias == alias {
			return i
		}
	}
	return -1
}

// col renders the column of c.
func (w *writer) col(c col) {
	if c.alias != "" {
		w.ident(c.alias)
		w.sb.WriteString(".")
	}
	w.ident(c.Column)
}

// join registers the records joined by q.
func (w *writer) join(q SelectQuery) error {
	if len(q.Joins) == 0 {
		return nil
	}
	w.qualify = true
	if q.Alias != "" {
		if !meta.ValidIdentifier(q.Alias) {
			return &InvalidJoinError{Alias: q.Alias, Reason: "invalid alias"}
		}
		w.sources[0].alias = q.Alias
	}
	for _, j := range q.Joins {
		if j.Record == nil {
			return &InvalidJoinError{Alias: j.Alias, Reason: "no record"}
		}
		src := source{alias: j.Alias, m: j.Record}
		if src.alias == "" {
			src.alias = j.Record.Table
		}
		if !meta.ValidIdentifier(src.alias) {
			return &InvalidJoinError{Alias: src.alias, Reason: "invalid alias"}
		}
		if w.source(src.alias) >= 0 {
			return &InvalidJoinError{Alias: src.alias, Reason: "alias already in use"}
		}
		if isEmpty(j.On) {
			return &InvalidJoinError{Alias: src.alias, Reason: "no join condition"}
		}
		w.sources = append(w.sources, src)
	}
	return nil
}

// from renders the FROM clause of q, whose joins have been registered.
func (w *writer) from(q SelectQuery) error {
	w.sb.WriteString(" FROM ")
	w.table(w.sources[0])
	for i, j := range q.Joins {
		if j.Left {
			w.sb.WriteString(" LEFT JOIN ")
		} else {
			w.sb.WriteString(" JOIN ")
		}
		w.table(w.sources[i+1])
		w.sb.WriteString(" ON ")
		if err := j.On.render(w); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) table(src source) {
	w.ident(src.m.Table)
	if src.alias != src.m.Table {
		w.sb.WriteString(" ")
		w.ident(src.alias)
	}
}

func (w *writer) convert(f *meta.Field, x any) (value.Value, error) {
	v, err := value.Of(x)
	if err != nil {
		return value.Value{}, fmt.Errorf("field %q: %w", f.Column, err)
	}
	return v, nil
}

func (w *writer) where(p Predicate) error {
	if isEmpty(p) {
		return nil
	}
	w.sb.WriteString(" WHERE ")
	return p.render(w)
}

// nested renders p, wrapped in parentheses when it joins several terms.
func (w *writer) nested(p Predicate) error {
	if c, ok := p.(*Conjunction); ok {
		n := 0
		for _, t := range c.Terms {
			if !isEmpty(t) {
				n++
			}
		}
		if n > 1 {
			return w.parens(p)
		}
	}
	return p.render(w)
}

func (w *writer) parens(p Predicate) error {
	w.sb.WriteString("(")
	if err := p.render(w); err != nil {
		return err
	}
	w.sb.WriteString(")")
	return nil
}

func (w *writer) statement(kind Kind, cols []int) Statement {
	return Statement{
		SQL:     w.sb.String(),
		Args:    w.args,
		Kind:    kind,
		Table:   w.m.Table,
		Columns: cols,
	}
}

// Select builds a SELECT statement.
func (b *Builder) Select(m *meta.Record, q SelectQuery) (Statement, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return Statement{}, &InvalidPaginationError{Limit: q.Limit, Offset: q.Offset}
	}
	w := b.writer(m)
	if err := w.join(q); err != nil {
		return Statement{}, err
	}
	cols, parts, err := w.selected(q.Fields)
	if err != nil {
		return Statement{}, err
	}

	w.sb.WriteString("SELECT ")
	for i, c := range cols {
		if i > 0 {
			w.sb.WriteString(", ")
		}
		w.col(c)
	}
	if err := w.from(q); err != nil {
		return Statement{}, err
	}
	if err := w.where(q.Where); err != nil {
		return Statement{}, err
	}

	for i, o := range q.OrderBy {
		c, err := w.ref(o.Field, true)
		if err != nil {
			return Statement{}, err
		}
		if i == 0 {
			w.sb.WriteString(" ORDER BY ")
		} else {
			w.sb.WriteString(", ")
		}
		w.col(c)
		if o.Desc {
			w.sb.WriteString(" DESC")
		} else {
			w.sb.WriteString(" ASC")
		}
	}

	switch {
	case q.Limit > 0:
		w.sb.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	case q.Offset > 0:
		w.sb.WriteString(" LIMIT " + w.d.noLimit)
	}
	if q.Offset > 0 {
		w.sb.WriteString(" OFFSET " + strconv.Itoa(q.Offset))
	}
	positions := make([]int, len(cols))
	for i, c := range cols {
		positions[i] = c.Pos
	}
	st := w.statement(KindSelect, positions)
	st.Parts = parts
	return st, nil
}

// selected resolves the selected fields, grouped by source when the select
// has joins.
func (w *writer) selected(refs []string) ([]col, []Part, error) {
	bySource := make([][]col, len(w.sources))
	if len(refs) == 0 {
		for i, src := range w.sources {
			for _, f := range src.m.Fields {
				c := col{Field: f}
				if w.qualify {
					c.alias = src.alias
				}
				bySource[i] = append(bySource[i], c)
			}
		}
	} else {
		for _, ref := range refs {
			c, err := w.ref(ref, false)
			if err != nil {
				return nil, nil, err
			}
			i := 0
			if w.qualify {
				i = w.source(c.alias)
			}
			bySource[i] = append(bySource[i], c)
		}
	}
	var (
		cols  []col
		parts []Part
	)
	for i, cs := range bySource {
		if len(cs) == 0 {
			continue
		}
		if w.qualify {
			parts = append(parts, Part{
				Record: w.sources[i].m,
				Alias:  w.sources[i].alias,
				Start:  len(cols),
				End:    len(cols) + len(cs),
			})
		}
		cols = append(cols, cs...)
	}
	return cols, parts, nil
}

// Count builds a SELECT COUNT(*) statement.
func (b *Builder) Count(m *meta.Record, where Predicate) (Statement, error) {
	return b.CountSelect(m, SelectQuery{Where: where})
}

// CountSelect builds a statement counting the rows q selects, joins
// included. The fields, ordering and pagination of q are ignored.
func (b *Builder) CountSelect(m *meta.Record, q SelectQuery) (Statement, error) {
	w := b.writer(m)
	if err := w.join(q); err != nil {
		return Statement{}, err
	}
	w.sb.WriteString("SELECT COUNT(*)")
	if err := w.from(q); err != nil {
		return Statement{}, err
	}
	if err := w.where(q.Where); err != nil {
		return Statement{}, err
	}
	return w.statement(KindCount, nil), nil
}

// encode returns the stored form of field f of rec.
func (b *Builder) encode(m *meta.Record, rec reflect.Value, f *meta.Field) (value.Value, error) {
	v, err := m.Value(rec, f)
	if err != nil {
		return value.Value{}, err
	}
	return b.compress(f, v), nil
}

// compress returns the stored form of v for a compressed field. Text
// values keep a text-safe form unless the dialect stores bytes in text
// columns.
func (b *Builder) compress(f *meta.Field, v value.Value) value.Value {
	if !f.Compress {
		return v
	}
	var raw []byte
	switch v.Kind() {
	case value.KindText:
		if !b.Dialect.binaryText {
			return value.Text(compress.EncodeText(v.Text(), b.CompressThreshold))
		}
		raw = []byte(v.Text())
	case value.KindBlob:
		raw = v.Blob()
	default:
		return v
	}
	enc := compress.Encode(raw, b.CompressThreshold)
	if !compress.IsEncoded(enc) {
		return v
	}
	return value.Blob(enc)
}

// insertFields returns the fields named by refs, or, when refs is empty,
// every field that should be written for rec.
func insertFields(w *writer, m *meta.Record, rec *reflect.Value, refs []string) ([]*meta.Field, error) {
	if len(refs) > 0 {
		fields := make([]*meta.Field, len(refs))
		for i, ref := range refs {
			f, err := w.field(ref, false)
			if err != nil {
				return nil, err
			}
			fields[i] = f
		}
		return fields, nil
	}
	var fields []*meta.Field
	for _, f := range m.Fields {
		if f.Auto || f.OmitEmpty {
			if rec == nil || m.IsZero(*rec, f) {
				continue
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (w *writer) insertInto(fields []*meta.Field) {
	w.sb.WriteString("INSERT INTO ")
	w.ident(w.m.Table)
	if len(fields) == 0 {
		w.sb.WriteString(" " + w.d.emptyInsert)
		return
	}
	w.sb.WriteString(" (")
	for i, f := range fields {
		if i > 0 {
			w.sb.WriteString(", ")
		}
		w.ident(f.Column)
	}
	w.sb.WriteString(") VALUES ")
}

func (b *Builder) values(w *writer, m *meta.Record, rec reflect.Value, fields []*meta.Field) error {
	w.sb.WriteString("(")
	for i, f := range fields {
		v, err := b.encode(m, rec, f)
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

// Insert builds an INSERT of rec. When fields is empty, every field is
// written except auto and omitempty fields holding their zero value.
//
// For Postgres, a record with an auto primary key gets a RETURNING clause
// and Columns holds the key position.
func (b *Builder) Insert(m *meta.Record, rec any, fields ...string) (Statement, error) {
	rv, err := m.Struct(rec)
	if err != nil {
		return Statement{}, err
	}
	w := b.writer(m)
	fs, err := insertFields(w, m, &rv, fields)
	if err != nil {
		return Statement{}, err
	}
	w.insertInto(fs)
	if len(fs) > 0 {
		if err := b.values(w, m, rv, fs); err != nil {
			return Statement{}, err
		}
	}
	var cols []int
	if w.d.numbered {
		if key := m.Key(); len(key) == 1 && key[0].Auto {
			w.sb.WriteString(" RETURNING ")
			w.ident(key[0].Column)
			cols = []int{key[0].Pos}
		}
	}
	return w.statement(KindInsert, cols), nil
}

// InsertBatch builds a multi-row INSERT. When fields is empty, every field
// except auto fields is written.
func (b *Builder) InsertBatch(m *meta.Record, recs []any, fields ...string) (Statement, error) {
	if len(recs) == 0 {
		return Statement{}, fmt.Errorf("%w: insert into %s", ErrEmptyBatch, m.Table)
	}
	w := b.writer(m)
	var fs []*meta.Field
	if len(fields) > 0 {
		var err error
		if fs, err = insertFields(w, m, nil, fields); err != nil {
			return Statement{}, err
		}
	} else {
		for _, f := range m.Fields {
			if !f.Auto {
				fs = append(fs, f)
			}
		}
	}
	if len(fs) == 0 {
		return Statement{}, fmt.Errorf("%w: no columns to insert into %s", ErrEmptyBatch, m.Table)
	}
	w.insertInto(fs)
	for i, rec := range recs {
		rv, err := m.Struct(rec)
		if err != nil {
			return Statement{}, fmt.Errorf("record %d: %w", i, err)
		}
		if i > 0 {
			w.sb.WriteString(", ")
		}
		if err := b.values(w, m, rv, fs); err != nil {
			return Statement{}, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return w.statement(KindInsert, nil), nil
}

// Update builds an UPDATE assigning changes to the rows matching where.
func (b *Builder) Update(m *meta.Record, where Predicate, changes []Assignment, opts ...Option) (Statement, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if len(changes) == 0 {
		return Statement{}, &EmptyUpdateError{Table: m.Table}
	}
	if isEmpty(where) && !o.unconditional {
		return Statement{}, &UnconditionalMutationError{Table: m.Table, Op: "update"}
	}
	w := b.writer(m)
	w.sb.WriteString("UPDATE ")
	w.ident(m.Table)
	w.sb.WriteString(" SET ")
	for i, c := range changes {
		f, err := w.field(c.Field, false)
		if err != nil {
			return Statement{}, err
		}
		v, err := w.convert(f, c.Value)
		if err != nil {
			return Statement{}, err
		}
		if i > 0 {
			w.sb.WriteString(", ")
		}
		w.ident(f.Column)
		w.sb.WriteString(" = ")
		w.bind(b.compress(f, v))
	}
	if err := w.where(where); err != nil {
		return Statement{}, err
	}
	return w.statement(KindUpdate, nil), nil
}

// UpdateRecord builds an UPDATE of rec identified by its primary key. When
// fields is empty, every updatable field is assigned.
func (b *Builder) UpdateRecord(m *meta.Record, rec any, fields ...string) (Statement, error) {
	rv, err := m.Struct(rec)
	if err != nil {
		return Statement{}, err
	}
	where, err := recordKey(m, rv)
	if err != nil {
		return Statement{}, err
	}
	var fs []*meta.Field
	if len(fields) > 0 {
		for _, ref := range fields {
			f, ok := m.Lookup(ref)
			if !ok {
				return Statement{}, &UnknownFieldError{Table: m.Table, Field: ref}
			}
			fs = append(fs, f)
		}
	} else {
		for _, f := range m.Fields {
			if f.Updatable() {
				fs = append(fs, f)
			}
		}
	}
	changes := make([]Assignment, len(fs))
	for i, f := range fs {
		v, err := m.Value(rv, f)
		if err != nil {
			return Statement{}, err
		}
		changes[i] = Assignment{Field: f.Column, Value: v}
	}
	return b.Update(m, where, changes)
}

// Delete builds a DELETE of the rows matching where.
func (b *Builder) Delete(m *meta.Record, where Predicate, opts ...Option) (Statement, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if isEmpty(where) && !o.unconditional {
		return Statement{}, &UnconditionalMutationError{Table: m.Table, Op: "delete"}
	}
	w := b.writer(m)
	w.sb.WriteString("DELETE FROM ")
	w.ident(m.Table)
	if err := w.where(where); err != nil {
		return Statement{}, err
	}
	return w.statement(KindDelete, nil), nil
}

// DeleteByKeys builds a DELETE of the rows whose single column primary key
// is one of keys.
func (b *Builder) DeleteByKeys(m *meta.Record, keys ...any) (Statement, error) {
	key := m.Key()
	switch len(key) {
	case 0:
		return Statement{}, fmt.Errorf("%w: %s", ErrNoPrimaryKey, m.Table)
	case 1:
	default:
		return Statement{}, fmt.Errorf("cannot delete %s by keys: composite primary key", m.Table)
	}
	return b.Delete(m, In(key[0].Column, keys...))
}

// Key returns the predicate matching the row whose primary key is key.
func Key(m *meta.Record, key ...any) (Predicate, error) {
	fields := m.Key()
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, m.Table)
	}
	if len(key) != len(fields) {
		return nil, fmt.Errorf("%s has %d primary key fields, got %d values", m.Table, len(fields), len(key))
	}
	terms := make([]Predicate, len(fields))
	for i, f := range fields {
		terms[i] = Eq(f.Column, key[i])
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return And(terms...), nil
}

func recordKey(m *meta.Record, rec reflect.Value) (Predicate, error) {
	fields := m.Key()
	key := make([]any, len(fields))
	for i, f := range fields {
		v, err := m.Value(rec, f)
		if err != nil {
			return nil, err
		}
		key[i] = v
	}
	return Key(m, key...)
}
