// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlrec

import (
	"context"
	"reflect"
	"time"

	"github.com/canonical/sqlrec/internal/meta"
	"github.com/canonical/sqlrec/internal/rcache"
	"github.com/canonical/sqlrec/internal/stmt"
	"github.com/canonical/sqlrec/internal/value"
)

// Querier runs statements. It is implemented by *DB and *Tx.
type Querier interface {
	Query(ctx context.Context, s Statement) (*Rows, error)
	Exec(ctx context.Context, s Statement) (Result, error)
	Builder() *Builder

	resultCache() (Cache, time.Duration)
}

var (
	_ Querier = (*DB)(nil)
	_ Querier = (*Tx)(nil)
)

// FindOption modifies Find.
type FindOption func(*findOptions)

type findOptions struct {
	cached bool
}

// Cached serves the results from the result cache of the DB when present,
// and stores them there otherwise. It has no effect inside a transaction,
// on selects with joins, or when the DB has no cache.
func Cached() FindOption {
	return func(o *findOptions) { o.cached = true }
}

// Find returns the records of type T selected by q. No matching rows is not
// an error. The columns of records joined by q are not decoded.
func Find[T any](ctx context.Context, db Querier, q SelectQuery, opts ...FindOption) ([]T, error) {
	var o findOptions
	for _, opt := range opts {
		opt(&o)
	}
	m, err := meta.Of[T]()
	if err != nil {
		return nil, err
	}
	s, err := db.Builder().Select(m, q)
	if err != nil {
		return nil, err
	}
	cache, ttl := db.resultCache()
	if !o.cached || cache == nil || len(s.Parts) > 0 {
		return collect[T](ctx, db, s)
	}

	key, err := rcache.Key(s.Table, s.SQL, s.Params())
	if err != nil {
		return nil, err
	}
	if b, err := cache.Get(ctx, key); err == nil && b != nil {
		var out []T
		if err := rcache.Decode(b, &out); err == nil {
			return out, nil
		}
		_ = cache.Delete(ctx, key)
	}
	out, err := collect[T](ctx, db, s)
	if err != nil {
		return nil, err
	}
	if b, err := rcache.Encode(out); err == nil {
		_ = cache.Set(ctx, key, b, ttl)
	}
	return out, nil
}

func collect[T any](ctx context.Context, db Querier, s Statement) ([]T, error) {
	rows, err := db.Query(ctx, s)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		var rec T
		if err := rows.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

// First returns the first record selected by q, or ErrNoRows.
func First[T any](ctx context.Context, db Querier, q SelectQuery) (T, error) {
	var zero T
	q.Limit = 1
	recs, err := Find[T](ctx, db, q)
	if err != nil {
		return zero, err
	}
	if len(recs) == 0 {
		return zero, ErrNoRows
	}
	return recs[0], nil
}

// Get returns the record whose primary key is key, or ErrNoRows.
func Get[T any](ctx context.Context, db Querier, key ...any) (T, error) {
	var zero T
	m, err := meta.Of[T]()
	if err != nil {
		return zero, err
	}
	where, err := stmt.Key(m, key...)
	if err != nil {
		return zero, err
	}
	return First[T](ctx, db, SelectQuery{Where: where})
}

// Count returns the number of records of type T matching where.
func Count[T any](ctx context.Context, db Querier, where Predicate) (int64, error) {
	return countSelect[T](ctx, db, SelectQuery{Where: where})
}

func countSelect[T any](ctx context.Context, db Querier, q SelectQuery) (int64, error) {
	m, err := meta.Of[T]()
	if err != nil {
		return 0, err
	}
	s, err := db.Builder().CountSelect(m, q)
	if err != nil {
		return 0, err
	}
	rows, err := db.Query(ctx, s)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int64
	if !rows.Next() {
		if err := rows.Close(); err != nil {
			return 0, err
		}
		return 0, ErrNoRows
	}
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, rows.Close()
}

// PageResult is one page of records and the number of records on all
// pages.
type PageResult[T any] struct {
	Items []T
	Total int64
	Page  int
	Size  int
}

// Pages returns the number of pages.
func (p PageResult[T]) Pages() int {
	if p.Size <= 0 {
		return 0
	}
	return int((p.Total + int64(p.Size) - 1) / int64(p.Size))
}

// Page returns page number page, counted from 1, of size records selected
// by q, joins included. The Limit and Offset of q are ignored.
func Page[T any](ctx context.Context, db Querier, q SelectQuery, page, size int) (PageResult[T], error) {
	if page < 1 || size < 1 {
		return PageResult[T]{}, &InvalidPaginationError{Limit: size, Offset: (page - 1) * size}
	}
	total, err := countSelect[T](ctx, db, q)
	if err != nil {
		return PageResult[T]{}, err
	}
	res := PageResult[T]{Total: total, Page: page, Size: size}
	q.Limit, q.Offset = size, (page-1)*size
	if int64(q.Offset) >= total {
		return res, nil
	}
	if res.Items, err = Find[T](ctx, db, q); err != nil {
		return PageResult[T]{}, err
	}
	return res, nil
}

// Insert inserts rec. When fields is empty, every field is written except
// auto and omitempty fields holding their zero value. A zero auto primary
// key of rec is set to the generated id.
func Insert[T any](ctx context.Context, db Querier, rec *T, fields ...string) (Result, error) {
	m, err := meta.Of[T]()
	if err != nil {
		return Result{}, err
	}
	s, err := db.Builder().Insert(m, rec, fields...)
	if err != nil {
		return Result{}, err
	}
	res, err := db.Exec(ctx, s)
	if err != nil {
		return Result{}, err
	}
	if err := setAutoKey(m, rec, res.LastInsertID); err != nil {
		return res, err
	}
	return res, nil
}

func setAutoKey[T any](m *meta.Record, rec *T, id int64) error {
	key := m.Key()
	if len(key) != 1 || !key[0].Auto || id == 0 {
		return nil
	}
	rv := reflect.ValueOf(rec).Elem()
	if !m.IsZero(rv, key[0]) {
		return nil
	}
	return value.Assign(rv.FieldByIndex(key[0].Index), value.Int(id))
}

// InsertAll inserts recs in a single statement.
func InsertAll[T any](ctx context.Context, db Querier, recs []T, fields ...string) (Result, error) {
	m, err := meta.Of[T]()
	if err != nil {
		return Result{}, err
	}
	ptrs := make([]any, len(recs))
	for i := range recs {
		ptrs[i] = &recs[i]
	}
	s, err := db.Builder().InsertBatch(m, ptrs, fields...)
	if err != nil {
		return Result{}, err
	}
	return db.Exec(ctx, s)
}

// Update assigns changes to the records of type T matching where. It
// returns the number of affected rows.
func Update[T any](ctx context.Context, db Querier, where Predicate, changes []Assignment, opts ...Option) (int64, error) {
	m, err := meta.Of[T]()
	if err != nil {
		return 0, err
	}
	s, err := db.Builder().Update(m, where, changes, opts...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(ctx, db, s)
}

// UpdateRecord writes rec to the row with its primary key. When fields is
// empty, every updatable field is written.
func UpdateRecord[T any](ctx context.Context, db Querier, rec *T, fields ...string) (int64, error) {
	m, err := meta.Of[T]()
	if err != nil {
		return 0, err
	}
	s, err := db.Builder().UpdateRecord(m, rec, fields...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(ctx, db, s)
}

// Delete deletes the records of type T matching where.
func Delete[T any](ctx context.Context, db Querier, where Predicate, opts ...Option) (int64, error) {
	m, err := meta.Of[T]()
	if err != nil {
		return 0, err
	}
	s, err := db.Builder().Delete(m, where, opts...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(ctx, db, s)
}

// DeleteByKeys deletes the records of type T whose primary key is one of
// keys.
func DeleteByKeys[T any](ctx context.Context, db Querier, keys ...any) (int64, error) {
	m, err := meta.Of[T]()
	if err != nil {
		return 0, err
	}
	s, err := db.Builder().DeleteByKeys(m, keys...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(ctx, db, s)
}

func rowsAffected(ctx context.Context, db Querier, s Statement) (int64, error) {
	res, err := db.Exec(ctx, s)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}
