// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlrec

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/canonical/sqlrec/internal/pool"
	"github.com/canonical/sqlrec/internal/rcache"
	"github.com/canonical/sqlrec/internal/stmt"
)

// PoolConfig holds the connection pool bounds.
type PoolConfig = pool.Config

// Cache stores encoded query results for Find with the Cached option.
type Cache = rcache.Cache

// LRUCache is an in-memory Cache.
type LRUCache = rcache.LRU

// NewLRUCache returns a Cache holding at most size results.
func NewLRUCache(size int) *LRUCache {
	return rcache.NewLRU(size)
}

// Options configures a DB.
type Options struct {
	Pool PoolConfig

	// StatementTimeout bounds the execution of each statement. A statement
	// that times out leaves its connection unusable and the connection is
	// dropped. Zero means no timeout.
	StatementTimeout time.Duration

	// SlowThreshold is the duration from which statements are logged as
	// slow. Zero disables slow statement logging.
	SlowThreshold time.Duration

	// QuoteIdentifiers quotes table and column names in generated SQL.
	QuoteIdentifiers bool

	// CompressThreshold is the size from which compressed fields are
	// stored compressed. Zero uses the default.
	CompressThreshold int

	// Cache enables result caching for Find with the Cached option.
	Cache    Cache
	CacheTTL time.Duration

	Logger *slog.Logger
}

// DB executes statements over a bounded pool of connections.
type DB struct {
	pool    *pool.Pool
	builder *stmt.Builder
	opts    Options
	logger  *slog.Logger
	stats   QueryStats
}

// NewDB returns a DB executing statements of the named dialect over sqldb.
// The pool bounds of opts are applied to sqldb.
func NewDB(sqldb *sql.DB, dialect string, opts Options) (*DB, error) {
	if sqldb == nil {
		return nil, errors.New("sqlrec: nil database")
	}
	d, err := stmt.DialectFor(dialect)
	if err != nil {
		return nil, err
	}
	if opts.QuoteIdentifiers {
		d = d.Quoted()
	}
	b := stmt.New(d)
	if opts.CompressThreshold > 0 {
		b.CompressThreshold = opts.CompressThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{
		pool:    pool.New(sqldb, opts.Pool, logger),
		builder: b,
		opts:    opts,
		logger:  logger,
	}, nil
}

// PlainDB returns the underlying database object.
func (db *DB) PlainDB() *sql.DB {
	return db.pool.DB()
}

// Builder returns the statement builder for the dialect of the database.
func (db *DB) Builder() *Builder {
	return db.builder
}

// Stats returns a snapshot of the statement and pool statistics.
func (db *DB) Stats() StatsSnapshot {
	s := db.stats.Snapshot()
	s.Pool = db.pool.Stats()
	return s
}

// Close closes the database.
func (db *DB) Close() error {
	return db.pool.Close()
}

// Ping checks that a connection to the database can be established.
func (db *DB) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lease, err := db.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	sctx, cancel := db.statementContext(ctx)
	defer cancel()
	if err := lease.Conn().PingContext(sctx); err != nil {
		return db.classify(ctx, sctx, lease, &Statement{}, "ping", err)
	}
	return nil
}

// Query runs a statement returning rows on a pooled connection. The
// connection is released when the returned Rows are closed.
//
// A read statement that fails with a transport error before any row is
// returned is retried once on another connection.
func (db *DB) Query(ctx context.Context, s Statement) (*Rows, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := db.query(ctx, s)
	if err != nil && s.IsRead() && retryable(err) && ctx.Err() == nil {
		db.stats.Retries.Add(1)
		db.logger.Warn("retrying statement on a new connection",
			"op", s.Kind.String(), "table", s.Table, "error", err)
		rows, err = db.query(ctx, s)
	}
	return rows, err
}

func (db *DB) query(ctx context.Context, s Statement) (*Rows, error) {
	lease, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.queryOn(ctx, lease.Conn(), lease, s, func(err error) {
		lease.Release()
		if err == nil && !s.IsRead() {
			db.invalidate(ctx, s.Table)
		}
	})
	if err != nil {
		lease.Release()
		return nil, err
	}
	return rows, nil
}

// Exec runs a statement on a pooled connection. Statements are never
// retried.
func (db *DB) Exec(ctx context.Context, s Statement) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	lease, err := db.pool.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer lease.Release()
	res, err := db.execOn(ctx, lease.Conn(), lease, s)
	if err != nil {
		return Result{}, err
	}
	if !s.IsRead() {
		db.invalidate(ctx, s.Table)
	}
	return res, nil
}

// Result summarizes an executed statement.
type Result struct {
	RowsAffected int64

	// LastInsertID is the id generated by an insert. Drivers that do not
	// report one leave it zero.
	LastInsertID int64
}

// conn is satisfied by *sql.Conn and *sql.Tx.
type conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.opts.StatementTimeout > 0 {
		return context.WithTimeout(ctx, db.opts.StatementTimeout)
	}
	return context.WithCancel(ctx)
}

// queryOn runs s on c. done is called once when the rows are closed.
func (db *DB) queryOn(ctx context.Context, c conn, lease *pool.Lease, s Statement, done func(error)) (*Rows, error) {
	sctx, cancel := db.statementContext(ctx)
	start := time.Now()
	rows, err := c.QueryContext(sctx, s.SQL, s.Params()...)
	db.observe(ctx, &s, start, err)
	if err != nil {
		err = db.classify(ctx, sctx, lease, &s, s.Kind.String(), err)
		cancel()
		return nil, err
	}
	return &Rows{
		rows: rows,
		stmt: s,
		fail: func(err error) error {
			return db.classify(ctx, sctx, lease, &s, s.Kind.String(), err)
		},
		done: func(err error) {
			cancel()
			done(err)
		},
	}, nil
}

// execOn runs s on c. Inserts with a RETURNING clause are run as queries
// and report the returned key as the insert id.
func (db *DB) execOn(ctx context.Context, c conn, lease *pool.Lease, s Statement) (Result, error) {
	sctx, cancel := db.statementContext(ctx)
	defer cancel()
	start := time.Now()
	var res Result
	var err error
	if len(s.Columns) > 0 && !s.IsRead() {
		res, err = execReturning(sctx, c, &s)
	} else {
		var r sql.Result
		if r, err = c.ExecContext(sctx, s.SQL, s.Params()...); err == nil {
			res, err = result(r)
		}
	}
	db.observe(ctx, &s, start, err)
	if err != nil {
		return Result{}, db.classify(ctx, sctx, lease, &s, s.Kind.String(), err)
	}
	return res, nil
}

func execReturning(ctx context.Context, c conn, s *Statement) (Result, error) {
	rows, err := c.QueryContext(ctx, s.SQL, s.Params()...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()
	var res Result
	for rows.Next() {
		if err := rows.Scan(&res.LastInsertID); err != nil {
			return Result{}, err
		}
		res.RowsAffected++
	}
	return res, rows.Close()
}

func result(r sql.Result) (Result, error) {
	n, err := r.RowsAffected()
	if err != nil {
		return Result{}, err
	}
	id, _ := r.LastInsertId()
	return Result{RowsAffected: n, LastInsertID: id}, nil
}

// classify wraps a statement failure and marks the connection unhealthy
// when its protocol state can no longer be trusted.
func (db *DB) classify(ctx, sctx context.Context, lease *pool.Lease, s *Statement, op string, err error) error {
	switch {
	case ctx.Err() != nil:
		lease.MarkUnhealthy()
		if !errors.Is(err, ctx.Err()) {
			err = ctx.Err()
		}
	case errors.Is(sctx.Err(), context.DeadlineExceeded):
		lease.MarkUnhealthy()
		err = &StatementTimeoutError{Timeout: db.opts.StatementTimeout}
	case retryable(err):
		lease.MarkUnhealthy()
	}
	return &ExecutionError{Op: op, Table: s.Table, SQL: s.SQL, Err: err}
}

func (db *DB) observe(ctx context.Context, s *Statement, start time.Time, err error) {
	d := time.Since(start)
	slow := db.opts.SlowThreshold > 0 && d > db.opts.SlowThreshold
	db.stats.record(s.IsRead(), d, slow, err)
	if slow {
		db.logger.WarnContext(ctx, "slow statement",
			"op", s.Kind.String(), "table", s.Table, "sql", s.SQL, "duration", d)
	}
	db.logger.DebugContext(ctx, "statement",
		"op", s.Kind.String(), "table", s.Table, "sql", s.SQL, "duration", d, "error", err)
}

func (db *DB) invalidate(ctx context.Context, table string) {
	if db.opts.Cache == nil || table == "" {
		return
	}
	if err := db.opts.Cache.DeletePrefix(ctx, rcache.TablePrefix(table)); err != nil {
		db.logger.WarnContext(ctx, "cannot invalidate cached results", "table", table, "error", err)
	}
}

func (db *DB) resultCache() (Cache, time.Duration) {
	return db.opts.Cache, db.opts.CacheTTL
}
