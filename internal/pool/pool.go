// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pool bounds and leases the connections of a *sql.DB.
//
// database/sql already keeps an idle set and reopens broken connections. The
// pool adds a hard bound on concurrent leases with a wait timeout, exclusive
// ownership of a connection per lease, and the ability to drop a connection
// that may be in an unknown protocol state.
package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is matched by TimeoutError.
var ErrTimeout = errors.New("sqlrec: pool acquire timed out")

// TimeoutError is returned by Acquire when no connection became available
// within the acquire timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("sqlrec: no connection available after %s", e.Timeout)
}

// Is reports whether err is ErrTimeout.
func (e *TimeoutError) Is(err error) bool { return err == ErrTimeout }

// Config holds the pool bounds.
type Config struct {
	// MaxOpen is the maximum number of live connections, and therefore of
	// concurrent leases.
	MaxOpen int

	// MaxIdle is the number of connections kept open while unused.
	MaxIdle int

	// MaxIdleTime closes connections that have been idle for longer.
	MaxIdleTime time.Duration

	// MaxLifetime closes connections older than this when they are
	// returned.
	MaxLifetime time.Duration

	// AcquireTimeout bounds the time Acquire waits for a connection. A
	// negative timeout waits until the context is done.
	AcquireTimeout time.Duration
}

// DefaultConfig is used for zero fields of the Config passed to New.
var DefaultConfig = Config{
	MaxOpen:        10,
	MaxIdle:        2,
	MaxIdleTime:    5 * time.Minute,
	AcquireTimeout: 5 * time.Second,
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	MaxOpen  int
	InUse    int64
	Acquired int64
	Timeouts int64
	Dropped  int64
	DB       sql.DBStats
}

// Pool hands out exclusive leases on the connections of a *sql.DB.
type Pool struct {
	db     *sql.DB
	sem    *semaphore.Weighted
	cfg    Config
	logger *slog.Logger

	inUse    atomic.Int64
	acquired atomic.Int64
	timeouts atomic.Int64
	dropped  atomic.Int64
}

// New returns a pool over db and applies the bounds of cfg to it. Zero
// fields of cfg take their value from DefaultConfig.
func New(db *sql.DB, cfg Config, logger *slog.Logger) *Pool {
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = DefaultConfig.MaxOpen
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = DefaultConfig.MaxIdle
	}
	if cfg.MaxIdle > cfg.MaxOpen {
		cfg.MaxIdle = cfg.MaxOpen
	}
	if cfg.MaxIdleTime == 0 {
		cfg.MaxIdleTime = DefaultConfig.MaxIdleTime
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = DefaultConfig.AcquireTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	return &Pool{
		db:     db,
		sem:    semaphore.NewWeighted(int64(cfg.MaxOpen)),
		cfg:    cfg,
		logger: logger,
	}
}

// DB returns the underlying database handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Acquire waits for a free connection and leases it to the caller, who
// must Release it. It fails with a *TimeoutError once the acquire timeout
// elapses, or with the context error if ctx is done first.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	actx := ctx
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	if err := p.sem.Acquire(actx, 1); err != nil {
		return nil, p.acquireErr(ctx, err)
	}
	conn, err := p.db.Conn(actx)
	if err != nil {
		p.sem.Release(1)
		return nil, p.acquireErr(ctx, err)
	}
	p.acquired.Add(1)
	p.inUse.Add(1)
	return &Lease{pool: p, conn: conn}, nil
}

func (p *Pool) acquireErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		p.timeouts.Add(1)
		return &TimeoutError{Timeout: p.cfg.AcquireTimeout}
	}
	return err
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		MaxOpen:  p.cfg.MaxOpen,
		InUse:    p.inUse.Load(),
		Acquired: p.acquired.Load(),
		Timeouts: p.timeouts.Load(),
		Dropped:  p.dropped.Load(),
		DB:       p.db.Stats(),
	}
}

// Close closes the underlying database handle.
func (p *Pool) Close() error {
	return p.db.Close()
}

// Lease is the exclusive use of one connection.
type Lease struct {
	pool      *Pool
	conn      *sql.Conn
	released  atomic.Bool
	unhealthy atomic.Bool
}

// Conn returns the leased connection. It must not be used after Release.
func (l *Lease) Conn() *sql.Conn {
	return l.conn
}

// MarkUnhealthy causes the connection to be discarded instead of returned
// to the idle set on Release.
func (l *Lease) MarkUnhealthy() {
	l.unhealthy.Store(true)
}

// Unhealthy reports whether the lease was marked unhealthy.
func (l *Lease) Unhealthy() bool {
	return l.unhealthy.Load()
}

// Release returns the connection to the pool, or closes it if the lease is
// unhealthy. Only the first call has an effect.
func (l *Lease) Release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	p := l.pool
	if l.unhealthy.Load() {
		// Reporting ErrBadConn from Raw makes database/sql close the
		// driver connection rather than keep it idle.
		_ = l.conn.Raw(func(any) error { return driver.ErrBadConn })
		p.dropped.Add(1)
		p.logger.Warn("dropped unhealthy connection")
	}
	_ = l.conn.Close()
	p.inUse.Add(-1)
	p.sem.Release(1)
}
