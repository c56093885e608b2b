// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlrec

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/canonical/sqlrec/internal/pool"
)

// TxOptions holds the transaction options to be used in DB.Begin.
type TxOptions struct {
	// Isolation is the transaction isolation level.
	// If zero, the driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (txopts *TxOptions) plainTxOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}

// Tx is a transaction holding one pooled connection until it ends. A
// statement error inside the transaction rolls it back, after which every
// call returns ErrTxDone.
type Tx struct {
	db    *DB
	lease *pool.Lease
	sqltx *sql.Tx
	id    string
	done  atomic.Bool

	mu sync.Mutex
	// tables holds the tables mutated by the transaction.
	tables map[string]struct{}
}

type txKey struct{}

// TxFromContext returns the open transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*Tx)
	if !ok || tx.done.Load() {
		return nil, false
	}
	return tx, true
}

// Begin starts a transaction on a connection of its own. A transaction
// must be ended with Commit or Rollback; Close may be deferred to roll back
// a transaction that did not end.
//
// Begin fails with a NestedTransactionError if ctx carries an open
// transaction.
func (db *DB) Begin(ctx context.Context, opts *TxOptions) (*Tx, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if open, ok := TxFromContext(ctx); ok {
		return nil, &NestedTransactionError{Open: open.id}
	}
	lease, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	sqltx, err := lease.Conn().BeginTx(ctx, opts.plainTxOptions())
	if err != nil {
		err = db.classify(ctx, ctx, lease, &Statement{}, "begin", err)
		lease.Release()
		return nil, err
	}
	tx := &Tx{
		db:     db,
		lease:  lease,
		sqltx:  sqltx,
		id:     uuid.NewString(),
		tables: make(map[string]struct{}),
	}
	db.logger.DebugContext(ctx, "transaction begun", "tx", tx.id)
	return tx, nil
}

// ID returns the id of the transaction in log records.
func (tx *Tx) ID() string {
	return tx.id
}

// Builder returns the statement builder of the database.
func (tx *Tx) Builder() *Builder {
	return tx.db.builder
}

// Query runs a statement returning rows inside the transaction. The rows
// must be closed before the next statement is run.
func (tx *Tx) Query(ctx context.Context, s Statement) (*Rows, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.done.Load() {
		return nil, ErrTxDone
	}
	rows, err := tx.db.queryOn(ctx, tx.sqltx, tx.lease, s, func(err error) {
		if err != nil {
			tx.abort(ctx, err)
		} else if !s.IsRead() {
			tx.touch(s.Table)
		}
	})
	if err != nil {
		tx.abort(ctx, err)
		return nil, err
	}
	return rows, nil
}

// Exec runs a statement inside the transaction.
func (tx *Tx) Exec(ctx context.Context, s Statement) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.done.Load() {
		return Result{}, ErrTxDone
	}
	res, err := tx.db.execOn(ctx, tx.sqltx, tx.lease, s)
	if err != nil {
		tx.abort(ctx, err)
		return Result{}, err
	}
	if !s.IsRead() {
		tx.touch(s.Table)
	}
	return res, nil
}

func (tx *Tx) touch(table string) {
	tx.mu.Lock()
	tx.tables[table] = struct{}{}
	tx.mu.Unlock()
}

// Commit commits the transaction and releases its connection.
func (tx *Tx) Commit() error {
	if !tx.done.CompareAndSwap(false, true) {
		return ErrTxDone
	}
	start := time.Now()
	err := tx.sqltx.Commit()
	tx.lease.Release()
	if err != nil {
		tx.db.logger.Warn("transaction commit failed", "tx", tx.id, "error", err)
		return &ExecutionError{Op: "commit", Err: err}
	}
	tx.db.logger.Debug("transaction committed", "tx", tx.id, "duration", time.Since(start))
	ctx := context.Background()
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for table := range tx.tables {
		tx.db.invalidate(ctx, table)
	}
	return nil
}

// Rollback aborts the transaction and releases its connection.
func (tx *Tx) Rollback() error {
	if !tx.done.CompareAndSwap(false, true) {
		return ErrTxDone
	}
	return tx.rollback()
}

// Close rolls the transaction back unless it already ended.
func (tx *Tx) Close() error {
	if !tx.done.CompareAndSwap(false, true) {
		return nil
	}
	tx.db.logger.Warn("transaction closed while open, rolling back", "tx", tx.id)
	return tx.rollback()
}

func (tx *Tx) rollback() error {
	err := tx.sqltx.Rollback()
	tx.lease.Release()
	if err != nil {
		return &ExecutionError{Op: "rollback", Err: err}
	}
	tx.db.logger.Debug("transaction rolled back", "tx", tx.id)
	return nil
}

// abort rolls back the transaction after a statement failed.
func (tx *Tx) abort(ctx context.Context, cause error) {
	if !tx.done.CompareAndSwap(false, true) {
		return
	}
	tx.db.logger.WarnContext(ctx, "statement failed, rolling back transaction", "tx", tx.id, "error", cause)
	if err := tx.rollback(); err != nil {
		tx.db.logger.WarnContext(ctx, "rollback failed", "tx", tx.id, "error", err)
	}
}

func (tx *Tx) resultCache() (Cache, time.Duration) {
	// Reads inside a transaction may see uncommitted rows.
	return nil, 0
}

// InTx runs fn inside a transaction, which is committed if fn returns nil
// and rolled back otherwise. A panic in fn rolls back the transaction and
// is propagated. The context passed to fn carries the transaction, so that
// beginning another transaction with it fails.
func (db *DB) InTx(ctx context.Context, opts *TxOptions, fn func(ctx context.Context, tx *Tx) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := db.Begin(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Close()
			panic(p)
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		if cerr := tx.Close(); cerr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, cerr)
		}
		return err
	}
	return tx.Commit()
}
