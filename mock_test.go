// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlrec_test

import (
	"context"
	"errors"

	"github.com/DATA-DOG/go-sqlmock"
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlrec"
)

type MockSuite struct{}

var _ = Suite(&MockSuite{})

type Widget struct {
	ID   int64  `db:"id,pk,auto"`
	Name string `db:"name"`
	Qty  int    `db:"qty"`
}

func mockDB(c *C) (*sqlrec.DB, sqlmock.Sqlmock) {
	sqldb, mock, err := sqlmock.New()
	c.Assert(err, IsNil)
	db, err := sqlrec.NewDB(sqldb, "sqlite3", sqlrec.Options{Logger: discard})
	c.Assert(err, IsNil)
	return db, mock
}

func (s *MockSuite) TestStatementErrorRollsBackTransaction(c *C) {
	db, mock := mockDB(c)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("^INSERT INTO widgets").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	tx, err := db.Begin(ctx, nil)
	c.Assert(err, IsNil)
	_, err = sqlrec.Insert(ctx, tx, &Widget{Name: "bolt", Qty: 3})
	c.Assert(err, ErrorMatches, `sqlrec: insert on widgets failed: disk full \[INSERT INTO widgets.*\]`)
	c.Check(errors.Is(err, sqlrec.ErrExecution), Equals, true)

	_, err = sqlrec.Insert(ctx, tx, &Widget{Name: "nut"})
	c.Check(errors.Is(err, sqlrec.ErrTxDone), Equals, true)
	c.Check(tx.Commit(), Equals, sqlrec.ErrTxDone)
	c.Check(tx.Close(), IsNil)
	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *MockSuite) TestExecutionErrorOmitsParameters(c *C) {
	db, mock := mockDB(c)
	defer db.Close()

	mock.ExpectExec("^UPDATE widgets").WillReturnError(errors.New("locked"))

	_, err := sqlrec.Update[Widget](context.Background(), db,
		sqlrec.Eq("name", "secret-name"), []sqlrec.Assignment{sqlrec.Set("qty", 41)})
	c.Assert(err, NotNil)
	c.Check(err.Error(), Not(Matches), ".*secret-name.*")
	c.Check(err.Error(), Not(Matches), ".*41.*")
	var execErr *sqlrec.ExecutionError
	c.Assert(errors.As(err, &execErr), Equals, true)
	c.Check(execErr.Op, Equals, "update")
	c.Check(execErr.Table, Equals, "widgets")
	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *MockSuite) TestInTxCommits(c *C) {
	db, mock := mockDB(c)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("^SELECT .* FROM widgets").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "qty"}).AddRow(int64(7), "bolt", int64(2)))
	mock.ExpectExec("^UPDATE widgets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.InTx(context.Background(), nil, func(ctx context.Context, tx *sqlrec.Tx) error {
		w, err := sqlrec.Get[Widget](ctx, tx, int64(7))
		if err != nil {
			return err
		}
		c.Check(w, DeepEquals, Widget{ID: 7, Name: "bolt", Qty: 2})
		w.Qty++
		n, err := sqlrec.UpdateRecord(ctx, tx, &w, "qty")
		c.Check(n, Equals, int64(1))
		return err
	})
	c.Assert(err, IsNil)
	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *MockSuite) TestInTxRollsBackOnError(c *C) {
	db, mock := mockDB(c)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	failure := errors.New("validation failed")
	err := db.InTx(context.Background(), nil, func(ctx context.Context, tx *sqlrec.Tx) error {
		return failure
	})
	c.Check(err, Equals, failure)
	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *MockSuite) TestInTxRollsBackOnPanic(c *C) {
	db, mock := mockDB(c)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	c.Check(func() {
		_ = db.InTx(context.Background(), nil, func(ctx context.Context, tx *sqlrec.Tx) error {
			panic("boom")
		})
	}, PanicMatches, "boom")
	c.Check(mock.ExpectationsWereMet(), IsNil)
	c.Check(db.Stats().Pool.InUse, Equals, int64(0))
}

func (s *MockSuite) TestNestedTransaction(c *C) {
	db, mock := mockDB(c)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	var id string
	err := db.InTx(context.Background(), nil, func(ctx context.Context, tx *sqlrec.Tx) error {
		id = tx.ID()
		open, ok := sqlrec.TxFromContext(ctx)
		c.Check(ok, Equals, true)
		c.Check(open, Equals, tx)
		return db.InTx(ctx, nil, func(context.Context, *sqlrec.Tx) error {
			c.Error("nested transaction begun")
			return nil
		})
	})
	c.Assert(err, ErrorMatches, "sqlrec: cannot begin a transaction inside open transaction "+id)
	c.Check(errors.Is(err, sqlrec.ErrNestedTransaction), Equals, true)
	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *MockSuite) TestEndedTransactionAllowsNewOne(c *C) {
	db, mock := mockDB(c)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()

	var carrier context.Context
	err := db.InTx(context.Background(), nil, func(ctx context.Context, tx *sqlrec.Tx) error {
		carrier = ctx
		return nil
	})
	c.Assert(err, IsNil)
	_, ok := sqlrec.TxFromContext(carrier)
	c.Check(ok, Equals, false)

	stop := errors.New("stop")
	err = db.InTx(carrier, nil, func(ctx context.Context, tx *sqlrec.Tx) error {
		return stop
	})
	c.Check(err, Equals, stop)
	c.Check(mock.ExpectationsWereMet(), IsNil)
}

func (s *MockSuite) TestCommitFailure(c *C) {
	db, mock := mockDB(c)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	tx, err := db.Begin(context.Background(), nil)
	c.Assert(err, IsNil)
	err = tx.Commit()
	c.Check(err, ErrorMatches, "sqlrec: commit failed: serialization failure")
	c.Check(errors.Is(err, sqlrec.ErrExecution), Equals, true)
	c.Check(tx.Close(), IsNil)
	c.Check(db.Stats().Pool.InUse, Equals, int64(0))
	c.Check(mock.ExpectationsWereMet(), IsNil)
}
