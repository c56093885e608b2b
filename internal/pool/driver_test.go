// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper over the SQLite driver which counts the
// driver connections opened and closed, so tests can tell whether the pool
// reused or discarded a connection.

type countingDriver struct {
	opened atomic.Int64
	closed atomic.Int64
}

type countingConn struct {
	*sqlite3.SQLiteConn
	d *countingDriver
}

func (c *countingConn) Close() error {
	c.d.closed.Add(1)
	return c.SQLiteConn.Close()
}

func (d *countingDriver) Open(name string) (driver.Conn, error) {
	conn, err := (&sqlite3.SQLiteDriver{}).Open(name)
	if err != nil {
		return nil, err
	}
	sc, ok := conn.(*sqlite3.SQLiteConn)
	if !ok {
		panic(fmt.Sprintf("internal error: base driver is not SQLite, got %T", conn))
	}
	d.opened.Add(1)
	return &countingConn{SQLiteConn: sc, d: d}, nil
}

type countingConnector struct {
	d *countingDriver
}

func (c countingConnector) Connect(context.Context) (driver.Conn, error) {
	return c.d.Open(":memory:")
}

func (c countingConnector) Driver() driver.Driver {
	return c.d
}

func openCounting() (*sql.DB, *countingDriver) {
	d := &countingDriver{}
	return sql.OpenDB(countingConnector{d: d}), d
}
