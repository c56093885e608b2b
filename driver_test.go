// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.
package sqlrec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper sql.Driver over the SQLite driver which can
// be told to fail the next statements of a test with driver.ErrBadConn, as
// a dropped network connection would, and which counts the statements that
// reached the database.

// pendingFaults holds the number of statements still to fail, and
// queriesRun and execsRun the statements run, indexed by test name. The
// registryMutex must be used when accessing them.
var pendingFaults = map[string]int{}
var queriesRun = map[string]int{}
var execsRun = map[string]int{}
var registryMutex sync.Mutex

const testNameTag = "testName"

func injectFaults(testName string, n int) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	pendingFaults[testName] += n
}

func statementsRun(testName string) (queries, execs int) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	return queriesRun[testName], execsRun[testName]
}

// run reports whether a statement of the test may run, and counts it if
// so.
func run(testName string, counts map[string]int) bool {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if pendingFaults[testName] > 0 {
		pendingFaults[testName]--
		return false
	}
	counts[testName]++
	return true
}

type Driver struct {
	driver.Driver
}

type Conn struct {
	testName string
	*sqlite3.SQLiteConn
}

func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if !run(c.testName, queriesRun) {
		return nil, driver.ErrBadConn
	}
	return c.SQLiteConn.QueryContext(ctx, query, args)
}

func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if !run(c.testName, execsRun) {
		return nil, driver.ErrBadConn
	}
	return c.SQLiteConn.ExecContext(ctx, query, args)
}

// Open expects the DSN to contain the test name using the testNameTag
// attribute.
func (d *Driver) Open(name string) (driver.Conn, error) {
	var testName string
	parameters := strings.Split(name, "?")[1]
	for _, p := range strings.Split(parameters, "&") {
		if strings.HasPrefix(p, testNameTag) {
			testName = strings.Split(p, "=")[1]
		}
	}
	if testName == "" {
		panic("internal error: testName is not found in the db DSN")
	}

	baseConn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	if baseConn, ok := baseConn.(*sqlite3.SQLiteConn); ok {
		return &Conn{SQLiteConn: baseConn, testName: testName}, nil
	}
	panic("internal error: base driver is not SQLite")
}

func init() {
	sql.Register("sqlite3_faulty", &Driver{
		&sqlite3.SQLiteDriver{},
	})
}
