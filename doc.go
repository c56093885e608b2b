// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package sqlrec maps Go structs to single table SQL statements, runs them over a bounded connection pool and decodes the rows back into structs.

Caller values never appear in SQL text.
Every value is passed to the driver as a parameter, and table and column names come only from record definitions, which are validated when they are built.

# Records

A record is a struct whose fields carry a `db` tag:

	type Person struct {
		ID      int64     `db:"id,pk,auto"`
		Name    string    `db:"name"`
		Email   *string   `db:"email"`
		Bio     string    `db:"bio,compress,nullable"`
		Created time.Time `db:"created,readonly"`
	}

The first tag element is the column name. The options are:

  - pk: part of the primary key.
  - auto: assigned by the database; not written on insert while zero.
  - readonly: not written by UpdateRecord unless named.
  - nullable: NULL is read as the zero value. Pointer and sql.Null* fields are nullable without it.
  - compress: large values are stored compressed. Only text and blob columns can be compressed, and they cannot be filtered on. Compressed blob fields need a binary column. Compressed text fields are stored in base64 form on MySQL and PostgreSQL, so a text column holds them.
  - omitempty: not written on insert while zero.

The table name is returned by a TableName method when the type has one, and is otherwise the pluralised snake case of the type name ("people" for Person).
Definitions can also be registered without tags with Register, which is what recordgen generated code does.

# Statements

Statements are built from a record type and a predicate tree:

	people, err := sqlrec.Find[Person](ctx, db, sqlrec.SelectQuery{
		Where:   sqlrec.And(sqlrec.HasPrefix("name", "A"), sqlrec.NotNull("email")),
		OrderBy: []sqlrec.Order{sqlrec.Desc("created")},
		Limit:   10,
	})

An empty In list matches no rows.
Updates and deletes without a predicate are refused unless AllowUnconditional is passed.

# Execution

A [DB] leases a connection from its pool for each statement, or for the lifetime of the [Rows] of a query.
Read statements that fail with a transport error before returning a row are retried once on another connection; other statements are never retried.
A statement that runs longer than the statement timeout fails and its connection is dropped.

A [Tx] keeps its connection until it is committed or rolled back.
Any statement error inside a transaction rolls it back.
[DB.InTx] runs a function inside a transaction and commits it when the function succeeds.
*/
package sqlrec
