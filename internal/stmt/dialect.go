// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package stmt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Dialect describes the SQL syntax differences between the supported
// databases.
type Dialect struct {
	// Name is the name of the dialect, which is also the database/sql
	// driver name.
	Name string

	quote       bool
	numbered    bool
	quoteIdent  func(string) string
	likeEscape  string
	noLimit     string
	emptyInsert string

	// binaryText is set when text columns accept arbitrary bytes.
	binaryText bool
}

var (
	// MySQL uses "?" placeholders and backtick quoting.
	MySQL = Dialect{
		Name:        "mysql",
		quoteIdent:  func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
		noLimit:     "18446744073709551615",
		emptyInsert: "() VALUES ()",
	}

	// SQLite uses "?" placeholders and double quote quoting.
	SQLite = Dialect{
		Name:        "sqlite3",
		quoteIdent:  func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
		likeEscape:  ` ESCAPE '\'`,
		noLimit:     "-1",
		emptyInsert: "DEFAULT VALUES",
		binaryText:  true,
	}

	// Postgres uses numbered "$n" placeholders.
	Postgres = Dialect{
		Name:        "postgres",
		numbered:    true,
		quoteIdent:  pq.QuoteIdentifier,
		noLimit:     "ALL",
		emptyInsert: "DEFAULT VALUES",
	}
)

// DialectFor returns the dialect with the given name. "sqlite" is accepted
// as an alias of "sqlite3", and "pgx" or "pq" of "postgres".
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq", "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unknown dialect %q", name)
}

// Quoted returns a copy of d that quotes every identifier.
func (d Dialect) Quoted() Dialect {
	d.quote = true
	return d
}

// Ident renders a table or column name.
func (d Dialect) Ident(name string) string {
	if d.quote {
		return d.quoteIdent(name)
	}
	return name
}

// Placeholder renders the nth (1-based) parameter placeholder.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}
