// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// demo runs a short session against the SQLite database described by a YAML
// configuration file, or against a temporary one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/canonical/sqlrec"
)

type Person struct {
	ID       int64  `db:"id,pk,auto"`
	Name     string `db:"name"`
	Height   int    `db:"height_cm"`
	HomeTown string `db:"home_town"`
}

func (Person) TableName() string { return "people" }

type Place struct {
	Name       string `db:"town_name,pk"`
	Population int    `db:"population"`
}

func (Place) TableName() string { return "location" }

const schema = `
CREATE TABLE people (
	id integer PRIMARY KEY AUTOINCREMENT,
	name text,
	height_cm integer,
	home_town text
);
CREATE TABLE location (
	town_name text PRIMARY KEY,
	population integer
);`

func example(ctx context.Context, db *sqlrec.DB) error {
	var people = []Person{{0, "Jim", 150, "Kabul"}, {0, "Saba", 162, "Berlin"}, {0, "Dave", 169, "Brasília"}, {0, "Sophie", 174, "Berlin"}, {0, "Kiri", 168, "Cape Town"}}
	var places = []Place{{"Kabul", 13000000}, {"Berlin", 3677472}, {"Brasília", 3039444}, {"Cape Town", 4710000}}

	if _, err := db.PlainDB().ExecContext(ctx, schema); err != nil {
		return err
	}

	// Insert the people and places in one transaction.
	err := db.InTx(ctx, nil, func(ctx context.Context, tx *sqlrec.Tx) error {
		if _, err := sqlrec.InsertAll(ctx, tx, people); err != nil {
			return err
		}
		_, err := sqlrec.InsertAll(ctx, tx, places)
		return err
	})
	if err != nil {
		return err
	}

	// Stream the people taller than Jim.
	jim := people[0]
	rec, err := sqlrec.RecordOf[Person]()
	if err != nil {
		return err
	}
	s, err := db.Builder().Select(rec, sqlrec.SelectQuery{
		Where:   sqlrec.Gt("height_cm", jim.Height),
		OrderBy: []sqlrec.Order{sqlrec.Asc("height_cm")},
	})
	if err != nil {
		return err
	}
	rows, err := db.Query(ctx, s)
	if err != nil {
		return err
	}
	defer rows.Close()
	var hometowns []any
	for rows.Next() {
		var p Person
		if err := rows.Decode(&p); err != nil {
			return err
		}
		fmt.Printf("%s is taller than %s.\n", p.Name, jim.Name)
		hometowns = append(hometowns, p.HomeTown)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	tallCities, err := sqlrec.Find[Place](ctx, db, sqlrec.SelectQuery{
		Where:   sqlrec.In("town_name", hometowns...),
		OrderBy: []sqlrec.Order{sqlrec.Desc("population")},
	})
	if err != nil {
		return err
	}
	fmt.Printf("This is a list of cities with people taller than Jim: %v\n", tallCities)

	// Join every person to their home town.
	placeRec, err := sqlrec.RecordOf[Place]()
	if err != nil {
		return err
	}
	s, err = db.Builder().Select(rec, sqlrec.SelectQuery{
		Alias:   "p",
		Joins:   []sqlrec.Join{sqlrec.InnerJoin(placeRec, "l", sqlrec.EqField("p.home_town", "l.town_name"))},
		OrderBy: []sqlrec.Order{sqlrec.Desc("l.population"), sqlrec.Asc("p.name")},
	})
	if err != nil {
		return err
	}
	rows, err = db.Query(ctx, s)
	if err != nil {
		return err
	}
	for rows.Next() {
		var p Person
		var l Place
		if err := rows.Decode(&p, &l); err != nil {
			return err
		}
		fmt.Printf("%s lives in %s, population %d.\n", p.Name, l.Name, l.Population)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	n, err := sqlrec.Update[Place](ctx, db, sqlrec.Eq("town_name", "Berlin"),
		[]sqlrec.Assignment{sqlrec.Set("population", 3755251)})
	if err != nil {
		return err
	}
	fmt.Printf("Updated %d place.\n", n)

	page, err := sqlrec.Page[Person](ctx, db, sqlrec.SelectQuery{
		OrderBy: []sqlrec.Order{sqlrec.Asc("name")},
	}, 1, 2)
	if err != nil {
		return err
	}
	fmt.Printf("Page %d of %d: %v\n", page.Page, page.Pages(), page.Items)

	// Names are unique by construction, so a duplicate insert is reported
	// as a constraint error.
	_, err = sqlrec.Insert(ctx, db, &Place{Name: "Kabul"})
	if !sqlrec.IsUniqueConstraintError(err) {
		return errors.New("expected a constraint error inserting Kabul twice")
	}

	fmt.Println(db.Stats())
	return nil
}

func run() error {
	configPath := flag.String("config", "", "YAML configuration of a SQLite database; a temporary one is used if empty")
	debug := flag.Bool("debug", false, "log every statement")
	flag.Parse()

	var cfg sqlrec.Config
	if *configPath != "" {
		var err error
		if cfg, err = sqlrec.LoadConfig(*configPath); err != nil {
			return err
		}
	} else {
		dir, err := os.MkdirTemp("", "sqlrec-demo")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		cfg = sqlrec.Config{Dialect: "sqlite3", Database: filepath.Join(dir, "demo.db")}
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	db, err := sqlrec.Open(ctx, cfg, func(o *sqlrec.Options) { o.Logger = logger })
	if err != nil {
		return err
	}
	defer db.Close()
	return example(ctx, db)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "demo:", err)
		os.Exit(1)
	}
}
