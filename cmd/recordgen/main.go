// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// recordgen writes the record registrations of the struct types annotated
// with a //sqlrec:table directive in Go source files. Each file.go with
// annotated types gets a file_sqlrec.go next to it.
//
// It is meant to be run from go generate:
//
//	//go:generate go run github.com/canonical/sqlrec/cmd/recordgen
//
// in which case the file holding the directive is processed.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/canonical/sqlrec/internal/gen"
)

var verbose = flag.Bool("v", false, "report the files written")

func main() {
	log.SetFlags(0)
	log.SetPrefix("recordgen: ")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: recordgen [-v] [file.go ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		file := os.Getenv("GOFILE")
		if file == "" {
			flag.Usage()
			os.Exit(2)
		}
		files = []string{file}
	}
	for _, path := range files {
		if strings.HasSuffix(path, "_sqlrec.go") {
			continue
		}
		out, err := gen.File(path)
		if err != nil {
			log.Fatal(err)
		}
		if out != "" && *verbose {
			log.Printf("wrote %s", out)
		}
	}
}
