// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package gen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/sqlrec/internal/meta"
)

const source = `package model

import "time"

//sqlrec:table people
type Person struct {
	ID      int64     ` + "`db:\"id,pk,auto\"`" + `
	Name    string    ` + "`db:\"name\"`" + `
	Bio     string    ` + "`db:\"bio,compress,nullable\"`" + `
	Created time.Time ` + "`db:\"created,readonly\"`" + `
	Ignored string    ` + "`db:\"-\"`" + `
	scratch int
}

// Address is derived from its type name.
//
//sqlrec:table
type Address struct {
	ID     int64  ` + "`db:\"id,pk\"`" + `
	Street string ` + "`db:\"street,omitempty\"`" + `
}

// Plain is not annotated.
type Plain struct {
	ID int64 ` + "`db:\"id\"`" + `
}

//sqlrec:tables
type Lookalike struct {
	ID int64 ` + "`db:\"id\"`" + `
}
`

func TestParse(t *testing.T) {
	pkg, recs, err := Parse("model.go", []byte(source))
	require.NoError(t, err)
	assert.Equal(t, "model", pkg)
	require.Len(t, recs, 2)

	assert.Equal(t, Record{
		Name:  "Person",
		Table: "people",
		Fields: []meta.FieldDef{
			{Field: "ID", Column: "id", PK: true, Auto: true},
			{Field: "Name", Column: "name"},
			{Field: "Bio", Column: "bio", Compress: true, Nullable: true},
			{Field: "Created", Column: "created", ReadOnly: true},
		},
	}, recs[0])
	assert.Equal(t, Record{
		Name: "Address",
		Fields: []meta.FieldDef{
			{Field: "ID", Column: "id", PK: true},
			{Field: "Street", Column: "street", OmitEmpty: true},
		},
	}, recs[1])
}

const embedded = `package model

//sqlrec:table orders
type Order struct {
	ID int64 ` + "`db:\"id,pk,auto\"`" + `
	Audit
	*Owner
	audit
}

type Audit struct {
	Created string ` + "`db:\"created_at,readonly\"`" + `
	Stamp
}

type Stamp struct {
	By string ` + "`db:\"created_by\"`" + `
}

type Owner struct {
	Name string ` + "`db:\"owner\"`" + `
}

type audit struct {
	Note string ` + "`db:\"note\"`" + `
}
`

func TestParseEmbedded(t *testing.T) {
	_, recs, err := Parse("model.go", []byte(embedded))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []meta.FieldDef{
		{Field: "ID", Column: "id", PK: true, Auto: true},
		{Field: "Created", Column: "created_at", ReadOnly: true},
		{Field: "By", Column: "created_by"},
		{Field: "Note", Column: "note"},
	}, recs[0].Fields)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		err  string
	}{{
		name: "not a struct",
		src:  "package p\n//sqlrec:table ids\ntype IDs []int\n",
		err:  `.*IDs is not a struct type`,
	}, {
		name: "bad table",
		src:  "package p\n//sqlrec:table a-b\ntype T struct {\n\tA int `db:\"a\"`\n}\n",
		err:  `.*invalid table name "a-b" for T`,
	}, {
		name: "bad tag",
		src:  "package p\n//sqlrec:table ts\ntype T struct {\n\tA int `db:\"a,unique\"`\n}\n",
		err:  `.*T: field A: unexpected tag value "unique"`,
	}, {
		name: "unexported",
		src:  "package p\n//sqlrec:table ts\ntype T struct {\n\ta int `db:\"a\"`\n}\n",
		err:  `.*T: field a has a db tag but is not exported`,
	}, {
		name: "duplicate column",
		src:  "package p\n//sqlrec:table ts\ntype T struct {\n\tA int `db:\"a\"`\n\tB int `db:\"a\"`\n}\n",
		err:  `.*T: column "a" appears more than once`,
	}, {
		name: "embedded from another file",
		src:  "package p\n//sqlrec:table ts\ntype T struct {\n\tBase\n\tA int `db:\"a\"`\n}\n",
		err:  `.*T: embedded field Base needs a db tag or a struct type declared in this file`,
	}, {
		name: "embedded from another package",
		src:  "package p\nimport \"time\"\n//sqlrec:table ts\ntype T struct {\n\ttime.Time\n\tA int `db:\"a\"`\n}\n",
		err:  `.*T: embedded field Time needs a db tag or a struct type declared in this file`,
	}, {
		name: "embedded duplicate column",
		src:  "package p\ntype B struct {\n\tA int `db:\"a\"`\n}\n//sqlrec:table ts\ntype T struct {\n\tB\n\tC int `db:\"a\"`\n}\n",
		err:  `.*T: column "a" appears more than once`,
	}, {
		name: "no fields",
		src:  "package p\n//sqlrec:table ts\ntype T struct {\n\tA int\n}\n",
		err:  `.*T has no mapped fields`,
	}, {
		name: "syntax",
		src:  "package p\ntype T struct {",
		err:  `.*expected.*`,
	}}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := Parse("p.go", []byte(test.src))
			assert.Regexp(t, "^"+test.err+"$", err)
		})
	}
}

func TestGenerate(t *testing.T) {
	_, recs, err := Parse("model.go", []byte(source))
	require.NoError(t, err)

	code := Generate("model", recs).GoString()
	assert.Contains(t, code, "// Code generated by recordgen. DO NOT EDIT.")
	assert.Contains(t, code, "package model")
	assert.Contains(t, code, `"github.com/canonical/sqlrec"`)
	assert.Contains(t, code, "func init() {")
	assert.Contains(t, code, `sqlrec.MustRegister[Person]("people", []sqlrec.FieldDef{`)
	assert.Contains(t, code, `sqlrec.MustRegister[Address]("", []sqlrec.FieldDef{`)
	assert.Regexp(t, `Column:\s+"bio",\s+Compress:\s+true,\s+Field:\s+"Bio",\s+Nullable:\s+true`, code)
	assert.Regexp(t, `Column:\s+"street",\s+Field:\s+"Street",\s+OmitEmpty:\s+true`, code)
	assert.NotContains(t, code, "Ignored")
	assert.NotContains(t, code, "scratch")
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.go")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))

	out, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model_sqlrec.go"), out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `sqlrec.MustRegister[Person]("people"`)

	plain := filepath.Join(dir, "plain.go")
	require.NoError(t, os.WriteFile(plain, []byte("package model\n\ntype Plain struct{}\n"), 0o644))
	out, err = File(plain)
	require.NoError(t, err)
	assert.Empty(t, out)
	_, err = os.Stat(OutputPath(plain))
	assert.True(t, os.IsNotExist(err))

	_, err = File(filepath.Join(dir, "missing.go"))
	assert.Error(t, err)
}
