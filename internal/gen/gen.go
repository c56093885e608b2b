// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package gen generates record registrations for the struct types of a Go
// source file annotated with a directive of the form
//
//	//sqlrec:table people
//
// The generated file registers the record definitions when the package is
// initialised, so that struct tags are not reflected at run time. The table
// name may be omitted, in which case it is derived from the type as for
// tagged structs. Untagged embedded structs contribute their fields, as with
// tag reflection, and must be declared in the same file.
package gen

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/dave/jennifer/jen"
	"github.com/pkg/errors"

	"github.com/canonical/sqlrec/internal/meta"
)

const (
	directive  = "//sqlrec:table"
	sqlrecPath = "github.com/canonical/sqlrec"
)

// Record is an annotated struct type.
type Record struct {
	Name   string
	Table  string
	Fields []meta.FieldDef
}

// Parse returns the package name and the annotated records of a Go source
// file. The filename is only used in error messages.
func Parse(filename string, src []byte) (string, []Record, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return "", nil, err
	}
	type annotated struct {
		spec  *ast.TypeSpec
		table string
	}
	var (
		todo    []annotated
		structs = make(map[string]*ast.StructType)
	)
	for _, decl := range f.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts := spec.(*ast.TypeSpec)
			if st, ok := ts.Type.(*ast.StructType); ok && ts.TypeParams == nil {
				structs[ts.Name.Name] = st
			}
			doc := ts.Doc
			if doc == nil && len(gd.Specs) == 1 {
				doc = gd.Doc
			}
			if table, ok := tableDirective(doc); ok {
				todo = append(todo, annotated{ts, table})
			}
		}
	}
	// Embedded structs may be declared after the records using them.
	var recs []Record
	for _, a := range todo {
		rec, err := record(a.spec, a.table, structs)
		if err != nil {
			return "", nil, errors.Wrapf(err, "%s", fset.Position(a.spec.Pos()))
		}
		recs = append(recs, rec)
	}
	return f.Name.Name, recs, nil
}

func tableDirective(doc *ast.CommentGroup) (string, bool) {
	if doc == nil {
		return "", false
	}
	for _, c := range doc.List {
		rest, ok := strings.CutPrefix(c.Text, directive)
		if !ok {
			continue
		}
		if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
			continue
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}

func record(ts *ast.TypeSpec, table string, structs map[string]*ast.StructType) (Record, error) {
	name := ts.Name.Name
	st, ok := ts.Type.(*ast.StructType)
	if !ok {
		return Record{}, errors.Errorf("%s is not a struct type", name)
	}
	if ts.TypeParams != nil {
		return Record{}, errors.Errorf("%s is a generic type", name)
	}
	if table != "" && !meta.ValidIdentifier(table) {
		return Record{}, errors.Errorf("invalid table name %q for %s", table, name)
	}
	c := collector{structs: structs, columns: make(map[string]bool)}
	if err := c.collect(st, map[string]bool{name: true}); err != nil {
		return Record{}, errors.Wrapf(err, "%s", name)
	}
	if len(c.defs) == 0 {
		return Record{}, errors.Errorf("%s has no mapped fields", name)
	}
	return Record{Name: name, Table: table, Fields: c.defs}, nil
}

// collector gathers the field definitions of a struct type, descending into
// untagged embedded structs as tag reflection does at run time.
type collector struct {
	structs map[string]*ast.StructType
	columns map[string]bool
	defs    []meta.FieldDef
}

func (c *collector) collect(st *ast.StructType, visiting map[string]bool) error {
	for _, field := range st.Fields.List {
		tag, hasTag := dbTag(field)
		if !hasTag && len(field.Names) == 0 {
			if err := c.embedded(field.Type, visiting); err != nil {
				return err
			}
			continue
		}
		if !hasTag || tag == "-" {
			continue
		}
		names := field.Names
		if len(names) == 0 {
			names = []*ast.Ident{ast.NewIdent(embeddedName(field.Type))}
		}
		if len(names) > 1 {
			return errors.Errorf("fields %s share a db tag", names[0].Name)
		}
		fieldName := names[0].Name
		if !ast.IsExported(fieldName) {
			return errors.Errorf("field %s has a db tag but is not exported", fieldName)
		}
		def, err := meta.ParseTag(tag)
		if err != nil {
			return errors.Wrapf(err, "field %s", fieldName)
		}
		if c.columns[def.Column] {
			return errors.Errorf("column %q appears more than once", def.Column)
		}
		c.columns[def.Column] = true
		def.Field = fieldName
		c.defs = append(c.defs, def)
	}
	return nil
}

// embedded collects the fields of an untagged embedded field of type expr.
// Embedded pointers are not mapped. Struct types must be declared in the
// file being generated so that their fields are known.
func (c *collector) embedded(expr ast.Expr, visiting map[string]bool) error {
	if _, ok := expr.(*ast.StarExpr); ok {
		return nil
	}
	id, ok := expr.(*ast.Ident)
	if !ok {
		return errors.Errorf("embedded field %s needs a db tag or a struct type declared in this file", embeddedName(expr))
	}
	st, ok := c.structs[id.Name]
	if !ok {
		return errors.Errorf("embedded field %s needs a db tag or a struct type declared in this file", id.Name)
	}
	if visiting[id.Name] {
		return errors.Errorf("embedded field %s is recursive", id.Name)
	}
	visiting[id.Name] = true
	defer delete(visiting, id.Name)
	return errors.Wrapf(c.collect(st, visiting), "embedded field %s", id.Name)
}

func dbTag(field *ast.Field) (string, bool) {
	if field.Tag == nil {
		return "", false
	}
	raw, err := strconv.Unquote(field.Tag.Value)
	if err != nil {
		return "", false
	}
	return reflect.StructTag(raw).Lookup("db")
}

func embeddedName(expr ast.Expr) string {
	switch x := expr.(type) {
	case *ast.Ident:
		return x.Name
	case *ast.StarExpr:
		return embeddedName(x.X)
	case *ast.SelectorExpr:
		return x.Sel.Name
	}
	return "?"
}

// Generate returns the file of package pkg registering recs.
func Generate(pkg string, recs []Record) *jen.File {
	f := jen.NewFile(pkg)
	f.HeaderComment("Code generated by recordgen. DO NOT EDIT.")
	f.Func().Id("init").Params().BlockFunc(func(g *jen.Group) {
		for _, r := range recs {
			g.Qual(sqlrecPath, "MustRegister").Types(jen.Id(r.Name)).Call(
				jen.Lit(r.Table),
				jen.Index().Qual(sqlrecPath, "FieldDef").ValuesFunc(func(g *jen.Group) {
					for _, def := range r.Fields {
						g.Values(fieldDict(def))
					}
				}),
			)
		}
	})
	return f
}

func fieldDict(def meta.FieldDef) jen.Dict {
	d := jen.Dict{
		jen.Id("Field"):  jen.Lit(def.Field),
		jen.Id("Column"): jen.Lit(def.Column),
	}
	for name, set := range map[string]bool{
		"PK":        def.PK,
		"Auto":      def.Auto,
		"ReadOnly":  def.ReadOnly,
		"Nullable":  def.Nullable,
		"Compress":  def.Compress,
		"OmitEmpty": def.OmitEmpty,
	} {
		if set {
			d[jen.Id(name)] = jen.True()
		}
	}
	return d
}

// OutputPath returns the path of the file generated for the source file at
// path.
func OutputPath(path string) string {
	return strings.TrimSuffix(path, ".go") + "_sqlrec.go"
}

// File generates the registrations for the source file at path and writes
// them to OutputPath(path). It returns the path written, or "" if the file
// has no annotated records.
func File(path string) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	pkg, recs, err := Parse(path, src)
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", nil
	}
	out := OutputPath(path)
	if err := Generate(pkg, recs).Save(out); err != nil {
		return "", errors.Wrapf(err, "writing %s", out)
	}
	return out, nil
}
