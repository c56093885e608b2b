// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package meta

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/go-openapi/inflect"
	"github.com/pkg/errors"

	"github.com/canonical/sqlrec/internal/value"
)

var cacheMutex sync.RWMutex
var cache = make(map[reflect.Type]*Record)

// Tabler is implemented by record types that name their own table.
type Tabler interface {
	TableName() string
}

// For returns the Record of a given struct type, generating and caching
// it as required.
func For(typ reflect.Type) (*Record, error) {
	if typ == nil {
		return nil, fmt.Errorf("cannot reflect nil type")
	}
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	cacheMutex.RLock()
	r, found := cache[typ]
	cacheMutex.RUnlock()
	if found {
		return r, nil
	}

	r, err := generate(typ)
	if err != nil {
		return nil, err
	}

	cacheMutex.Lock()
	defer cacheMutex.Unlock()
	// Another caller may have generated or registered the type meanwhile.
	if prev, ok := cache[typ]; ok {
		return prev, nil
	}
	cache[typ] = r
	return r, nil
}

// Of returns the Record of T.
func Of[T any]() (*Record, error) {
	return For(reflect.TypeOf((*T)(nil)).Elem())
}

// Register installs r as the Record of its type, replacing any Record
// generated from struct tags.
func Register(r *Record) {
	cacheMutex.Lock()
	cache[r.Type] = r
	cacheMutex.Unlock()
}

// FieldDef declares the mapping of one struct field.
type FieldDef struct {
	Field     string
	Column    string
	PK        bool
	Auto      bool
	ReadOnly  bool
	Nullable  bool
	Compress  bool
	OmitEmpty bool
}

// Define builds the Record of T from explicit field definitions instead of
// struct tags. The result is not cached; see Register.
func Define[T any](table string, defs []FieldDef) (*Record, error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("can only define struct types, got %s", typ)
	}
	fields := make([]*Field, 0, len(defs))
	for _, def := range defs {
		sf, ok := typ.FieldByName(def.Field)
		if !ok {
			return nil, fmt.Errorf("type %s has no field %q", typ, def.Field)
		}
		if !ValidIdentifier(def.Column) {
			return nil, fmt.Errorf("invalid column name %q for field %s", def.Column, def.Field)
		}
		kind, nullable, ok := value.KindOf(sf.Type)
		if !ok {
			return nil, fmt.Errorf("field %s.%s: unsupported type %s", typ.Name(), sf.Name, sf.Type)
		}
		fields = append(fields, &Field{
			Name:      sf.Name,
			Column:    def.Column,
			Index:     sf.Index,
			Type:      sf.Type,
			Kind:      kind,
			Nullable:  nullable || def.Nullable,
			PK:        def.PK,
			Auto:      def.Auto,
			ReadOnly:  def.ReadOnly,
			Compress:  def.Compress,
			OmitEmpty: def.OmitEmpty,
		})
	}
	if table == "" {
		table = tableName(typ)
	}
	return newRecord(typ, table, fields)
}

// generate produces the Record of a struct type from its "db" tags.
func generate(typ reflect.Type) (*Record, error) {
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("can only reflect struct type, got %s", typ)
	}
	var fields []*Field
	if err := collect(typ, nil, &fields); err != nil {
		return nil, errors.Wrapf(err, "reflecting %s", typ)
	}
	return newRecord(typ, tableName(typ), fields)
}

// collect appends the tagged fields of typ to fields, descending into
// untagged embedded structs.
func collect(typ reflect.Type, index []int, fields *[]*Field) error {
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		idx := append(append([]int(nil), index...), i)

		tag, hasTag := sf.Tag.Lookup("db")
		if !hasTag && sf.Anonymous && sf.Type.Kind() == reflect.Struct {
			if err := collect(sf.Type, idx, fields); err != nil {
				return err
			}
			continue
		}
		// Fields without a "db" tag are not mapped.
		if !hasTag || tag == "-" {
			continue
		}
		if !sf.IsExported() {
			return errors.Errorf("field %s has a db tag but is not exported", sf.Name)
		}

		column, opts, err := parseTag(tag)
		if err != nil {
			return errors.Wrapf(err, "field %s", sf.Name)
		}
		kind, nullable, ok := value.KindOf(sf.Type)
		if !ok {
			return errors.Errorf("field %s: unsupported type %s", sf.Name, sf.Type)
		}
		*fields = append(*fields, &Field{
			Name:      sf.Name,
			Column:    column,
			Index:     idx,
			Type:      sf.Type,
			Kind:      kind,
			Nullable:  nullable || opts.nullable,
			PK:        opts.pk,
			Auto:      opts.auto,
			ReadOnly:  opts.readOnly,
			Compress:  opts.compress,
			OmitEmpty: opts.omitEmpty,
		})
	}
	return nil
}

// tableName returns the TableName of typ if it has one, or the pluralised
// snake case of its type name.
func tableName(typ reflect.Type) string {
	if t, ok := reflect.New(typ).Interface().(Tabler); ok {
		return t.TableName()
	}
	return inflect.Underscore(inflect.Pluralize(typ.Name()))
}
