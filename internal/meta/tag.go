// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package meta

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// validColNameRx matches the column and table names that may appear as
// literal identifiers in generated SQL.
var validColNameRx = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z_0-9]*$`)

// tagOptions holds the options of a "db" struct tag.
type tagOptions struct {
	pk        bool
	auto      bool
	readOnly  bool
	nullable  bool
	compress  bool
	omitEmpty bool
}

// parseTag parses the input tag string and returns its column name and
// options.
func parseTag(tag string) (string, tagOptions, error) {
	var opts tagOptions
	parts := strings.Split(tag, ",")

	name := parts[0]
	if len(name) == 0 {
		return "", opts, errors.New("empty db tag")
	}
	if !validColNameRx.MatchString(name) {
		return "", opts, errors.Errorf("invalid column name %q in 'db' tag", name)
	}

	for _, opt := range parts[1:] {
		switch strings.ToLower(strings.TrimSpace(opt)) {
		case "pk":
			opts.pk = true
		case "auto":
			opts.auto = true
		case "readonly":
			opts.readOnly = true
		case "nullable":
			opts.nullable = true
		case "compress":
			opts.compress = true
		case "omitempty":
			opts.omitEmpty = true
		default:
			return "", opts, errors.Errorf("unexpected tag value %q", opt)
		}
	}
	return name, opts, nil
}

// ValidIdentifier reports whether name may be used as a table or column name.
func ValidIdentifier(name string) bool {
	return validColNameRx.MatchString(name)
}

// ParseTag returns the definition described by a "db" tag. The Field of the
// result is left empty.
func ParseTag(tag string) (FieldDef, error) {
	name, opts, err := parseTag(tag)
	if err != nil {
		return FieldDef{}, err
	}
	return FieldDef{
		Column:    name,
		PK:        opts.pk,
		Auto:      opts.auto,
		ReadOnly:  opts.readOnly,
		Nullable:  opts.nullable,
		Compress:  opts.compress,
		OmitEmpty: opts.omitEmpty,
	}, nil
}
