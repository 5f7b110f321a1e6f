// Package transformer turns raw rental exports into canonical, typed staging rows.
//
// Normalize renames columns according to the catalog and never drops or reorders
// rows. Coerce projects a normalized table onto the schema's staging fields and
// is the only place a row can be rejected.
package transformer

import (
	"errors"
	"fmt"
	"strconv"

	"bikeetl/internal/catalog"
	"bikeetl/internal/parser/csv"
)

var (
	ErrMissingColumn   = errors.New("missing column")
	ErrDuplicateColumn = errors.New("duplicate column")
)

// MissingColumnError reports a rename source or required field absent from a
// file's header.
type MissingColumnError struct {
	File   string
	Schema catalog.ID
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: %s requires column %q", e.File, e.Schema, e.Column)
}

func (e *MissingColumnError) Unwrap() error { return ErrMissingColumn }

// Table is a raw table after renaming. Cells are still strings; Rows and Lines are
// positionally identical to the source csv.Table.
type Table struct {
	Schema  catalog.ID
	File    string
	Columns []string
	Rows    [][]string
	Lines   []int

	index map[string]int
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of a canonical column or -1.
func (t *Table) Index(col string) int {
	if i, ok := t.index[col]; ok {
		return i
	}
	return -1
}

// Normalize applies def's rename map to raw. Columns outside the map pass through
// unchanged, except that an empty header becomes "Unnamed: <i>" and a repeated
// pass-through name gets a ".<n>" suffix. A repeat of a rename target or staging
// field is an ErrDuplicateColumn. Row data is shared with raw, not copied.
func Normalize(def catalog.Schema, file string, raw *csv.Table) (*Table, error) {
	if raw == nil {
		return nil, fmt.Errorf("normalize %s: nil table", file)
	}

	header := catalog.CleanHeader(raw.Header)
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[h] = struct{}{}
	}
	for src := range def.Rename {
		if _, ok := present[src]; !ok {
			return nil, &MissingColumnError{File: file, Schema: def.ID, Column: src}
		}
	}

	t := &Table{
		Schema:  def.ID,
		File:    file,
		Columns: make([]string, len(header)),
		Rows:    raw.Rows,
		Lines:   raw.Lines,
		index:   make(map[string]int, len(header)),
	}
	canonical := canonicalNames(def)
	for i, h := range header {
		name := h
		if c, ok := def.Rename[h]; ok {
			name = c
		}
		if _, dup := t.index[name]; dup {
			if _, ok := canonical[name]; ok {
				return nil, fmt.Errorf("%s: %w %q after rename", file, ErrDuplicateColumn, name)
			}
		}
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		name = uniqueName(t.index, name)
		t.Columns[i] = name
		t.index[name] = i
	}

	for _, f := range def.Fields {
		if f.Required && t.Index(f.Name) < 0 {
			return nil, &MissingColumnError{File: file, Schema: def.ID, Column: f.Name}
		}
	}
	return t, nil
}

func canonicalNames(def catalog.Schema) map[string]struct{} {
	out := make(map[string]struct{}, len(def.Rename)+len(def.Fields))
	for _, c := range def.Rename {
		out[c] = struct{}{}
	}
	for _, f := range def.Fields {
		out[f.Name] = struct{}{}
	}
	return out
}

func uniqueName(taken map[string]int, name string) string {
	if _, ok := taken[name]; !ok {
		return name
	}
	for n := 1; ; n++ {
		c := name + "." + strconv.Itoa(n)
		if _, ok := taken[c]; !ok {
			return c
		}
	}
}
