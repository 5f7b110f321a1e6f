// Package catalog is the static registry of the historical rental export layouts.
//
// Each Schema describes one export era: the raw columns that identify it, how raw
// headers map onto canonical staging columns, the staging column types, and how
// staged rows project onto the unified record shape. Detection, normalization and
// merge are all driven by this data, so supporting a new layout means adding a
// catalog entry and nothing else.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCatalog is returned by New when the schema set is inconsistent or
// would make detection ambiguous.
var ErrInvalidCatalog = errors.New("catalog: invalid schema set")

// ID identifies a historical schema. Values are stable and used in table names,
// logs and metrics.
type ID int

const (
	Schema1 ID = 1
	Schema2 ID = 2
	Schema3 ID = 3
)

func (id ID) String() string { return fmt.Sprintf("schema%d", int(id)) }

// FieldKind is the staging type of a canonical column.
type FieldKind int

const (
	KindText FieldKind = iota
	KindInt
)

// SQLType returns a portable column type used for staging DDL.
func (k FieldKind) SQLType() string {
	if k == KindInt {
		return "BIGINT"
	}
	return "TEXT"
}

// Field is one canonical staging column.
type Field struct {
	Name string
	Kind FieldKind
	// Required fields must be present in the file header and non-empty in every row.
	Required bool
}

// DurationUnit is the native unit of a schema's duration column.
type DurationUnit int

const (
	Seconds DurationUnit = iota
	Milliseconds
)

// Projection names the canonical column feeding each unified field.
// An empty name means the field is structurally absent and stays NULL.
type Projection struct {
	RentalID         string
	Duration         string
	DurationUnit     DurationUnit
	BikeID           string
	EndDate          string
	EndStationID     string
	EndStationName   string
	StartDate        string
	StartStationID   string
	StartStationName string
}

// Schema is one immutable catalog entry.
type Schema struct {
	ID    ID
	Table string

	// Discriminating must all be present in a header for the schema to match.
	Discriminating []string

	// Columns is the documented raw header of the export. It is not enforced
	// column-by-column.
	Columns []string

	// Rename maps raw header names to canonical staging names.
	Rename map[string]string

	// Fields is the ordered staging column list.
	Fields []Field

	Projection Projection
}

// FieldNames returns the staging column names in order.
func (s Schema) FieldNames() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Catalog is an ordered, validated set of schemas. Order is detection priority.
type Catalog struct {
	schemas []Schema
	byID    map[ID]int
}

// New validates schemas and returns a catalog preserving their declared order.
func New(schemas ...Schema) (*Catalog, error) {
	if len(schemas) == 0 {
		return nil, fmt.Errorf("%w: no schemas", ErrInvalidCatalog)
	}

	c := &Catalog{
		schemas: make([]Schema, 0, len(schemas)),
		byID:    make(map[ID]int, len(schemas)),
	}
	tables := map[string]ID{}

	for _, s := range schemas {
		if err := validateSchema(s); err != nil {
			return nil, err
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidCatalog, s.ID)
		}
		key := strings.ToLower(s.Table)
		if other, dup := tables[key]; dup {
			return nil, fmt.Errorf("%w: %s and %s share table %q", ErrInvalidCatalog, other, s.ID, s.Table)
		}
		for _, earlier := range c.schemas {
			if isSubset(earlier.Discriminating, s.Discriminating) {
				return nil, fmt.Errorf(
					"%w: %s can never be detected, its discriminating columns include all of %s's",
					ErrInvalidCatalog, s.ID, earlier.ID,
				)
			}
		}
		tables[key] = s.ID
		c.byID[s.ID] = len(c.schemas)
		c.schemas = append(c.schemas, s)
	}
	return c, nil
}

func validateSchema(s Schema) error {
	if s.ID <= 0 {
		return fmt.Errorf("%w: schema id must be positive, got %d", ErrInvalidCatalog, int(s.ID))
	}
	if strings.TrimSpace(s.Table) == "" {
		return fmt.Errorf("%w: %s has no table", ErrInvalidCatalog, s.ID)
	}
	if len(s.Discriminating) == 0 {
		return fmt.Errorf("%w: %s has no discriminating columns", ErrInvalidCatalog, s.ID)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: %s has no fields", ErrInvalidCatalog, s.ID)
	}

	cols := toSet(s.Columns)
	for _, d := range s.Discriminating {
		if _, ok := cols[d]; !ok {
			return fmt.Errorf("%w: %s discriminating column %q not in columns", ErrInvalidCatalog, s.ID, d)
		}
	}
	for raw := range s.Rename {
		if _, ok := cols[raw]; !ok {
			return fmt.Errorf("%w: %s rename source %q not in columns", ErrInvalidCatalog, s.ID, raw)
		}
	}

	fields := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if _, dup := fields[f.Name]; dup {
			return fmt.Errorf("%w: %s duplicate field %q", ErrInvalidCatalog, s.ID, f.Name)
		}
		fields[f.Name] = struct{}{}
	}

	p := s.Projection
	if p.RentalID == "" || p.Duration == "" {
		return fmt.Errorf("%w: %s projection needs rental id and duration", ErrInvalidCatalog, s.ID)
	}
	for _, src := range []string{
		p.RentalID, p.Duration, p.BikeID, p.EndDate, p.EndStationID,
		p.EndStationName, p.StartDate, p.StartStationID, p.StartStationName,
	} {
		if src == "" {
			continue
		}
		if _, ok := fields[src]; !ok {
			return fmt.Errorf("%w: %s projection source %q is not a field", ErrInvalidCatalog, s.ID, src)
		}
	}
	return nil
}

// Schemas returns the entries in detection priority order.
func (c *Catalog) Schemas() []Schema {
	out := make([]Schema, len(c.schemas))
	copy(out, c.schemas)
	return out
}

// Lookup returns the schema registered under id.
func (c *Catalog) Lookup(id ID) (Schema, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Schema{}, false
	}
	return c.schemas[i], true
}

func toSet(xs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		out[x] = struct{}{}
	}
	return out
}

// isSubset reports whether every element of sub is in super.
func isSubset(sub, super []string) bool {
	set := toSet(super)
	for _, x := range sub {
		if _, ok := set[x]; !ok {
			return false
		}
	}
	return true
}
