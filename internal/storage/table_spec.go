// TableSpec lives here so the ingestion driver and backend packages can share it
// without import cycles.
package storage

import (
	"fmt"
	"strings"
)

type TableSpec struct {
	Name       string          `json:"name"`
	PrimaryKey *PrimaryKeySpec `json:"primary_key,omitempty"`
	Columns    []ColumnSpec    `json:"columns"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // "serial" | "bigserial"
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // portable: "BIGINT" | "TEXT"
	Nullable *bool  `json:"nullable,omitempty"`
}

// IsNullable reports the column's nullability; columns default to nullable.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

// Validate checks the parts every backend relies on.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("%s: no columns", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		if strings.TrimSpace(t.PrimaryKey.Name) == "" {
			return fmt.Errorf("%s: primary key name is empty", t.Name)
		}
		seen[strings.ToLower(t.PrimaryKey.Name)] = struct{}{}
	}
	for _, c := range t.Columns {
		n := strings.ToLower(strings.TrimSpace(c.Name))
		if n == "" {
			return fmt.Errorf("%s: column name is empty", t.Name)
		}
		if strings.TrimSpace(c.Type) == "" {
			return fmt.Errorf("%s: column %s type is empty", t.Name, c.Name)
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%s: duplicate column %s", t.Name, c.Name)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// ValidateRows checks that every row has one value per column.
func ValidateRows(table string, columns []string, rows [][]any) error {
	if len(columns) == 0 {
		return fmt.Errorf("append %s: columns empty", table)
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return fmt.Errorf("append %s: row %d has %d values, want %d", table, i, len(r), len(columns))
		}
	}
	return nil
}
