package transformer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"bikeetl/internal/catalog"
)

var ErrMalformedRow = errors.New("malformed row")

// MalformedRowError reports a row that failed type coercion. Row is the 0-based
// data row index within File and Line the CSV record number. Row is -1 and Line
// is 0 when the position in File is unknown.
type MalformedRowError struct {
	File   string
	Row    int
	Line   int
	Column string
	Value  string
	Reason string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("%s: row %d (line %d): column %s=%q: %s", e.File, e.Row, e.Line, e.Column, e.Value, e.Reason)
}

func (e *MalformedRowError) Unwrap() error { return ErrMalformedRow }

type colPlan struct {
	field  catalog.Field
	src    int
	coerce func(dst *any, s string) bool
}

type plan struct {
	cols []colPlan
}

// compilePlan resolves each staging field to its column in t once per file.
func compilePlan(def catalog.Schema, t *Table) plan {
	p := plan{cols: make([]colPlan, len(def.Fields))}
	for i, f := range def.Fields {
		cp := colPlan{field: f, src: t.Index(f.Name), coerce: coerceText}
		if f.Kind == catalog.KindInt {
			cp.coerce = coerceInt
		}
		p.cols[i] = cp
	}
	return p
}

// Coerce converts a normalized table into typed rows in def.Fields order.
//
// Empty cells become nil. A row with an empty required field or a non-numeric
// integer cell is skipped and reported; every other row is returned in input
// order.
func Coerce(def catalog.Schema, t *Table) ([]Row, []*MalformedRowError) {
	p := compilePlan(def, t)

	rows := make([]Row, 0, t.Len())
	var bad []*MalformedRowError

	for ri, rec := range t.Rows {
		line := 0
		if ri < len(t.Lines) {
			line = t.Lines[ri]
		}

		v := make([]any, len(p.cols))
		var rowErr *MalformedRowError
		for ci, cp := range p.cols {
			s := ""
			if cp.src >= 0 && cp.src < len(rec) {
				s = strings.TrimSpace(rec[cp.src])
			}
			if s == "" {
				if cp.field.Required {
					rowErr = &MalformedRowError{File: t.File, Row: ri, Line: line, Column: cp.field.Name, Reason: "required value is empty"}
					break
				}
				v[ci] = nil
				continue
			}
			if !cp.coerce(&v[ci], s) {
				rowErr = &MalformedRowError{File: t.File, Row: ri, Line: line, Column: cp.field.Name, Value: s, Reason: "not an integer"}
				break
			}
		}

		if rowErr != nil {
			bad = append(bad, rowErr)
			continue
		}
		rows = append(rows, Row{V: v, Index: ri, Line: line})
	}
	return rows, bad
}

func coerceText(dst *any, s string) bool {
	*dst = s
	return true
}

// coerceInt accepts plain integers and integral floats ("1380.0"), which some
// exports write for integer columns that contain gaps.
func coerceInt(dst *any, s string) bool {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*dst = n
		return true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return false
	}
	*dst = int64(f)
	return true
}
