package transformer

import (
	"errors"
	"fmt"
	"testing"

	"bikeetl/internal/catalog"
	"bikeetl/internal/parser/csv"
)

var schema2Header = []string{
	"Number", "Start date", "Start station number", "Start station",
	"End date", "End station number", "End station", "Bike number",
	"Bike model", "Total duration", "Total duration (ms)",
}

func normalized(t *testing.T, def catalog.Schema, header []string, rows [][]string) *Table {
	t.Helper()
	lines := make([]int, len(rows))
	for i := range lines {
		lines[i] = i + 2
	}
	tbl, err := Normalize(def, "test.csv", &csv.Table{Header: header, Rows: rows, Lines: lines})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return tbl
}

func TestNormalize_RenamesAndPassesThrough(t *testing.T) {
	t.Parallel()

	def, _ := catalog.Default().Lookup(catalog.Schema2)
	header := append(append([]string(nil), schema2Header...), "Weather")
	tbl := normalized(t, def, header, nil)

	for _, col := range []string{"Number", "Start_station_number", "Total_duration_ms", "Bike_model", "Weather"} {
		if tbl.Index(col) < 0 {
			t.Fatalf("missing column %q in %v", col, tbl.Columns)
		}
	}
	if tbl.Index("Total duration (ms)") >= 0 {
		t.Fatalf("raw name must be renamed away")
	}
	if tbl.Schema != catalog.Schema2 {
		t.Fatalf("Schema=%s", tbl.Schema)
	}
}

func TestNormalize_PreservesRowCountAndOrder(t *testing.T) {
	t.Parallel()

	def, _ := catalog.Default().Lookup(catalog.Schema2)
	rows := make([][]string, 50)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("R%d", i), "", "", "", "", "", "", "B", "", "", "1000"}
	}
	tbl := normalized(t, def, schema2Header, rows)

	if tbl.Len() != len(rows) {
		t.Fatalf("len=%d, want %d", tbl.Len(), len(rows))
	}
	for i := range rows {
		if tbl.Rows[i][0] != fmt.Sprintf("R%d", i) {
			t.Fatalf("row %d out of order: %v", i, tbl.Rows[i])
		}
		if tbl.Lines[i] != i+2 {
			t.Fatalf("line %d=%d", i, tbl.Lines[i])
		}
	}
}

func TestNormalize_MissingRenameSource(t *testing.T) {
	t.Parallel()

	def, _ := catalog.Default().Lookup(catalog.Schema2)
	header := schema2Header[:len(schema2Header)-1] // drop "Total duration (ms)"

	_, err := Normalize(def, "f.csv", &csv.Table{Header: header})
	var mc *MissingColumnError
	if !errors.As(err, &mc) {
		t.Fatalf("expected *MissingColumnError, got %v", err)
	}
	if mc.Column != "Total duration (ms)" || mc.File != "f.csv" {
		t.Fatalf("unexpected error: %+v", mc)
	}
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("must match ErrMissingColumn")
	}
}

func TestNormalize_MissingRequiredPassThroughField(t *testing.T) {
	t.Parallel()

	// Schema 1's Duration is not renamed, so only the required-field check catches it.
	def, _ := catalog.Default().Lookup(catalog.Schema1)
	header := []string{"Rental Id", "Bike Id", "End Date", "EndStation Id",
		"EndStation Name", "Start Date", "StartStation Id", "StartStation Name"}

	_, err := Normalize(def, "f.csv", &csv.Table{Header: header})
	var mc *MissingColumnError
	if !errors.As(err, &mc) || mc.Column != "Duration" {
		t.Fatalf("expected missing Duration, got %v", err)
	}
}

func TestNormalize_DuplicateAfterRename(t *testing.T) {
	t.Parallel()

	def, _ := catalog.Default().Lookup(catalog.Schema3)
	header := []string{"Rental Id", "Rental_Id", "Duration", "Bike Id", "End Date",
		"EndStation Name", "Start Date", "StartStation Id", "StartStation Name"}

	_, err := Normalize(def, "f.csv", &csv.Table{Header: header})
	if !errors.Is(err, ErrDuplicateColumn) {
		t.Fatalf("expected ErrDuplicateColumn, got %v", err)
	}
}

func TestNormalize_ToleratesRepeatedExtraColumns(t *testing.T) {
	t.Parallel()

	def, _ := catalog.Default().Lookup(catalog.Schema3)
	header := []string{"Rental Id", "Duration", "Bike Id", "End Date",
		"EndStation Name", "Start Date", "StartStation Id", "StartStation Name",
		"", "", "Weather", "Weather"}

	tbl := normalized(t, def, header, nil)

	want := []string{"Unnamed: 8", "Unnamed: 9", "Weather", "Weather.1"}
	for i, w := range want {
		if got := tbl.Columns[8+i]; got != w {
			t.Fatalf("columns[%d]=%q, want %q (all: %v)", 8+i, got, w, tbl.Columns)
		}
	}
	if tbl.Index("Rental_Id") != 0 || tbl.Index("StartStation_Name") != 7 {
		t.Fatalf("canonical columns misplaced: %v", tbl.Columns)
	}
}
