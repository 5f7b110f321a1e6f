package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"bikeetl/internal/storage"
)

func boolPtr(v bool) *bool { return &v }

func stagingSpec(name string) storage.TableSpec {
	return storage.TableSpec{
		Name:       name,
		PrimaryKey: &storage.PrimaryKeySpec{Name: storage.SeqColumn, Type: "bigserial"},
		Columns: []storage.ColumnSpec{
			{Name: "Rental_Id", Type: "BIGINT", Nullable: boolPtr(false)},
			{Name: "StartStation_Name", Type: "TEXT"},
			{Name: storage.SourceFileColumn, Type: "TEXT", Nullable: boolPtr(false)},
		},
	}
}

func openTemp(t *testing.T) storage.Sink {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "staging.db")
	s, err := New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn, BatchSize: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestBuildCreateTableSQL(t *testing.T) {
	t.Parallel()

	ddl, err := buildCreateTableSQL(stagingSpec("bike_rentals_schema1"))
	if err != nil {
		t.Fatalf("buildCreateTableSQL: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "bike_rentals_schema1"`,
		`"Staging_Seq" INTEGER PRIMARY KEY AUTOINCREMENT`,
		`"Rental_Id" INTEGER NOT NULL`,
		`"StartStation_Name" TEXT`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}
	if strings.Contains(ddl, `"StartStation_Name" TEXT NOT NULL`) {
		t.Fatalf("nullable column rendered NOT NULL:\n%s", ddl)
	}
}

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	q, args := buildInsertSQL("t", []string{"a", "b"}, [][]any{{1, "x"}, {2, nil}})
	if q != `INSERT INTO "t" ("a", "b") VALUES (?,?), (?,?)` {
		t.Fatalf("q=%s", q)
	}
	if len(args) != 4 || args[3] != nil {
		t.Fatalf("args=%v", args)
	}
}

func TestSink_RoundTripPreservesOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTemp(t)
	spec := stagingSpec("bike_rentals_schema1")

	if err := s.CreateTableIfAbsent(ctx, spec); err != nil {
		t.Fatalf("CreateTableIfAbsent: %v", err)
	}
	// Second call is a no-op.
	if err := s.CreateTableIfAbsent(ctx, spec); err != nil {
		t.Fatalf("CreateTableIfAbsent again: %v", err)
	}

	cols := []string{"Rental_Id", "StartStation_Name", storage.SourceFileColumn}
	rows := [][]any{
		{int64(30), "Hyde Park", "a.csv"},
		{int64(10), nil, "a.csv"},
		{int64(20), "Soho", "a.csv"},
	}
	n, err := s.AppendRows(ctx, spec.Name, cols, rows)
	if err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	if n != 3 {
		t.Fatalf("appended=%d, want 3", n)
	}

	got, err := s.ReadRows(ctx, spec.Name, []string{"Rental_Id", "StartStation_Name"}, storage.SeqColumn)
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("rows=%d, want 3", len(got))
	}
	for i, want := range []string{"30", "10", "20"} {
		if storage.NormalizeKey(got[i][0]) != want {
			t.Fatalf("row %d id=%v, want %s", i, got[i][0], want)
		}
	}
	if got[1][1] != nil {
		t.Fatalf("NULL not preserved: %#v", got[1][1])
	}

	if err := s.Truncate(ctx, spec.Name); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	got, err = s.ReadRows(ctx, spec.Name, []string{"Rental_Id"}, storage.SeqColumn)
	if err != nil {
		t.Fatalf("ReadRows after truncate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("rows after truncate=%d", len(got))
	}
}

// A failure in a later batch must roll back the batches already sent.
func TestSink_AppendIsAllOrNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTemp(t)
	spec := stagingSpec("bike_rentals_schema3")
	if err := s.CreateTableIfAbsent(ctx, spec); err != nil {
		t.Fatalf("CreateTableIfAbsent: %v", err)
	}

	cols := []string{"Rental_Id", "StartStation_Name", storage.SourceFileColumn}
	rows := [][]any{
		{int64(1), "a", "f.csv"},
		{int64(2), "b", "f.csv"},
		{nil, "c", "f.csv"}, // violates NOT NULL in the second batch
	}
	if _, err := s.AppendRows(ctx, spec.Name, cols, rows); err == nil {
		t.Fatalf("expected NOT NULL violation")
	}

	got, err := s.ReadRows(ctx, spec.Name, []string{"Rental_Id"}, storage.SeqColumn)
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("partial append visible: %d rows", len(got))
	}
}

func TestSink_RegisteredKind(t *testing.T) {
	t.Parallel()

	dsn := filepath.Join(t.TempDir(), "k.db")
	s, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	s.Close()
}
