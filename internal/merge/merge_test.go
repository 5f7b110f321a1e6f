package merge

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"bikeetl/internal/catalog"
	"bikeetl/internal/ingest"
	"bikeetl/internal/storage"
	"bikeetl/internal/storage/memory"
)

func TestMillisToSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ms   int64
		want int64
	}{
		{ms: 0, want: 0},
		{ms: 499, want: 0},
		{ms: 500, want: 1},
		{ms: 125000, want: 125},
		{ms: 125499, want: 125},
		{ms: 125500, want: 126},
		{ms: 126500, want: 127},
		{ms: -1500, want: -2},
		{ms: -1499, want: -1},
	}
	for _, tc := range tests {
		if got := millisToSeconds(tc.ms); got != tc.want {
			t.Fatalf("millisToSeconds(%d)=%d, want %d", tc.ms, got, tc.want)
		}
	}
}

func valid(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

// stage creates the staging tables and appends rows (without Source_File) per schema.
func stage(t *testing.T, rows map[catalog.ID][][]any) storage.Sink {
	t.Helper()
	ctx := context.Background()
	sink := memory.New()
	for _, def := range catalog.Default().Schemas() {
		require.NoError(t, sink.CreateTableIfAbsent(ctx, ingest.StagingTable(def)))
		var vals [][]any
		for _, r := range rows[def.ID] {
			vals = append(vals, append(append([]any(nil), r...), def.Table+".csv"))
		}
		if len(vals) == 0 {
			continue
		}
		_, err := sink.AppendRows(ctx, def.Table, ingest.StagingColumns(def), vals)
		require.NoError(t, err)
	}
	return sink
}

func TestUnify_EndToEnd(t *testing.T) {
	t.Parallel()

	sink := stage(t, map[catalog.ID][][]any{
		catalog.Schema3: {
			{int64(300), int64(45), int64(9), nil, "Angel", nil, int64(40), "Bank"},
		},
		catalog.Schema1: {
			{int64(100), int64(600), int64(7), "01/01/2019 00:10", int64(12), "Hyde Park", "01/01/2019 00:00", int64(34), "Soho"},
			{int64(101), int64(60), int64(8), nil, nil, nil, nil, nil, nil},
		},
		catalog.Schema2: {
			{"A1", "2023-01-01 10:00", "001", "Bank", "2023-01-01 10:02", "002", "Soho", "B9", "CLASSIC", "2m 5s", int64(125499)},
			{"A2", nil, "003", nil, nil, "004", nil, "B8", nil, nil, int64(125500)},
			{"A3", nil, nil, nil, nil, nil, nil, "B7", nil, nil, int64(126500)},
		},
	})

	u := &Unifier{Catalog: catalog.Default(), Sink: sink}
	recs, err := u.Unify(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 6)

	var ids []string
	var durations []int64
	for _, r := range recs {
		ids = append(ids, r.RentalID)
		durations = append(durations, r.Duration)
	}
	require.Equal(t, []string{"100", "101", "A1", "A2", "A3", "300"}, ids)
	require.Equal(t, []int64{600, 60, 125, 126, 127, 45}, durations)

	first := recs[0]
	require.Equal(t, catalog.Schema1, first.Schema)
	require.Equal(t, "bike_rentals_schema1.csv", first.SourceFile)
	require.Equal(t, valid("12"), first.EndStationID)
	require.Equal(t, valid("Soho"), first.StartStationName)

	require.False(t, recs[1].EndDate.Valid, "NULL stays NULL")

	require.Equal(t, valid("001"), recs[2].StartStationID, "schema 2 ids keep leading zeros")
	require.Equal(t, valid("002"), recs[2].EndStationID)

	last := recs[5]
	require.Equal(t, catalog.Schema3, last.Schema)
	require.False(t, last.EndStationID.Valid, "schema 3 has no end station id")
	require.Equal(t, valid("40"), last.StartStationID)
}

func TestUnify_EmptyTables(t *testing.T) {
	t.Parallel()

	recs, err := (&Unifier{Catalog: catalog.Default(), Sink: stage(t, nil)}).Unify(context.Background())
	require.NoError(t, err)
	require.Empty(t, recs)
}

// fixedSink serves canned ReadRows results per table.
type fixedSink struct {
	storage.Sink
	rows map[string][][]any
	err  error
}

func (s fixedSink) ReadRows(_ context.Context, table string, _ []string, _ string) ([][]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rows[table], nil
}

func TestRun_RejectsNullDuration(t *testing.T) {
	t.Parallel()

	// Projection order for schema 1: id, duration, bike, end date, end id,
	// end name, start date, start id, start name, source file.
	sink := fixedSink{rows: map[string][][]any{
		"bike_rentals_schema1": {
			{int64(1), nil, int64(7), nil, nil, nil, nil, nil, nil, "a.csv"},
			{int64(2), int64(30), int64(7), nil, nil, nil, nil, nil, nil, "a.csv"},
			{int64(3), []byte("90"), int64(7), nil, nil, nil, nil, nil, nil, "a.csv"},
		},
	}}

	res, err := (&Unifier{Catalog: catalog.Default(), Sink: sink}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, "2", res.Records[0].RentalID)
	require.EqualValues(t, 90, res.Records[1].Duration)

	require.Len(t, res.Malformed, 1)
	require.Equal(t, "Duration", res.Malformed[0].Column)
	require.Equal(t, "a.csv", res.Malformed[0].File)
	require.Equal(t, -1, res.Malformed[0].Row, "staging position is not a row index within the file")
	require.Zero(t, res.Malformed[0].Line)
}

func TestRun_ReadErrorIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	_, err := (&Unifier{Catalog: catalog.Default(), Sink: fixedSink{err: boom}}).Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "bike_rentals_schema1")
}
