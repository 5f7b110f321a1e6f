package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"bikeetl/internal/storage"
)

func boolPtr(v bool) *bool { return &v }

func spec() storage.TableSpec {
	return storage.TableSpec{
		Name:       "bike_rentals_schema1",
		PrimaryKey: &storage.PrimaryKeySpec{Name: storage.SeqColumn, Type: "bigserial"},
		Columns: []storage.ColumnSpec{
			{Name: "Rental_Id", Type: "BIGINT", Nullable: boolPtr(false)},
			{Name: "Bike_Id", Type: "BIGINT"},
		},
	}
}

func TestSink_AppendReadTruncate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateTableIfAbsent(ctx, spec()))
	require.NoError(t, s.CreateTableIfAbsent(ctx, spec()))

	n, err := s.AppendRows(ctx, "bike_rentals_schema1", []string{"Bike_Id", "Rental_Id"}, [][]any{
		{int64(7), int64(2)},
		{nil, int64(1)},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	got, err := s.ReadRows(ctx, "BIKE_RENTALS_SCHEMA1", []string{storage.SeqColumn, "Rental_Id", "Bike_Id"}, storage.SeqColumn)
	require.NoError(t, err)
	require.Equal(t, [][]any{
		{int64(1), int64(2), int64(7)},
		{int64(2), int64(1), nil},
	}, got)

	require.NoError(t, s.Truncate(ctx, "bike_rentals_schema1"))
	got, err = s.ReadRows(ctx, "bike_rentals_schema1", []string{"Rental_Id"}, "")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSink_AppendIsAllOrNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateTableIfAbsent(ctx, spec()))

	_, err := s.AppendRows(ctx, "bike_rentals_schema1", []string{"Rental_Id"}, [][]any{{int64(1)}, {nil}})
	require.ErrorContains(t, err, "NOT NULL")

	got, err := s.ReadRows(ctx, "bike_rentals_schema1", []string{"Rental_Id"}, storage.SeqColumn)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSink_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	_, err := s.AppendRows(ctx, "missing", []string{"a"}, [][]any{{1}})
	require.Error(t, err)

	require.NoError(t, s.CreateTableIfAbsent(ctx, spec()))
	_, err = s.AppendRows(ctx, "bike_rentals_schema1", []string{"Nope"}, [][]any{{1}})
	require.Error(t, err)
	_, err = s.AppendRows(ctx, "bike_rentals_schema1", []string{storage.SeqColumn}, [][]any{{int64(1)}})
	require.Error(t, err)
	_, err = s.ReadRows(ctx, "bike_rentals_schema1", []string{"Rental_Id"}, "Bike_Id")
	require.Error(t, err)
}

func TestSink_Registered(t *testing.T) {
	t.Parallel()

	s, err := storage.New(context.Background(), storage.Config{Kind: "memory"})
	require.NoError(t, err)
	s.Close()
}
