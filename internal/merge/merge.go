// Package merge projects every staging table onto one unified rental record
// shape with durations in whole seconds.
package merge

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bikeetl/internal/catalog"
	"bikeetl/internal/metrics"
	"bikeetl/internal/storage"
	"bikeetl/internal/transformer"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Record is one unified rental. Identifiers are opaque text; a field whose
// schema has no source column (schema 3's end station id) is always NULL.
type Record struct {
	RentalID         string
	Duration         int64
	BikeID           sql.NullString
	EndDate          sql.NullString
	EndStationID     sql.NullString
	EndStationName   sql.NullString
	StartDate        sql.NullString
	StartStationID   sql.NullString
	StartStationName sql.NullString

	Schema     catalog.ID
	SourceFile string
}

// Result is the output of a unify pass.
type Result struct {
	Records []Record
	// Malformed lists staged rows that could not be projected.
	Malformed []*transformer.MalformedRowError
}

// Unifier reads staging tables back through a sink.
type Unifier struct {
	Catalog *catalog.Catalog
	Sink    storage.Sink
	Logger  Logger
}

func (u *Unifier) logf(format string, v ...any) {
	if u.Logger != nil {
		u.Logger.Printf(format, v...)
	}
}

// Unify returns the unified dataset: schema 1 rows, then 2, then 3, each in
// staging insertion order. Rows that cannot be projected are logged and left out.
func (u *Unifier) Unify(ctx context.Context) ([]Record, error) {
	res, err := u.Run(ctx)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Run is Unify with the rejected rows reported.
func (u *Unifier) Run(ctx context.Context) (res Result, err error) {
	if u.Catalog == nil || u.Sink == nil {
		return Result{}, fmt.Errorf("merge: Catalog and Sink are required")
	}
	start := time.Now()
	defer func() { metrics.RecordStep("merge", err, time.Since(start)) }()

	for _, def := range u.Catalog.Schemas() {
		recs, bad, err := u.project(ctx, def)
		if err != nil {
			return Result{}, err
		}
		for _, m := range bad {
			u.logf("stage=merge schema=%s file=%s warn=malformed_row row=%d column=%s reason=%q",
				def.ID, m.File, m.Row, m.Column, m.Reason)
		}
		u.logf("stage=merge schema=%s table=%s records=%d malformed=%d", def.ID, def.Table, len(recs), len(bad))
		res.Records = append(res.Records, recs...)
		res.Malformed = append(res.Malformed, bad...)
	}

	metrics.RecordRows(metrics.KindUnified, len(res.Records))
	u.logf("stage=merge records=%d malformed=%d duration=%s",
		len(res.Records), len(res.Malformed), time.Since(start).Truncate(time.Millisecond))
	return res, nil
}

// slot indexes of the projected columns in a ReadRows result; -1 is absent.
type slots struct {
	rentalID, duration, bikeID, endDate, endStationID,
	endStationName, startDate, startStationID, startStationName, sourceFile int
}

func selectColumns(p catalog.Projection) ([]string, slots) {
	var cols []string
	add := func(name string) int {
		if name == "" {
			return -1
		}
		cols = append(cols, name)
		return len(cols) - 1
	}
	s := slots{
		rentalID:         add(p.RentalID),
		duration:         add(p.Duration),
		bikeID:           add(p.BikeID),
		endDate:          add(p.EndDate),
		endStationID:     add(p.EndStationID),
		endStationName:   add(p.EndStationName),
		startDate:        add(p.StartDate),
		startStationID:   add(p.StartStationID),
		startStationName: add(p.StartStationName),
	}
	s.sourceFile = add(storage.SourceFileColumn)
	return cols, s
}

func (u *Unifier) project(ctx context.Context, def catalog.Schema) ([]Record, []*transformer.MalformedRowError, error) {
	p := def.Projection
	cols, s := selectColumns(p)

	rows, err := u.Sink.ReadRows(ctx, def.Table, cols, storage.SeqColumn)
	if err != nil {
		return nil, nil, fmt.Errorf("merge %s: %w", def.Table, err)
	}

	text := func(row []any, i int) sql.NullString {
		if i < 0 {
			return sql.NullString{}
		}
		v, ok := storage.NullableText(row[i])
		return sql.NullString{String: v, Valid: ok}
	}

	recs := make([]Record, 0, len(rows))
	var bad []*transformer.MalformedRowError
	for _, row := range rows {
		file := storage.NormalizeKey(row[s.sourceFile])
		reject := func(col, value, reason string) {
			bad = append(bad, &transformer.MalformedRowError{
				File: file, Row: -1, Column: col, Value: value, Reason: reason,
			})
		}

		id, ok := storage.NullableText(row[s.rentalID])
		if !ok || id == "" {
			reject(p.RentalID, "", "rental id is NULL")
			continue
		}
		n, ok, err := storage.Int64(row[s.duration])
		if err != nil {
			reject(p.Duration, storage.NormalizeKey(row[s.duration]), err.Error())
			continue
		}
		if !ok {
			reject(p.Duration, "", "duration is NULL")
			continue
		}
		if p.DurationUnit == catalog.Milliseconds {
			n = millisToSeconds(n)
		}

		recs = append(recs, Record{
			RentalID:         id,
			Duration:         n,
			BikeID:           text(row, s.bikeID),
			EndDate:          text(row, s.endDate),
			EndStationID:     text(row, s.endStationID),
			EndStationName:   text(row, s.endStationName),
			StartDate:        text(row, s.startDate),
			StartStationID:   text(row, s.startStationID),
			StartStationName: text(row, s.startStationName),
			Schema:           def.ID,
			SourceFile:       file,
		})
	}
	return recs, bad, nil
}

// millisToSeconds rounds half away from zero: 125499 -> 125, 125500 -> 126.
func millisToSeconds(ms int64) int64 {
	q, r := ms/1000, ms%1000
	switch {
	case r >= 500:
		q++
	case r <= -500:
		q--
	}
	return q
}
