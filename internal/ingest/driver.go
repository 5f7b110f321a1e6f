// Package ingest stages rental export files into per-schema tables.
//
// For each file the driver fingerprints the content, detects the schema from
// the header, normalizes and coerces the rows, then appends them to the schema's
// staging table in a single all-or-nothing call.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"bikeetl/internal/catalog"
	"bikeetl/internal/checksum"
	"bikeetl/internal/metrics"
	"bikeetl/internal/parser/csv"
	"bikeetl/internal/storage"
	"bikeetl/internal/transformer"
)

// Logger is the minimal logging interface used by the driver.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Options tune a run.
type Options struct {
	// TruncateBeforeRun empties every staging table in Prepare. Without it a
	// rerun over the same files appends duplicates.
	TruncateBeforeRun bool

	CSV csv.Options
}

// Driver holds the explicit pipeline context for ingestion.
type Driver struct {
	Catalog *catalog.Catalog
	Sink    storage.Sink
	Logger  Logger
	Options Options

	// RunID tags log lines; a random one is assigned when empty.
	RunID string
}

func (d *Driver) logf(format string, v ...any) {
	if d.Logger != nil {
		d.Logger.Printf(format, v...)
	}
}

func (d *Driver) runID() string {
	if d.RunID == "" {
		d.RunID = uuid.NewString()
	}
	return d.RunID
}

func (d *Driver) validate() error {
	if d.Catalog == nil {
		return fmt.Errorf("ingest: Catalog is required")
	}
	if d.Sink == nil {
		return fmt.Errorf("ingest: Sink is required")
	}
	return nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// Prepare creates every staging table that does not exist yet and, when
// TruncateBeforeRun is set, empties them.
func (d *Driver) Prepare(ctx context.Context) (err error) {
	if err := d.validate(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.RecordStep("prepare", err, time.Since(start)) }()

	for _, def := range d.Catalog.Schemas() {
		if err := d.Sink.CreateTableIfAbsent(ctx, StagingTable(def)); err != nil {
			return fmt.Errorf("prepare %s: %w", def.Table, err)
		}
		if d.Options.TruncateBeforeRun {
			if err := d.Sink.Truncate(ctx, def.Table); err != nil {
				return fmt.Errorf("truncate %s: %w", def.Table, err)
			}
		}
	}
	d.logf("stage=prepare run_id=%s tables=%d truncate=%t duration=%s",
		d.runID(), len(d.Catalog.Schemas()), d.Options.TruncateBeforeRun, durMS(start))
	return nil
}

// ListFiles returns the *.csv files of dir (case-insensitive extension) sorted
// by name.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

// IngestDir stages every CSV file in dir.
//
// Unrecognized and unreadable files are recorded in the report and the run
// continues; check Report.Err. A staging write failure or a canceled context
// stops the run and is returned together with the partial report.
func (d *Driver) IngestDir(ctx context.Context, dir string) (rep *Report, err error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { metrics.RecordStep("ingest", err, time.Since(start)) }()

	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	rep = &Report{RunID: d.runID()}
	if len(files) == 0 {
		d.logf("stage=ingest run_id=%s dir=%s warn=no_csv_files", d.RunID, dir)
		return rep, nil
	}

	seen := make(map[string]string, len(files))
	for _, path := range files {
		res, err := d.IngestFile(ctx, path)
		if res.Checksum != "" {
			if first, ok := seen[res.Checksum]; ok {
				res.DuplicateOf = first
				d.logf("stage=ingest run_id=%s file=%s warn=duplicate_content duplicate_of=%s", d.RunID, res.File, first)
			} else {
				seen[res.Checksum] = res.File
			}
		}
		rep.Files = append(rep.Files, res)
		if err != nil {
			return rep, err
		}
	}

	d.logf("stage=ingest run_id=%s files=%d staged=%d skipped=%d failed=%d rows=%d malformed=%d duration=%s",
		d.RunID, len(rep.Files), rep.Count(StatusStaged), rep.Count(StatusSkipped), rep.Count(StatusFailed),
		rep.Staged(), rep.Malformed(), durMS(start))
	return rep, nil
}

// IngestFile stages one file. The returned error is non-nil only for failures
// that must stop the run (*StagingWriteError, context cancellation); per-file
// problems are reported in FileResult.Err.
func (d *Driver) IngestFile(ctx context.Context, path string) (FileResult, error) {
	if err := d.validate(); err != nil {
		return FileResult{}, err
	}
	start := time.Now()
	res := FileResult{File: filepath.Base(path)}

	finish := func(status FileStatus, err error) FileResult {
		res.Status = status
		res.Err = err
		res.Duration = durMS(start)
		metrics.RecordFile(string(status))
		if err != nil {
			d.logf("stage=ingest run_id=%s file=%s status=%s err=%q", d.runID(), res.File, status, err)
		}
		return res
	}

	sum, err := checksum.File(path)
	if err != nil {
		return finish(StatusFailed, err), nil
	}
	res.Checksum = sum

	f, err := os.Open(path)
	if err != nil {
		return finish(StatusFailed, fmt.Errorf("open %s: %w", res.File, err)), nil
	}
	defer f.Close()

	header, err := csv.ReadHeader(f, d.Options.CSV)
	if err != nil {
		return finish(StatusFailed, fmt.Errorf("%s: %w", res.File, err)), nil
	}
	def, err := d.Catalog.Detect(res.File, header)
	if err != nil {
		return finish(StatusSkipped, err), nil
	}
	res.Schema = def.ID

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return finish(StatusFailed, fmt.Errorf("rewind %s: %w", res.File, err)), nil
	}

	var tokenErrs []*transformer.MalformedRowError
	raw, err := csv.ReadTable(ctx, f, d.Options.CSV, func(line int, err error) {
		tokenErrs = append(tokenErrs, &transformer.MalformedRowError{
			File: res.File, Row: -1, Line: line, Reason: err.Error(),
		})
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return finish(StatusFailed, ctxErr), ctxErr
		}
		return finish(StatusFailed, fmt.Errorf("%s: %w", res.File, err)), nil
	}

	res.Replaced = raw.Replaced

	tbl, err := transformer.Normalize(def, res.File, raw)
	if err != nil {
		return finish(StatusFailed, err), nil
	}
	rows, bad := transformer.Coerce(def, tbl)
	res.Read = tbl.Len() + len(tokenErrs)
	res.Malformed = append(tokenErrs, bad...)

	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = append(r.V, res.File)
	}

	n, err := d.Sink.AppendRows(ctx, def.Table, StagingColumns(def), values)
	if err != nil {
		werr := &StagingWriteError{File: res.File, Table: def.Table, Err: err}
		return finish(StatusFailed, werr), werr
	}
	res.Staged = n

	metrics.RecordRows(metrics.KindRead, res.Read)
	metrics.RecordRows(metrics.KindStaged, int(n))
	metrics.RecordRows(metrics.KindMalformed, len(res.Malformed))
	metrics.RecordBatch()

	for _, m := range res.Malformed {
		d.logf("stage=ingest run_id=%s file=%s warn=malformed_row line=%d column=%s reason=%q",
			d.runID(), res.File, m.Line, m.Column, m.Reason)
	}
	if res.Replaced > 0 {
		d.logf("stage=ingest run_id=%s file=%s warn=replacement_chars count=%d", d.runID(), res.File, res.Replaced)
	}
	d.logf("stage=ingest run_id=%s file=%s schema=%s checksum=%s rows=%d staged=%d malformed=%d duration=%s",
		d.runID(), res.File, def.ID, res.Checksum, res.Read, n, len(res.Malformed), durMS(start))

	return finish(StatusStaged, nil), nil
}
