// Package pipeline wires a configured run end to end: staging sink, ingest,
// merge and the output artifacts.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"bikeetl/internal/catalog"
	"bikeetl/internal/config"
	"bikeetl/internal/export"
	"bikeetl/internal/ingest"
	"bikeetl/internal/merge"
	"bikeetl/internal/metrics"
	"bikeetl/internal/parser/csv"
	"bikeetl/internal/storage"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Summary describes a completed (or partially completed) run.
type Summary struct {
	Report    *ingest.Report
	Records   int
	Malformed int
	Outputs   []string

	// Skipped lists configured outputs that could not hold the dataset.
	Skipped []string
}

// Runner executes a pipeline. The function fields are seams for tests; nil
// fields fall back to the real implementations.
type Runner struct {
	Catalog *catalog.Catalog

	NewSink   func(ctx context.Context, cfg storage.Config) (storage.Sink, error)
	NewLogger func(w io.Writer) Logger
	ExpandEnv func(string) string

	// LogOutput receives run logs; os.Stderr when nil.
	LogOutput io.Writer

	// XLSXRowLimit caps the records written to the workbook; zero means
	// export.MaxXLSXRecords.
	XLSXRowLimit int
}

// NewDefaultRunner returns a Runner using the registered sink backends.
func NewDefaultRunner() *Runner {
	return &Runner{
		Catalog:   catalog.Default(),
		NewSink:   storage.New,
		NewLogger: func(w io.Writer) Logger { return log.New(w, "", log.LstdFlags) },
		ExpandEnv: os.ExpandEnv,
	}
}

func (r *Runner) defaults() {
	if r.Catalog == nil {
		r.Catalog = catalog.Default()
	}
	if r.NewSink == nil {
		r.NewSink = storage.New
	}
	if r.NewLogger == nil {
		r.NewLogger = func(w io.Writer) Logger { return log.New(w, "", log.LstdFlags) }
	}
	if r.ExpandEnv == nil {
		r.ExpandEnv = os.ExpandEnv
	}
	if r.LogOutput == nil {
		r.LogOutput = os.Stderr
	}
}

// Run stages every file of cfg.Input.Dir, merges the staging tables and writes
// the configured outputs.
//
// Files that are skipped or fail do not stop the run: outputs are still written
// and the joined file errors are returned afterwards. A staging write failure
// stops the run before merge.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) (*Summary, error) {
	for _, iss := range config.ValidatePipeline(cfg) {
		if iss.Severity == config.SeverityError {
			return nil, fmt.Errorf("invalid pipeline: %s", iss)
		}
	}
	r.defaults()
	logger := r.NewLogger(r.LogOutput)
	start := time.Now()

	sink, err := r.NewSink(ctx, storage.Config{
		Kind:      cfg.Storage.Kind,
		DSN:       r.ExpandEnv(cfg.Storage.DSN),
		BatchSize: cfg.Storage.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("staging sink: %w", err)
	}
	defer sink.Close()

	d := &ingest.Driver{
		Catalog: r.Catalog,
		Sink:    sink,
		Logger:  logger,
		RunID:   uuid.NewString(),
		Options: ingest.Options{
			TruncateBeforeRun: cfg.Storage.TruncateBeforeRun,
			CSV: csv.Options{
				Comma:      cfg.Input.CommaRune(),
				LazyQuotes: cfg.Input.LazyQuotes,
			},
		},
	}
	logger.Printf("stage=run run_id=%s job=%s input=%s storage=%s", d.RunID, cfg.Job, cfg.Input.Dir, cfg.Storage.Kind)

	if err := d.Prepare(ctx); err != nil {
		return nil, err
	}
	rep, err := d.IngestDir(ctx, cfg.Input.Dir)
	sum := &Summary{Report: rep}
	if err != nil {
		return sum, err
	}

	u := &merge.Unifier{Catalog: r.Catalog, Sink: sink, Logger: logger}
	res, err := u.Run(ctx)
	if err != nil {
		return sum, err
	}
	sum.Records = len(res.Records)
	sum.Malformed = rep.Malformed() + len(res.Malformed)

	if err := r.writeOutputs(cfg.Output, res.Records, sum, logger); err != nil {
		return sum, err
	}

	logger.Printf("stage=run run_id=%s files=%d records=%d malformed=%d outputs=%d skipped_outputs=%d duration=%s",
		d.RunID, len(rep.Files), sum.Records, sum.Malformed, len(sum.Outputs), len(sum.Skipped), time.Since(start).Truncate(time.Millisecond))

	if ferr := rep.Err(); ferr != nil {
		return sum, fmt.Errorf("%d of %d files not staged: %w",
			len(rep.Files)-rep.Count(ingest.StatusStaged), len(rep.Files), ferr)
	}
	return sum, nil
}

func (r *Runner) writeOutputs(out config.Output, recs []merge.Record, sum *Summary, logger Logger) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStep("export", err, time.Since(start)) }()

	if out.XLSX != "" {
		if lerr := export.CheckSheetRows(len(recs), r.XLSXRowLimit); lerr != nil {
			logger.Printf("stage=export warn=xlsx_row_limit path=%s err=%v", out.XLSX, lerr)
			sum.Skipped = append(sum.Skipped, out.XLSX)
			out.XLSX = ""
		}
	}

	if out.DurationCSV != "" {
		if err := writeFile(out.DurationCSV, func(w io.Writer) error { return export.WriteDurationCSV(w, recs) }); err != nil {
			return err
		}
		sum.Outputs = append(sum.Outputs, out.DurationCSV)
	}
	if out.UnifiedCSV != "" {
		if err := writeFile(out.UnifiedCSV, func(w io.Writer) error { return export.WriteUnifiedCSV(w, recs) }); err != nil {
			return err
		}
		sum.Outputs = append(sum.Outputs, out.UnifiedCSV)
	}
	if out.XLSX != "" {
		if err := mkdirFor(out.XLSX); err != nil {
			return err
		}
		if err := export.WriteXLSX(out.XLSX, recs); err != nil {
			return err
		}
		sum.Outputs = append(sum.Outputs, out.XLSX)
	}
	return nil
}

func mkdirFor(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := mkdirFor(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
