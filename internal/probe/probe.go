// Package probe inspects a directory of rental exports without staging
// anything.
//
// For each file it reads a bounded sample, detects the schema and reports
// how the header lines up with the catalog entry and how many sampled rows
// would be rejected. Probing never fails on a single bad file; per-file
// problems are part of the result.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bikeetl/internal/catalog"
	"bikeetl/internal/checksum"
	"bikeetl/internal/ingest"
	"bikeetl/internal/parser/csv"
	"bikeetl/internal/transformer"
)

// DefaultMaxBytes bounds the sample read from each file.
const DefaultMaxBytes = 256 << 10

// Options control sampling.
type Options struct {
	// MaxBytes to sample from the start of each file. Zero means DefaultMaxBytes.
	MaxBytes int
	CSV      csv.Options
}

// File is the probe result of one export.
type File struct {
	Name     string
	Size     int64
	Checksum string
	Header   []string

	// Schema is zero when detection failed; Err then says why.
	Schema catalog.ID
	Err    error

	// Missing lists rename sources absent from the header (the file would fail).
	Missing []string
	// Extra lists header columns the catalog entry does not document.
	Extra []string

	SampledRows   int
	MalformedRows int
	// DistinctIDs counts distinct rental ids in the sample.
	DistinctIDs int
	// Truncated is true when the sample did not cover the whole file.
	Truncated bool
}

// Dir probes every *.csv file of dir in name order.
func Dir(ctx context.Context, dir string, cat *catalog.Catalog, opt Options) ([]File, error) {
	if cat == nil {
		return nil, fmt.Errorf("probe: catalog is required")
	}
	paths, err := ingest.ListFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]File, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, probeFile(ctx, p, cat, opt))
	}
	return out, nil
}

func probeFile(ctx context.Context, path string, cat *catalog.Catalog, opt Options) File {
	res := File{Name: filepath.Base(path)}

	limit := opt.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	f, err := os.Open(path)
	if err != nil {
		res.Err = err
		return res
	}
	defer f.Close()

	if st, err := f.Stat(); err == nil {
		res.Size = st.Size()
	}
	if res.Checksum, err = checksum.Reader(f); err != nil {
		res.Err = err
		return res
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		res.Err = err
		return res
	}

	sample, truncated, err := peek(f, limit)
	if err != nil {
		res.Err = err
		return res
	}
	res.Truncated = truncated

	header, err := csv.ReadHeader(bytes.NewReader(sample), opt.CSV)
	if err != nil {
		res.Err = err
		return res
	}
	res.Header = catalog.CleanHeader(header)

	def, err := cat.Detect(res.Name, header)
	if err != nil {
		res.Err = err
		return res
	}
	res.Schema = def.ID
	res.Missing, res.Extra = compareHeader(def, res.Header)

	raw, err := csv.ReadTable(ctx, bytes.NewReader(sample), opt.CSV, func(int, error) { res.MalformedRows++ })
	if err != nil {
		res.Err = err
		return res
	}
	res.SampledRows = raw.Len() + res.MalformedRows

	tbl, err := transformer.Normalize(def, res.Name, raw)
	if err != nil {
		// Missing already carries the detail.
		return res
	}
	rows, bad := transformer.Coerce(def, tbl)
	res.MalformedRows += len(bad)
	res.DistinctIDs = distinctIDs(def, rows)
	return res
}

// peek reads up to n bytes and, when the file is longer, cuts the sample at
// the last newline so no partial record is parsed.
func peek(r io.Reader, n int) ([]byte, bool, error) {
	buf, err := io.ReadAll(io.LimitReader(r, int64(n)+1))
	if err != nil {
		return nil, false, err
	}
	if len(buf) <= n {
		return buf, false, nil
	}
	buf = buf[:n]
	if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
		buf = buf[:i+1]
	}
	return buf, true, nil
}

func compareHeader(def catalog.Schema, header []string) (missing, extra []string) {
	have := make(map[string]struct{}, len(header))
	for _, h := range header {
		have[h] = struct{}{}
	}
	for src := range def.Rename {
		if _, ok := have[src]; !ok {
			missing = append(missing, src)
		}
	}
	sort.Strings(missing)

	documented := make(map[string]struct{}, len(def.Columns))
	for _, c := range def.Columns {
		documented[c] = struct{}{}
	}
	for _, h := range header {
		if _, ok := documented[h]; !ok {
			extra = append(extra, h)
		}
	}
	return missing, extra
}

func distinctIDs(def catalog.Schema, rows []transformer.Row) int {
	idx := -1
	for i, f := range def.Fields {
		if f.Name == def.Projection.RentalID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0
	}
	seen := make(map[any]struct{}, len(rows))
	for _, r := range rows {
		seen[r.V[idx]] = struct{}{}
	}
	return len(seen)
}

// WriteReport renders probe results as a tab separated table followed by one
// detail line per problem.
func WriteReport(w io.Writer, files []File) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%-32s\t%-8s\t%-10s\t%-7s\t%-9s\t%s\n", "file", "schema", "bytes", "rows", "malformed", "distinct_ids")
	for _, f := range files {
		schema := "-"
		if f.Schema != 0 {
			schema = f.Schema.String()
		}
		rows := fmt.Sprintf("%d", f.SampledRows)
		if f.Truncated {
			rows += "+"
		}
		fmt.Fprintf(&b, "%-32s\t%-8s\t%-10d\t%-7s\t%-9d\t%d\n", f.Name, schema, f.Size, rows, f.MalformedRows, f.DistinctIDs)
	}
	for _, f := range files {
		if f.Err != nil {
			fmt.Fprintf(&b, "%s: %v\n", f.Name, f.Err)
		}
		if len(f.Missing) > 0 {
			fmt.Fprintf(&b, "%s: missing columns: %s\n", f.Name, strings.Join(f.Missing, ", "))
		}
		if len(f.Extra) > 0 {
			fmt.Fprintf(&b, "%s: undocumented columns: %s\n", f.Name, strings.Join(f.Extra, ", "))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
