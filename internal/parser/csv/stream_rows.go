package csv

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// sniffBytes is how much input is inspected to decide between UTF-8 and the
// Windows-1252 fallback.
const sniffBytes = 64 << 10

// Options control how a rental export is tokenized.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// LazyQuotes tolerates stray quotes inside unquoted fields.
	LazyQuotes bool
	// KeepSpace disables trimming of cell values.
	KeepSpace bool
}

// Table is a raw export: the header exactly as written (minus BOM/padding) and
// untyped cells. Lines holds the 1-based CSV record number of each row.
//
// Replaced counts U+FFFD characters in Header and Rows. Bytes the decoder could
// not read as UTF-8 end up as U+FFFD, so a non-zero count means lost text.
type Table struct {
	Header   []string
	Rows     [][]string
	Lines    []int
	Replaced int
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Decode wraps r so that the caller always reads UTF-8 without a BOM.
//
// Exports are "UTF-8-ish": most are UTF-8 (some with a BOM) but older ones carry
// Windows-1252 station names. If the first sniffBytes are not valid UTF-8 the
// stream is decoded as Windows-1252.
func Decode(r io.Reader) io.Reader {
	br := bufio.NewReaderSize(r, sniffBytes)
	peek, _ := br.Peek(sniffBytes)

	if !validUTF8Prefix(peek, len(peek) == sniffBytes) {
		return transform.NewReader(br, charmap.Windows1252.NewDecoder())
	}
	return transform.NewReader(br, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// validUTF8Prefix is utf8.Valid that tolerates a rune cut by the end of a
// truncated sample.
func validUTF8Prefix(b []byte, truncated bool) bool {
	if utf8.Valid(b) {
		return true
	}
	if !truncated {
		return false
	}
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			return !utf8.FullRune(b[i:]) && utf8.Valid(b[:i])
		}
	}
	return false
}

func newReader(r io.Reader, opt Options) *csv.Reader {
	cr := csv.NewReader(Decode(r))
	cr.Comma = ','
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	return cr
}

// ReadHeader reads only the header row of an export.
func ReadHeader(r io.Reader, opt Options) ([]string, error) {
	cr := newReader(r, opt)
	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read header: empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return cleanHeader(hdr), nil
}

// ReadTable reads the full export into memory.
//
// Records the CSV tokenizer rejects are skipped and reported through onErr with
// their record number; they never appear in the returned table. Short records
// are padded with empty cells and long ones truncated to the header width so
// rows stay positional.
func ReadTable(ctx context.Context, r io.Reader, opt Options, onErr func(line int, err error)) (*Table, error) {
	cr := newReader(r, opt)

	line := 1
	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read header: empty file")
	}
	if err != nil {
		if onErr != nil {
			onErr(line, fmt.Errorf("read header: %w", err))
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &Table{Header: cleanHeader(hdr)}
	t.Replaced = countReplaced(t.Header)
	width := len(t.Header)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line++
		rec, err := cr.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}
		if isBlank(rec) {
			continue
		}

		row := make([]string, width)
		for i := 0; i < width && i < len(rec); i++ {
			v := rec[i]
			if !opt.KeepSpace && hasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			row[i] = v
		}
		t.Replaced += countReplaced(row)
		t.Rows = append(t.Rows, row)
		t.Lines = append(t.Lines, line)
	}
}

func countReplaced(cells []string) int {
	n := 0
	for _, v := range cells {
		if strings.ContainsRune(v, utf8.RuneError) {
			n += strings.Count(v, string(utf8.RuneError))
		}
	}
	return n
}

func cleanHeader(hdr []string) []string {
	out := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if hasEdgeSpace(h) {
			h = strings.TrimSpace(h)
		}
		out[i] = h
	}
	return out
}

// isBlank reports trailing empty lines some exports end with (",,,,").
func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// hasEdgeSpace avoids TrimSpace allocations on the common already-clean value.
func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}
