package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaNotRecognized is matched by errors.Is for every detection failure.
var ErrSchemaNotRecognized = errors.New("schema not recognized")

// SchemaNotRecognizedError reports a header that matches no catalog entry.
type SchemaNotRecognizedError struct {
	File   string
	Header []string
}

func (e *SchemaNotRecognizedError) Error() string {
	return fmt.Sprintf("unknown schema in file %s (header: %s)", e.File, strings.Join(e.Header, ", "))
}

func (e *SchemaNotRecognizedError) Unwrap() error { return ErrSchemaNotRecognized }

// Detect returns the first schema, in catalog order, whose discriminating columns
// are all present in header. Only the header is consulted.
//
// Header names are trimmed and a leading UTF-8 BOM is removed before matching.
func (c *Catalog) Detect(file string, header []string) (Schema, error) {
	present := make(map[string]struct{}, len(header))
	for _, h := range CleanHeader(header) {
		present[h] = struct{}{}
	}

	for _, s := range c.schemas {
		if containsAll(present, s.Discriminating) {
			return s, nil
		}
	}
	return Schema{}, &SchemaNotRecognizedError{File: file, Header: append([]string(nil), header...)}
}

// CleanHeader returns a copy of header with surrounding whitespace and a
// leading BOM removed.
func CleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}

func containsAll(set map[string]struct{}, want []string) bool {
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
