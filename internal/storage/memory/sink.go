// Package memory is an in-process staging sink for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"bikeetl/internal/storage"
)

func init() {
	storage.Register("memory", func(context.Context, storage.Config) (storage.Sink, error) {
		return New(), nil
	})
}

type table struct {
	spec    storage.TableSpec
	columns []string
	idx     map[string]int
	rows    [][]any
	nextSeq int64
}

// Sink keeps staged rows in maps. Table and column names are case-insensitive,
// matching the SQL backends.
type Sink struct {
	mu     sync.Mutex
	tables map[string]*table
}

func New() *Sink {
	return &Sink{tables: map[string]*table{}}
}

func (s *Sink) Close() {}

func (s *Sink) CreateTableIfAbsent(_ context.Context, spec storage.TableSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(spec.Name)
	if _, ok := s.tables[key]; ok {
		return nil
	}

	t := &table{spec: spec, idx: map[string]int{}}
	if spec.PrimaryKey != nil {
		t.add(spec.PrimaryKey.Name)
	}
	for _, c := range spec.Columns {
		t.add(c.Name)
	}
	s.tables[key] = t
	return nil
}

func (t *table) add(col string) {
	t.idx[strings.ToLower(col)] = len(t.columns)
	t.columns = append(t.columns, col)
}

// AppendRows validates every row before storing any, which gives the same
// all-or-nothing outcome as a transaction.
func (s *Sink) AppendRows(ctx context.Context, name string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.ValidateRows(name, columns, rows); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(name)
	if err != nil {
		return 0, err
	}

	pos := make([]int, len(columns))
	for i, c := range columns {
		p, ok := t.idx[strings.ToLower(c)]
		if !ok {
			return 0, fmt.Errorf("append %s: unknown column %s", name, c)
		}
		if t.spec.PrimaryKey != nil && p == 0 {
			return 0, fmt.Errorf("append %s: column %s is generated", name, c)
		}
		pos[i] = p
	}

	staged := make([][]any, 0, len(rows))
	for ri, r := range rows {
		full := make([]any, len(t.columns))
		for i, v := range r {
			full[pos[i]] = v
		}
		if err := t.checkNotNull(full); err != nil {
			return 0, fmt.Errorf("append %s: row %d: %w", name, ri, err)
		}
		staged = append(staged, full)
	}

	for _, full := range staged {
		if t.spec.PrimaryKey != nil {
			t.nextSeq++
			full[0] = t.nextSeq
		}
		t.rows = append(t.rows, full)
	}
	return int64(len(staged)), nil
}

func (t *table) checkNotNull(full []any) error {
	for _, c := range t.spec.Columns {
		if c.IsNullable() {
			continue
		}
		if full[t.idx[strings.ToLower(c.Name)]] == nil {
			return fmt.Errorf("NOT NULL constraint failed: %s", c.Name)
		}
	}
	return nil
}

// ReadRows returns copies in insertion order. orderBy must be the primary key
// or empty; the memory sink has no other ordering.
func (s *Sink) ReadRows(_ context.Context, name string, columns []string, orderBy string) ([][]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if orderBy != "" && (t.spec.PrimaryKey == nil || !strings.EqualFold(orderBy, t.spec.PrimaryKey.Name)) {
		return nil, fmt.Errorf("select %s: unsupported order column %s", name, orderBy)
	}

	pos := make([]int, len(columns))
	for i, c := range columns {
		p, ok := t.idx[strings.ToLower(c)]
		if !ok {
			return nil, fmt.Errorf("select %s: unknown column %s", name, c)
		}
		pos[i] = p
	}

	out := make([][]any, 0, len(t.rows))
	for _, r := range t.rows {
		row := make([]any, len(pos))
		for i, p := range pos {
			row[i] = r[p]
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Sink) Truncate(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	t.rows = nil
	return nil
}

func (s *Sink) lookup(name string) (*table, error) {
	t, ok := s.tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("no such table: %s", name)
	}
	return t, nil
}
