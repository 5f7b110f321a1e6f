package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Staging bookkeeping columns added to every staging table.
const (
	// SeqColumn is an auto-generated key that preserves insertion order.
	SeqColumn = "Staging_Seq"
	// SourceFileColumn records the export file a staged row came from.
	SourceFileColumn = "Source_File"
)

// Config is the minimal configuration needed to open a staging sink.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string

	// BatchSize caps rows per INSERT statement for SQL backends. Zero picks a
	// backend default that respects its bind-parameter limit.
	BatchSize int
}

// Sink is per-schema staging storage.
//
// The interface covers exactly what the ingestion driver and the merge stage need.
// Each backend implements it in its own idiomatic way (COPY for Postgres,
// multi-row INSERT for SQLite and SQL Server).
type Sink interface {
	// Close releases backend resources. Call once.
	Close()

	// CreateTableIfAbsent creates the table described by spec when it does not exist.
	// An existing table is left untouched.
	CreateTableIfAbsent(ctx context.Context, spec TableSpec) error

	// AppendRows appends rows to table. The append is all-or-nothing: on error no
	// row of this call is visible afterwards.
	AppendRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// ReadRows returns every row of table projected onto columns, ordered by orderBy
	// (insertion order when orderBy is SeqColumn).
	ReadRows(ctx context.Context, table string, columns []string, orderBy string) ([][]any, error)

	// Truncate removes all rows from table.
	Truncate(ctx context.Context, table string) error
}

type factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a sink backend under a kind (e.g. "sqlite", "postgres").
//
// Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Sink using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
