package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bikeetl/internal/storage"
)

/*
Sink implements storage.Sink for Postgres.

It provides:
  - Idempotent DDL, including CREATE SCHEMA for qualified names
  - Appends via COPY inside one transaction
  - Ordered reads by the BIGSERIAL staging key
*/
type Sink struct {
	pool *pgxpool.Pool
}

func init() {
	// registers the staging backend factory
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Sink{pool: pool}, nil
}

func (s *Sink) Close() {
	s.pool.Close()
}

func (s *Sink) CreateTableIfAbsent(ctx context.Context, spec storage.TableSpec) error {
	schemaSQL, baseSQL, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	if schemaSQL != "" {
		if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema for %s: %w", spec.Name, err)
		}
	}
	if _, err := s.pool.Exec(ctx, baseSQL); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// AppendRows streams rows with COPY. The COPY runs inside a transaction so a
// failed file leaves nothing behind.
func (s *Sink) AppendRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.ValidateRows(table, columns, rows); err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit %s: %w", table, err)
	}
	return n, nil
}

func (s *Sink) ReadRows(ctx context.Context, table string, columns []string, orderBy string) ([][]any, error) {
	rows, err := s.pool.Query(ctx, buildSelectSQL(table, columns, orderBy))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func (s *Sink) Truncate(ctx context.Context, table string) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE TABLE "+identifier(table).Sanitize()); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	return nil
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

// identifier splits a schema-qualified table name for COPY and quoting.
func identifier(name string) pgx.Identifier {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgx.Identifier{schema, table}
	}
	return pgx.Identifier{strings.TrimSpace(name)}
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "staging.bike_rentals" => ("staging", "bike_rentals")
//   - "bike_rentals"         => ("", "bike_rentals")
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func buildColumnDef(c storage.ColumnSpec) string {
	var b strings.Builder
	b.WriteString(pgIdent(strings.TrimSpace(c.Name)))
	b.WriteString(" ")
	b.WriteString(strings.TrimSpace(c.Type))
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	return b.String()
}

func buildPrimaryKeyDef(pk *storage.PrimaryKeySpec) string {
	typ := strings.ToUpper(strings.TrimSpace(pk.Type))
	switch typ {
	case "SERIAL", "BIGSERIAL":
	default:
		typ = pk.Type
	}
	return fmt.Sprintf("%s %s PRIMARY KEY", pgIdent(pk.Name), typ)
}

// buildCreateSQL builds DDL for the optional schema and the table itself.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, baseSQL string, err error) {
	if err := t.Validate(); err != nil {
		return "", "", err
	}

	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	cols := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		cols = append(cols, buildPrimaryKeyDef(t.PrimaryKey))
	}
	for _, c := range t.Columns {
		cols = append(cols, buildColumnDef(c))
	}

	baseSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`,
		identifier(t.Name).Sanitize(), strings.Join(cols, ", "))
	return schemaSQL, baseSQL, nil
}

func buildSelectSQL(table string, columns []string, orderBy string) string {
	quoted := make([]string, 0, len(columns))
	for _, c := range columns {
		quoted = append(quoted, pgIdent(c))
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), identifier(table).Sanitize())
	if orderBy != "" {
		q += " ORDER BY " + pgIdent(orderBy)
	}
	return q
}
