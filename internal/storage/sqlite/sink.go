package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"bikeetl/internal/storage"
)

// maxParams is SQLite's default SQLITE_MAX_VARIABLE_NUMBER since 3.32.
const maxParams = 32766

// Sink implements storage.Sink for SQLite.
//
// The pool is pinned to one connection: SQLite serializes writers anyway and a
// ":memory:" DSN is per connection.
type Sink struct {
	db    *sqlx.DB
	batch int
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	db, err := sqlx.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{db: db, batch: cfg.BatchSize}, nil
}

func (s *Sink) Close() { _ = s.db.Close() }

func (s *Sink) CreateTableIfAbsent(ctx context.Context, spec storage.TableSpec) error {
	ddl, err := buildCreateTableSQL(spec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// AppendRows inserts rows in multi-row INSERT batches inside one transaction.
func (s *Sink) AppendRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.ValidateRows(table, columns, rows); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	size := storage.BatchRows(s.batch, maxParams, len(columns), 500)
	var total int64
	for _, chunk := range storage.Chunks(rows, size) {
		q, args := buildInsertSQL(table, columns, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", table, err)
	}
	return total, nil
}

func (s *Sink) ReadRows(ctx context.Context, table string, columns []string, orderBy string) ([][]any, error) {
	rows, err := s.db.QueryxContext(ctx, buildSelectSQL(table, columns, orderBy))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// Truncate empties the table. SQLite has no TRUNCATE; an unqualified DELETE
// uses the truncate optimization.
func (s *Sink) Truncate(ctx context.Context, table string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+tableIdent(table)); err != nil {
		return fmt.Errorf("truncate %s: %w", table, err)
	}
	return nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// tableIdent quotes each part of an optionally schema-qualified name.
func tableIdent(name string) string {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i, p := range parts {
		parts[i] = sqlIdent(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	var parts []string
	if t.PrimaryKey != nil {
		pkType := strings.TrimSpace(strings.ToLower(t.PrimaryKey.Type))

		// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid and auto-generates values.
		switch pkType {
		case "serial", "bigserial":
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
		default:
			parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name), t.PrimaryKey.Type))
		}
	}

	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), sqliteType(c.Type))
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", tableIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

// sqliteType maps portable types onto SQLite affinities.
func sqliteType(typ string) string {
	switch strings.ToUpper(strings.TrimSpace(typ)) {
	case "BIGINT", "INT", "INTEGER":
		return "INTEGER"
	case "TEXT":
		return "TEXT"
	default:
		return typ
	}
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(tableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}
	return b.String(), args
}

func buildSelectSQL(table string, columns []string, orderBy string) string {
	q := fmt.Sprintf("SELECT %s FROM %s", joinIdentList(columns), tableIdent(table))
	if orderBy != "" {
		q += " ORDER BY " + sqlIdent(orderBy)
	}
	return q
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}
