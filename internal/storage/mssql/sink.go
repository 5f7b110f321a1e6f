package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"bikeetl/internal/storage"
)

// maxParams stays below SQL Server's 2100 bind-parameter limit per statement.
const maxParams = 2000

// Sink implements storage.Sink for Microsoft SQL Server.
//
// Statements are written with "?" placeholders and rebound by sqlx to the
// driver's @pN form.
type Sink struct {
	db    *sqlx.DB
	batch int
}

func init() {
	storage.Register("mssql", New)
}

// New opens a pool using the "sqlserver" driver and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	db, err := sqlx.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for ETL-style bursty loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{db: db, batch: cfg.BatchSize}, nil
}

// Close releases database resources held by this sink.
func (s *Sink) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *Sink) CreateTableIfAbsent(ctx context.Context, spec storage.TableSpec) error {
	ddl, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("mssql: create table %s: %w", spec.Name, err)
	}
	return nil
}

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

	size := storage.BatchRows(s.batch, maxParams, len(columns), 1000)
	var total int64
	for _, chunk := range storage.Chunks(rows, size) {
		q, args := buildBulkInsertSQL(table, columns, chunk)
		res, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit %s: %w", table, err)
	}
	return total, nil
}

func (s *Sink) ReadRows(ctx context.Context, table string, columns []string, orderBy string) ([][]any, error) {
	rows, err := s.db.QueryxContext(ctx, buildSelectSQL(table, columns, orderBy))
	if err != nil {
		return nil, fmt.Errorf("mssql: select %s: %w", table, err)
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

func (s *Sink) Truncate(ctx context.Context, table string) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE "+mssqlTableIdent(table)); err != nil {
		return fmt.Errorf("mssql: truncate %s: %w", table, err)
	}
	return nil
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("mssql: %w", err)
	}

	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, mssqlPrimaryKeyDef(*t.PrimaryKey))
	}
	for _, c := range t.Columns {
		parts = append(parts, mssqlColumnDef(c))
	}
	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps table creation idempotent without requiring IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlPrimaryKeyDef returns a column definition for an identity primary key.
//
// Supported types (case-insensitive):
//   - "serial" -> INT IDENTITY(1,1) PRIMARY KEY
//   - "bigserial" -> BIGINT IDENTITY(1,1) PRIMARY KEY
//   - otherwise uses pk.Type verbatim with PRIMARY KEY.
func mssqlPrimaryKeyDef(pk storage.PrimaryKeySpec) string {
	switch strings.ToLower(strings.TrimSpace(pk.Type)) {
	case "serial":
		return fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name))
	case "bigserial":
		return fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name))
	default:
		return fmt.Sprintf("%s %s PRIMARY KEY", mssqlIdent(pk.Name), pk.Type)
	}
}

func mssqlColumnDef(c storage.ColumnSpec) string {
	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(mssqlType(c.Type))
	if c.IsNullable() {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	return b.String()
}

// mssqlType maps portable types; TEXT is deprecated on SQL Server.
func mssqlType(typ string) string {
	if strings.EqualFold(strings.TrimSpace(typ), "TEXT") {
		return "NVARCHAR(MAX)"
	}
	return typ
}

// buildBulkInsertSQL renders a multi-row INSERT with "?" placeholders.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		args = append(args, row...)
	}
	return b.String(), args
}

func buildSelectSQL(table string, columns []string, orderBy string) string {
	quoted := make([]string, 0, len(columns))
	for _, c := range columns {
		quoted = append(quoted, mssqlIdent(c))
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), mssqlTableIdent(table))
	if orderBy != "" {
		q += " ORDER BY " + mssqlIdent(orderBy)
	}
	return q
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.bike_rentals_schema1" -> [dbo].[bike_rentals_schema1]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
