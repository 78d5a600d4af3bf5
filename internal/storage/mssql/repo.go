// Package mssql stores layers in SQL Server geometry columns.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"restrictions/internal/geo"
	"restrictions/internal/storage"
)

// maxParams stays under the 2100 parameter cap of a SQL Server RPC call.
const maxParams = 2000

func init() {
	storage.Register("mssql", New)
}

// Repo implements storage.Repository for Microsoft SQL Server.
type Repo struct {
	db   *sql.DB
	srid int
}

// New opens cfg.DSN with the "sqlserver" driver and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, srid: cfg.SRID}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// AppendOrReplace writes data in one transaction.
func (r *Repo) AppendOrReplace(ctx context.Context, table string, data *geo.Table, mode storage.Mode) (int64, error) {
	l, err := storage.PlanLayout(table, data, r.srid)
	if err != nil {
		return 0, err
	}
	rows, err := storage.Rows(l, data)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range buildPrepareSQL(l, mode) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("mssql: prepare %s: %w", table, err)
		}
	}

	var total int64
	for _, chunk := range storage.Chunk(rows, len(l.Columns)+1, maxParams) {
		q, args := buildInsertSQL(l, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("mssql: insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit %s: %w", table, err)
	}
	return total, nil
}

// buildPrepareSQL returns OBJECT_ID / COL_LENGTH guarded DDL, since SQL
// Server has no IF NOT EXISTS for tables or columns.
func buildPrepareSQL(l storage.Layout, mode storage.Mode) []string {
	var out []string
	if mode == storage.ModeReplace {
		out = append(out, fmt.Sprintf("IF OBJECT_ID(%s, N'U') IS NOT NULL DROP TABLE %s;",
			nstring(l.Table), mssqlTableIdent(l.Table)))
	}

	defs := make([]string, 0, len(l.Columns)+1)
	for _, c := range l.Columns {
		defs = append(defs, mssqlIdent(c.Name)+" "+mssqlType(c.Type))
	}
	defs = append(defs, mssqlIdent(l.Geometry)+" geometry")
	out = append(out, wrapCreateIfMissing(l.Table, strings.Join(defs, ", ")))

	if mode == storage.ModeAppend {
		for _, c := range l.Columns {
			out = append(out, fmt.Sprintf("IF COL_LENGTH(%s, %s) IS NULL ALTER TABLE %s ADD %s %s;",
				nstring(l.Table), nstring(c.Name), mssqlTableIdent(l.Table), mssqlIdent(c.Name), mssqlType(c.Type)))
		}
	}
	return out
}

func wrapCreateIfMissing(table, defs string) string {
	return fmt.Sprintf("IF OBJECT_ID(%s, N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		nstring(table), mssqlTableIdent(table), defs)
}

// buildInsertSQL builds a multi-row INSERT with @pN placeholders; the
// geometry placeholder goes through geometry::STGeomFromWKB.
func buildInsertSQL(l storage.Layout, rows [][]any) (string, []any) {
	names := l.Names()
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(l.Table))
	b.WriteString(" (")
	for i, c := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	geomAt := len(names) - 1
	args := make([]any, 0, len(rows)*len(names))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range names {
			if j > 0 {
				b.WriteString(", ")
			}
			if j == geomAt {
				fmt.Fprintf(&b, "geometry::STGeomFromWKB(@p%d, %d)", p, l.SRID)
			} else {
				fmt.Fprintf(&b, "@p%d", p)
			}
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func mssqlType(t geo.ColumnType) string {
	switch t {
	case geo.TypeInteger:
		return "BIGINT"
	case geo.TypeDouble:
		return "FLOAT"
	case geo.TypeBoolean:
		return "BIT"
	default:
		return "NVARCHAR(MAX)"
	}
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name:
//
//	"dbo.restrictions" -> [dbo].[restrictions]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// nstring renders s as an N'...' literal.
func nstring(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}
