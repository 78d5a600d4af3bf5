// Package sqlite stores layers in a SQLite file with WKB geometry blobs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"restrictions/internal/geo"
	"restrictions/internal/storage"
)

// maxParams is SQLITE_MAX_VARIABLE_NUMBER for SQLite 3.32 and later.
const maxParams = 32766

// geometryColumnsTable records the geometry column and SRID of every layer
// written, since plain SQLite has no spatial metadata.
const geometryColumnsTable = "restrictions_geometry_columns"

func init() {
	storage.Register("sqlite", New)
}

// Repo implements storage.Repository for SQLite.
type Repo struct {
	db   *sql.DB
	srid int
}

// New opens the database named by cfg.DSN. A "sqlite://" prefix is stripped.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", dsn(cfg.DSN))
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, srid: cfg.SRID}, nil
}

func dsn(s string) string {
	if rest, ok := strings.CutPrefix(s, "sqlite://"); ok {
		return rest
	}
	return s
}

func (r *Repo) Close() { _ = r.db.Close() }

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

	if mode == storage.ModeReplace {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(l.Table)); err != nil {
			return 0, fmt.Errorf("sqlite: drop %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, buildCreateSQL(l)); err != nil {
		return 0, fmt.Errorf("sqlite: create %s: %w", table, err)
	}
	if mode == storage.ModeAppend {
		if err := addMissingColumns(ctx, tx, l); err != nil {
			return 0, err
		}
	}
	if err := registerGeometry(ctx, tx, l); err != nil {
		return 0, err
	}

	var total int64
	for _, chunk := range storage.Chunk(rows, len(l.Columns)+1, maxParams) {
		q, args := buildInsertSQL(l, chunk)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("sqlite: insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit %s: %w", table, err)
	}
	return total, nil
}

func addMissingColumns(ctx context.Context, tx *sql.Tx, l storage.Layout) error {
	rows, err := tx.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", l.Table)
	if err != nil {
		return fmt.Errorf("sqlite: columns of %s: %w", l.Table, err)
	}
	var existing []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		existing = append(existing, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range storage.Missing(l, existing) {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", sqlIdent(l.Table), sqlIdent(c.Name), sqliteType(c.Type))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: add column %s.%s: %w", l.Table, c.Name, err)
		}
	}
	return nil
}

func registerGeometry(ctx context.Context, tx *sql.Tx, l storage.Layout) error {
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (table_name TEXT PRIMARY KEY, column_name TEXT NOT NULL, srid INTEGER NOT NULL)",
			sqlIdent(geometryColumnsTable)),
		fmt.Sprintf("INSERT OR REPLACE INTO %s (table_name, column_name, srid) VALUES (?, ?, ?)",
			sqlIdent(geometryColumnsTable)),
	}
	if _, err := tx.ExecContext(ctx, stmts[0]); err != nil {
		return fmt.Errorf("sqlite: geometry metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, stmts[1], l.Table, l.Geometry, l.SRID); err != nil {
		return fmt.Errorf("sqlite: geometry metadata: %w", err)
	}
	return nil
}

func buildCreateSQL(l storage.Layout) string {
	defs := make([]string, 0, len(l.Columns)+1)
	for _, c := range l.Columns {
		defs = append(defs, sqlIdent(c.Name)+" "+sqliteType(c.Type))
	}
	defs = append(defs, sqlIdent(l.Geometry)+" BLOB")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(l.Table), strings.Join(defs, ", "))
}

func buildInsertSQL(l storage.Layout, rows [][]any) (string, []any) {
	names := l.Names()
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = sqlIdent(n)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", sqlIdent(l.Table), strings.Join(quoted, ", "))
	args := make([]any, 0, len(rows)*len(names))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		args = append(args, row...)
	}
	return b.String(), args
}

func sqliteType(t geo.ColumnType) string {
	switch t {
	case geo.TypeInteger, geo.TypeBoolean:
		return "INTEGER"
	case geo.TypeDouble:
		return "REAL"
	default:
		return "TEXT"
	}
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
