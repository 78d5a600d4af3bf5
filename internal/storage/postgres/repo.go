// Package postgres stores layers in PostGIS.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"restrictions/internal/geo"
	"restrictions/internal/storage"
)

// maxParams is the Postgres wire protocol limit on bind parameters.
const maxParams = 65535

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.Repository on a pgx connection pool.
type Repo struct {
	pool *pgxpool.Pool
	srid int
}

// New opens a pool for cfg.DSN and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool, srid: cfg.SRID}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// AppendOrReplace writes data in one transaction. Replace drops the table
// first; append creates it when missing and adds new columns.
func (r *Repo) AppendOrReplace(ctx context.Context, table string, data *geo.Table, mode storage.Mode) (int64, error) {
	l, err := storage.PlanLayout(table, data, r.srid)
	if err != nil {
		return 0, err
	}
	rows, err := storage.Rows(l, data)
	if err != nil {
		return 0, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	for _, stmt := range buildPrepareSQL(l, mode) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("postgres: prepare %s: %w", table, err)
		}
	}

	var total int64
	for _, chunk := range storage.Chunk(rows, len(l.Columns)+1, maxParams) {
		sql, args := buildInsertSQL(l, chunk)
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return total, fmt.Errorf("postgres: insert %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit %s: %w", table, err)
	}
	return total, nil
}

// buildPrepareSQL returns the DDL run before inserting a layer.
func buildPrepareSQL(l storage.Layout, mode storage.Mode) []string {
	var out []string
	if schema, _, ok := strings.Cut(l.Table, "."); ok {
		out = append(out, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgIdent(schema)))
	}
	if mode == storage.ModeReplace {
		out = append(out, fmt.Sprintf("DROP TABLE IF EXISTS %s", pgTableIdent(l.Table)))
	}

	defs := make([]string, 0, len(l.Columns)+1)
	for _, c := range l.Columns {
		defs = append(defs, pgIdent(c.Name)+" "+pgType(c.Type))
	}
	defs = append(defs, fmt.Sprintf("%s geometry(Geometry, %d)", pgIdent(l.Geometry), l.SRID))
	out = append(out, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgTableIdent(l.Table), strings.Join(defs, ", ")))

	if mode == storage.ModeAppend {
		for _, c := range l.Columns {
			out = append(out, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
				pgTableIdent(l.Table), pgIdent(c.Name), pgType(c.Type)))
		}
	}

	out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)",
		pgIdent(indexName(l.Table, l.Geometry)), pgTableIdent(l.Table), pgIdent(l.Geometry)))
	return out
}

// buildInsertSQL constructs a multi-row INSERT with numbered placeholders.
// The geometry placeholder is wrapped so WKB is tagged with the layout SRID.
func buildInsertSQL(l storage.Layout, rows [][]any) (string, []any) {
	names := l.Names()
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(l.Table))
	b.WriteString(" (")
	for i, c := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
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
				fmt.Fprintf(&b, "ST_GeomFromWKB($%d, %d)", p, l.SRID)
			} else {
				fmt.Fprintf(&b, "$%d", p)
			}
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

func pgType(t geo.ColumnType) string {
	switch t {
	case geo.TypeInteger:
		return "bigint"
	case geo.TypeDouble:
		return "double precision"
	case geo.TypeBoolean:
		return "boolean"
	default:
		return "text"
	}
}

func pgIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// pgTableIdent quotes each part of a schema-qualified name.
func pgTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = pgIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func indexName(table, geom string) string {
	_, t, ok := strings.Cut(table, ".")
	if !ok {
		t = table
	}
	return t + "_" + geom + "_idx"
}
