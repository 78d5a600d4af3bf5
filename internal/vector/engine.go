// Package vector reads and writes vector data through an embedded DuckDB
// with the spatial and httpfs extensions: GDAL-readable files (including
// /vsizip/ and /vsis3/ paths), reprojection and GeoParquet.
package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/paulmach/orb"

	"restrictions/internal/geo"
)

// S3Secret gives DuckDB credentials for s3:// paths.
type S3Secret struct {
	KeyID    string
	Secret   string
	Endpoint string
	Region   string
	URLStyle string
}

// Options configures Open.
type Options struct {
	S3     *S3Secret
	Logger *slog.Logger
}

// Engine implements geo.VectorReader, geo.VectorProber, geo.Reprojector,
// geo.ColumnarWriter and geo.ColumnarReader.
type Engine struct {
	db  *sql.DB
	log *slog.Logger
	seq atomic.Int64
}

var (
	_ geo.VectorReader   = (*Engine)(nil)
	_ geo.VectorProber   = (*Engine)(nil)
	_ geo.Reprojector    = (*Engine)(nil)
	_ geo.ColumnarWriter = (*Engine)(nil)
	_ geo.ColumnarReader = (*Engine)(nil)
)

// Open starts an in-memory DuckDB and loads the extensions.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// temp tables and secrets live on one connection
	db.SetMaxOpenConns(1)

	e := &Engine{db: db, log: opts.Logger}
	if e.log == nil {
		e.log = slog.Default()
	}
	for _, stmt := range []string{
		"INSTALL spatial; LOAD spatial;",
		"INSTALL httpfs; LOAD httpfs;",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("extension setup (%s): %w", stmt, err)
		}
	}
	if s := opts.S3; s != nil && s.KeyID != "" {
		style := s.URLStyle
		if style == "" {
			style = "path"
		}
		endpoint := strings.TrimPrefix(strings.TrimPrefix(s.Endpoint, "https://"), "http://")
		stmt := fmt.Sprintf(`CREATE SECRET restrictions_s3 (
	TYPE S3,
	KEY_ID %s,
	SECRET %s,
	ENDPOINT %s,
	REGION %s,
	URL_STYLE %s
)`, quoteLiteral(s.KeyID), quoteLiteral(s.Secret), quoteLiteral(endpoint), quoteLiteral(s.Region), quoteLiteral(style))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create S3 secret: %w", err)
		}
	}
	e.log.Debug("duckdb ready", "extensions", "spatial,httpfs", "s3", opts.S3 != nil)
	return e, nil
}

// Close releases the database.
func (e *Engine) Close() error { return e.db.Close() }

type column struct {
	name string
	typ  string
}

func (e *Engine) describe(ctx context.Context, from string) ([]column, error) {
	rows, err := e.db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []column
	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, column{name: fmt.Sprint(vals[0]), typ: strings.ToUpper(fmt.Sprint(vals[1]))})
	}
	return out, rows.Err()
}

// split separates attribute columns from the geometry column, which is the
// first GEOMETRY-typed column, or a BLOB named like one.
func split(cols []column) (attrs []string, geomCol string) {
	for _, c := range cols {
		if geomCol == "" && strings.HasPrefix(c.typ, "GEOMETRY") {
			geomCol = c.name
			continue
		}
		attrs = append(attrs, c.name)
	}
	if geomCol != "" {
		return attrs, geomCol
	}
	for i, a := range attrs {
		switch strings.ToLower(a) {
		case "geom", "geometry", "shape", "wkb_geometry":
			return append(attrs[:i:i], attrs[i+1:]...), a
		}
	}
	return attrs, ""
}

// ReadVector implements geo.VectorReader.
func (e *Engine) ReadVector(ctx context.Context, path, layer, filter string) (*geo.Table, error) {
	from := stRead(path, layer)
	cols, err := e.describe(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	attrs, geomCol := split(cols)
	if geomCol == "" {
		return nil, fmt.Errorf("%s has no geometry column", path)
	}
	t, err := e.query(ctx, selectSQL(from, attrs, geomCol, filter), attrs, geomCol)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if t.CRS, err = e.layerCRS(ctx, path, layer); err != nil {
		return nil, err
	}
	e.log.Debug("read vector", "path", path, "layer", layer, "rows", t.Len(), "crs", t.CRS)
	return t, nil
}

// ProbeVector implements geo.VectorProber.
func (e *Engine) ProbeVector(ctx context.Context, path, layer, filter string) ([]string, int, error) {
	from := stRead(path, layer)
	cols, err := e.describe(ctx, from)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	attrs, _ := split(cols)
	var n int
	if err := e.db.QueryRowContext(ctx, countSQL(from, filter)).Scan(&n); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", path, err)
	}
	return attrs, n, nil
}

// layerCRS returns "AUTH:CODE" for the layer, or "" when none is declared.
func (e *Engine) layerCRS(ctx context.Context, path, layer string) (string, error) {
	rows, err := e.db.QueryContext(ctx, layerCRSSQL(path))
	if err != nil {
		return "", fmt.Errorf("read metadata of %s: %w", path, err)
	}
	defer rows.Close()
	first := true
	for rows.Next() {
		var name, auth, code sql.NullString
		if err := rows.Scan(&name, &auth, &code); err != nil {
			return "", err
		}
		if (layer == "" && first) || strings.EqualFold(name.String, layer) {
			if !auth.Valid || !code.Valid || auth.String == "" {
				return "", nil
			}
			return geo.NormalizeCRS(auth.String + ":" + code.String), nil
		}
		first = false
	}
	return "", rows.Err()
}

func (e *Engine) query(ctx context.Context, q string, attrs []string, geomCol string) (*geo.Table, error) {
	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := &geo.Table{Columns: append([]string(nil), attrs...), GeometryColumn: geomCol}
	n := len(attrs)
	for rows.Next() {
		vals := make([]any, n+1)
		ptrs := make([]any, n+1)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		var g orb.Geometry
		if b, ok := vals[n].([]byte); ok {
			if g, err = geo.DecodeWKB(b); err != nil {
				return nil, fmt.Errorf("row %d: %w", len(t.Rows), err)
			}
		}
		t.Rows = append(t.Rows, vals[:n])
		t.Geoms = append(t.Geoms, g)
	}
	return t, rows.Err()
}

// Reproject implements geo.Reprojector. Axis order is always x/y.
func (e *Engine) Reproject(ctx context.Context, t *geo.Table, to string) (*geo.Table, error) {
	from := geo.NormalizeCRS(t.CRS)
	to = geo.NormalizeCRS(to)
	if from == "" {
		return nil, errors.New("reproject: source table has no CRS")
	}
	stmt, err := e.db.PrepareContext(ctx, "SELECT ST_AsWKB(ST_Transform(ST_GeomFromWKB(?), ?, ?, true))")
	if err != nil {
		return nil, fmt.Errorf("reproject: %w", err)
	}
	defer stmt.Close()

	out := make([]orb.Geometry, len(t.Geoms))
	for i, g := range t.Geoms {
		if g == nil {
			continue
		}
		in, err := geo.EncodeWKB(g)
		if err != nil {
			return nil, err
		}
		var b []byte
		if err := stmt.QueryRowContext(ctx, in, from, to).Scan(&b); err != nil {
			return nil, fmt.Errorf("reproject row %d from %s to %s: %w", i, from, to, err)
		}
		if out[i], err = geo.DecodeWKB(b); err != nil {
			return nil, err
		}
	}
	return t.WithGeoms(out, to), nil
}

// WriteColumnar implements geo.ColumnarWriter. path may be local or s3://.
func (e *Engine) WriteColumnar(ctx context.Context, t *geo.Table, path string) (err error) {
	if err := t.Check(); err != nil {
		return err
	}
	geomCol := t.GeometryColumn
	if geomCol == "" {
		geomCol = geo.CanonicalGeometryColumn
	}
	types := make([]geo.ColumnType, len(t.Columns))
	for i := range t.Columns {
		types[i] = geo.InferType(t.Column(i))
	}
	tmp := fmt.Sprintf("__restrictions_out_%d", e.seq.Add(1))

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, createTempSQL(tmp, t.Columns, types, geomCol)); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}
	defer func() {
		if _, derr := conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+quoteIdent(tmp)); derr != nil && err == nil {
			err = derr
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL(tmp, len(t.Columns)))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for r, row := range t.Rows {
		args := make([]any, 0, len(row)+1)
		for i, v := range row {
			args = append(args, geo.Coerce(v, types[i]))
		}
		wkb, werr := geo.EncodeWKB(t.Geoms[r])
		if werr != nil {
			_ = tx.Rollback()
			return werr
		}
		args = append(args, wkb)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("stage row %d: %w", r, err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, copySQL(tmp, path, geo.NormalizeCRS(t.CRS))); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	e.log.Debug("wrote parquet", "path", path, "rows", t.Len())
	return nil
}

// ReadColumnar implements geo.ColumnarReader.
func (e *Engine) ReadColumnar(ctx context.Context, path string) (*geo.Table, error) {
	from := readParquet(path)
	cols, err := e.describe(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	attrs, geomCol := split(cols)
	if geomCol == "" {
		return nil, fmt.Errorf("%s has no geometry column", path)
	}
	t, err := e.query(ctx, selectSQL(from, attrs, geomCol, ""), attrs, geomCol)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var crs sql.NullString
	err = e.db.QueryRowContext(ctx, parquetCRSSQL(path)).Scan(&crs)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read metadata of %s: %w", path, err)
	}
	t.CRS = geo.NormalizeCRS(crs.String)
	return t, nil
}
