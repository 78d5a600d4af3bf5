// Package geotest provides in-memory collaborators for tests.
package geotest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"restrictions/internal/geo"
	"restrictions/internal/storage"
)

// Remote is an in-memory geo.RemoteService. Tables are keyed by upper-cased
// identifier. Calls are recorded.
type Remote struct {
	Tables map[string]*geo.Table
	Keys   map[string]string
	// Counts overrides the row count returned for a table and filter.
	Counts map[string]int
	Err    error

	mu      sync.Mutex
	calls   []string
	fetches []geo.FetchRequest
}

func (r *Remote) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

// Calls returns the recorded calls, e.g. "Count WHSE.T".
func (r *Remote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Fetches returns every request passed to Fetch.
func (r *Remote) Fetches() []geo.FetchRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]geo.FetchRequest(nil), r.fetches...)
}

// Called reports whether a call with the given method name was made.
func (r *Remote) Called(method string) bool {
	for _, c := range r.Calls() {
		if strings.HasPrefix(c, method+" ") || c == method {
			return true
		}
	}
	return false
}

func (r *Remote) ListTables(ctx context.Context) (map[string]struct{}, error) {
	r.record("ListTables")
	if r.Err != nil {
		return nil, r.Err
	}
	out := make(map[string]struct{}, len(r.Tables))
	for k := range r.Tables {
		out[strings.ToUpper(k)] = struct{}{}
	}
	return out, nil
}

func (r *Remote) TableSchema(ctx context.Context, table string) ([]geo.ColumnDef, error) {
	r.record("TableSchema " + table)
	t, ok := r.Tables[strings.ToUpper(table)]
	if !ok {
		return nil, fmt.Errorf("no table %s", table)
	}
	defs := make([]geo.ColumnDef, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, geo.ColumnDef{Name: strings.ToUpper(c), Type: "string"})
	}
	return append(defs, geo.ColumnDef{Name: "SHAPE", Type: "gml:GeometryPropertyType"}), nil
}

func (r *Remote) Count(ctx context.Context, table, filter string) (int, error) {
	r.record("Count " + table)
	if n, ok := r.Counts[strings.ToUpper(table)+"|"+filter]; ok {
		return n, nil
	}
	return r.Tables[strings.ToUpper(table)].Len(), nil
}

// Fetch returns a copy of the stored table with lower-cased columns in req.CRS.
func (r *Remote) Fetch(ctx context.Context, req geo.FetchRequest) (*geo.Table, error) {
	r.record("Fetch " + req.Table)
	r.mu.Lock()
	r.fetches = append(r.fetches, req)
	r.mu.Unlock()
	t, ok := r.Tables[strings.ToUpper(req.Table)]
	if !ok {
		return nil, fmt.Errorf("no table %s", req.Table)
	}
	c := Clone(t)
	c.LowercaseColumns()
	c.CRS = req.CRS
	return c, nil
}

func (r *Remote) PrimaryKey(table string) (string, bool) {
	k, ok := r.Keys[strings.ToUpper(table)]
	return k, ok
}

// Files is an in-memory geo.VectorReader keyed by path and layer ("path#layer").
type Files struct {
	Layers map[string]*geo.Table
	// Filters receives the filter passed with each read.
	Filters []string
	Reads   int
}

func (f *Files) ReadVector(ctx context.Context, path, layer, filter string) (*geo.Table, error) {
	f.Reads++
	f.Filters = append(f.Filters, filter)
	key := path
	if layer != "" {
		key += "#" + layer
	}
	t, ok := f.Layers[key]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file or layer", key)
	}
	return Clone(t), nil
}

// Reprojector records invocations and shifts every coordinate by Offset.
type Reprojector struct {
	Calls  int
	Offset float64
}

func (r *Reprojector) Reproject(ctx context.Context, t *geo.Table, to string) (*geo.Table, error) {
	r.Calls++
	geoms := make([]orb.Geometry, len(t.Geoms))
	for i, g := range t.Geoms {
		if pt, ok := g.(orb.Point); ok {
			geoms[i] = orb.Point{pt[0] + r.Offset, pt[1] + r.Offset}
			continue
		}
		geoms[i] = g
	}
	return t.WithGeoms(geoms, to), nil
}

// Columnar is an in-memory geo.ColumnarWriter and geo.ColumnarReader.
// WriteColumnar also touches the file so callers that stat or upload it work.
type Columnar struct {
	mu    sync.Mutex
	Files map[string]*geo.Table
}

func (c *Columnar) WriteColumnar(ctx context.Context, t *geo.Table, path string) error {
	if err := os.WriteFile(path, []byte("PAR1"), 0o644); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Files == nil {
		c.Files = map[string]*geo.Table{}
	}
	c.Files[path] = Clone(t)
	return nil
}

func (c *Columnar) ReadColumnar(ctx context.Context, path string) (*geo.Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.Files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: not written", path)
	}
	return Clone(t), nil
}

// Repository is an in-memory storage sink recording every write.
type Repository struct {
	Writes []Write
	Err    error
	Closed int
}

// Write is one recorded AppendOrReplace call.
type Write struct {
	Table string
	Mode  storage.Mode
	Rows  int
}

func (r *Repository) Close() { r.Closed++ }

func (r *Repository) AppendOrReplace(ctx context.Context, table string, t *geo.Table, mode storage.Mode) (int64, error) {
	if r.Err != nil {
		return 0, r.Err
	}
	r.Writes = append(r.Writes, Write{Table: table, Mode: mode, Rows: t.Len()})
	return int64(t.Len()), nil
}

// Clone deep-copies columns and rows of t. Geometries are shared.
func Clone(t *geo.Table) *geo.Table {
	c := &geo.Table{
		Columns:        append([]string(nil), t.Columns...),
		Geoms:          append([]orb.Geometry(nil), t.Geoms...),
		GeometryColumn: t.GeometryColumn,
		CRS:            t.CRS,
	}
	c.Rows = make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		c.Rows[i] = append([]any(nil), r...)
	}
	return c
}
