package storage

import (
	"fmt"
	"strings"

	"restrictions/internal/geo"
)

// ColumnSpec is an attribute column and its inferred type.
type ColumnSpec struct {
	Name string
	Type geo.ColumnType
}

// Layout is the physical shape of one layer: attribute columns followed by
// a single geometry column.
type Layout struct {
	Table    string
	Columns  []ColumnSpec
	Geometry string
	SRID     int
}

// Names returns attribute column names followed by the geometry column.
func (l Layout) Names() []string {
	out := make([]string, 0, len(l.Columns)+1)
	for _, c := range l.Columns {
		out = append(out, c.Name)
	}
	return append(out, l.Geometry)
}

// PlanLayout infers column types from the values in data. The geometry SRID
// comes from data.CRS; srid is used only when the table carries no EPSG code.
func PlanLayout(table string, data *geo.Table, srid int) (Layout, error) {
	if strings.TrimSpace(table) == "" {
		return Layout{}, fmt.Errorf("storage: table name is empty")
	}
	if data == nil {
		return Layout{}, fmt.Errorf("storage: no data for %s", table)
	}
	if err := data.Check(); err != nil {
		return Layout{}, err
	}
	geom := data.GeometryColumn
	if geom == "" {
		geom = geo.CanonicalGeometryColumn
	}
	if s := geo.SRID(data.CRS); s != 0 {
		srid = s
	}
	l := Layout{Table: table, Geometry: geom, SRID: srid}
	seen := map[string]bool{strings.ToLower(geom): true}
	for i, name := range data.Columns {
		key := strings.ToLower(name)
		if seen[key] {
			return Layout{}, fmt.Errorf("storage: duplicate column %q in %s", name, table)
		}
		seen[key] = true
		l.Columns = append(l.Columns, ColumnSpec{Name: name, Type: geo.InferType(data.Column(i))})
	}
	return l, nil
}

// Rows converts data into bind values in Layout.Names order, with geometry
// encoded as WKB in the last position.
func Rows(l Layout, data *geo.Table) ([][]any, error) {
	out := make([][]any, len(data.Rows))
	for i, row := range data.Rows {
		vals := make([]any, 0, len(l.Columns)+1)
		for j, c := range l.Columns {
			vals = append(vals, geo.Coerce(row[j], c.Type))
		}
		b, err := geo.EncodeWKB(data.Geoms[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = append(vals, b)
	}
	return out, nil
}

// Chunk splits rows into batches that keep rows*width bind parameters
// within maxParams.
func Chunk(rows [][]any, width, maxParams int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	size := len(rows)
	if width > 0 && maxParams > 0 {
		size = max(1, maxParams/width)
	}
	var out [][][]any
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// Missing returns the layout columns absent from existing (case-insensitive).
func Missing(l Layout, existing []string) []ColumnSpec {
	have := make(map[string]bool, len(existing))
	for _, e := range existing {
		have[strings.ToLower(e)] = true
	}
	var out []ColumnSpec
	for _, c := range l.Columns {
		if !have[strings.ToLower(c.Name)] {
			out = append(out, c)
		}
	}
	return out
}
