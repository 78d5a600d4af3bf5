// Package geo holds the tabular-with-geometry model shared by readers, the
// standardizer and the sinks, plus the collaborator contracts the core consumes.
package geo

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// CanonicalGeometryColumn is the geometry column name every standardized table uses.
const CanonicalGeometryColumn = "geom"

// Table is an ordered row set with exactly one geometry per row.
//
// Columns and Rows are parallel: Rows[i][j] is the value of Columns[j] for row i.
// Geoms[i] is the geometry of row i. CRS is an authority string such as
// "EPSG:3005"; an empty CRS means the source declared none.
type Table struct {
	Columns        []string
	Rows           [][]any
	Geoms          []orb.Geometry
	GeometryColumn string
	CRS            string
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Check verifies that rows, geometries and columns line up.
func (t *Table) Check() error {
	if len(t.Rows) != len(t.Geoms) {
		return fmt.Errorf("geo: %d rows but %d geometries", len(t.Rows), len(t.Geoms))
	}
	for i, r := range t.Rows {
		if len(r) != len(t.Columns) {
			return fmt.Errorf("geo: row %d has %d values, want %d", i, len(r), len(t.Columns))
		}
	}
	return nil
}

// ColumnIndex returns the position of the column with exactly this name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// ColumnIndexFold is ColumnIndex with a case-insensitive comparison.
func (t *Table) ColumnIndexFold(name string) int {
	if i := t.ColumnIndex(name); i >= 0 {
		return i
	}
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// Column returns a copy of every value in column i.
func (t *Table) Column(i int) []any {
	out := make([]any, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// LowercaseColumns lower-cases every attribute column name in place.
func (t *Table) LowercaseColumns() {
	for i, c := range t.Columns {
		t.Columns[i] = strings.ToLower(c)
	}
	t.GeometryColumn = strings.ToLower(t.GeometryColumn)
}

// RenameGeometry sets the geometry column name.
func (t *Table) RenameGeometry(name string) {
	t.GeometryColumn = name
}

// WithGeoms returns a shallow copy of t carrying the given geometries and CRS.
func (t *Table) WithGeoms(geoms []orb.Geometry, crs string) *Table {
	return &Table{
		Columns:        t.Columns,
		Rows:           t.Rows,
		Geoms:          geoms,
		GeometryColumn: t.GeometryColumn,
		CRS:            crs,
	}
}
