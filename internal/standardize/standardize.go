// Package standardize turns one source into the canonical table every sink
// consumes: index, description, alias, primary_key, the mapped fields, the
// constant fields and a multi-part geom column in the canonical CRS.
package standardize

import (
	"context"
	"fmt"
	"strings"

	"restrictions/internal/geo"
	"restrictions/internal/source"
)

// Transformer materializes descriptors.
type Transformer struct {
	Remote      geo.RemoteService
	Files       geo.VectorReader
	Reprojector geo.Reprojector
	// CRS is the canonical reference system; empty means geo.DefaultCRS.
	CRS    string
	Lookup func(string) (string, bool)
}

func (tr *Transformer) crs() string {
	if tr.CRS == "" {
		return geo.DefaultCRS
	}
	return geo.NormalizeCRS(tr.CRS)
}

// Materialize fetches or reads d and returns it in canonical form.
func (tr *Transformer) Materialize(ctx context.Context, d source.Descriptor) (*geo.Table, error) {
	var (
		raw *geo.Table
		pk  = d.PrimaryKey
		err error
	)
	switch loc := d.Location.(type) {
	case source.RemoteTable:
		raw, pk, err = tr.fetchRemote(ctx, d, loc)
	case source.FileLayer:
		raw, err = tr.readFile(ctx, d, loc)
	default:
		return nil, fmt.Errorf("%s: unsupported location %T", d.Alias, d.Location)
	}
	if err != nil {
		return nil, err
	}
	if err := raw.Check(); err != nil {
		return nil, &source.Error{Kind: source.ErrIO, Alias: d.Alias, Msg: "malformed table", Err: err}
	}
	raw.RenameGeometry(geo.CanonicalGeometryColumn)
	geo.PromoteToMulti(raw)
	return project(d, pk, raw)
}

func (tr *Transformer) fetchRemote(ctx context.Context, d source.Descriptor, loc source.RemoteTable) (*geo.Table, string, error) {
	if tr.Remote == nil {
		return nil, "", fmt.Errorf("%s: no remote service configured", d.Alias)
	}
	table := strings.ToUpper(loc.Table)
	pk := d.PrimaryKey
	if pk != "" {
		var err error
		if pk, err = tr.catalogColumn(ctx, d, table, pk); err != nil {
			return nil, "", err
		}
	} else if k, ok := tr.Remote.PrimaryKey(table); ok {
		pk = k
	}
	req := geo.FetchRequest{Table: table, Filter: d.Query, CRS: tr.crs(), SortBy: pk}
	t, err := tr.Remote.Fetch(ctx, req)
	if err != nil {
		return nil, "", &source.Error{Kind: source.ErrIO, Alias: d.Alias, Msg: "fetch " + table, Err: err}
	}
	if t.CRS == "" {
		t.CRS = req.CRS
	}
	return t, pk, nil
}

// catalogColumn returns the service's spelling of a declared column; property
// names are case-sensitive on the service side.
func (tr *Transformer) catalogColumn(ctx context.Context, d source.Descriptor, table, col string) (string, error) {
	defs, err := tr.Remote.TableSchema(ctx, table)
	if err != nil {
		return "", &source.Error{Kind: source.ErrIO, Alias: d.Alias, Msg: "describe " + table, Err: err}
	}
	for _, def := range defs {
		if strings.EqualFold(def.Name, col) {
			return def.Name, nil
		}
	}
	return "", &source.Error{Kind: source.ErrColumnMissing, Alias: d.Alias, Column: col,
		Msg: "primary key not in " + table}
}

func (tr *Transformer) readFile(ctx context.Context, d source.Descriptor, loc source.FileLayer) (*geo.Table, error) {
	if tr.Files == nil {
		return nil, fmt.Errorf("%s: no vector reader configured", d.Alias)
	}
	path, err := source.ExpandPath(loc.Path, tr.Lookup)
	if err != nil {
		return nil, &source.Error{Kind: source.ErrIO, Alias: d.Alias, Err: err}
	}
	t, err := tr.Files.ReadVector(ctx, path, loc.Layer, d.Query)
	if err != nil {
		return nil, &source.Error{Kind: source.ErrIO, Alias: d.Alias, Msg: "read " + loc.String(), Err: err}
	}
	if t.CRS == "" {
		return nil, &source.Error{Kind: source.ErrMissingProjection, Alias: d.Alias,
			Msg: loc.String() + " does not declare a coordinate reference system"}
	}
	if !geo.SameCRS(t.CRS, tr.crs()) {
		if tr.Reprojector == nil {
			return nil, fmt.Errorf("%s: %s is in %s and no reprojector is configured", d.Alias, loc, t.CRS)
		}
		t, err = tr.Reprojector.Reproject(ctx, t, tr.crs())
		if err != nil {
			return nil, &source.Error{Kind: source.ErrIO, Alias: d.Alias, Msg: "reproject to " + tr.crs(), Err: err}
		}
	}
	t.LowercaseColumns()
	return t, nil
}

// project builds the canonical column set from raw, whose columns are
// already lower-cased.
func project(d source.Descriptor, pk string, raw *geo.Table) (*geo.Table, error) {
	cols := d.OutputColumns()
	n := raw.Len()

	pkIdx := -1
	if pk != "" {
		if pkIdx = raw.ColumnIndexFold(pk); pkIdx < 0 {
			return nil, &source.Error{Kind: source.ErrColumnMissing, Alias: d.Alias, Column: pk,
				Msg: fmt.Sprintf("primary_key %s is not present in %s", pk, d.Location)}
		}
	}
	mapped := make([]int, len(d.FieldMapper))
	for i, f := range d.FieldMapper {
		mapped[i] = -1
		if f.Column == nil || *f.Column == "" {
			continue
		}
		if mapped[i] = raw.ColumnIndexFold(*f.Column); mapped[i] < 0 {
			return nil, &source.Error{Kind: source.ErrColumnMissing, Alias: d.Alias, Column: *f.Column,
				Msg: fmt.Sprintf("field_mapper column %s is not present in %s", *f.Column, d.Location)}
		}
	}

	alias := strings.ToLower(d.Alias)
	rows := make([][]any, n)
	for r := 0; r < n; r++ {
		src := raw.Rows[r]
		row := make([]any, 0, len(cols))
		key := ""
		if pkIdx >= 0 {
			key = geo.Stringify(src[pkIdx])
		}
		row = append(row, int64(d.Index), d.Description, alias, key)
		for _, idx := range mapped {
			if idx < 0 {
				row = append(row, nil)
				continue
			}
			row = append(row, src[idx])
		}
		for _, c := range d.Data {
			row = append(row, c.Value)
		}
		rows[r] = row
	}
	return &geo.Table{
		Columns:        cols,
		Rows:           rows,
		Geoms:          raw.Geoms,
		GeometryColumn: geo.CanonicalGeometryColumn,
		CRS:            geo.NormalizeCRS(raw.CRS),
	}, nil
}
