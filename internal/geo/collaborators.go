package geo

import "context"

// ColumnDef describes one column of a remote table.
type ColumnDef struct {
	Name string
	Type string
}

// FetchRequest selects features from a remote table.
type FetchRequest struct {
	Table  string
	Filter string
	CRS    string
	// SortBy orders paged requests so pages are stable; optional.
	SortBy string
}

// RemoteService is the capability set of a queryable feature service.
type RemoteService interface {
	// ListTables returns the upper-cased identifiers of every published table.
	ListTables(ctx context.Context) (map[string]struct{}, error)
	TableSchema(ctx context.Context, table string) ([]ColumnDef, error)
	Count(ctx context.Context, table, filter string) (int, error)
	// Fetch returns the matching features with lower-cased column names in req.CRS.
	Fetch(ctx context.Context, req FetchRequest) (*Table, error)
	// PrimaryKey reports the key column the service documents for a table.
	PrimaryKey(table string) (string, bool)
}

// VectorReader opens a layer of a vector file container.
// The returned table carries the declared CRS, or "" when the layer has none.
type VectorReader interface {
	ReadVector(ctx context.Context, path, layer, filter string) (*Table, error)
}

// VectorProber is implemented by readers that can report a layer's columns and
// matching row count without materializing geometries.
type VectorProber interface {
	ProbeVector(ctx context.Context, path, layer, filter string) (columns []string, count int, err error)
}

// Reprojector transforms every geometry of a table into another CRS.
type Reprojector interface {
	Reproject(ctx context.Context, t *Table, to string) (*Table, error)
}

// ColumnarWriter persists a table as a columnar (GeoParquet) file.
type ColumnarWriter interface {
	WriteColumnar(ctx context.Context, t *Table, path string) error
}

// ColumnarReader loads a table previously written by a ColumnarWriter.
type ColumnarReader interface {
	ReadColumnar(ctx context.Context, path string) (*Table, error)
}
