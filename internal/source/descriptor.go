package source

import "strings"

// Reserved output columns every materialized source carries, in order.
const (
	ColumnIndex       = "index"
	ColumnDescription = "description"
	ColumnAlias       = "alias"
	ColumnPrimaryKey  = "primary_key"
)

// ReservedColumns lists the fixed leading output columns.
var ReservedColumns = []string{ColumnIndex, ColumnDescription, ColumnAlias, ColumnPrimaryKey}

// Location says where a source lives. It is either a RemoteTable or a FileLayer.
type Location interface {
	Kind() Kind
	String() string
	isLocation()
}

// RemoteTable is a table published by the remote feature service.
type RemoteTable struct {
	Table string
}

func (RemoteTable) Kind() Kind       { return KindRemoteService }
func (r RemoteTable) String() string { return r.Table }
func (RemoteTable) isLocation()      {}

// FileLayer is a layer of a vector file. Path may still hold $VAR references;
// they are expanded when the file is opened.
type FileLayer struct {
	Path  string
	Layer string
}

func (FileLayer) Kind() Kind { return KindFile }

func (f FileLayer) String() string {
	if f.Layer == "" {
		return f.Path
	}
	return f.Path + "#" + f.Layer
}

func (FileLayer) isLocation() {}

// Descriptor is a normalized source. Values are never mutated after
// Normalize returns them.
type Descriptor struct {
	Index         int
	Alias         string
	DeclaredAlias string
	Description   string
	Location      Location
	Query         string
	PrimaryKey    string
	FieldMapper   FieldMap
	Data          Constants
}

// Kind returns the kind of the descriptor's location.
func (d Descriptor) Kind() Kind { return d.Location.Kind() }

// RequiredColumns returns the source columns that must exist: the primary key
// and every non-null field_mapper value.
func (d Descriptor) RequiredColumns() []string {
	var out []string
	if d.PrimaryKey != "" {
		out = append(out, d.PrimaryKey)
	}
	return append(out, d.FieldMapper.Columns()...)
}

// OutputColumns returns the attribute columns of a materialized source in
// canonical order. The geometry column follows them.
func (d Descriptor) OutputColumns() []string {
	out := make([]string, 0, len(ReservedColumns)+len(d.FieldMapper)+len(d.Data))
	out = append(out, ReservedColumns...)
	out = append(out, d.FieldMapper.Fields()...)
	return append(out, d.Data.Fields()...)
}

// MissingColumns returns the required columns absent from available,
// compared case-insensitively.
func (d Descriptor) MissingColumns(available []string) []string {
	have := make(map[string]bool, len(available))
	for _, c := range available {
		have[strings.ToLower(c)] = true
	}
	var missing []string
	for _, c := range d.RequiredColumns() {
		if !have[strings.ToLower(c)] {
			missing = append(missing, c)
		}
	}
	return missing
}
