package source

// RawSource is one entry of the sources document as written by a user,
// before normalization.
type RawSource struct {
	Alias       string    `json:"alias"`
	SourceType  string    `json:"source_type"`
	Source      string    `json:"source"`
	Layer       *string   `json:"layer,omitempty"`
	Query       *string   `json:"query"`
	PrimaryKey  *string   `json:"primary_key,omitempty"`
	Description string    `json:"description,omitempty"`
	Name        string    `json:"name,omitempty"`
	NameColumn  *string   `json:"name_column,omitempty"`
	FieldMapper FieldMap  `json:"field_mapper,omitempty"`
	Data        Constants `json:"data,omitempty"`
}
