package source

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldMapping maps one output field to a source column. A nil Column creates
// the output field with no values.
type FieldMapping struct {
	Field  string
	Column *string
}

// FieldMap is an ordered field_mapper. Document order is output column order.
type FieldMap []FieldMapping

// Constant is one literal output field from the data block.
type Constant struct {
	Field string
	Value any
}

// Constants is an ordered data block.
type Constants []Constant

// Fields returns the output field names in order.
func (m FieldMap) Fields() []string {
	out := make([]string, len(m))
	for i, f := range m {
		out[i] = f.Field
	}
	return out
}

// Columns returns the non-null source columns in order.
func (m FieldMap) Columns() []string {
	var out []string
	for _, f := range m {
		if f.Column != nil && *f.Column != "" {
			out = append(out, *f.Column)
		}
	}
	return out
}

// Has reports whether field is mapped.
func (m FieldMap) Has(field string) bool {
	for _, f := range m {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (m FieldMap) clone() FieldMap {
	if m == nil {
		return nil
	}
	out := make(FieldMap, len(m))
	for i, f := range m {
		out[i] = FieldMapping{Field: f.Field}
		if f.Column != nil {
			c := *f.Column
			out[i].Column = &c
		}
	}
	return out
}

// UnmarshalJSON decodes a JSON object keeping key order.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	out := FieldMap{}
	err := decodeObject(data, func(key string, raw json.RawMessage) error {
		var col *string
		if err := json.Unmarshal(raw, &col); err != nil {
			return fmt.Errorf("field_mapper.%s: %w", key, err)
		}
		out = append(out, FieldMapping{Field: key, Column: col})
		return nil
	})
	if err != nil {
		return err
	}
	*m = out
	return nil
}

// Fields returns the constant field names in order.
func (c Constants) Fields() []string {
	out := make([]string, len(c))
	for i, f := range c {
		out[i] = f.Field
	}
	return out
}

func (c Constants) clone() Constants {
	if c == nil {
		return nil
	}
	return append(Constants(nil), c...)
}

// UnmarshalJSON decodes a JSON object keeping key order. Integral numbers
// decode as int64, other numbers as float64.
func (c *Constants) UnmarshalJSON(data []byte) error {
	out := Constants{}
	err := decodeObject(data, func(key string, raw json.RawMessage) error {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("data.%s: %w", key, err)
		}
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v = i
			} else if f, err := n.Float64(); err == nil {
				v = f
			}
		}
		out = append(out, Constant{Field: key, Value: v})
		return nil
	})
	if err != nil {
		return err
	}
	*c = out
	return nil
}

// decodeObject walks a JSON object in document order. A JSON null is an
// empty object. Duplicate keys are rejected since order would be ambiguous.
func decodeObject(data []byte, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	seen := map[string]bool{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", kt)
		}
		if seen[key] {
			return fmt.Errorf("duplicate key %q", key)
		}
		seen[key] = true
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
