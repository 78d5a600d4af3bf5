package geo

import (
	"encoding/json"
	"math"
)

// ColumnType is the storage type a sink uses for an attribute column.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeInteger
	TypeDouble
	TypeBoolean
)

func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeDouble:
		return "double"
	case TypeBoolean:
		return "boolean"
	default:
		return "text"
	}
}

// InferType picks the narrowest ColumnType able to hold every non-nil value.
// An all-nil column is text so that empty mapped fields keep a stable type.
func InferType(values []any) ColumnType {
	seen := false
	typ := TypeInteger
	for _, v := range values {
		if v == nil {
			continue
		}
		vt := typeOf(v)
		if !seen {
			typ, seen = vt, true
			continue
		}
		typ = widen(typ, vt)
		if typ == TypeText {
			return TypeText
		}
	}
	if !seen {
		return TypeText
	}
	return typ
}

func typeOf(v any) ColumnType {
	switch x := v.(type) {
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return TypeInteger
	case float32:
		return floatType(float64(x))
	case float64:
		return floatType(x)
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return TypeInteger
		}
		if _, err := x.Float64(); err == nil {
			return TypeDouble
		}
		return TypeText
	default:
		return TypeText
	}
}

// floatType keeps integral floats (GeoJSON decodes every number as float64)
// in integer columns.
func floatType(f float64) ColumnType {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return TypeInteger
	}
	return TypeDouble
}

func widen(a, b ColumnType) ColumnType {
	switch {
	case a == b:
		return a
	case (a == TypeInteger && b == TypeDouble) || (a == TypeDouble && b == TypeInteger):
		return TypeDouble
	default:
		return TypeText
	}
}

// Coerce converts v to the Go representation a sink binds for a column of type t.
// Values that cannot be represented are passed through unchanged.
func Coerce(v any, t ColumnType) any {
	if v == nil {
		return nil
	}
	switch t {
	case TypeInteger:
		switch x := v.(type) {
		case float64:
			return int64(x)
		case float32:
			return int64(x)
		case int:
			return int64(x)
		case int32:
			return int64(x)
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return n
			}
		}
	case TypeDouble:
		switch x := v.(type) {
		case int:
			return float64(x)
		case int64:
			return float64(x)
		case int32:
			return float64(x)
		case float32:
			return float64(x)
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return f
			}
		}
	case TypeText:
		return Stringify(v)
	}
	return v
}
