package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReadDocument reads a sources file. Files ending in .yaml or .yml are
// converted to JSON with key order preserved.
func ReadDocument(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read sources file: %w", ErrIO, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLToJSON(b)
	}
	return b, nil
}

// ParseDocument validates doc against the schema and decodes it.
func ParseDocument(doc []byte) ([]RawSource, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	var raws []RawSource
	if err := json.Unmarshal(doc, &raws); err != nil {
		return nil, &SchemaError{Violations: []Violation{{Message: err.Error()}}}
	}
	return raws, nil
}

// Load reads, validates and decodes a sources file.
func Load(path string) ([]RawSource, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	return ParseDocument(doc)
}

// YAMLToJSON converts a YAML document to JSON. Mapping order is kept, which
// a round trip through map[string]any would lose.
func YAMLToJSON(b []byte) ([]byte, error) {
	var n yaml.Node
	if err := yaml.Unmarshal(b, &n); err != nil {
		return nil, &SchemaError{Violations: []Violation{{Message: "invalid YAML: " + err.Error()}}}
	}
	var buf bytes.Buffer
	if err := writeNode(&buf, &n); err != nil {
		return nil, &SchemaError{Violations: []Violation{{Message: err.Error()}}}
	}
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case 0:
		buf.WriteString("null")
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeNode(buf, n.Content[0])
	case yaml.AliasNode:
		return writeNode(buf, n.Alias)
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNode(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			if k.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: mapping keys must be scalars", k.Line)
			}
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(k.Value)
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeNode(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.ScalarNode:
		return writeScalar(buf, n)
	default:
		return fmt.Errorf("line %d: unsupported YAML node", n.Line)
	}
	return nil
}

func writeScalar(buf *bytes.Buffer, n *yaml.Node) error {
	var v any
	switch n.ShortTag() {
	case "!!null":
		buf.WriteString("null")
		return nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return err
		}
		v = b
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return err
		}
		v = i
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("line %d: %s is not representable in JSON", n.Line, n.Value)
		}
		v = f
	default:
		v = n.Value
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
