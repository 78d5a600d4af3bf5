package wfs

import (
	"context"
	_ "embed"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"restrictions/internal/geo"
)

//go:embed primary_keys.json
var primaryKeysJSON []byte

func knownKeys(extra map[string]string) map[string]string {
	keys := map[string]string{}
	if err := json.Unmarshal(primaryKeysJSON, &keys); err != nil {
		panic(fmt.Sprintf("wfs: embedded primary_keys.json: %v", err))
	}
	for k, v := range extra {
		keys[strings.ToUpper(k)] = v
	}
	return keys
}

type capabilities struct {
	FeatureTypes []struct {
		Name string `xml:"Name"`
	} `xml:"FeatureTypeList>FeatureType"`
}

// ListTables returns every published feature type, upper-cased and without
// workspace prefix. The catalog is fetched once per Client.
func (c *Client) ListTables(ctx context.Context) (map[string]struct{}, error) {
	c.mu.Lock()
	cached := c.tables
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	body, err := c.get(ctx, "GetCapabilities", nil)
	if err != nil {
		return nil, err
	}
	var caps capabilities
	if err := xml.Unmarshal(body, &caps); err != nil {
		return nil, fmt.Errorf("wfs: parse capabilities: %w", err)
	}
	tables := make(map[string]struct{}, len(caps.FeatureTypes))
	for _, ft := range caps.FeatureTypes {
		if n := typeName(ft.Name); n != "" {
			tables[n] = struct{}{}
		}
	}
	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()
	return tables, nil
}

type featureType struct {
	TypeName   string `json:"typeName"`
	Properties []struct {
		Name      string `json:"name"`
		Type      string `json:"type"`
		LocalType string `json:"localType"`
	} `json:"properties"`
}

// geometryColumn returns the first property typed as a GML geometry.
func (ft *featureType) geometryColumn() string {
	for _, p := range ft.Properties {
		if strings.HasPrefix(p.Type, "gml:") {
			return p.Name
		}
	}
	return ""
}

func (c *Client) describe(ctx context.Context, table string) (*featureType, error) {
	table = typeName(table)
	c.mu.Lock()
	ft, ok := c.schema[table]
	c.mu.Unlock()
	if ok {
		return ft, nil
	}

	body, err := c.get(ctx, "DescribeFeatureType", url.Values{
		"typeNames":    {table},
		"outputFormat": {"application/json"},
	})
	if err != nil {
		return nil, err
	}
	var doc struct {
		FeatureTypes []featureType `json:"featureTypes"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("wfs: parse DescribeFeatureType for %s: %w", table, err)
	}
	if len(doc.FeatureTypes) == 0 {
		return nil, fmt.Errorf("wfs: %s has no feature type description", table)
	}
	ft = &doc.FeatureTypes[0]
	c.mu.Lock()
	c.schema[table] = ft
	c.mu.Unlock()
	return ft, nil
}

// TableSchema returns the columns of table, geometry included.
func (c *Client) TableSchema(ctx context.Context, table string) ([]geo.ColumnDef, error) {
	ft, err := c.describe(ctx, table)
	if err != nil {
		return nil, err
	}
	defs := make([]geo.ColumnDef, len(ft.Properties))
	for i, p := range ft.Properties {
		typ := p.LocalType
		if typ == "" {
			typ = p.Type
		}
		defs[i] = geo.ColumnDef{Name: p.Name, Type: typ}
	}
	return defs, nil
}

// PrimaryKey returns the documented key column of table.
func (c *Client) PrimaryKey(table string) (string, bool) {
	k, ok := c.keys[typeName(table)]
	return k, ok
}
