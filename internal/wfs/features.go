package wfs

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"restrictions/internal/geo"
)

func filterParams(filter string) url.Values {
	v := url.Values{}
	if strings.TrimSpace(filter) != "" {
		v.Set("CQL_FILTER", filter)
	}
	return v
}

// Count returns the number of features of table matching the CQL filter.
func (c *Client) Count(ctx context.Context, table, filter string) (int, error) {
	table = typeName(table)
	params := filterParams(filter)
	params.Set("typeNames", table)
	params.Set("resultType", "hits")
	body, err := c.get(ctx, "GetFeature", params)
	if err != nil {
		return 0, err
	}
	var hits struct {
		NumberMatched string `xml:"numberMatched,attr"`
	}
	if err := xml.Unmarshal(body, &hits); err != nil {
		return 0, fmt.Errorf("wfs: parse hits for %s: %w", table, err)
	}
	n, err := strconv.Atoi(hits.NumberMatched)
	if err != nil {
		return 0, fmt.Errorf("wfs: %s numberMatched %q: %w", table, hits.NumberMatched, err)
	}
	return n, nil
}

// Fetch downloads every matching feature in req.CRS. Pages are requested
// concurrently (bounded by Options.Parallel) and reassembled in page order.
// Columns follow DescribeFeatureType order, lower-cased.
func (c *Client) Fetch(ctx context.Context, req geo.FetchRequest) (*geo.Table, error) {
	table := typeName(req.Table)
	ft, err := c.describe(ctx, table)
	if err != nil {
		return nil, err
	}
	n, err := c.Count(ctx, table, req.Filter)
	if err != nil {
		return nil, err
	}

	pages := (n + c.pageSize - 1) / c.pageSize
	req.SortBy = ft.sortColumn(req.SortBy, pages)
	results := make([]*geojson.FeatureCollection, pages)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for i := 0; i < pages; i++ {
		g.Go(func() error {
			fc, err := c.page(gctx, table, req, i*c.pageSize)
			if err != nil {
				return fmt.Errorf("page %d/%d: %w", i+1, pages, err)
			}
			results[i] = fc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.log.Debug("wfs fetch complete", "table", table, "features", n, "pages", pages, "sort_by", req.SortBy)

	geomCol := ft.geometryColumn()
	var names []string
	for _, p := range ft.Properties {
		if p.Name != geomCol {
			names = append(names, p.Name)
		}
	}
	t := &geo.Table{
		Columns:        make([]string, len(names)),
		GeometryColumn: strings.ToLower(geomCol),
		CRS:            geo.NormalizeCRS(req.CRS),
	}
	for i, name := range names {
		t.Columns[i] = strings.ToLower(name)
	}
	if t.GeometryColumn == "" {
		t.GeometryColumn = "geometry"
	}
	for _, fc := range results {
		for _, f := range fc.Features {
			row := make([]any, len(names))
			for i, name := range names {
				row[i] = f.Properties[name]
			}
			t.Rows = append(t.Rows, row)
			t.Geoms = append(t.Geoms, f.Geometry)
		}
	}
	return t, nil
}

// sortColumn returns the catalog spelling of want. With no want and more
// than one page it falls back to OBJECTID, then the first attribute, since
// unsorted paging is not stable.
func (ft *featureType) sortColumn(want string, pages int) string {
	if want != "" {
		for _, p := range ft.Properties {
			if strings.EqualFold(p.Name, want) {
				return p.Name
			}
		}
		return want
	}
	if pages < 2 {
		return ""
	}
	geomCol := ft.geometryColumn()
	first := ""
	for _, p := range ft.Properties {
		if p.Name == geomCol {
			continue
		}
		if strings.EqualFold(p.Name, "OBJECTID") {
			return p.Name
		}
		if first == "" {
			first = p.Name
		}
	}
	return first
}

func (c *Client) page(ctx context.Context, table string, req geo.FetchRequest, start int) (*geojson.FeatureCollection, error) {
	params := filterParams(req.Filter)
	params.Set("typeNames", table)
	params.Set("outputFormat", "application/json")
	params.Set("count", strconv.Itoa(c.pageSize))
	params.Set("startIndex", strconv.Itoa(start))
	if req.CRS != "" {
		params.Set("srsName", geo.NormalizeCRS(req.CRS))
	}
	if req.SortBy != "" {
		params.Set("sortBy", req.SortBy)
	}
	body, err := c.get(ctx, "GetFeature", params)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("wfs: decode features of %s: %w", table, err)
	}
	return fc, nil
}
