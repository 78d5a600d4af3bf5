package vector

import (
	"fmt"
	"strings"

	"restrictions/internal/geo"
)

const (
	wkbColumn = "__wkb"
	// crsMetadataKey is the parquet key/value entry holding the table CRS.
	crsMetadataKey = "restrictions_crs"
)

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// stRead is the table expression for one layer of a vector file.
func stRead(path, layer string) string {
	if layer == "" {
		return fmt.Sprintf("ST_Read(%s)", quoteLiteral(path))
	}
	return fmt.Sprintf("ST_Read(%s, layer = %s)", quoteLiteral(path), quoteLiteral(layer))
}

func readParquet(path string) string {
	return fmt.Sprintf("read_parquet(%s)", quoteLiteral(path))
}

func where(filter string) string {
	if strings.TrimSpace(filter) == "" {
		return ""
	}
	return " WHERE " + filter
}

// selectSQL selects the attribute columns plus the geometry as WKB, last.
func selectSQL(from string, attrs []string, geomCol, filter string) string {
	cols := make([]string, 0, len(attrs)+1)
	for _, a := range attrs {
		cols = append(cols, quoteIdent(a))
	}
	cols = append(cols, fmt.Sprintf("ST_AsWKB(%s) AS %s", quoteIdent(geomCol), quoteIdent(wkbColumn)))
	return fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(cols, ", "), from, where(filter))
}

func countSQL(from, filter string) string {
	return fmt.Sprintf("SELECT count(*) FROM %s%s", from, where(filter))
}

// layerCRSSQL lists every layer of a file with the authority of its first
// geometry field.
func layerCRSSQL(path string) string {
	return fmt.Sprintf(`WITH l AS (SELECT unnest(layers) AS layer FROM ST_Read_Meta(%s))
SELECT layer.name,
       layer.geometry_fields[1].crs.auth_name,
       layer.geometry_fields[1].crs.auth_code
FROM l`, quoteLiteral(path))
}

func duckType(t geo.ColumnType) string {
	switch t {
	case geo.TypeInteger:
		return "BIGINT"
	case geo.TypeDouble:
		return "DOUBLE"
	case geo.TypeBoolean:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

func createTempSQL(name string, cols []string, types []geo.ColumnType, geomCol string) string {
	defs := make([]string, 0, len(cols)+1)
	for i, c := range cols {
		defs = append(defs, quoteIdent(c)+" "+duckType(types[i]))
	}
	defs = append(defs, quoteIdent(geomCol)+" GEOMETRY")
	return fmt.Sprintf("CREATE TEMP TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
}

func insertSQL(name string, ncols int) string {
	ph := make([]string, 0, ncols+1)
	for i := 0; i < ncols; i++ {
		ph = append(ph, "?")
	}
	ph = append(ph, "ST_GeomFromWKB(?)")
	return fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), strings.Join(ph, ", "))
}

func copySQL(name, path, crs string) string {
	return fmt.Sprintf("COPY (SELECT * FROM %s) TO %s (FORMAT PARQUET, COMPRESSION ZSTD, KV_METADATA {%s: %s})",
		quoteIdent(name), quoteLiteral(path), crsMetadataKey, quoteLiteral(crs))
}

func parquetCRSSQL(path string) string {
	return fmt.Sprintf("SELECT decode(value) FROM parquet_kv_metadata(%s) WHERE decode(key) = %s",
		quoteLiteral(path), quoteLiteral(crsMetadataKey))
}
