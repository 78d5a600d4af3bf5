package sqlite

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restrictions/internal/geo"
	"restrictions/internal/storage"
)

func openMemory(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:", SRID: 3005})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo.(*Repo)
}

func layer(alias string, n int, extra ...string) *geo.Table {
	cols := append([]string{"index", "description", "alias", "primary_key"}, extra...)
	t := &geo.Table{Columns: cols, GeometryColumn: "geom", CRS: "EPSG:3005"}
	for i := 0; i < n; i++ {
		row := []any{int64(1), "Parks", alias, geo.Stringify(i)}
		for range extra {
			row = append(row, "x")
		}
		t.Rows = append(t.Rows, row)
		t.Geoms = append(t.Geoms, orb.MultiPolygon{{{{0, 0}, {1, 0}, {1, float64(i + 1)}, {0, 0}}}})
	}
	return t
}

func count(t *testing.T, r *Repo, table string) int {
	t.Helper()
	var n int
	require.NoError(t, r.db.QueryRow("SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n))
	return n
}

func TestAppendOrReplace_ReplaceRoundTrip(t *testing.T) {
	r := openMemory(t)
	ctx := context.Background()

	n, err := r.AppendOrReplace(ctx, "rr_01_park", layer("park", 3), storage.ModeReplace)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = r.AppendOrReplace(ctx, "rr_01_park", layer("park", 2), storage.ModeReplace)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 2, count(t, r, "rr_01_park"))

	var blob []byte
	require.NoError(t, r.db.QueryRow(`SELECT "geom" FROM "rr_01_park" WHERE "primary_key" = '1'`).Scan(&blob))
	g, err := geo.DecodeWKB(blob)
	require.NoError(t, err)
	mp, ok := g.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, orb.Point{1, 2}, mp[0][0][2])

	var srid int
	require.NoError(t, r.db.QueryRow(`SELECT srid FROM "restrictions_geometry_columns" WHERE table_name = 'rr_01_park'`).Scan(&srid))
	assert.Equal(t, 3005, srid)
}

func TestAppendOrReplace_RecordsTableSRID(t *testing.T) {
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	r := repo.(*Repo)

	data := layer("park", 1)
	data.CRS = "EPSG:4326"
	_, err = r.AppendOrReplace(context.Background(), "rr_01_park", data, storage.ModeReplace)
	require.NoError(t, err)

	var srid int
	require.NoError(t, r.db.QueryRow(`SELECT srid FROM "restrictions_geometry_columns" WHERE table_name = 'rr_01_park'`).Scan(&srid))
	assert.Equal(t, 4326, srid)
}

func TestAppendOrReplace_AppendAddsColumns(t *testing.T) {
	r := openMemory(t)
	ctx := context.Background()

	_, err := r.AppendOrReplace(ctx, "restrictions", layer("park", 2), storage.ModeAppend)
	require.NoError(t, err)
	_, err = r.AppendOrReplace(ctx, "restrictions", layer("wha", 3, "name"), storage.ModeAppend)
	require.NoError(t, err)
	assert.Equal(t, 5, count(t, r, "restrictions"))

	var nulls int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM "restrictions" WHERE "name" IS NULL`).Scan(&nulls))
	assert.Equal(t, 2, nulls)
}

func TestAppendOrReplace_EmptyLayerCreatesTable(t *testing.T) {
	r := openMemory(t)
	n, err := r.AppendOrReplace(context.Background(), "rr_02_empty", layer("empty", 0), storage.ModeReplace)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 0, count(t, r, "rr_02_empty"))
}

func TestBuildInsertSQL(t *testing.T) {
	l := storage.Layout{
		Table:    "t",
		Columns:  []storage.ColumnSpec{{Name: "a", Type: geo.TypeInteger}},
		Geometry: "geom",
	}
	q, args := buildInsertSQL(l, [][]any{{int64(1), []byte{0}}, {int64(2), nil}})
	assert.Equal(t, `INSERT INTO "t" ("a", "geom") VALUES (?, ?), (?, ?)`, q)
	assert.Len(t, args, 4)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "t" ("a" INTEGER, "geom" BLOB)`, buildCreateSQL(l))
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "/tmp/x.db", dsn("sqlite:///tmp/x.db"))
	assert.Equal(t, "file:x.db", dsn("file:x.db"))
}
