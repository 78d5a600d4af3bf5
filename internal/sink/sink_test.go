package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restrictions/internal/geo"
	"restrictions/internal/geo/geotest"
	"restrictions/internal/source"
	"restrictions/internal/storage"
)

type memStore struct {
	objects map[string][]byte
	err     error
}

func (m *memStore) Upload(ctx context.Context, localPath, s3Path string) error {
	if m.err != nil {
		return m.err
	}
	b, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.objects[s3Path] = b
	return nil
}

func (m *memStore) Download(ctx context.Context, s3Path, localPath string) error {
	b, ok := m.objects[s3Path]
	if !ok {
		return errors.New("NoSuchKey")
	}
	return os.WriteFile(localPath, b, 0o644)
}

func descriptor() source.Descriptor {
	return source.Descriptor{
		Index:    1,
		Alias:    "park_national",
		Location: source.RemoteTable{Table: "WHSE_ADMIN_BOUNDARIES.CLAB_NATIONAL_PARKS"},
	}
}

func layer() *geo.Table {
	return &geo.Table{
		Columns:        []string{"index", "alias"},
		Rows:           [][]any{{int64(1), "park_national"}},
		Geoms:          []orb.Geometry{orb.MultiPoint{{1, 1}}},
		GeometryColumn: "geom",
		CRS:            "EPSG:3005",
	}
}

func TestParquet_LocalDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := &geotest.Columnar{}
	s := &Parquet{Writer: w, Dir: dir, Prefix: "rr"}

	dest, err := s.Write(context.Background(), descriptor(), layer())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rr_01_park_national.parquet"), dest)
	assert.Contains(t, w.Files, dest)
	assert.FileExists(t, dest)
}

func TestParquet_S3UploadsAndCleansUp(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	w := &geotest.Columnar{}
	s := &Parquet{Writer: w, Store: store, Dir: "s3://bucket/releases/", Prefix: "rr"}

	dest, err := s.Write(context.Background(), descriptor(), layer())
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/releases/rr_01_park_national.parquet", dest)
	assert.Equal(t, []byte("PAR1"), store.objects[dest])
	for local := range w.Files {
		assert.NoFileExists(t, local)
	}
}

func TestParquet_UploadFailureIsSinkError(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}, err: errors.New("access denied")}
	s := &Parquet{Writer: &geotest.Columnar{}, Store: store, Dir: "s3://bucket/x", Prefix: "rr"}

	_, err := s.Write(context.Background(), descriptor(), layer())
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrSink)
	assert.Contains(t, err.Error(), "park_national")
	assert.Contains(t, err.Error(), "access denied")
}

func TestDatabase_ReplacePerLayer(t *testing.T) {
	repo := &geotest.Repository{}
	s := &Database{Repo: repo, Prefix: "rr"}

	table, err := s.Write(context.Background(), descriptor(), layer())
	require.NoError(t, err)
	assert.Equal(t, "rr_01_park_national", table)
	require.Len(t, repo.Writes, 1)
	assert.Equal(t, storage.ModeReplace, repo.Writes[0].Mode)
}

func TestDatabase_AppendToOutTable(t *testing.T) {
	repo := &geotest.Repository{}
	s := &Database{Repo: repo, Table: "whse.restrictions", Prefix: "rr"}

	_, err := s.Write(context.Background(), descriptor(), layer())
	require.NoError(t, err)
	assert.Equal(t, geotest.Write{Table: "whse.restrictions", Mode: storage.ModeAppend, Rows: 1}, repo.Writes[0])

	repo.Err = errors.New("relation is locked")
	_, err = s.Write(context.Background(), descriptor(), layer())
	assert.ErrorIs(t, err, source.ErrSink)
}

func TestCache_ReadsBackWhatParquetWrote(t *testing.T) {
	ctx := context.Background()
	cols := &geotest.Columnar{}

	dir := t.TempDir()
	_, err := (&Parquet{Writer: cols, Dir: dir, Prefix: "rr"}).Write(ctx, descriptor(), layer())
	require.NoError(t, err)

	got, err := (&Cache{Reader: cols, Dir: dir, Prefix: "rr"}).Read(ctx, descriptor())
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())

	missing := descriptor()
	missing.Index = 2
	_, err = (&Cache{Reader: cols, Dir: dir, Prefix: "rr"}).Read(ctx, missing)
	assert.ErrorIs(t, err, source.ErrIO)
}

func TestCache_DownloadsFromS3(t *testing.T) {
	ctx := context.Background()
	store := &memStore{objects: map[string][]byte{}}
	cols := &geotest.Columnar{}

	_, err := (&Parquet{Writer: cols, Store: store, Dir: "s3://b/cache", Prefix: "rr"}).Write(ctx, descriptor(), layer())
	require.NoError(t, err)

	// the fake reader is keyed by local path; re-key the written table
	// under whatever temp path the cache downloads to
	var written *geo.Table
	for _, tb := range cols.Files {
		written = tb
	}
	reader := &pathAgnostic{t: written}

	got, err := (&Cache{Reader: reader, Store: store, Dir: "s3://b/cache", Prefix: "rr"}).Read(ctx, descriptor())
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
	assert.Equal(t, "rr_01_park_national.parquet", filepath.Base(reader.path))
}

type pathAgnostic struct {
	t    *geo.Table
	path string
}

func (p *pathAgnostic) ReadColumnar(ctx context.Context, path string) (*geo.Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	p.path = path
	return geotest.Clone(p.t), nil
}
