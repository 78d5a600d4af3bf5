package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restrictions/internal/geo"
	"restrictions/internal/geo/geotest"
	"restrictions/internal/metrics"
	"restrictions/internal/sink"
	"restrictions/internal/source"
	"restrictions/internal/standardize"
	"restrictions/internal/storage"
	"restrictions/internal/validate"
)

func strp(s string) *string { return &s }

func table(ids ...float64) *geo.Table {
	t := &geo.Table{Columns: []string{"OBJECTID", "NAME"}, GeometryColumn: "SHAPE"}
	for _, id := range ids {
		t.Rows = append(t.Rows, []any{id, "n"})
		t.Geoms = append(t.Geoms, orb.Point{id, id})
	}
	return t
}

func descriptors() []source.Descriptor {
	return []source.Descriptor{
		{
			Index: 1, Alias: "park_national", DeclaredAlias: "Park National",
			Location:    source.RemoteTable{Table: "WHSE.PARKS"},
			PrimaryKey:  "OBJECTID",
			FieldMapper: source.FieldMap{{Field: "name", Column: strp("NAME")}},
		},
		{
			Index: 2, Alias: "wha",
			Location:   source.RemoteTable{Table: "WHSE.WHA"},
			PrimaryKey: "OBJECTID",
		},
	}
}

func fixture(tables map[string]*geo.Table) (*Runner, *geotest.Remote, *geotest.Repository) {
	remote := &geotest.Remote{Tables: tables}
	repo := &geotest.Repository{}
	return &Runner{
		Validator:    &validate.Validator{Remote: remote},
		Materializer: &standardize.Transformer{Remote: remote},
		Sink:         &sink.Database{Repo: repo, Prefix: "rr"},
	}, remote, repo
}

func TestDownload_WritesEveryLayerInOrder(t *testing.T) {
	r, _, repo := fixture(map[string]*geo.Table{"WHSE.PARKS": table(1, 2), "WHSE.WHA": table(3)})

	res, err := r.Download(context.Background(), descriptors(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []Result{
		{Index: 1, Alias: "park_national", Rows: 2, Dest: "rr_01_park_national"},
		{Index: 2, Alias: "wha", Rows: 1, Dest: "rr_02_wha"},
	}, res)
	assert.Equal(t, []geotest.Write{
		{Table: "rr_01_park_national", Mode: storage.ModeReplace, Rows: 2},
		{Table: "rr_02_wha", Mode: storage.ModeReplace, Rows: 1},
	}, repo.Writes)
}

func TestDownload_ValidationRunsBeforeAnyFetch(t *testing.T) {
	// second table missing from the catalog
	r, remote, repo := fixture(map[string]*geo.Table{"WHSE.PARKS": table(1)})

	_, err := r.Download(context.Background(), descriptors(), Options{})
	require.ErrorIs(t, err, source.ErrSourceNotFound)
	assert.False(t, remote.Called("Fetch"))
	assert.Empty(t, repo.Writes)
}

func TestDownload_DryRunValidatesOnly(t *testing.T) {
	r, remote, repo := fixture(map[string]*geo.Table{"WHSE.PARKS": table(1), "WHSE.WHA": table(2)})

	res, err := r.Download(context.Background(), descriptors(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.True(t, remote.Called("TableSchema"))
	assert.False(t, remote.Called("Fetch"))
	assert.Empty(t, repo.Writes)
}

func TestDownload_SingleAlias(t *testing.T) {
	r, remote, repo := fixture(map[string]*geo.Table{"WHSE.WHA": table(2)})

	_, err := r.Download(context.Background(), descriptors(), Options{Alias: "wha"})
	require.NoError(t, err)
	require.Len(t, repo.Writes, 1)
	assert.Equal(t, "rr_02_wha", repo.Writes[0].Table)
	assert.NotContains(t, remote.Calls(), "TableSchema WHSE.PARKS")

	_, err = r.Download(context.Background(), descriptors(), Options{Alias: "Park National"})
	assert.ErrorIs(t, err, source.ErrSourceNotFound)

	_, err = r.Download(context.Background(), descriptors(), Options{Alias: "caribou"})
	assert.ErrorIs(t, err, source.ErrUnknownAlias)
}

type failing struct {
	calls int
	at    int
}

func (f *failing) Materialize(ctx context.Context, d source.Descriptor) (*geo.Table, error) {
	f.calls++
	if d.Index == f.at {
		return nil, &source.Error{Kind: source.ErrIO, Alias: d.Alias, Err: errors.New("timeout")}
	}
	return &geo.Table{Columns: []string{"index"}, Rows: [][]any{{int64(d.Index)}}, Geoms: []orb.Geometry{orb.MultiPoint{}}}, nil
}

type okValidator struct{}

func (okValidator) ValidateAll(context.Context, []source.Descriptor) error { return nil }

func TestDownload_FirstMaterializeFailureAborts(t *testing.T) {
	repo := &geotest.Repository{}
	m := &failing{at: 1}
	r := &Runner{Validator: okValidator{}, Materializer: m, Sink: &sink.Database{Repo: repo, Prefix: "rr"}}

	_, err := r.Download(context.Background(), descriptors(), Options{})
	require.ErrorIs(t, err, source.ErrIO)
	assert.Equal(t, 1, m.calls)
	assert.Empty(t, repo.Writes)
}

func TestDownload_SinkFailureAborts(t *testing.T) {
	repo := &geotest.Repository{Err: errors.New("disk full")}
	m := &failing{}
	r := &Runner{Validator: okValidator{}, Materializer: m, Sink: &sink.Database{Repo: repo, Prefix: "rr"}}

	res, err := r.Download(context.Background(), descriptors(), Options{})
	require.ErrorIs(t, err, source.ErrSink)
	assert.Empty(t, res)
	assert.Equal(t, 1, m.calls)
}

func TestDownload_CanceledContext(t *testing.T) {
	r := &Runner{Validator: okValidator{}, Materializer: &failing{}, Sink: &sink.Database{Repo: &geotest.Repository{}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Download(ctx, descriptors(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

type cache struct {
	read []string
}

func (c *cache) Read(ctx context.Context, d source.Descriptor) (*geo.Table, error) {
	c.read = append(c.read, d.Alias)
	if d.Alias == "missing" {
		return nil, &source.Error{Kind: source.ErrIO, Alias: d.Alias}
	}
	return table(1, 2, 3), nil
}

func TestLoad_AppendsCachedLayersToOutTable(t *testing.T) {
	repo := &geotest.Repository{}
	c := &cache{}
	r := &Runner{Cache: c, Sink: &sink.Database{Repo: repo, Table: "restrictions", Prefix: "rr"}}

	res, err := r.Load(context.Background(), descriptors(), Options{})
	require.NoError(t, err)
	assert.Len(t, res, 2)
	assert.Equal(t, []string{"park_national", "wha"}, c.read)
	for _, w := range repo.Writes {
		assert.Equal(t, geotest.Write{Table: "restrictions", Mode: storage.ModeAppend, Rows: 3}, w)
	}
}

func TestLoad_DryRunValidatesWithoutReadingCache(t *testing.T) {
	r, remote, repo := fixture(map[string]*geo.Table{"WHSE.PARKS": table(1), "WHSE.WHA": table(2)})
	c := &cache{}
	r.Cache = c

	_, err := r.Load(context.Background(), descriptors(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, c.read)
	assert.Empty(t, repo.Writes)
	assert.True(t, remote.Called("ListTables"))
}

func TestLoad_MissingCacheFileAborts(t *testing.T) {
	ds := append(descriptors(), source.Descriptor{Index: 3, Alias: "missing", Location: source.RemoteTable{Table: "X"}})
	ds[0], ds[2] = ds[2], ds[0]
	repo := &geotest.Repository{}
	c := &cache{}
	r := &Runner{Cache: c, Sink: &sink.Database{Repo: repo}}

	_, err := r.Load(context.Background(), ds, Options{})
	require.ErrorIs(t, err, source.ErrIO)
	assert.Equal(t, []string{"missing"}, c.read)
	assert.Empty(t, repo.Writes)
}

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
}

func (r *recorder) IncCounter(name string, delta float64, l metrics.Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+l["step"]+"|"+l["status"]+"|"+l["kind"]] += delta
}

func (r *recorder) ObserveHistogram(string, float64, metrics.Labels) {}

func TestDownload_RecordsStepMetrics(t *testing.T) {
	rec := &recorder{counters: map[string]float64{}}
	metrics.SetBackend(rec)
	t.Cleanup(func() { metrics.SetBackend(nil) })

	r, _, _ := fixture(map[string]*geo.Table{"WHSE.PARKS": table(1, 2), "WHSE.WHA": table(3)})
	_, err := r.Download(context.Background(), descriptors(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, rec.counters[metrics.StepTotal+"|validate|ok|"])
	assert.Equal(t, 2.0, rec.counters[metrics.StepTotal+"|materialize|ok|"])
	assert.Equal(t, 2.0, rec.counters[metrics.StepTotal+"|sink|ok|"])
	assert.Equal(t, 3.0, rec.counters[metrics.RecordsTotal+"|||features"])
}
