package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"restrictions/internal/geo"
)

type nopRepo struct{}

func (nopRepo) Close() {}
func (nopRepo) AppendOrReplace(context.Context, string, *geo.Table, Mode) (int64, error) {
	return 0, nil
}

func TestRegisterAndNew(t *testing.T) {
	var got Config
	Register("test-kind", func(ctx context.Context, cfg Config) (Repository, error) {
		got = cfg
		return nopRepo{}, nil
	})

	repo, err := New(context.Background(), Config{Kind: "test-kind", DSN: "x"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	repo.Close()
	if got.SRID != 3005 {
		t.Fatalf("expected default SRID 3005, got %d", got.SRID)
	}

	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	f := func(context.Context, Config) (Repository, error) { return nopRepo{}, nil }
	Register("dup-kind", f)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("dup-kind", f)
}

func TestKindFromURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"postgres://u:p@localhost:5432/db", "postgres"},
		{"postgresql://localhost/db", "postgres"},
		{"sqlserver://sa:pw@localhost?database=x", "mssql"},
		{"sqlite:///tmp/x.db", "sqlite"},
		{"file:restrictions.db?cache=shared", "sqlite"},
		{"/data/restrictions.sqlite3", "sqlite"},
		{"out.sqlite", "sqlite"},
	}
	for _, c := range cases {
		got, err := KindFromURL(c.in)
		if err != nil {
			t.Fatalf("KindFromURL(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("KindFromURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if _, err := KindFromURL("mysql://u:secret@h/db"); err == nil {
		t.Fatalf("expected error for mysql")
	} else if got := err.Error(); strings.Contains(got, "secret") {
		t.Fatalf("password leaked in error: %s", got)
	}
}

func sampleTable() *geo.Table {
	return &geo.Table{
		Columns:        []string{"index", "alias", "area"},
		Rows:           [][]any{{int64(1), "park", float64(2)}, {int64(1), "park", 2.5}},
		Geoms:          []orb.Geometry{orb.MultiPoint{{1, 2}}, orb.MultiPoint{{3, 4}}},
		GeometryColumn: "geom",
		CRS:            "EPSG:3005",
	}
}

func TestPlanLayoutAndRows(t *testing.T) {
	l, err := PlanLayout("rr_01_park", sampleTable(), 3005)
	if err != nil {
		t.Fatalf("PlanLayout: %v", err)
	}
	want := []ColumnSpec{{"index", geo.TypeInteger}, {"alias", geo.TypeText}, {"area", geo.TypeDouble}}
	if len(l.Columns) != len(want) {
		t.Fatalf("columns: %#v", l.Columns)
	}
	for i := range want {
		if l.Columns[i] != want[i] {
			t.Fatalf("column %d = %#v, want %#v", i, l.Columns[i], want[i])
		}
	}
	if names := l.Names(); names[len(names)-1] != "geom" {
		t.Fatalf("geometry must be last: %v", names)
	}

	rows, err := Rows(l, sampleTable())
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	if rows[0][2] != float64(2) {
		t.Fatalf("area must be widened to double, got %#v", rows[0][2])
	}
	if b, ok := rows[1][3].([]byte); !ok || len(b) == 0 {
		t.Fatalf("expected wkb bytes, got %#v", rows[1][3])
	}
}

func TestPlanLayoutTakesSRIDFromTable(t *testing.T) {
	data := sampleTable()
	data.CRS = "EPSG:4326"
	l, err := PlanLayout("t", data, 3005)
	if err != nil {
		t.Fatalf("PlanLayout: %v", err)
	}
	if l.SRID != 4326 {
		t.Fatalf("SRID = %d, want 4326 from the table CRS", l.SRID)
	}

	data.CRS = ""
	l, err = PlanLayout("t", data, 3005)
	if err != nil {
		t.Fatalf("PlanLayout: %v", err)
	}
	if l.SRID != 3005 {
		t.Fatalf("SRID = %d, want fallback 3005", l.SRID)
	}
}

func TestPlanLayoutRejectsBadInput(t *testing.T) {
	if _, err := PlanLayout("", sampleTable(), 3005); err == nil {
		t.Fatalf("expected error for empty table")
	}
	dup := sampleTable()
	dup.Columns = []string{"index", "Index", "area"}
	if _, err := PlanLayout("t", dup, 3005); err == nil {
		t.Fatalf("expected error for duplicate column")
	}
	bad := sampleTable()
	bad.Geoms = bad.Geoms[:1]
	if _, err := PlanLayout("t", bad, 3005); err == nil {
		t.Fatalf("expected error for misaligned geometries")
	}
}

func TestChunk(t *testing.T) {
	rows := make([][]any, 10)
	got := Chunk(rows, 4, 12)
	if len(got) != 4 || len(got[0]) != 3 || len(got[3]) != 1 {
		t.Fatalf("unexpected chunks: %d", len(got))
	}
	if Chunk(nil, 4, 12) != nil {
		t.Fatalf("expected nil for no rows")
	}
	if got := Chunk(rows, 100, 10); len(got) != 10 {
		t.Fatalf("wide rows must still make progress, got %d chunks", len(got))
	}
}

func TestMissing(t *testing.T) {
	l, _ := PlanLayout("t", sampleTable(), 3005)
	miss := Missing(l, []string{"INDEX", "alias", "geom"})
	if len(miss) != 1 || miss[0].Name != "area" {
		t.Fatalf("unexpected missing: %#v", miss)
	}
}
