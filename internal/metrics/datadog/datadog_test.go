package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"restrictions/internal/metrics"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}
	}
	return f.payloads[len(f.payloads)-1]
}

func quietOptions(fs *fakeSubmitter) Options {
	return Options{
		JobName:   "harvest",
		submitter: fs,
		now:       func() time.Time { return time.Unix(1000, 0) },
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name, env, dd, want string
	}{
		{"ENV_wins", "prod", "stage", "env:prod"},
		{"DD_ENV_fallback", "", "stage", "env:stage"},
		{"whitespace_ignored", "  ", "\t", "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestKeyForSortsLabels(t *testing.T) {
	a := keyFor("m", metrics.Labels{"status": "ok", "step": "sink"})
	b := keyFor("m", metrics.Labels{"step": "sink", "status": "ok"})
	if a != b {
		t.Fatalf("keys differ: %v vs %v", a, b)
	}
	if got := a.tagList(); !reflect.DeepEqual(got, []string{"status:ok", "step:sink"}) {
		t.Fatalf("tagList()=%v", got)
	}
	if got := keyFor("m", metrics.Labels{"status": ""}).tags; got != "status:unknown" {
		t.Fatalf("empty label value: %q", got)
	}
	if keyFor("m", nil).tagList() != nil {
		t.Fatalf("nil labels should give no tags")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	tests := []struct {
		s    []float64
		p    float64
		want float64
	}{
		{nil, 0.5, 0},
		{[]float64{7}, 0.95, 7},
		{[]float64{1, 2, 3}, -1, 1},
		{[]float64{1, 2, 3}, 2, 3},
		{[]float64{1, 2, 3, 4, 5}, 0.5, 3},
		{[]float64{1, 2, 3, 4, 5}, 0.9, 5},
	}
	for _, tc := range tests {
		if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
			t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
		}
	}
}

func TestNewBackendDefaults(t *testing.T) {
	fs := &fakeSubmitter{}
	opts := quietOptions(fs)
	opts.JobName = ""
	opts.Tags = []string{"team:gis"}

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:restrictions") || !contains(b.baseTags, "team:gis") {
		t.Fatalf("baseTags=%v", b.baseTags)
	}
	if b.flushEvery != time.Minute {
		t.Fatalf("flushEvery=%s, want 1m", b.flushEvery)
	}
}

func TestFlushSubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.StepTotal, 2, metrics.Labels{"step": "sink", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 40, metrics.Labels{"kind": "features"})
	b.IncCounter("unknown_total", 1, nil)
	b.IncCounter(metrics.StepTotal, 0, metrics.Labels{"step": "sink", "status": "ok"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.5, metrics.Labels{"step": "sink", "status": "ok"})
	b.ObserveHistogram(metrics.StepDurationSeconds, -1, metrics.Labels{"step": "sink", "status": "ok"})
	b.IncCounter(metrics.HTTPRequestsTotal, 7, metrics.Labels{"status": "200"})
	b.ObserveHistogram(metrics.HTTPDownloadBytes, 2048, metrics.Labels{"status": "200"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if len(b.counts) != 0 || len(b.samples) != 0 {
		t.Fatalf("buffers not reset")
	}

	byName := map[string]datadogV2.MetricSeries{}
	for _, s := range fs.last().Series {
		byName[s.Metric] = s
	}
	for _, want := range []string{
		"restrictions.step.total",
		"restrictions.records.total",
		"restrictions.http.requests.total",
		"restrictions.step.duration_seconds.p50",
		"restrictions.step.duration_seconds.samples",
		"restrictions.http.download_bytes.max",
	} {
		if _, ok := byName[want]; !ok {
			t.Fatalf("payload missing %q", want)
		}
	}
	if len(byName) != 3+6+6 {
		t.Fatalf("series=%d, want 15", len(byName))
	}
	step := byName["restrictions.step.total"]
	if *step.Points[0].Value != 2 || *step.Points[0].Timestamp != 1000 {
		t.Fatalf("step point=%v@%v", *step.Points[0].Value, *step.Points[0].Timestamp)
	}
	if !contains(step.Tags, "step:sink") || !contains(step.Tags, "job:harvest") {
		t.Fatalf("step tags=%v", step.Tags)
	}
	if got := *byName["restrictions.step.duration_seconds.samples"].Points[0].Value; got != 1 {
		t.Fatalf("negative sample was kept: samples=%v", got)
	}
}

func TestFlushEmptyDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()
	if err := b.Flush(); err != nil || fs.count() != 0 {
		t.Fatalf("Flush()=%v submits=%d", err, fs.count())
	}
}

func TestFlushErrorStillResets(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("403")}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{"kind": "features"})
	if err := b.Flush(); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("Flush() err=%v, want submit error", err)
	}
	if len(b.counts) != 0 {
		t.Fatalf("buffers not reset after failed submit")
	}
}

func TestLoopFlushesAndCloseIsIdempotent(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "validate", "status": "ok"})

	deadline := time.Now().Add(time.Second)
	for fs.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() == 0 {
		t.Fatalf("background loop never flushed")
	}

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "sink", "status": "ok"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() err=%v", err)
	}
	total := 0.0
	for _, p := range fs.payloads {
		for _, s := range p.Series {
			total += *s.Points[0].Value
		}
	}
	if total != 2 {
		t.Fatalf("submitted total=%v, want 2", total)
	}
}

func TestParseTagsCSV(t *testing.T) {
	got := ParseTagsCSV(" env:prod, ,team:gis,")
	if !reflect.DeepEqual(got, []string{"env:prod", "team:gis"}) {
		t.Fatalf("ParseTagsCSV()=%v", got)
	}
	if ParseTagsCSV("") != nil {
		t.Fatalf("empty input should give nil")
	}
}
