// Package datadog is a Datadog backend for internal/metrics.
//
// Observations are buffered in memory and submitted on a ticker (once a
// minute by default) and once more on Close, so long harvests show up as a
// time series rather than a single point at exit. Flush swaps the buffers
// under the lock and submits outside it.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"restrictions/internal/metrics"
)

// Options configures the backend.
type Options struct {
	// JobName is tagged as job:<name>. Defaults to "restrictions".
	JobName string
	// Tags are extra tags such as "env:prod".
	Tags []string
	// FlushEvery defaults to 60s.
	FlushEvery time.Duration

	// test seams
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Datadog names for the metrics this backend forwards. Anything else is dropped.
var (
	counterNames = map[string]string{
		metrics.StepTotal:         "restrictions.step.total",
		metrics.RecordsTotal:      "restrictions.records.total",
		metrics.HTTPRequestsTotal: "restrictions.http.requests.total",
		metrics.HTTPErrorsTotal:   "restrictions.http.errors.total",
	}
	histogramNames = map[string]string{
		metrics.StepDurationSeconds:         "restrictions.step.duration_seconds",
		metrics.HTTPRequestDurationSeconds:  "restrictions.http.request_duration_seconds",
		metrics.HTTPResponseDurationSeconds: "restrictions.http.response_duration_seconds",
		metrics.HTTPDownloadBytes:           "restrictions.http.download_bytes",
	}
)

// seriesKey identifies one Datadog series: a metric name plus its sorted tags.
type seriesKey struct {
	metric string
	tags   string
}

func keyFor(metric string, labels metrics.Labels) seriesKey {
	if len(labels) == 0 {
		return seriesKey{metric: metric}
	}
	tags := make([]string, 0, len(labels))
	for k, v := range labels {
		if v == "" {
			v = "unknown"
		}
		tags = append(tags, k+":"+v)
	}
	sort.Strings(tags)
	return seriesKey{metric: metric, tags: strings.Join(tags, ",")}
}

func (k seriesKey) tagList() []string {
	if k.tags == "" {
		return nil
	}
	return strings.Split(k.tags, ",")
}

// Backend implements metrics.Backend.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu      sync.Mutex
	counts  map[seriesKey]float64
	samples map[seriesKey][]float64
}

var _ metrics.Backend = (*Backend)(nil)
var _ metrics.Flusher = (*Backend)(nil)

func resolveEnvTag() string {
	for _, k := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

// NewBackend starts a backend with a background flush loop. Credentials and
// site come from the usual DD_API_KEY / DD_SITE environment variables.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "restrictions"
	}
	b := &Backend{
		api:        opts.submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: opts.FlushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   append([]string{resolveEnvTag(), "job:" + job}, opts.Tags...),
		now:        opts.now,
		newTicker:  opts.newTicker,
		counts:     make(map[seriesKey]float64),
		samples:    make(map[seriesKey][]float64),
	}
	if b.flushEvery <= 0 {
		b.flushEvery = time.Minute
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newTicker == nil {
		b.newTicker = time.NewTicker
	}
	if b.api == nil {
		b.api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := b.newTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and submits whatever is still buffered.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	metric, ok := counterNames[name]
	if !ok || delta <= 0 {
		return
	}
	k := keyFor(metric, labels)
	b.mu.Lock()
	b.counts[k] += delta
	b.mu.Unlock()
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	metric, ok := histogramNames[name]
	if !ok || value < 0 {
		return
	}
	k := keyFor(metric, labels)
	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

func (b *Backend) swap() (map[seriesKey]float64, map[seriesKey][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	counts, samples := b.counts, b.samples
	b.counts = make(map[seriesKey]float64)
	b.samples = make(map[seriesKey][]float64)
	return counts, samples
}

// Flush submits buffered observations. Buffers are reset even when the
// submission fails.
func (b *Backend) Flush() error {
	counts, samples := b.swap()
	if len(counts) == 0 && len(samples) == 0 {
		return nil
	}
	series := b.buildSeries(counts, samples, b.now().Unix())
	_, _, err := b.api.SubmitMetrics(b.ctx, datadogV2.MetricPayload{Series: series}, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries is pure: counters become COUNT series, histograms become
// percentile gauges. Output is sorted by metric name then tags.
func (b *Backend) buildSeries(counts map[seriesKey]float64, samples map[seriesKey][]float64, ts int64) []datadogV2.MetricSeries {
	var series []datadogV2.MetricSeries
	for _, k := range sortedKeys(counts) {
		series = append(series, point(k.metric, datadogV2.METRICINTAKETYPE_COUNT, counts[k], b.tags(k), ts))
	}
	for _, k := range sortedKeys(samples) {
		s := samples[k]
		if len(s) == 0 {
			continue
		}
		cp := append([]float64(nil), s...)
		sort.Float64s(cp)
		tags := b.tags(k)
		for _, p := range []struct {
			suffix string
			q      float64
		}{{"p50", 0.50}, {"p90", 0.90}, {"p95", 0.95}, {"p99", 0.99}} {
			series = append(series, point(k.metric+"."+p.suffix, datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(cp, p.q), tags, ts))
		}
		series = append(series,
			point(k.metric+".max", datadogV2.METRICINTAKETYPE_GAUGE, cp[len(cp)-1], tags, ts),
			point(k.metric+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(cp)), tags, ts),
		)
	}
	return series
}

func (b *Backend) tags(k seriesKey) []string {
	extra := k.tagList()
	out := make([]string, 0, len(b.baseTags)+len(extra))
	out = append(out, b.baseTags...)
	return append(out, extra...)
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, ts int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(value)}},
		Tags:   tags,
	}
}

func sortedKeys[V any](m map[seriesKey]V) []seriesKey {
	keys := make([]seriesKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].metric != keys[j].metric {
			return keys[i].metric < keys[j].metric
		}
		return keys[i].tags < keys[j].tags
	})
	return keys
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	switch {
	case n == 0:
		return 0
	case p <= 0:
		return s[0]
	case p >= 1:
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV splits "env:prod, team:gis" into tags, dropping blanks.
func ParseTagsCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
