// Package wfs is a client for an OGC Web Feature Service 2.0 endpoint such as
// the BC Geographic Warehouse (openmaps.gov.bc.ca). It implements
// geo.RemoteService.
package wfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"restrictions/internal/geo"
	"restrictions/internal/metrics"
)

// DefaultURL is the public BC Geographic Warehouse WFS endpoint.
const DefaultURL = "https://openmaps.gov.bc.ca/geo/pub/wfs"

// Options configures a Client. Zero values select the defaults.
type Options struct {
	URL        string
	HTTPClient *http.Client
	// Timeout bounds every request. Defaults to 60s.
	Timeout time.Duration
	// PageSize is the feature count per GetFeature request. Defaults to 10000.
	PageSize int
	// Parallel bounds concurrent page requests within one Fetch. Defaults to 4.
	Parallel int
	// RatePerSecond limits request starts; 0 disables limiting.
	RatePerSecond float64
	// PrimaryKeys adds or overrides known table keys.
	PrimaryKeys map[string]string
	Logger      *slog.Logger
}

// Client talks to one WFS endpoint.
type Client struct {
	base     *url.URL
	http     *http.Client
	pageSize int
	parallel int
	limiter  *rate.Limiter
	keys     map[string]string
	log      *slog.Logger

	mu     sync.Mutex
	tables map[string]struct{}
	schema map[string]*featureType
}

var _ geo.RemoteService = (*Client)(nil)

// New builds a Client.
func New(opts Options) (*Client, error) {
	raw := opts.URL
	if raw == "" {
		raw = DefaultURL
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("wfs: invalid url %q", raw)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 16,
			},
		}
	}
	c := &Client{
		base:     base,
		http:     hc,
		pageSize: opts.PageSize,
		parallel: opts.Parallel,
		keys:     knownKeys(opts.PrimaryKeys),
		log:      opts.Logger,
		schema:   map[string]*featureType{},
	}
	if c.pageSize <= 0 {
		c.pageSize = 10000
	}
	if c.parallel <= 0 {
		c.parallel = 4
	}
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

func (c *Client) query(request string, extra url.Values) string {
	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("version", "2.0.0")
	q.Set("request", request)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u := *c.base
	u.RawQuery = q.Encode()
	return u.String()
}

// get performs one GET and returns the whole body. Non-2xx responses become
// *HTTPError. Every exchange is recorded in metrics.
func (c *Client) get(ctx context.Context, request string, params url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	rawURL := c.query(request, params)
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordHTTP("wfs", 0, err, time.Since(start), -1, -1)
		return nil, fmt.Errorf("wfs %s: %w", request, err)
	}
	defer resp.Body.Close()
	headers := time.Since(start)

	body, err := io.ReadAll(resp.Body)
	metrics.RecordHTTP("wfs", resp.StatusCode, err, headers, time.Since(start), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("wfs %s: read body: %w", request, err)
	}
	c.log.Debug("wfs request", "request", request, "status", resp.StatusCode,
		"bytes", len(body), "duration", time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPError(rawURL, resp.StatusCode, resp.Header.Get("Content-Type"), body)
	}
	if isExceptionReport(resp.Header.Get("Content-Type"), body) {
		return nil, newHTTPError(rawURL, resp.StatusCode, "application/xml", body)
	}
	return body, nil
}

// typeName strips a workspace prefix ("pub:") and upper-cases the identifier.
func typeName(s string) string {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return strings.ToUpper(strings.TrimSpace(s))
}
