// Package metrics is the process-wide metrics facade. Pipeline code records
// through the package functions; a backend chosen at startup receives them.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names recorded by the pipeline.
const (
	StepTotal           = "etl_step_total"
	StepDurationSeconds = "etl_step_duration_seconds"
	RecordsTotal        = "etl_records_total"

	HTTPRequestsTotal           = "etl_http_requests_total"
	HTTPErrorsTotal             = "etl_http_errors_total"
	HTTPRequestDurationSeconds  = "etl_http_request_duration_seconds"
	HTTPResponseDurationSeconds = "etl_http_response_duration_seconds"
	HTTPDownloadBytes           = "etl_http_download_bytes"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer observations.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Step records the outcome and duration of a pipeline step started at start.
func Step(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), l)
}

// RecordHTTP records one HTTP exchange. status is 0 when no response arrived.
// requestDur runs until headers arrive, responseDur until the body is read.
// bytes < 0 means the size is unknown.
func RecordHTTP(job string, status int, err error, requestDur, responseDur time.Duration, bytes int64) {
	l := Labels{"job": job, "status": "none"}
	if status > 0 {
		l["status"] = strconv.Itoa(status)
	}
	IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status >= 400 || status == 0 {
		IncCounter(HTTPErrorsTotal, 1, l)
	}
	if requestDur >= 0 {
		ObserveHistogram(HTTPRequestDurationSeconds, requestDur.Seconds(), l)
	}
	if responseDur >= 0 {
		ObserveHistogram(HTTPResponseDurationSeconds, responseDur.Seconds(), l)
	}
	if bytes >= 0 {
		ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}
