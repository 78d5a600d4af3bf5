// Package pipeline drives sources through validation, materialization and
// a sink, strictly in configured order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"restrictions/internal/geo"
	"restrictions/internal/metrics"
	"restrictions/internal/sink"
	"restrictions/internal/source"
)

// Validator checks every descriptor before any data moves.
type Validator interface {
	ValidateAll(ctx context.Context, ds []source.Descriptor) error
}

// Materializer produces the standardized layer for one descriptor.
type Materializer interface {
	Materialize(ctx context.Context, d source.Descriptor) (*geo.Table, error)
}

// Reader loads a previously written layer.
type Reader interface {
	Read(ctx context.Context, d source.Descriptor) (*geo.Table, error)
}

// Runner wires the stages together. Collaborators are injected so their
// lifetimes (database pools, DuckDB engines) stay with the caller.
type Runner struct {
	Validator    Validator
	Materializer Materializer
	Sink         sink.Sink
	Cache        Reader
	Logger       *slog.Logger
}

// Options narrow a run.
type Options struct {
	// Alias restricts the run to one source (declared or normalized alias).
	Alias string
	// DryRun validates only.
	DryRun bool
}

// Result describes one written layer.
type Result struct {
	Index int
	Alias string
	Rows  int
	Dest  string
}

// Validate selects and validates descriptors.
func (r *Runner) Validate(ctx context.Context, ds []source.Descriptor, alias string) ([]source.Descriptor, error) {
	ds, err := source.Select(ds, alias)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	err = r.Validator.ValidateAll(ctx, ds)
	metrics.Step("validate", start, err)
	if err != nil {
		return nil, err
	}
	r.logger().Info("validation successful: all layers appear valid", "sources", len(ds))
	return ds, nil
}

// Download validates every selected source, then materializes each one and
// hands it to the sink. The first failure aborts the run.
func (r *Runner) Download(ctx context.Context, ds []source.Descriptor, opts Options) ([]Result, error) {
	ds, err := r.Validate(ctx, ds, opts.Alias)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return nil, nil
	}

	out := make([]Result, 0, len(ds))
	for _, d := range ds {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		start := time.Now()
		t, err := r.Materializer.Materialize(ctx, d)
		metrics.Step("materialize", start, err)
		if err != nil {
			return out, err
		}
		res, err := r.write(ctx, d, t)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Load copies cached layers into the sink. A dry run validates the sources
// instead of touching the cache.
func (r *Runner) Load(ctx context.Context, ds []source.Descriptor, opts Options) ([]Result, error) {
	if opts.DryRun {
		_, err := r.Validate(ctx, ds, opts.Alias)
		return nil, err
	}
	if r.Cache == nil {
		return nil, fmt.Errorf("pipeline: load needs a cache reader")
	}
	ds, err := source.Select(ds, opts.Alias)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(ds))
	for _, d := range ds {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		t, err := r.Cache.Read(ctx, d)
		if err != nil {
			return out, err
		}
		res, err := r.write(ctx, d, t)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *Runner) write(ctx context.Context, d source.Descriptor, t *geo.Table) (Result, error) {
	start := time.Now()
	dest, err := r.Sink.Write(ctx, d, t)
	metrics.Step("sink", start, err)
	if err != nil {
		return Result{}, err
	}
	metrics.IncCounter(metrics.RecordsTotal, float64(t.Len()), metrics.Labels{"kind": "features"})
	r.logger().Info("layer written", "alias", d.Alias, "index", d.Index, "rows", t.Len(), "dest", dest)
	return Result{Index: d.Index, Alias: d.Alias, Rows: t.Len(), Dest: dest}, nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
