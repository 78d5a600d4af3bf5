package main

import (
	"context"
	"fmt"

	"restrictions/internal/geo"
	"restrictions/internal/objstore"
	"restrictions/internal/source"
	"restrictions/internal/standardize"
	"restrictions/internal/storage"
	"restrictions/internal/validate"
	"restrictions/internal/vector"
	"restrictions/internal/wfs"
)

// remoteService returns the WFS client, created on first use.
func (a *app) remoteService() (*wfs.Client, error) {
	if a.remote != nil {
		return a.remote, nil
	}
	c, err := wfs.New(wfs.Options{
		URL:           a.cfg.WFSURL,
		Timeout:       a.cfg.HTTPTimeout,
		PageSize:      a.cfg.WFSPageSize,
		Parallel:      a.cfg.WFSParallel,
		RatePerSecond: a.cfg.WFSRateLimit,
		Logger:        a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wfs client: %w", err)
	}
	a.remote = c
	return c, nil
}

// openEngine starts DuckDB with the spatial extensions on first use. It is
// closed when the command finishes.
func (a *app) openEngine(ctx context.Context) (*vector.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	opts := vector.Options{Logger: a.logger}
	if a.cfg.HasS3() {
		opts.S3 = &vector.S3Secret{
			KeyID:    a.cfg.S3KeyID,
			Secret:   a.cfg.S3Secret,
			Endpoint: a.cfg.S3Endpoint,
			Region:   a.cfg.S3Region,
		}
	}
	e, err := vector.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = e.Close() })
	a.engine = e
	return e, nil
}

func (a *app) objectStore() *objstore.Store {
	return objstore.New(objstore.Config{
		Endpoint: a.cfg.S3Endpoint,
		Region:   a.cfg.S3Region,
		KeyID:    a.cfg.S3KeyID,
		Secret:   a.cfg.S3Secret,
	})
}

// openRepository picks a storage backend from the URL scheme.
func (a *app) openRepository(ctx context.Context, dbURL string) (storage.Repository, error) {
	kind, err := storage.KindFromURL(dbURL)
	if err != nil {
		return nil, err
	}
	repo, err := storage.New(ctx, storage.Config{Kind: kind, DSN: dbURL, SRID: geo.SRID(a.cfg.CanonicalCRS)})
	if err != nil {
		return nil, err
	}
	a.onClose(repo.Close)
	return repo, nil
}

// newValidator builds the existence validator. The DuckDB engine is only
// started when a FILE source needs it.
func (a *app) newValidator(ctx context.Context, ds []source.Descriptor, collectAll bool) (*validate.Validator, error) {
	remote, err := a.remoteService()
	if err != nil {
		return nil, err
	}
	v := &validate.Validator{Remote: remote, Logger: a.logger, CollectAll: collectAll}
	if hasFiles(ds) {
		e, err := a.openEngine(ctx)
		if err != nil {
			return nil, err
		}
		v.Files = e
	}
	return v, nil
}

func newTransformer(remote *wfs.Client, e *vector.Engine, crs string) *standardize.Transformer {
	return &standardize.Transformer{
		Remote:      remote,
		Files:       e,
		Reprojector: e,
		CRS:         crs,
	}
}

func hasFiles(ds []source.Descriptor) bool {
	for _, d := range ds {
		if d.Location.Kind() == source.KindFile {
			return true
		}
	}
	return false
}
