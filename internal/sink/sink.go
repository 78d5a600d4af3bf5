// Package sink persists standardized layers and reads cached ones back.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"restrictions/internal/geo"
	"restrictions/internal/objstore"
	"restrictions/internal/source"
	"restrictions/internal/storage"
)

// Sink receives one standardized layer per source.
type Sink interface {
	// Write stores t and returns where it went (a path, URL or table name).
	Write(ctx context.Context, d source.Descriptor, t *geo.Table) (string, error)
}

// Uploader copies a local file to object storage.
type Uploader interface {
	Upload(ctx context.Context, localPath, s3Path string) error
}

// Downloader copies an object to a local file.
type Downloader interface {
	Download(ctx context.Context, s3Path, localPath string) error
}

// Parquet writes one GeoParquet file per layer into Dir, a local directory
// or an s3:// prefix.
type Parquet struct {
	Writer geo.ColumnarWriter
	Store  Uploader
	Dir    string
	Prefix string
}

func (p *Parquet) Write(ctx context.Context, d source.Descriptor, t *geo.Table) (string, error) {
	name := source.FileName(p.Prefix, d, "parquet")
	dest := objstore.Join(p.Dir, name)

	if !objstore.IsS3(p.Dir) {
		if err := os.MkdirAll(p.Dir, 0o755); err != nil {
			return "", sinkErr(d, dest, err)
		}
		if err := p.Writer.WriteColumnar(ctx, t, dest); err != nil {
			return "", sinkErr(d, dest, err)
		}
		return dest, nil
	}

	if p.Store == nil {
		return "", sinkErr(d, dest, fmt.Errorf("no object store configured"))
	}
	tmp, err := os.MkdirTemp("", "restrictions-")
	if err != nil {
		return "", sinkErr(d, dest, err)
	}
	defer os.RemoveAll(tmp)

	local := filepath.Join(tmp, name)
	if err := p.Writer.WriteColumnar(ctx, t, local); err != nil {
		return "", sinkErr(d, dest, err)
	}
	if err := p.Store.Upload(ctx, local, dest); err != nil {
		return "", sinkErr(d, dest, err)
	}
	return dest, nil
}

// Database writes layers through a storage.Repository. With Table set every
// layer is appended to it; otherwise each layer replaces its own table named
// like the parquet file without the extension.
type Database struct {
	Repo   storage.Repository
	Table  string
	Prefix string
}

func (s *Database) Write(ctx context.Context, d source.Descriptor, t *geo.Table) (string, error) {
	table, mode := s.Table, storage.ModeAppend
	if table == "" {
		table, mode = source.LayerName(s.Prefix, d), storage.ModeReplace
	}
	if _, err := s.Repo.AppendOrReplace(ctx, table, t, mode); err != nil {
		return "", sinkErr(d, table, err)
	}
	return table, nil
}

// Cache reads layers a Parquet sink wrote earlier from Dir.
type Cache struct {
	Reader geo.ColumnarReader
	Store  Downloader
	Dir    string
	Prefix string
}

func (c *Cache) Read(ctx context.Context, d source.Descriptor) (*geo.Table, error) {
	name := source.FileName(c.Prefix, d, "parquet")
	from := objstore.Join(c.Dir, name)

	local := from
	if objstore.IsS3(c.Dir) {
		if c.Store == nil {
			return nil, ioErr(d, from, fmt.Errorf("no object store configured"))
		}
		tmp, err := os.MkdirTemp("", "restrictions-")
		if err != nil {
			return nil, ioErr(d, from, err)
		}
		defer os.RemoveAll(tmp)
		local = filepath.Join(tmp, name)
		if err := c.Store.Download(ctx, from, local); err != nil {
			return nil, ioErr(d, from, err)
		}
	} else if _, err := os.Stat(local); err != nil {
		return nil, ioErr(d, from, err)
	}

	t, err := c.Reader.ReadColumnar(ctx, local)
	if err != nil {
		return nil, ioErr(d, from, err)
	}
	return t, nil
}

func sinkErr(d source.Descriptor, dest string, err error) error {
	return &source.Error{Kind: source.ErrSink, Alias: d.Alias, Msg: "write " + dest, Err: err}
}

func ioErr(d source.Descriptor, from string, err error) error {
	return &source.Error{Kind: source.ErrIO, Alias: d.Alias, Msg: "read " + from, Err: err}
}
