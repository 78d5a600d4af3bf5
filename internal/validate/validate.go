// Package validate confirms that every configured source exists, exposes the
// columns its descriptor names and yields at least one row, before any data
// is materialized.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"restrictions/internal/geo"
	"restrictions/internal/source"
)

// Validator checks descriptors against the live state of their upstream.
type Validator struct {
	Remote geo.RemoteService
	Files  geo.VectorReader
	// Lookup resolves $VAR references in file paths; nil uses the environment.
	Lookup func(string) (string, bool)
	Logger *slog.Logger
	// CollectAll validates every source and reports all failures together
	// instead of stopping at the first one.
	CollectAll bool
}

// ValidateAll validates ds in order. By default the first failure is
// returned; with CollectAll the failures are joined.
func (v *Validator) ValidateAll(ctx context.Context, ds []source.Descriptor) error {
	var errs []error
	for _, d := range ds {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := v.Validate(ctx, d)
		if err == nil {
			continue
		}
		if !v.CollectAll {
			return err
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks one source.
func (v *Validator) Validate(ctx context.Context, d source.Descriptor) error {
	var (
		count int
		err   error
	)
	switch loc := d.Location.(type) {
	case source.RemoteTable:
		count, err = v.remote(ctx, d, loc)
	case source.FileLayer:
		count, err = v.file(ctx, d, loc)
	default:
		return fmt.Errorf("%s: unsupported location %T", d.Alias, d.Location)
	}
	if err != nil {
		return err
	}
	args := []any{"alias", d.Alias, "index", d.Index, "source", d.Location.String()}
	if count >= 0 {
		args = append(args, "count", count)
	}
	v.logger().Info("validation successful", args...)
	return nil
}

// remote returns -1 for the count when no query is set, since no count is made.
func (v *Validator) remote(ctx context.Context, d source.Descriptor, loc source.RemoteTable) (int, error) {
	if v.Remote == nil {
		return 0, fmt.Errorf("%s: no remote service configured", d.Alias)
	}
	table := strings.ToUpper(loc.Table)
	tables, err := v.Remote.ListTables(ctx)
	if err != nil {
		return 0, &source.Error{Kind: source.ErrIO, Alias: d.Alias, Msg: "list tables", Err: err}
	}
	if _, ok := tables[table]; !ok {
		return 0, &source.Error{Kind: source.ErrSourceNotFound, Alias: d.Alias,
			Msg: fmt.Sprintf("%s is not present in the remote catalog", table)}
	}
	defs, err := v.Remote.TableSchema(ctx, table)
	if err != nil {
		return 0, &source.Error{Kind: source.ErrIO, Alias: d.Alias, Msg: "describe " + table, Err: err}
	}
	names := make([]string, len(defs))
	for i, c := range defs {
		names[i] = c.Name
	}
	if err := columnsPresent(d, table, names); err != nil {
		return 0, err
	}
	if d.Query == "" {
		return -1, nil
	}
	n, err := v.Remote.Count(ctx, table, d.Query)
	if err != nil {
		return 0, &source.Error{Kind: source.ErrIO, Alias: d.Alias, Msg: "count " + table, Err: err}
	}
	if n == 0 {
		return 0, &source.Error{Kind: source.ErrEmptyResult, Alias: d.Alias,
			Msg: fmt.Sprintf("query returns no records: %s", d.Query)}
	}
	return n, nil
}

func (v *Validator) file(ctx context.Context, d source.Descriptor, loc source.FileLayer) (int, error) {
	if v.Files == nil {
		return 0, fmt.Errorf("%s: no vector reader configured", d.Alias)
	}
	path, err := source.ExpandPath(loc.Path, v.Lookup)
	if err != nil {
		return 0, &source.Error{Kind: source.ErrIO, Alias: d.Alias, Err: err}
	}

	var (
		cols  []string
		count int
	)
	if p, ok := v.Files.(geo.VectorProber); ok {
		cols, count, err = p.ProbeVector(ctx, path, loc.Layer, d.Query)
	} else {
		var t *geo.Table
		t, err = v.Files.ReadVector(ctx, path, loc.Layer, d.Query)
		if t != nil {
			cols, count = t.Columns, t.Len()
		}
	}
	if err != nil {
		return 0, &source.Error{Kind: source.ErrIO, Alias: d.Alias, Msg: "open " + loc.String(), Err: err}
	}
	lower := make([]string, len(cols))
	for i, c := range cols {
		lower[i] = strings.ToLower(c)
	}
	if err := columnsPresent(d, loc.String(), lower); err != nil {
		return 0, err
	}
	if count == 0 {
		msg := "layer has no records"
		if d.Query != "" {
			msg = fmt.Sprintf("query returns no records: %s", d.Query)
		}
		return 0, &source.Error{Kind: source.ErrEmptyResult, Alias: d.Alias, Msg: msg}
	}
	return count, nil
}

// columnsPresent reports the first required column absent from available.
func columnsPresent(d source.Descriptor, where string, available []string) error {
	missing := d.MissingColumns(available)
	if len(missing) == 0 {
		return nil
	}
	role := "field_mapper column"
	if d.PrimaryKey != "" && strings.EqualFold(missing[0], d.PrimaryKey) {
		role = "primary_key"
	}
	return &source.Error{
		Kind:   source.ErrColumnMissing,
		Alias:  d.Alias,
		Column: missing[0],
		Msg:    fmt.Sprintf("%s %s is not present in %s", role, missing[0], where),
	}
}

func (v *Validator) logger() *slog.Logger {
	if v.Logger == nil {
		return slog.Default()
	}
	return v.Logger
}
