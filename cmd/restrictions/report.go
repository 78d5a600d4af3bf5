package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"restrictions/internal/objstore"
	"restrictions/internal/releaselog"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		logPath     string
		summaryPath string
		outPath     string
		opts        releaselog.Options
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Add a release column to the release log and report the change since the last release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if logPath == "" || summaryPath == "" || opts.Key == "" || opts.Tag == "" {
				return errors.New("--log, --summary, --key and --tag are required")
			}
			prior, err := a.readFrame(ctx, logPath)
			if err != nil {
				return err
			}
			current, err := a.readFrame(ctx, summaryPath)
			if err != nil {
				return err
			}
			out, err := releaselog.Compare(prior, current, opts)
			if err != nil {
				return err
			}
			a.logger.Info("release compared", "tag", opts.Tag, "rows", len(out.Rows))
			if outPath == "" {
				return out.WriteCSV(cmd.OutOrStdout())
			}
			return a.writeFrame(ctx, out, outPath)
		},
	}
	f := cmd.Flags()
	f.StringVar(&logPath, "log", "", "release log CSV, local or s3://")
	f.StringVar(&summaryPath, "summary", "", "current release summary CSV, local or s3://")
	f.StringVar(&opts.Key, "key", "", "column joining log rows to summary rows")
	f.StringArrayVar(&opts.Categories, "category", nil, "descriptive log column to carry through (repeatable)")
	f.StringVar(&opts.Tag, "tag", "", "release tag naming the new column")
	f.StringVar(&opts.Value, "value", "area_ha", "summary column holding the current totals")
	f.StringVar(&outPath, "out", "", "output CSV, local or s3:// (default stdout)")
	return cmd
}

func (a *app) readFrame(ctx context.Context, path string) (*releaselog.Frame, error) {
	local := path
	if objstore.IsS3(path) {
		tmp, err := os.MkdirTemp("", "restrictions-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(tmp)
		local = filepath.Join(tmp, filepath.Base(path))
		if err := a.objectStore().Download(ctx, path, local); err != nil {
			return nil, err
		}
	}
	f, err := os.Open(local)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	fr, err := releaselog.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return fr, nil
}

func (a *app) writeFrame(ctx context.Context, fr *releaselog.Frame, path string) error {
	local := path
	if objstore.IsS3(path) {
		tmp, err := os.MkdirTemp("", "restrictions-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		local = filepath.Join(tmp, filepath.Base(path))
	}
	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fr.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if local != path {
		return a.objectStore().Upload(ctx, local, path)
	}
	return nil
}
