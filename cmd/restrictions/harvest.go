package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"restrictions/internal/objstore"
	"restrictions/internal/pipeline"
	"restrictions/internal/sink"
)

const (
	defaultPrefix  = "rr"
	defaultDataDir = "data"
)

func newValidateCmd(a *app) *cobra.Command {
	var (
		alias      string
		collectAll bool
	)
	cmd := &cobra.Command{
		Use:   "validate [sources_file]",
		Short: "Check that every configured source exists and has the mapped columns",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ds, err := a.loadSources(sourcesFile(args))
			if err != nil {
				return err
			}
			v, err := a.newValidator(ctx, ds, collectAll)
			if err != nil {
				return err
			}
			r := &pipeline.Runner{Validator: v, Logger: a.logger}
			selected, err := r.Validate(ctx, ds, alias)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d source(s) valid\n", len(selected))
			return nil
		},
	}
	cmd.Flags().StringVarP(&alias, "source_alias", "s", "", "validate only this source")
	cmd.Flags().BoolVar(&collectAll, "collect-all", false, "report every invalid source instead of stopping at the first")
	return cmd
}

func newDownloadCmd(a *app) *cobra.Command {
	var (
		alias    string
		dryRun   bool
		outPath  string
		prefix   string
		dbURL    string
		outTable string
	)
	cmd := &cobra.Command{
		Use:   "download [sources_file]",
		Short: "Fetch, standardize and write every configured source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ds, err := a.loadSources(sourcesFile(args))
			if err != nil {
				return err
			}
			v, err := a.newValidator(ctx, ds, false)
			if err != nil {
				return err
			}
			r := &pipeline.Runner{Validator: v, Logger: a.logger}
			opts := pipeline.Options{Alias: alias, DryRun: dryRun}
			if dryRun {
				_, err := r.Download(ctx, ds, opts)
				return err
			}

			remote, err := a.remoteService()
			if err != nil {
				return err
			}
			engine, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			r.Materializer = newTransformer(remote, engine, a.cfg.CanonicalCRS)

			if outTable != "" && dbURL == "" {
				dbURL = a.cfg.DatabaseURL
			}
			if dbURL != "" {
				repo, err := a.openRepository(ctx, dbURL)
				if err != nil {
					return err
				}
				r.Sink = &sink.Database{Repo: repo, Table: outTable, Prefix: prefix}
			} else if outTable != "" {
				return errors.New("--out_table needs --db_url or DATABASE_URL")
			} else {
				p := &sink.Parquet{Writer: engine, Dir: outPath, Prefix: prefix}
				if objstore.IsS3(outPath) {
					p.Store = a.objectStore()
				}
				r.Sink = p
			}

			results, err := r.Download(ctx, ds, opts)
			printResults(cmd.OutOrStdout(), results)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&alias, "source_alias", "s", "", "download only this source")
	f.BoolVarP(&dryRun, "dry_run", "t", false, "validate sources without downloading")
	f.StringVarP(&outPath, "out_path", "o", defaultDataDir, "output directory, local or s3://bucket/prefix")
	f.StringVar(&prefix, "prefix", defaultPrefix, "output file and table name prefix")
	f.StringVar(&dbURL, "db_url", "", "write to this database instead of parquet files")
	f.StringVar(&outTable, "out_table", "", "append every layer to this table instead of one table per source")
	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	var (
		alias    string
		dryRun   bool
		inPath   string
		prefix   string
		dbURL    string
		outTable string
	)
	cmd := &cobra.Command{
		Use:     "load [sources_file]",
		Aliases: []string{"cache2pg"},
		Short:   "Load previously downloaded parquet files into a database",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ds, err := a.loadSources(sourcesFile(args))
			if err != nil {
				return err
			}
			r := &pipeline.Runner{Logger: a.logger}
			opts := pipeline.Options{Alias: alias, DryRun: dryRun}
			if dryRun {
				v, err := a.newValidator(ctx, ds, false)
				if err != nil {
					return err
				}
				r.Validator = v
				_, err = r.Load(ctx, ds, opts)
				return err
			}

			if dbURL == "" {
				dbURL = a.cfg.DatabaseURL
			}
			if dbURL == "" {
				return errors.New("no database: set --db_url or DATABASE_URL")
			}
			engine, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			c := &sink.Cache{Reader: engine, Dir: inPath, Prefix: prefix}
			if objstore.IsS3(inPath) {
				c.Store = a.objectStore()
			}
			repo, err := a.openRepository(ctx, dbURL)
			if err != nil {
				return err
			}
			r.Cache = c
			r.Sink = &sink.Database{Repo: repo, Table: outTable, Prefix: prefix}

			results, err := r.Load(ctx, ds, opts)
			printResults(cmd.OutOrStdout(), results)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&alias, "source_alias", "s", "", "load only this source")
	f.BoolVarP(&dryRun, "dry_run", "t", false, "validate sources without loading")
	f.StringVarP(&inPath, "in_path", "p", defaultDataDir, "directory holding downloaded parquet files, local or s3://")
	f.StringVar(&prefix, "prefix", defaultPrefix, "input file and table name prefix")
	f.StringVar(&dbURL, "db_url", "", "target database (default $DATABASE_URL)")
	f.StringVarP(&outTable, "out_table", "o", "", "append every layer to this table instead of one table per source")
	return cmd
}

func printResults(w io.Writer, results []pipeline.Result) {
	for _, res := range results {
		fmt.Fprintf(w, "%02d\t%s\t%d\t%s\n", res.Index, res.Alias, res.Rows, res.Dest)
	}
}
