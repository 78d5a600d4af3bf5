package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"restrictions/internal/config"
	"restrictions/internal/metrics"
	"restrictions/internal/metrics/datadog"
	"restrictions/internal/source"
	"restrictions/internal/vector"
	"restrictions/internal/wfs"
)

const defaultSourcesFile = "sources.json"

// app carries state shared by every subcommand once the root pre-run hook
// has loaded configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	stderr io.Writer

	envFile        string
	verbose        int
	quiet          int
	logFormat      string
	metricsBackend string

	remote  *wfs.Client
	engine  *vector.Engine
	closers []func()
}

// run executes the command line and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "restrictions",
		Short:         "Harvest land-use restriction layers into a common schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.CountVarP(&a.verbose, "verbose", "v", "more log output (repeatable)")
	pf.CountVarP(&a.quiet, "quiet", "q", "less log output (repeatable)")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json (default $LOG_FORMAT or text)")
	pf.StringVar(&a.metricsBackend, "metrics-backend", "", "metrics backend: none or datadog (default $METRICS_BACKEND)")
	pf.StringVar(&a.envFile, "env-file", ".env", "file of KEY=VALUE pairs loaded before the environment is read")

	root.AddCommand(newValidateCmd(a))
	root.AddCommand(newDownloadCmd(a))
	root.AddCommand(newLoadCmd(a))
	root.AddCommand(newReportCmd(a))
	return root
}

// setup loads configuration, installs the logger and picks a metrics backend.
func (a *app) setup(ctx context.Context) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg = cfg

	base, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	format := a.logFormat
	if format == "" {
		format = cfg.LogFormat
	}
	logger, err := config.SetupLogging(config.Verbosity(base, a.verbose, a.quiet), format, a.stderr)
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings {
		logger.Warn("config", "warning", w)
	}
	a.logger = logger.With("run_id", uuid.NewString())

	backend := a.metricsBackend
	if backend == "" {
		backend = cfg.MetricsBackend
	}
	a.setupMetrics(ctx, backend)
	return nil
}

func (a *app) setupMetrics(ctx context.Context, backend string) {
	switch backend {
	case "datadog":
		b, err := datadog.NewBackend(context.WithoutCancel(ctx), datadog.Options{
			JobName:    a.cfg.JobName,
			Tags:       a.cfg.MetricsTags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			a.logger.Warn("metrics: failed to init datadog backend; using nop", "error", err)
			return
		}
		a.logger.Info("metrics", "backend", backend, "job_name", a.cfg.JobName, "tags", a.cfg.MetricsTags)
		metrics.SetBackend(b)
		a.onClose(func() {
			if err := b.Close(); err != nil {
				a.logger.Warn("metrics: datadog close/flush error", "error", err)
			}
			metrics.SetBackend(nil)
		})
	case "", "none":
		a.logger.Debug("metrics disabled")
	default:
		a.logger.Warn("metrics: unknown backend; metrics disabled", "backend", backend)
	}
}

// onClose registers fn to run after the command finishes, newest first.
func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// loadSources reads, schema-checks and normalizes the sources file.
func (a *app) loadSources(path string) ([]source.Descriptor, error) {
	raws, err := source.Load(path)
	if err != nil {
		return nil, err
	}
	ds, warnings, err := source.Normalize(raws, time.Now())
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		a.logger.Warn("source", "warning", w.String())
	}
	a.logger.Info("sources loaded", "path", path, "count", len(ds))
	return ds, nil
}

func sourcesFile(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return defaultSourcesFile
}
