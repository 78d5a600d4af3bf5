// Package config loads process configuration from the environment and sets
// up logging.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"restrictions/internal/geo"
	"restrictions/internal/metrics/datadog"
	"restrictions/internal/wfs"
)

// Config holds settings shared by every command. Flags override these.
type Config struct {
	DatabaseURL  string
	WFSURL       string
	CanonicalCRS string
	HTTPTimeout  time.Duration
	WFSPageSize  int
	WFSParallel  int
	// WFSRateLimit is requests per second; 0 means unlimited.
	WFSRateLimit float64

	S3Endpoint string
	S3Region   string
	S3KeyID    string
	S3Secret   string

	LogLevel       string
	LogFormat      string
	MetricsBackend string
	MetricsTags    []string
	JobName        string

	// Warnings collects non-fatal problems found while loading. They are
	// logged by the caller once the logger exists.
	Warnings []string
}

// HasS3 reports whether static S3 credentials are configured.
func (c *Config) HasS3() bool {
	return c.S3KeyID != "" && c.S3Secret != ""
}

// LoadDotEnv loads KEY=VALUE pairs from path without overriding variables
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv reads configuration from the process environment.
func LoadFromEnv() (*Config, error) {
	return Load(os.LookupEnv)
}

// Load reads configuration through lookup.
func Load(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := &Config{
		DatabaseURL:    get("DATABASE_URL"),
		WFSURL:         get("WFS_URL"),
		CanonicalCRS:   get("CANONICAL_CRS"),
		S3Endpoint:     get("S3_ENDPOINT"),
		S3Region:       get("S3_REGION"),
		S3KeyID:        get("AWS_ACCESS_KEY_ID"),
		S3Secret:       get("AWS_SECRET_ACCESS_KEY"),
		LogLevel:       strings.ToLower(get("LOG_LEVEL")),
		LogFormat:      strings.ToLower(get("LOG_FORMAT")),
		MetricsBackend: strings.ToLower(get("METRICS_BACKEND")),
		MetricsTags:    datadog.ParseTagsCSV(get("METRICS_TAGS")),
		JobName:        get("JOB_NAME"),
		HTTPTimeout:    60 * time.Second,
		WFSPageSize:    10000,
		WFSParallel:    4,
	}

	var errs []error
	if v := get("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("HTTP_TIMEOUT: invalid duration %q", v))
		}
		cfg.HTTPTimeout = d
	}
	if v := get("WFS_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("WFS_PAGE_SIZE: want a positive integer, got %q", v))
		}
		cfg.WFSPageSize = n
	}
	if v := get("WFS_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("WFS_PARALLEL: want a positive integer, got %q", v))
		}
		cfg.WFSParallel = n
	}
	if v := get("WFS_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			errs = append(errs, fmt.Errorf("WFS_RATE_LIMIT: want a non-negative number, got %q", v))
		}
		cfg.WFSRateLimit = f
	}

	// Defaults
	if cfg.WFSURL == "" {
		cfg.WFSURL = wfs.DefaultURL
	}
	if cfg.CanonicalCRS == "" {
		cfg.CanonicalCRS = geo.DefaultCRS
	} else if geo.SRID(cfg.CanonicalCRS) == 0 {
		errs = append(errs, fmt.Errorf("CANONICAL_CRS: no EPSG code in %q", cfg.CanonicalCRS))
	} else {
		cfg.CanonicalCRS = geo.NormalizeCRS(cfg.CanonicalCRS)
	}
	if cfg.S3Region == "" {
		cfg.S3Region = "us-east-1"
	}
	if cfg.JobName == "" {
		cfg.JobName = "restrictions"
	}

	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT: want text or json, got %q", cfg.LogFormat))
	}
	if cfg.LogLevel != "" {
		if _, err := ParseLevel(cfg.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
		}
	}
	switch cfg.MetricsBackend {
	case "", "none", "datadog":
	default:
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("METRICS_BACKEND %q is unknown; metrics disabled", cfg.MetricsBackend))
		cfg.MetricsBackend = "none"
	}
	if (cfg.S3KeyID == "") != (cfg.S3Secret == "") {
		cfg.Warnings = append(cfg.Warnings, "only one of AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY is set; S3 uses the default credential chain")
	}
	if cfg.WFSParallel > 16 {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("WFS_PARALLEL=%d is high for a shared public service", cfg.WFSParallel))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}
