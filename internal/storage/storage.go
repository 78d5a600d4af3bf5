// Package storage writes standardized layers into spatial databases.
//
// Backends register themselves from init() and are selected by kind, which
// callers usually derive from the database URL with KindFromURL.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"restrictions/internal/geo"
)

// Mode selects how AppendOrReplace treats an existing table.
type Mode int

const (
	// ModeAppend creates the table if missing, adds any new columns and appends rows.
	ModeAppend Mode = iota
	// ModeReplace drops the table and recreates it from the incoming layer.
	ModeReplace
)

func (m Mode) String() string {
	if m == ModeReplace {
		return "replace"
	}
	return "append"
}

// Config is the minimal configuration needed to open a Repository.
//
// Kind must match a registered backend. DSN is passed through to the backend
// unchanged. SRID tags stored geometries; zero means the backend default (3005).
type Config struct {
	Kind string
	DSN  string
	SRID int
}

// Repository is a spatial table writer.
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// AppendOrReplace writes data into table inside a single transaction and
	// returns the number of rows written.
	AppendOrReplace(ctx context.Context, table string, data *geo.Table, mode Mode) (int64, error)
}

// Factory opens a Repository for a backend.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind.
//
// Panics if kind is empty, f is nil or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens a Repository with the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}
	if cfg.SRID == 0 {
		cfg.SRID = geo.SRID(geo.DefaultCRS)
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// KindFromURL maps a database URL to a backend kind.
//
//	postgres://, postgresql://        -> postgres
//	sqlserver://                      -> mssql
//	sqlite://, file:, *.db, *.sqlite  -> sqlite
func KindFromURL(dbURL string) (string, error) {
	if dbURL == "" {
		return "", fmt.Errorf("storage: empty database url")
	}
	if u, err := url.Parse(dbURL); err == nil && u.Scheme != "" {
		switch strings.ToLower(u.Scheme) {
		case "postgres", "postgresql":
			return "postgres", nil
		case "sqlserver":
			return "mssql", nil
		case "sqlite", "file":
			return "sqlite", nil
		}
	}
	switch strings.ToLower(filepath.Ext(dbURL)) {
	case ".db", ".sqlite", ".sqlite3":
		return "sqlite", nil
	}
	return "", fmt.Errorf("storage: cannot determine backend for %q", redact(dbURL))
}

// redact hides the password of a URL for error messages.
func redact(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil || u.User == nil {
		return dbURL
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
