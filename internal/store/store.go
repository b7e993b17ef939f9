// Package store persists invocation inputs and outputs keyed by input id.
//
// Backends are selected from a database URL:
//
//	memory://                      in-process map
//	redis://host:port/db?ttl=24h   go-redis, optional expiry and key prefix
//	sqlite:///var/lib/inferd.db    modernc.org/sqlite (pure Go)
//	postgres://user:pw@host/db     gorm with the postgres driver
//
// Lookups report absence as (nil, nil); errors are reserved for backend faults.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"inferd/pkg/types"
)

// pingTimeout bounds the liveness check behind Connected.
const pingTimeout = 500 * time.Millisecond

// ErrNotConnected is returned by operations on a backend that is not connected.
var ErrNotConnected = errors.New("store: not connected")

// Backend is the persistence capability the controller depends on.
type Backend interface {
	// Connect establishes the connection. Calling Connect on a connected
	// backend is a no-op.
	Connect(ctx context.Context) error
	// Close releases the connection. Further operations fail with ErrNotConnected.
	Close() error
	// Connected reports whether the backend is usable. Networked backends
	// ping the server, so it turns false once the server goes away.
	Connected() bool
	// Scheme names the backend (memory, redis, sqlite, postgres).
	Scheme() string

	SaveInput(ctx context.Context, in types.ModelInput) error
	SaveOutput(ctx context.Context, in types.ModelInput, out types.ModelOutput) error
	GetInput(ctx context.Context, id string) (*types.ModelInput, error)
	GetOutput(ctx context.Context, id string) (*types.ModelOutput, error)
}

// Open builds the backend named by rawURL without connecting it.
func Open(rawURL string) (Backend, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("store: empty database url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse database url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "memory", "mem":
		return NewMemory(), nil
	case "redis", "rediss":
		return NewRedis(u)
	case "sqlite", "sqlite3", "file":
		return NewSQLite(sqlitePath(u))
	case "postgres", "postgresql":
		return NewPostgres(rawURL), nil
	default:
		return nil, fmt.Errorf("store: unsupported database scheme %q", u.Scheme)
	}
}

// sqlitePath turns sqlite:///abs/path, sqlite://rel/path and sqlite::memory:
// style URLs into a filesystem path.
func sqlitePath(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	if u.Host != "" {
		return u.Host + u.Path
	}
	return u.Path
}
