// Package source resolves model source descriptors (local paths, remote
// archives) into model artifacts on local disk.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Source is a descriptor from which a model runtime loads a model.
type Source interface {
	// URI returns the descriptor as given by the operator.
	URI() string
	// Scheme identifies the source kind (file, http, https).
	Scheme() string
	// Fetch materializes the model under destDir and returns the local path
	// of the artifact. With an empty destDir, local sources are used in place
	// and remote sources are placed in a fresh temporary directory.
	Fetch(ctx context.Context, destDir string) (string, error)
}

// Option customizes sources built by Parse.
type Option func(*options)

type options struct {
	client *http.Client
}

// WithHTTPClient sets the client used by remote archive sources.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// Parse builds a Source from a descriptor. Supported forms:
//
//	file:///abs/path, /abs/path, ./rel/path, ~/path   local file or directory
//	http(s)://host/model.zip                           remote archive
func Parse(uri string, opts ...Option) (Source, error) {
	o := options{client: &http.Client{Timeout: 0}}
	for _, fn := range opts {
		fn(&o)
	}
	raw := strings.TrimSpace(uri)
	if raw == "" {
		return nil, fmt.Errorf("empty model source")
	}
	if !strings.Contains(raw, "://") {
		return &PathSource{uri: raw, path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse model source %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			// file://relative/path keeps the host as the first segment
			p = u.Host + u.Path
		}
		if p == "" {
			return nil, fmt.Errorf("model source %q has no path", raw)
		}
		return &PathSource{uri: raw, path: p}, nil
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("model source %q has no host", raw)
		}
		return &ArchiveSource{uri: raw, url: u, client: o.client}, nil
	default:
		return nil, fmt.Errorf("unsupported model source scheme %q", u.Scheme)
	}
}
