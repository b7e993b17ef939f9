// Package runtime abstracts the model runtime the controller invokes.
//
// Implementations:
//
//   - mock: in-process sample model (upper-cases string payloads). Used for
//     development, tests and the black-box suite.
//   - serving: HTTP client for a TensorFlow-Serving compatible REST server.
//     Load materializes the source as a new numbered version under the
//     server's model base path and waits for it to become AVAILABLE.
//
// Load contract: a failed Load MUST leave any previously loaded model in
// place and servable. The controller relies on this for runtime hot-swaps.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"inferd/internal/source"
	"inferd/pkg/types"
)

// Runtime holds a loaded model and produces outputs for inputs.
type Runtime interface {
	// Load loads (or replaces) the model from src. On failure the previous
	// model, if any, stays loaded.
	Load(ctx context.Context, src source.Source) error
	// Invoke runs the model on one input. Implementations must return when
	// ctx is done.
	Invoke(ctx context.Context, in types.ModelInput) (types.ModelOutput, error)
	// Loaded reports whether a model is ready to serve.
	Loaded() bool
	// Kind names the implementation (mock, serving).
	Kind() string
	// Close releases resources held by the runtime.
	Close() error
}

// Config selects and tunes a runtime implementation.
type Config struct {
	Kind string
	// serving
	BaseURL       string
	ModelName     string
	ModelBasePath string
	LoadTimeout   time.Duration
	PollInterval  time.Duration
	// mock
	Latency time.Duration
}

// New constructs the runtime named by cfg.Kind.
func New(cfg Config) (Runtime, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "mock":
		return NewMock(cfg.Latency), nil
	case "serving":
		return NewServing(cfg)
	default:
		return nil, fmt.Errorf("unknown runtime kind %q", cfg.Kind)
	}
}
