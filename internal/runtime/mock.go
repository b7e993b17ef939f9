package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"inferd/internal/source"
	"inferd/pkg/types"
)

// Mock is an in-process sample model. String payloads are upper-cased,
// string values inside objects and arrays are upper-cased recursively, and
// every other JSON value is echoed back.
type Mock struct {
	mu      sync.RWMutex
	loaded  bool
	src     string
	path    string
	latency time.Duration
	closed  bool
}

// NewMock returns an unloaded mock runtime. latency simulates inference time.
func NewMock(latency time.Duration) *Mock { return &Mock{latency: latency} }

func (m *Mock) Kind() string { return "mock" }

// Load resolves the source in place. A failed fetch keeps the previous model.
func (m *Mock) Load(ctx context.Context, src source.Source) error {
	if src == nil {
		return errors.New("nil model source")
	}
	p, err := src.Fetch(ctx, "")
	if err != nil {
		return fmt.Errorf("fetch model: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("runtime is closed")
	}
	m.loaded = true
	m.src = src.URI()
	m.path = p
	return nil
}

func (m *Mock) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded && !m.closed
}

// SetLoaded flips the loaded flag; used by health tests.
func (m *Mock) SetLoaded(v bool) {
	m.mu.Lock()
	m.loaded = v
	m.mu.Unlock()
}

func (m *Mock) Invoke(ctx context.Context, in types.ModelInput) (types.ModelOutput, error) {
	if !m.Loaded() {
		return types.ModelOutput{}, errors.New("model not loaded")
	}
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return types.ModelOutput{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return types.ModelOutput{}, err
	}
	var v any
	if len(in.Payload) > 0 {
		if err := json.Unmarshal(in.Payload, &v); err != nil {
			return types.ModelOutput{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	b, err := json.Marshal(upper(v))
	if err != nil {
		return types.ModelOutput{}, fmt.Errorf("encode output: %w", err)
	}
	return types.ModelOutput{InputID: in.ID, Payload: b, CreatedAt: time.Now().UTC()}, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func upper(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ToUpper(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = upper(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = upper(val)
		}
		return out
	default:
		return v
	}
}
