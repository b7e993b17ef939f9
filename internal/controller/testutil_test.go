package controller

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"inferd/internal/runtime"
	"inferd/internal/source"
	"inferd/internal/store"
	"inferd/pkg/types"
)

// modelSource creates a model directory and returns its source.
func modelSource(t *testing.T) source.Source {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "face_det")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	src, err := source.Parse(dir)
	if err != nil {
		t.Fatalf("parse source: %v", err)
	}
	return src
}

// missingSource points at a path that does not exist.
func missingSource(t *testing.T) source.Source {
	t.Helper()
	src, err := source.Parse(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("parse source: %v", err)
	}
	return src
}

// fakeRuntime is a scriptable runtime used for error paths.
type fakeRuntime struct {
	mu        sync.Mutex
	loaded    bool
	loadErr   error
	invokeErr error
	block     chan struct{}
	started   chan struct{}
	closed    int
}

func (f *fakeRuntime) Kind() string { return "fake" }

func (f *fakeRuntime) Load(ctx context.Context, src source.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = true
	return nil
}

func (f *fakeRuntime) Invoke(ctx context.Context, in types.ModelInput) (types.ModelOutput, error) {
	f.mu.Lock()
	err, block, started := f.invokeErr, f.block, f.started
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return types.ModelOutput{}, ctx.Err()
		}
	}
	if err != nil {
		return types.ModelOutput{}, err
	}
	return types.ModelOutput{InputID: in.ID, Payload: json.RawMessage(`{"ok":true}`)}, nil
}

func (f *fakeRuntime) Loaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *fakeRuntime) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

var _ runtime.Runtime = (*fakeRuntime)(nil)

// faultyBackend wraps the memory backend and injects failures.
type faultyBackend struct {
	*store.Memory
	connectErr   error
	saveInErr    error
	saveOutErr   error
	getErr       error
	closeCount   int
	saveInCalls  int
	saveOutCalls int
	mu           sync.Mutex
}

func newFaultyBackend() *faultyBackend { return &faultyBackend{Memory: store.NewMemory()} }

func (b *faultyBackend) Connect(ctx context.Context) error {
	if b.connectErr != nil {
		return b.connectErr
	}
	return b.Memory.Connect(ctx)
}

func (b *faultyBackend) Close() error {
	b.mu.Lock()
	b.closeCount++
	b.mu.Unlock()
	return b.Memory.Close()
}

func (b *faultyBackend) SaveInput(ctx context.Context, in types.ModelInput) error {
	b.mu.Lock()
	b.saveInCalls++
	b.mu.Unlock()
	if b.saveInErr != nil {
		return b.saveInErr
	}
	return b.Memory.SaveInput(ctx, in)
}

func (b *faultyBackend) SaveOutput(ctx context.Context, in types.ModelInput, out types.ModelOutput) error {
	b.mu.Lock()
	b.saveOutCalls++
	b.mu.Unlock()
	if b.saveOutErr != nil {
		return b.saveOutErr
	}
	return b.Memory.SaveOutput(ctx, in, out)
}

func (b *faultyBackend) GetInput(ctx context.Context, id string) (*types.ModelInput, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	return b.Memory.GetInput(ctx, id)
}

var errBoom = errors.New("boom")

// readyController returns a controller initialized with the mock runtime and
// a memory backend, with a model loaded.
func readyController(t *testing.T, cfg Config) (*Controller, *runtime.Mock, *store.Memory) {
	t.Helper()
	c := New(cfg)
	rt := runtime.NewMock(0)
	be := store.NewMemory()
	ctx := context.Background()
	if err := c.Initialize(ctx, rt, be); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.LoadModel(ctx, modelSource(t)); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	return c, rt, be
}
