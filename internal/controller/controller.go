package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/runtime"
	"inferd/internal/source"
	"inferd/internal/store"
)

const defaultInvokeTimeout = 60 * time.Second

// log is the package logger; SetLogger replaces it at startup.
var log = zerolog.Nop()

// SetLogger installs a structured logger used by the controller.
func SetLogger(l zerolog.Logger) { log = l.With().Str("component", "controller").Logger() }

// Config holds controller tunables.
type Config struct {
	// InvokeTimeout bounds a single runtime invocation. Zero applies the default.
	InvokeTimeout time.Duration
	// Publisher receives lifecycle events. Nil drops them.
	Publisher EventPublisher
}

// Controller owns the model runtime and the database backend. Create one per
// process with New and pass it to every frontend.
type Controller struct {
	mu          sync.RWMutex
	runtime     runtime.Runtime
	backend     store.Backend
	initialized bool
	source      string
	closed      bool

	invokeTimeout time.Duration
	publisher     EventPublisher
	startTime     time.Time

	invocations atomic.Uint64
	failures    atomic.Uint64
	lastErr     atomic.Value // string
}

// New constructs an un-initialized controller.
func New(cfg Config) *Controller {
	c := &Controller{
		invokeTimeout: cfg.InvokeTimeout,
		publisher:     cfg.Publisher,
		startTime:     time.Now(),
	}
	if c.invokeTimeout <= 0 {
		c.invokeTimeout = defaultInvokeTimeout
	}
	if c.publisher == nil {
		c.publisher = noopPublisher{}
	}
	return c
}

// Initialize installs rt and be and connects the backend. On failure the
// controller is left un-initialized with no collaborators retained. Calling
// Initialize again replaces the collaborators; replaced ones are closed
// whether or not the new ones come up.
func (c *Controller) Initialize(ctx context.Context, rt runtime.Runtime, be store.Backend) error {
	log.Info().Msg("initialize")
	c.mu.Lock()
	defer c.mu.Unlock()

	oldRT, oldBE := c.runtime, c.backend
	c.runtime, c.backend, c.initialized, c.source = nil, nil, false, ""
	defer closeReplaced(oldRT, oldBE, rt, be)

	if rt == nil || be == nil {
		err := &InitError{Kind: InitMissingCollaborator, Err: errors.New("runtime and backend are required")}
		c.initFailed(err)
		return err
	}
	if err := be.Connect(ctx); err != nil {
		ierr := &InitError{Kind: InitConnectFailed, Err: err}
		c.initFailed(ierr)
		return ierr
	}
	c.runtime, c.backend, c.initialized, c.closed = rt, be, true, false
	log.Info().Str("runtime", rt.Kind()).Str("database", be.Scheme()).Msg("initialize done")
	c.publish(EventInitializeDone, "", map[string]any{"runtime": rt.Kind(), "database": be.Scheme()})
	return nil
}

// closeReplaced closes the previous collaborators unless they are being
// installed again.
func closeReplaced(oldRT runtime.Runtime, oldBE store.Backend, rt runtime.Runtime, be store.Backend) {
	if oldBE != nil && oldBE != be {
		if err := oldBE.Close(); err != nil {
			log.Warn().Err(err).Str("database", oldBE.Scheme()).Msg("close replaced backend")
		}
	}
	if oldRT != nil && oldRT != rt {
		if err := oldRT.Close(); err != nil {
			log.Warn().Err(err).Str("runtime", oldRT.Kind()).Msg("close replaced runtime")
		}
	}
}

func (c *Controller) initFailed(err error) {
	c.setLastErr(err)
	log.Error().Err(err).Msg("initialize failed")
	c.publish(EventInitializeFailed, "", map[string]any{"error": err.Error()})
}

// LoadModel loads src into the runtime. Runtimes keep their previous model
// when a load fails, so a failed hot-swap leaves the service serving.
func (c *Controller) LoadModel(ctx context.Context, src source.Source) error {
	if src == nil {
		return &LoadError{Kind: LoadFailed, Err: errors.New("nil model source")}
	}
	uri := src.URI()
	log.Info().Str("source", uri).Msg("load model")
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runtime == nil {
		err := &LoadError{Kind: LoadNoRuntime, Source: uri, Err: ErrNotReady}
		c.loadFailed(uri, err)
		return err
	}
	start := time.Now()
	if err := c.runtime.Load(ctx, src); err != nil {
		lerr := &LoadError{Kind: LoadFailed, Source: uri, Err: err}
		c.loadFailed(uri, lerr)
		return lerr
	}
	c.source = uri
	modelLoadsTotal.WithLabelValues("ok").Inc()
	log.Info().Str("source", uri).Dur("dur", time.Since(start)).Msg("load model done")
	c.publish(EventModelLoaded, "", map[string]any{"source": uri, "dur_ms": time.Since(start).Milliseconds()})
	return nil
}

func (c *Controller) loadFailed(uri string, err error) {
	modelLoadsTotal.WithLabelValues("error").Inc()
	c.setLastErr(err)
	log.Error().Err(err).Str("source", uri).Msg("load model failed")
	c.publish(EventModelLoadFailed, "", map[string]any{"source": uri, "error": err.Error()})
}

// Close closes the backend and the runtime. It waits for in-flight
// invocations and is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.initialized = false
	var errs []error
	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.runtime != nil {
		if err := c.runtime.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info().Msg("controller closed")
	return errors.Join(errs...)
}

// Shutdown is Close bounded by ctx. Close waits for in-flight invocations;
// when ctx ends first Shutdown returns and the close completes once they
// finish.
func (c *Controller) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- c.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Msg("controller close still waiting on in-flight invocations")
		return fmt.Errorf("close controller: %w", ctx.Err())
	}
}

func (c *Controller) setLastErr(err error) {
	if err != nil {
		c.lastErr.Store(err.Error())
	}
}
