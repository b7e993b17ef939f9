// Package shutdown runs the process frontends and drains them on termination.
//
// A Coordinator starts in Running once its frontends are bound, moves to
// Draining when the run context is canceled, and ends in Stopped after every
// frontend has drained (or been force-stopped at the grace deadline) and the
// stop hooks have run.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultGrace is the drain window used when Config.Grace is zero.
const DefaultGrace = 30 * time.Second

var log = zerolog.Nop()

// SetLogger installs a structured logger used by the coordinator.
func SetLogger(l zerolog.Logger) { log = l.With().Str("component", "shutdown").Logger() }

// State is the coordinator lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Drainer is a frontend the coordinator serves and drains.
type Drainer interface {
	Name() string
	// Serve blocks until the frontend stops. A stop caused by Drain or
	// ForceStop returns nil.
	Serve() error
	// Drain stops accepting new work and waits for in-flight work until ctx ends.
	Drain(ctx context.Context) error
	// ForceStop abandons in-flight work.
	ForceStop()
}

// Hook runs during shutdown. Errors are logged and joined into Run's result.
type Hook func(ctx context.Context) error

type Config struct {
	// Grace bounds the drain of all frontends.
	Grace time.Duration
	// StopTimeout bounds the stop hooks. Defaults to Grace.
	StopTimeout time.Duration
}

// Coordinator owns the frontends for the life of the process.
type Coordinator struct {
	drainers    []Drainer
	grace       time.Duration
	stopTimeout time.Duration
	state       atomic.Int32

	mu      sync.Mutex
	onDrain []Hook
	onStop  []Hook
}

// New returns a coordinator in state Running.
func New(cfg Config, drainers ...Drainer) *Coordinator {
	grace := cfg.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = grace
	}
	return &Coordinator{drainers: drainers, grace: grace, stopTimeout: stopTimeout}
}

// OnDrain registers a hook run when draining starts, before frontends drain.
func (c *Coordinator) OnDrain(h Hook) {
	c.mu.Lock()
	c.onDrain = append(c.onDrain, h)
	c.mu.Unlock()
}

// OnStop registers a hook run after all frontends stopped, in registration order.
func (c *Coordinator) OnStop(h Hook) {
	c.mu.Lock()
	c.onStop = append(c.onStop, h)
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Run serves every frontend until ctx is canceled or a frontend fails, then
// drains. A frontend that misses the grace deadline is force-stopped; that
// alone is not an error.
func (c *Coordinator) Run(ctx context.Context) error {
	var serving errgroup.Group
	failed := make(chan error, len(c.drainers))
	for _, d := range c.drainers {
		d := d
		serving.Go(func() error {
			if err := d.Serve(); err != nil {
				err = fmt.Errorf("%s: %w", d.Name(), err)
				failed <- err
				return err
			}
			return nil
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("termination requested")
	case runErr = <-failed:
		log.Error().Err(runErr).Msg("frontend failed")
	}

	c.state.Store(int32(StateDraining))
	log.Info().Dur("grace", c.grace).Msg("draining")
	drainCtx, cancel := context.WithTimeout(context.Background(), c.grace)
	defer cancel()

	var errs []error
	errs = append(errs, c.runHooks(drainCtx, c.hooks(&c.onDrain), "drain")...)
	c.drainAll(drainCtx)
	if err := serving.Wait(); err != nil && runErr == nil {
		runErr = err
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), c.stopTimeout)
	defer stopCancel()
	errs = append(errs, c.runHooks(stopCtx, c.hooks(&c.onStop), "stop")...)
	c.state.Store(int32(StateStopped))
	log.Info().Msg("stopped")
	return errors.Join(append([]error{runErr}, errs...)...)
}

func (c *Coordinator) drainAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range c.drainers {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			if err := d.Drain(ctx); err != nil {
				log.Warn().Err(err).Str("frontend", d.Name()).Msg("drain incomplete, forcing stop")
				d.ForceStop()
				return
			}
			log.Info().Str("frontend", d.Name()).Dur("dur", time.Since(start)).Msg("drained")
		}()
	}
	wg.Wait()
}

func (c *Coordinator) hooks(list *[]Hook) []Hook {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Hook(nil), (*list)...)
}

func (c *Coordinator) runHooks(ctx context.Context, hooks []Hook, phase string) []error {
	var errs []error
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			log.Warn().Err(err).Str("phase", phase).Msg("shutdown hook failed")
			errs = append(errs, err)
		}
	}
	return errs
}
