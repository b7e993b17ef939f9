package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inferd/pkg/types"
)

// Invoke runs the model on in and persists the input and the output, in that
// order. An empty in.ID is replaced with a generated UUID; the returned
// output's InputID carries the id actually used.
//
// On PersistFailed the output is returned alongside the *InvokeError so the
// caller is not denied a successful inference.
func (c *Controller) Invoke(ctx context.Context, in types.ModelInput) (types.ModelOutput, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	l := log.With().Str("input_id", in.ID).Logger()
	l.Debug().Msg("invoke")
	start := time.Now()

	out, err := c.invoke(ctx, in)

	invokeDuration.Observe(time.Since(start).Seconds())
	invocationsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		c.failures.Add(1)
		c.setLastErr(err)
		l.Error().Err(err).Dur("dur", time.Since(start)).Msg("invoke failed")
		c.publish(EventInvokeFailed, in.ID, map[string]any{"error": err.Error()})
		return out, err
	}
	c.invocations.Add(1)
	l.Info().Dur("dur", time.Since(start)).Msg("invoke done")
	c.publish(EventInvokeDone, in.ID, map[string]any{"dur_ms": time.Since(start).Milliseconds()})
	return out, nil
}

func (c *Controller) invoke(ctx context.Context, in types.ModelInput) (types.ModelOutput, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.initialized || c.runtime == nil || c.backend == nil {
		return types.ModelOutput{}, &InvokeError{Kind: InvokeNotReady, InputID: in.ID, Err: fmt.Errorf("%w: not initialized", ErrNotReady)}
	}
	if !c.runtime.Loaded() {
		return types.ModelOutput{}, &InvokeError{Kind: InvokeNotReady, InputID: in.ID, Err: fmt.Errorf("%w: model not loaded", ErrNotReady)}
	}

	ictx, cancel := context.WithTimeout(ctx, c.invokeTimeout)
	out, err := c.runtime.Invoke(ictx, in)
	cancel()
	if err != nil {
		return types.ModelOutput{}, &InvokeError{Kind: InvokeInferenceFailed, InputID: in.ID, Err: err}
	}
	out.InputID = in.ID
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	if err := c.backend.SaveInput(ctx, in); err != nil {
		return out, &InvokeError{Kind: InvokePersistFailed, InputID: in.ID, Output: &out, Err: fmt.Errorf("save input: %w", err)}
	}
	if err := c.backend.SaveOutput(ctx, in, out); err != nil {
		return out, &InvokeError{Kind: InvokePersistFailed, InputID: in.ID, Output: &out, Err: fmt.Errorf("save output: %w", err)}
	}
	return out, nil
}

// GetInvocationInfo returns the stored input and output for id. Either may be
// nil when absent; absence is never an error. Errors are *LookupError and
// signal backend faults or an un-initialized controller.
func (c *Controller) GetInvocationInfo(ctx context.Context, id string) (*types.ModelInput, *types.ModelOutput, error) {
	l := log.With().Str("input_id", id).Logger()
	l.Debug().Msg("get invocation info")
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.initialized || c.backend == nil {
		err := &LookupError{ID: id, Err: ErrNotReady}
		l.Error().Err(err).Msg("get invocation info failed")
		return nil, nil, err
	}
	in, err := c.backend.GetInput(ctx, id)
	if err != nil {
		lerr := &LookupError{ID: id, Err: err}
		l.Error().Err(lerr).Msg("get invocation info failed")
		return nil, nil, lerr
	}
	out, err := c.backend.GetOutput(ctx, id)
	if err != nil {
		lerr := &LookupError{ID: id, Err: err}
		l.Error().Err(lerr).Msg("get invocation info failed")
		return nil, nil, lerr
	}
	l.Debug().Bool("input_found", in != nil).Bool("output_found", out != nil).Msg("get invocation info done")
	return in, out, nil
}
