package controller

import (
	"time"

	"inferd/pkg/types"
)

// Healthy reports whether the backend is connected and a model is loaded.
func (c *Controller) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized || c.backend == nil || c.runtime == nil {
		return false
	}
	return c.backend.Connected() && c.runtime.Loaded()
}

// Initialized reports whether Initialize succeeded and Close was not called.
func (c *Controller) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Status builds a detailed status response for /status. State is left for
// the caller, which owns the process lifecycle.
func (c *Controller) Status() types.StatusResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		Initialized:      c.initialized,
		ModelSource:      c.source,
		UptimeSeconds:    int64(now.Sub(c.startTime).Seconds()),
		ServerTimeUnix:   now.Unix(),
		InvocationsTotal: c.invocations.Load(),
		FailuresTotal:    c.failures.Load(),
	}
	if c.runtime != nil {
		resp.Runtime = c.runtime.Kind()
		resp.ModelLoaded = c.runtime.Loaded()
	}
	if c.backend != nil {
		resp.Database = c.backend.Scheme()
		resp.DatabaseConnected = c.backend.Connected()
	}
	if s, ok := c.lastErr.Load().(string); ok {
		resp.LastError = s
	}
	return resp
}
