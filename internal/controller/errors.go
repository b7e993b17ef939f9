package controller

import (
	"errors"
	"fmt"

	"inferd/pkg/types"
)

// ErrNotReady signals that the controller is not initialized or no model is loaded.
var ErrNotReady = errors.New("service not ready")

// InitKind classifies Initialize failures.
type InitKind string

const (
	InitConnectFailed       InitKind = "ConnectFailed"
	InitMissingCollaborator InitKind = "MissingCollaborator"
)

// InitError is returned by Initialize. The controller is left un-initialized.
type InitError struct {
	Kind InitKind
	Err  error
}

func (e *InitError) Error() string { return fmt.Sprintf("initialize: %s: %v", e.Kind, e.Err) }
func (e *InitError) Unwrap() error { return e.Err }

// LoadKind classifies LoadModel failures.
type LoadKind string

const (
	LoadFailed    LoadKind = "LoadFailed"
	LoadNoRuntime LoadKind = "NoRuntime"
)

// LoadError is returned by LoadModel.
type LoadError struct {
	Kind   LoadKind
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("load model: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("load model %s: %s: %v", e.Source, e.Kind, e.Err)
}
func (e *LoadError) Unwrap() error { return e.Err }

// InvokeKind classifies Invoke failures.
type InvokeKind string

const (
	InvokeNotReady        InvokeKind = "NotReady"
	InvokeInferenceFailed InvokeKind = "InferenceFailed"
	InvokePersistFailed   InvokeKind = "PersistFailed"
)

// InvokeError is returned by Invoke. On PersistFailed, Output holds the
// inference result that could not be stored.
type InvokeError struct {
	Kind    InvokeKind
	InputID string
	Output  *types.ModelOutput
	Err     error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("invoke %s: %s: %v", e.InputID, e.Kind, e.Err)
}
func (e *InvokeError) Unwrap() error { return e.Err }

// LookupError is returned by GetInvocationInfo for backend faults only.
type LookupError struct {
	ID  string
	Err error
}

func (e *LookupError) Error() string { return fmt.Sprintf("lookup %s: %v", e.ID, e.Err) }
func (e *LookupError) Unwrap() error { return e.Err }

func invokeKind(err error) (InvokeKind, bool) {
	var ie *InvokeError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return "", false
}

// IsNotReady reports whether err means the service cannot serve yet.
func IsNotReady(err error) bool {
	if k, ok := invokeKind(err); ok {
		return k == InvokeNotReady
	}
	return errors.Is(err, ErrNotReady)
}

// IsInferenceFailed reports whether the runtime failed to produce an output.
func IsInferenceFailed(err error) bool {
	k, ok := invokeKind(err)
	return ok && k == InvokeInferenceFailed
}

// IsPersistFailed reports whether inference succeeded but storing it failed.
func IsPersistFailed(err error) bool {
	k, ok := invokeKind(err)
	return ok && k == InvokePersistFailed
}

// IsLoadFailed reports whether err came from a failed model load.
func IsLoadFailed(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
