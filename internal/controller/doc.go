// Package controller is the single coordination point between the model
// runtime, the persistence backend and the protocol frontends. It is split by
// concern:
//
//   - controller.go: Controller type, constructor, Initialize/LoadModel/Close
//     and the context-bounded Shutdown.
//   - invoke.go: Invoke and GetInvocationInfo.
//   - errors.go: typed errors per operation (InitError, LoadError, InvokeError,
//     LookupError) and IsXxx helpers.
//   - events.go / eventpub_memory.go: lifecycle events and publishers.
//   - metrics.go: prometheus collectors.
//   - status_report.go: Healthy and Status reporting.
//
// Frontends receive a *Controller at construction time and must route every
// state-changing operation through it. Initialize and LoadModel take the write
// lock; Invoke and GetInvocationInfo hold the read lock for their whole
// duration, so an invocation never observes a half-swapped runtime.
package controller
