package types

// InvocationInfoResponse is returned by GET /get-invocation-info/{id} when the input exists.
type InvocationInfoResponse struct {
	// The stored model input.
	ModelInput map[string]any `json:"model_input"`
	// The stored model output, or an empty object when none was persisted.
	ModelOutput map[string]any `json:"model_output"`
}

// MessageResponse carries a human-readable message (not-found and error payloads).
type MessageResponse struct {
	// example: Input id=missing not found.
	Message string `json:"message" example:"Input id=missing not found."`
}

// ErrorResponse is a consistent JSON error payload for routing failures.
type ErrorResponse struct {
	// Error message.
	// example: method not allowed
	Error string `json:"error" example:"method not allowed"`
	// HTTP status code.
	// example: 405
	Code int `json:"code" example:"405"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Whether the controller has a connected backend.
	// example: true
	Initialized bool `json:"initialized" example:"true"`
	// Whether the runtime reports a loaded model.
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
	// Whether the database backend reports connectivity.
	// example: true
	DatabaseConnected bool `json:"database_connected" example:"true"`
	// URI of the most recently loaded model source.
	// example: file:///models/face_det
	ModelSource string `json:"model_source,omitempty" example:"file:///models/face_det"`
	// Runtime implementation in use.
	// example: mock
	Runtime string `json:"runtime,omitempty" example:"mock"`
	// Scheme of the database backend in use.
	// example: redis
	Database string `json:"database,omitempty" example:"redis"`
	// Lifecycle state of the process (running, draining, stopped).
	// example: running
	State string `json:"state" example:"running"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total successful invocations since start.
	// example: 12
	InvocationsTotal uint64 `json:"invocations_total" example:"12"`
	// Total failed invocations since start.
	// example: 1
	FailuresTotal uint64 `json:"failures_total" example:"1"`
	// Last error observed by the controller (if any).
	LastError string `json:"last_error,omitempty"`
}
