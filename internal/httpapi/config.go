package httpapi

import "time"

// lookupTimeout bounds GET /get-invocation-info backend calls.
// Zero means no additional timeout beyond server/connection timeouts.
var lookupTimeout time.Duration

// SetLookupTimeout sets the lookup timeout (0 disables).
func SetLookupTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	lookupTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// Rate limiting (opt-in). rps <= 0 disables it.
var (
	rateLimitRPS   float64
	rateLimitBurst int
)

// SetRateLimit configures the process-wide request rate limit.
func SetRateLimit(rps float64, burst int) {
	if rps < 0 {
		rps = 0
	}
	if burst <= 0 {
		burst = 1
	}
	rateLimitRPS = rps
	rateLimitBurst = burst
}

// stateFunc reports the process lifecycle state for /status.
var stateFunc = func() string { return "running" }

// SetStateFunc installs the lifecycle state reporter. Nil restores the default.
func SetStateFunc(f func() string) {
	if f == nil {
		f = func() string { return "running" }
	}
	stateFunc = f
}
