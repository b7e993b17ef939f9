//go:build !swagger

package httpapi

import "github.com/go-chi/chi/v5"

// MountSwagger leaves /swagger unrouted; the UI is compiled in only with
// -tags=swagger.
func MountSwagger(chi.Router) {}
