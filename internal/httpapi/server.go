package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/pkg/types"
)

// welcomeBody is the constant body of GET /.
const welcomeBody = "Welcome!\n"

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Healthy() bool
	GetInvocationInfo(ctx context.Context, id string) (*types.ModelInput, *types.ModelOutput, error)
	Status() types.StatusResponse
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	if rateLimitRPS > 0 {
		r.Use(rateLimitMiddleware(rateLimitRPS, rateLimitBurst))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/", pingHandler(svc))
	r.Get("/get-invocation-info/{id}", invocationInfoHandler(svc))

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		st := svc.Status()
		st.State = stateFunc()
		writeJSON(w, http.StatusOK, st)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// pingHandler godoc
// @Summary      Health check
// @Description  200 when the database is connected and a model is loaded, 404 otherwise.
// @Tags         health
// @Produce      plain
// @Success      200  {string}  string  "Welcome!"
// @Failure      404  {string}  string  "Welcome!"
// @Router       / [get]
func pingHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusNotFound
		if svc.Healthy() {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(welcomeBody))
	}
}

// invocationInfoHandler godoc
// @Summary      Get invocation info
// @Description  Returns the stored input and output for an input id. An unknown id is reported with status 200 and a message.
// @Tags         invocations
// @Produce      json
// @Param        id   path      string  true  "Model input id"
// @Success      200  {object}  types.InvocationInfoResponse
// @Failure      500  {object}  types.MessageResponse
// @Router       /get-invocation-info/{id} [get]
func invocationInfoHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := chi.URLParam(r, "id")

		ctx, cancel := handlerContext(r)
		defer cancel()
		in, out, err := svc.GetInvocationInfo(ctx, id)
		if err != nil {
			// backend errors may carry the id
			writeMessage(w, http.StatusInternalServerError, html.EscapeString(err.Error()))
			logRequest(r, http.StatusInternalServerError, start, err)
			return
		}
		if in == nil {
			writeMessage(w, http.StatusOK, fmt.Sprintf("Input id=%s not found.", html.EscapeString(id)))
			logRequest(r, http.StatusOK, start, nil)
			return
		}
		resp := types.InvocationInfoResponse{ModelOutput: map[string]any{}}
		if resp.ModelInput, err = toMap(in); err == nil && out != nil {
			resp.ModelOutput, err = toMap(out)
		}
		if err != nil {
			writeMessage(w, http.StatusInternalServerError, err.Error())
			logRequest(r, http.StatusInternalServerError, start, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		logRequest(r, http.StatusOK, start, nil)
	}
}

// toMap renders a record as a JSON object.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return m, nil
}
