package rpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultWorkers        = 4
	defaultHealthInterval = time.Second
)

var log = zerolog.Nop()

// SetLogger installs a structured logger used by the gRPC layer.
func SetLogger(l zerolog.Logger) { log = l.With().Str("component", "grpc").Logger() }

// Controller is what the server needs from the service controller.
type Controller interface {
	Invoker
	Healthy() bool
}

// Config configures the gRPC server.
type Config struct {
	// Addr is the listen address, e.g. ":8000". Ignored when Listener is set.
	Addr string
	// Listener overrides Addr (tests use bufconn).
	Listener net.Listener
	// Workers bounds concurrent Invoke calls.
	Workers int
	// HealthInterval is how often the health service is refreshed from the
	// controller.
	HealthInterval time.Duration
}

// Server hosts the invocation service and the standard health service.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	ctrl       Controller
	interval   time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a server listening on cfg.Addr (or cfg.Listener).
func New(cfg Config, ctrl Controller) (*Server, error) {
	if ctrl == nil {
		return nil, errors.New("rpcapi: controller is required")
	}
	lis := cfg.Listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
		}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.NumStreamWorkers(uint32(workers)),
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor,
			loggingInterceptor,
			metricsInterceptor,
			limitInterceptor(semaphore.NewWeighted(int64(workers))),
		),
	)
	RegisterInvocationServiceServer(grpcServer, NewService(ctrl))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	return &Server{
		listener:   lis,
		grpcServer: grpcServer,
		health:     healthServer,
		ctrl:       ctrl,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

func (s *Server) Name() string { return "grpc" }

// Serve blocks until the server stops. A graceful or forced stop returns nil.
func (s *Server) Serve() error {
	s.refreshHealth()
	go s.watchHealth()
	log.Info().Str("addr", s.Addr()).Msg("grpc server listening")
	err := s.grpcServer.Serve(s.listener)
	if err == nil || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return fmt.Errorf("serve gRPC: %w", err)
}

// Drain reports NOT_SERVING, stops accepting new calls and waits for
// in-flight calls until ctx ends.
func (s *Server) Drain(ctx context.Context) error {
	s.stopWatch()
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceStop closes all connections and cancels in-flight calls.
func (s *Server) ForceStop() {
	s.stopWatch()
	s.grpcServer.Stop()
}

func (s *Server) stopWatch() { s.stopOnce.Do(func() { close(s.stopCh) }) }

func (s *Server) watchHealth() {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			s.refreshHealth()
		}
	}
}

func (s *Server) refreshHealth() {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if s.ctrl.Healthy() {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
