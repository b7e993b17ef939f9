package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server runs the HTTP frontend with the same drain discipline as the gRPC
// frontend: Drain stops accepting and waits for in-flight requests.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// NewServer listens on addr and serves h. A nil listener argument binds addr.
func NewServer(addr string, lis net.Listener, h http.Handler) (*Server, error) {
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return serverBaseCtx },
	}
	return &Server{srv: srv, listener: lis}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

func (s *Server) Name() string { return "http" }

// Serve blocks until the server is shut down. Shutdown returns nil.
func (s *Server) Serve() error {
	if zlog != nil {
		zlog.Info().Str("addr", s.Addr()).Msg("http server listening")
	}
	err := s.srv.Serve(s.listener)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("serve http: %w", err)
}

// Drain stops accepting connections and waits for in-flight requests until
// ctx ends.
func (s *Server) Drain(ctx context.Context) error {
	s.srv.SetKeepAlivesEnabled(false)
	return s.srv.Shutdown(ctx)
}

// ForceStop closes all connections immediately.
func (s *Server) ForceStop() { _ = s.srv.Close() }
