package rpcapi

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	grpcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Total number of gRPC requests",
		},
		[]string{"method", "code", "status"},
	)

	grpcRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of gRPC requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	grpcInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "grpc",
			Name:      "inflight_requests",
			Help:      "In-flight gRPC invocation requests",
		},
	)
)

func init() {
	prometheus.MustRegister(grpcRequestsTotal, grpcRequestDuration, grpcInflight)
}

func isInvoke(info *grpc.UnaryServerInfo) bool {
	return info != nil && info.FullMethod == InvokeFullMethodName
}

// recoveryInterceptor turns handler panics into ERROR responses for Invoke
// and codes.Internal for any other method.
func recoveryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("method", info.FullMethod).Interface("panic", r).Msg("grpc handler panic")
			if isInvoke(info) {
				resp, err = errorResponse("", fmt.Sprintf("internal error: %v", r)), nil
				return
			}
			resp, err = nil, status.Errorf(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

// loggingInterceptor logs one line per call with the domain status.
func loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Str("status", responseStatus(resp)).
		Dur("dur", time.Since(start)).
		Msg("grpc request")
	return resp, err
}

func metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	grpcRequestsTotal.WithLabelValues(info.FullMethod, status.Code(err).String(), responseStatus(resp)).Inc()
	grpcRequestDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
	return resp, err
}

// limitInterceptor bounds concurrent Invoke calls to the worker count. Calls
// wait for a free worker until their context ends.
func limitInterceptor(sem *semaphore.Weighted) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !isInvoke(info) {
			return handler(ctx, req)
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return errorResponse("", "server busy: "+err.Error()), nil
		}
		defer sem.Release(1)
		grpcInflight.Inc()
		defer grpcInflight.Dec()
		return handler(ctx, req)
	}
}

func responseStatus(resp interface{}) string {
	s, ok := resp.(*structpb.Struct)
	if !ok || s == nil {
		return ""
	}
	return s.GetFields()["status"].GetStringValue()
}
