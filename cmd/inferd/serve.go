package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/config"
	"inferd/internal/controller"
	"inferd/internal/discovery"
	"inferd/internal/httpapi"
	"inferd/internal/mq"
	"inferd/internal/rpcapi"
	"inferd/internal/runtime"
	"inferd/internal/shutdown"
	"inferd/internal/source"
	"inferd/internal/store"
	"inferd/internal/telemetry"
)

// cleanupTimeout bounds teardown on startup failures.
const cleanupTimeout = 5 * time.Second

// serve wires the service and blocks until ctx is canceled and the frontends
// have drained. ready, when non-nil, receives the bound addresses.
func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger, ready func(grpcAddr, restAddr string)) error {
	installLoggers(logger)
	log := logger.With().Str("component", "main").Logger()

	otelShutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.OTel.Endpoint,
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "inferd",
		ServiceVersion: version,
		SampleRatio:    cfg.OTel.SampleRatio,
	})
	if err != nil {
		return err
	}

	var publisher *mq.Publisher
	ctrlCfg := controller.Config{InvokeTimeout: cfg.InvokeTimeout.D()}
	if len(cfg.MQ.NameServers) > 0 {
		publisher, err = mq.New(mq.Config{
			NameServers: cfg.MQ.NameServers,
			Topic:       cfg.MQ.Topic,
			Group:       cfg.MQ.Group,
			Retries:     cfg.MQ.Retries,
		})
		if err != nil {
			_ = otelShutdown(context.Background())
			return err
		}
		ctrlCfg.Publisher = publisher
	}
	ctrl := controller.New(ctrlCfg)

	// cleanup runs on every exit path before the coordinator owns shutdown
	cleanup := func() {
		cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		_ = ctrl.Shutdown(cctx)
		if publisher != nil {
			_ = publisher.Close(cctx)
		}
		_ = otelShutdown(cctx)
	}

	backend, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return err
	}
	rt, err := runtime.New(runtime.Config{
		Kind:          cfg.Runtime.Kind,
		BaseURL:       cfg.Runtime.BaseURL,
		ModelName:     cfg.Runtime.ModelName,
		ModelBasePath: cfg.Runtime.ModelBasePath,
		LoadTimeout:   cfg.Runtime.LoadTimeout.D(),
		Latency:       cfg.Runtime.MockLatency.D(),
	})
	if err != nil {
		cleanup()
		return err
	}
	if err := ctrl.Initialize(ctx, rt, backend); err != nil {
		_ = rt.Close()
		cleanup()
		return err
	}

	var src source.Source
	if cfg.ModelSource != "" {
		if src, err = source.Parse(cfg.ModelSource); err != nil {
			cleanup()
			return err
		}
		if err := ctrl.LoadModel(ctx, src); err != nil {
			cleanup()
			return err
		}
	} else {
		log.Warn().Msg("no model source configured; invocations fail until a model is loaded")
	}

	grpcSrv, err := rpcapi.New(rpcapi.Config{Addr: cfg.GRPCAddr(), Workers: cfg.GRPCWorkers}, ctrl)
	if err != nil {
		cleanup()
		return err
	}

	httpapi.SetLookupTimeout(cfg.LookupTimeout.D())
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
	httpapi.SetRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	baseCtx, cancelBase := context.WithCancel(context.Background())
	httpapi.SetBaseContext(baseCtx)
	httpSrv, err := httpapi.NewServer(cfg.RESTAddr(), nil, httpapi.NewMux(ctrl))
	if err != nil {
		grpcSrv.ForceStop()
		cancelBase()
		cleanup()
		return err
	}

	coord := shutdown.New(shutdown.Config{Grace: cfg.StopGrace.D()}, grpcSrv, httpSrv)
	httpapi.SetStateFunc(func() string { return coord.State().String() })

	if cfg.Consul.Address != "" {
		reg, err := discovery.New(discovery.Config{
			Address:       cfg.Consul.Address,
			Datacenter:    cfg.Consul.Datacenter,
			Token:         cfg.Consul.Token,
			ServiceName:   cfg.Consul.ServiceName,
			AdvertiseHost: cfg.Consul.AdvertiseHost,
			GRPCPort:      cfg.GRPCPort,
			RESTPort:      cfg.RESTPort,
		})
		if err == nil {
			err = reg.Register()
		}
		if err != nil {
			log.Warn().Err(err).Msg("consul registration failed; continuing unregistered")
		} else {
			coord.OnDrain(func(context.Context) error { return reg.Deregister() })
		}
	}

	coord.OnStop(func(stopCtx context.Context) error {
		cancelBase()
		return ctrl.Shutdown(stopCtx)
	})
	if publisher != nil {
		coord.OnStop(publisher.Close)
	}
	coord.OnStop(otelShutdown)

	if src != nil {
		stopReload := reloadOnHangup(ctx, ctrl, src, log)
		defer stopReload()
	}

	log.Info().
		Str("grpc_addr", grpcSrv.Addr()).
		Str("rest_addr", httpSrv.Addr()).
		Str("database", backend.Scheme()).
		Str("runtime", rt.Kind()).
		Msg("inferd started")
	if ready != nil {
		ready(grpcSrv.Addr(), httpSrv.Addr())
	}
	if err := coord.Run(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// reloadOnHangup reloads the model from src on SIGHUP. A failed reload keeps
// the current model.
func reloadOnHangup(ctx context.Context, ctrl *controller.Controller, src source.Source, log zerolog.Logger) (stop func()) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-hup:
				if err := ctrl.LoadModel(ctx, src); err != nil {
					log.Error().Err(err).Msg("model reload failed; keeping current model")
					continue
				}
				log.Info().Str("source", src.URI()).Msg("model reloaded")
			}
		}
	}()
	return func() {
		signal.Stop(hup)
		close(done)
	}
}
