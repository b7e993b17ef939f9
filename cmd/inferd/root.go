package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"inferd/internal/config"
)

// flagValues holds command-line overrides. Only flags the user set are applied.
type flagValues struct {
	configPath    string
	host          string
	grpcPort      int
	restPort      int
	grpcWorkers   int
	stopGrace     time.Duration
	invokeTimeout time.Duration
	modelSource   string
	databaseURL   string
	runtimeKind   string
	logLevel      string
	logFormat     string
}

func newRootCmd() *cobra.Command {
	var fv flagValues
	cmd := &cobra.Command{
		Use:   "inferd",
		Short: "inferd serves a machine-learning model over gRPC and HTTP",
		Long: `inferd loads a model from a local path or remote archive, serves invocations
over gRPC, persists every input/output pair and exposes lookups over HTTP.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(fv.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), fv, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, nil)
		},
	}
	cmd.SetContext(context.Background())

	f := cmd.Flags()
	f.StringVarP(&fv.configPath, "config", "c", "", "Config file (.yaml, .yml, .json, .toml)")
	f.StringVar(&fv.host, "host", "", "Listen host for both frontends")
	f.IntVar(&fv.grpcPort, "grpc-port", 0, "gRPC port (env INFERD_GRPC_PORT or GRPC_PORT, default 8000)")
	f.IntVar(&fv.restPort, "rest-port", 0, "HTTP port (env INFERD_REST_PORT or REST_PORT, default 5000)")
	f.IntVar(&fv.grpcWorkers, "grpc-workers", 0, "Maximum concurrent gRPC invocations (default 4)")
	f.DurationVar(&fv.stopGrace, "stop-grace", 0, "Drain window on shutdown (default 30s)")
	f.DurationVar(&fv.invokeTimeout, "invoke-timeout", 0, "Per-invocation runtime timeout (default 60s)")
	f.StringVar(&fv.modelSource, "model-source", "", "Model source: path, file:// or http(s):// archive")
	f.StringVar(&fv.databaseURL, "database-url", "", "Database URL: memory://, redis://, sqlite://, postgres://")
	f.StringVar(&fv.runtimeKind, "runtime", "", "Model runtime: mock|serving")
	f.StringVar(&fv.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	f.StringVar(&fv.logFormat, "log-format", "", "Log format: json|console")
	return cmd
}

// applyFlags overlays the flags the user set onto cfg.
func applyFlags(fs *pflag.FlagSet, fv flagValues, cfg *config.Config) {
	set := func(name string) bool { return fs.Changed(name) }
	if set("host") {
		cfg.Host = fv.host
	}
	if set("grpc-port") {
		cfg.GRPCPort = fv.grpcPort
	}
	if set("rest-port") {
		cfg.RESTPort = fv.restPort
	}
	if set("grpc-workers") {
		cfg.GRPCWorkers = fv.grpcWorkers
	}
	if set("stop-grace") {
		cfg.StopGrace = config.Duration(fv.stopGrace)
	}
	if set("invoke-timeout") {
		cfg.InvokeTimeout = config.Duration(fv.invokeTimeout)
	}
	if set("model-source") {
		cfg.ModelSource = fv.modelSource
	}
	if set("database-url") {
		cfg.DatabaseURL = fv.databaseURL
	}
	if set("runtime") {
		cfg.Runtime.Kind = fv.runtimeKind
	}
	if set("log-level") {
		cfg.LogLevel = fv.logLevel
	}
	if set("log-format") {
		cfg.LogFormat = fv.logFormat
	}
}
