package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Duration is a time.Duration that reads and writes as a string such as "30s"
// in every supported file format and in the environment.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// Config holds runtime parameters for the service.
type Config struct {
	Host          string   `json:"host" yaml:"host" toml:"host" env:"HOST"`
	GRPCPort      int      `json:"grpc_port" yaml:"grpc_port" toml:"grpc_port" env:"GRPC_PORT"`
	RESTPort      int      `json:"rest_port" yaml:"rest_port" toml:"rest_port" env:"REST_PORT"`
	GRPCWorkers   int      `json:"grpc_workers" yaml:"grpc_workers" toml:"grpc_workers" env:"GRPC_WORKERS"`
	StopGrace     Duration `json:"stop_grace" yaml:"stop_grace" toml:"stop_grace" env:"STOP_GRACE"`
	InvokeTimeout Duration `json:"invoke_timeout" yaml:"invoke_timeout" toml:"invoke_timeout" env:"INVOKE_TIMEOUT"`
	LookupTimeout Duration `json:"lookup_timeout" yaml:"lookup_timeout" toml:"lookup_timeout" env:"LOOKUP_TIMEOUT"`
	ModelSource   string   `json:"model_source" yaml:"model_source" toml:"model_source" env:"MODEL_SOURCE"`
	DatabaseURL   string   `json:"database_url" yaml:"database_url" toml:"database_url" env:"DATABASE_URL"`
	LogLevel      string   `json:"log_level" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	LogFormat     string   `json:"log_format" yaml:"log_format" toml:"log_format" env:"LOG_FORMAT"`

	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime" toml:"runtime" envPrefix:"RUNTIME_"`
	CORS      CORSConfig      `json:"cors" yaml:"cors" toml:"cors" envPrefix:"CORS_"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Consul    ConsulConfig    `json:"consul" yaml:"consul" toml:"consul" envPrefix:"CONSUL_"`
	MQ        MQConfig        `json:"mq" yaml:"mq" toml:"mq" envPrefix:"MQ_"`
	OTel      OTelConfig      `json:"otel" yaml:"otel" toml:"otel" envPrefix:"OTEL_"`
}

// RuntimeConfig selects and configures the model runtime.
type RuntimeConfig struct {
	Kind          string   `json:"kind" yaml:"kind" toml:"kind" env:"KIND"`
	BaseURL       string   `json:"base_url" yaml:"base_url" toml:"base_url" env:"BASE_URL"`
	ModelName     string   `json:"model_name" yaml:"model_name" toml:"model_name" env:"MODEL_NAME"`
	ModelBasePath string   `json:"model_base_path" yaml:"model_base_path" toml:"model_base_path" env:"MODEL_BASE_PATH"`
	LoadTimeout   Duration `json:"load_timeout" yaml:"load_timeout" toml:"load_timeout" env:"LOAD_TIMEOUT"`
	MockLatency   Duration `json:"mock_latency" yaml:"mock_latency" toml:"mock_latency" env:"MOCK_LATENCY"`
}

type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins" env:"ORIGINS"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods" env:"METHODS"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers" env:"HEADERS"`
}

type RateLimitConfig struct {
	RPS   float64 `json:"rps" yaml:"rps" toml:"rps" env:"RPS"`
	Burst int     `json:"burst" yaml:"burst" toml:"burst" env:"BURST"`
}

// ConsulConfig enables registration when Address is set.
type ConsulConfig struct {
	Address       string `json:"address" yaml:"address" toml:"address" env:"ADDRESS"`
	ServiceName   string `json:"service_name" yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
	AdvertiseHost string `json:"advertise_host" yaml:"advertise_host" toml:"advertise_host" env:"ADVERTISE_HOST"`
	Datacenter    string `json:"datacenter" yaml:"datacenter" toml:"datacenter" env:"DATACENTER"`
	Token         string `json:"token" yaml:"token" toml:"token" env:"TOKEN"`
}

// MQConfig enables the RocketMQ event publisher when NameServers is set.
type MQConfig struct {
	NameServers []string `json:"name_servers" yaml:"name_servers" toml:"name_servers" env:"NAME_SERVERS"`
	Topic       string   `json:"topic" yaml:"topic" toml:"topic" env:"TOPIC"`
	Group       string   `json:"group" yaml:"group" toml:"group" env:"GROUP"`
	Retries     int      `json:"retries" yaml:"retries" toml:"retries" env:"RETRIES"`
}

// OTelConfig enables tracing when Endpoint is set.
type OTelConfig struct {
	Endpoint    string  `json:"endpoint" yaml:"endpoint" toml:"endpoint" env:"ENDPOINT"`
	Enabled     bool    `json:"enabled" yaml:"enabled" toml:"enabled" env:"ENABLED"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio" toml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Host:          "0.0.0.0",
		GRPCPort:      8000,
		RESTPort:      5000,
		GRPCWorkers:   4,
		StopGrace:     Duration(30 * time.Second),
		InvokeTimeout: Duration(60 * time.Second),
		LookupTimeout: Duration(10 * time.Second),
		DatabaseURL:   "memory://",
		LogLevel:      "info",
		LogFormat:     "json",
		Runtime: RuntimeConfig{
			Kind:        "mock",
			ModelName:   "default",
			LoadTimeout: Duration(2 * time.Minute),
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
			Methods: []string{"GET", "OPTIONS"},
			Headers: []string{"Content-Type", "X-Log-Level"},
		},
		RateLimit: RateLimitConfig{Burst: 1},
		Consul:    ConsulConfig{ServiceName: "inferd"},
		MQ:        MQConfig{Topic: "inferd-events", Retries: 2},
		OTel:      OTelConfig{Enabled: true},
	}
}

// GRPCAddr returns the gRPC listen address.
func (c Config) GRPCAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort) }

// RESTAddr returns the HTTP listen address.
func (c Config) RESTAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.RESTPort) }

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("grpc_port out of range: %d", c.GRPCPort))
	}
	if c.RESTPort < 0 || c.RESTPort > 65535 {
		errs = append(errs, fmt.Errorf("rest_port out of range: %d", c.RESTPort))
	}
	if c.GRPCPort != 0 && c.GRPCPort == c.RESTPort {
		errs = append(errs, fmt.Errorf("grpc_port and rest_port must differ: %d", c.GRPCPort))
	}
	if c.GRPCWorkers < 1 {
		errs = append(errs, fmt.Errorf("grpc_workers must be at least 1: %d", c.GRPCWorkers))
	}
	for name, d := range map[string]Duration{
		"stop_grace":           c.StopGrace,
		"invoke_timeout":       c.InvokeTimeout,
		"lookup_timeout":       c.LookupTimeout,
		"runtime.load_timeout": c.Runtime.LoadTimeout,
		"runtime.mock_latency": c.Runtime.MockLatency,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative: %s", name, d.D()))
		}
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	switch c.Runtime.Kind {
	case "mock":
	case "serving":
		if c.Runtime.BaseURL == "" {
			errs = append(errs, errors.New("runtime.base_url is required for the serving runtime"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown runtime.kind %q", c.Runtime.Kind))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.rps must not be negative: %v", c.RateLimit.RPS))
	}
	if c.OTel.SampleRatio < 0 || c.OTel.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("otel.sample_ratio must be within [0, 1]: %v", c.OTel.SampleRatio))
	}
	if len(c.MQ.NameServers) > 0 && c.MQ.Topic == "" {
		errs = append(errs, errors.New("mq.topic is required when mq.name_servers is set"))
	}
	return errors.Join(errs...)
}
