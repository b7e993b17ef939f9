package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "INFERD_"

// bareEnv holds the unprefixed port variables older deployments set.
type bareEnv struct {
	GRPCPort *int `env:"GRPC_PORT"`
	RESTPort *int `env:"REST_PORT"`
}

// ApplyEnv overlays environment variables onto cfg. Unset variables leave
// fields untouched. INFERD_* variables win over the bare GRPC_PORT/REST_PORT.
func ApplyEnv(cfg *Config) error {
	var bare bareEnv
	if err := env.Parse(&bare); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if bare.GRPCPort != nil {
		cfg.GRPCPort = *bare.GRPCPort
	}
	if bare.RESTPort != nil {
		cfg.RESTPort = *bare.RESTPort
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Resolve builds the configuration from defaults, the optional file at path,
// and the environment, in that order of precedence.
func Resolve(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
