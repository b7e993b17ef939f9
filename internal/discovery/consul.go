// Package discovery registers the service with a Consul agent.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/rs/zerolog"
)

var log = zerolog.Nop()

// SetLogger installs a structured logger used by the registrar.
func SetLogger(l zerolog.Logger) { log = l.With().Str("component", "consul").Logger() }

// Config describes the agent and the instance to register.
type Config struct {
	// Address of the Consul agent, e.g. "127.0.0.1:8500".
	Address    string
	Datacenter string
	Token      string

	ServiceName string
	// AdvertiseHost is the address other services use to reach this
	// instance. Defaults to the hostname.
	AdvertiseHost string
	GRPCPort      int
	RESTPort      int
	Tags          []string

	CheckInterval   time.Duration
	CheckTimeout    time.Duration
	DeregisterAfter time.Duration
}

// Registrar owns one service registration.
type Registrar struct {
	client *api.Client
	reg    *api.AgentServiceRegistration
}

// New builds the registration without contacting the agent.
func New(cfg Config) (*Registrar, error) {
	if cfg.Address == "" {
		return nil, errors.New("consul: address is required")
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("consul: service name is required")
	}
	host := cfg.AdvertiseHost
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("consul: resolve hostname: %w", err)
		}
		host = h
	}

	cc := api.DefaultConfig()
	cc.Address = cfg.Address
	if cfg.Datacenter != "" {
		cc.Datacenter = cfg.Datacenter
	}
	if cfg.Token != "" {
		cc.Token = cfg.Token
	}
	client, err := api.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("consul: create client: %w", err)
	}

	reg := &api.AgentServiceRegistration{
		ID:      ServiceID(cfg.ServiceName, host, cfg.GRPCPort),
		Name:    cfg.ServiceName,
		Tags:    append([]string{"grpc"}, cfg.Tags...),
		Address: host,
		Port:    cfg.GRPCPort,
		Meta:    map[string]string{"rest_port": strconv.Itoa(cfg.RESTPort)},
	}
	if cfg.RESTPort > 0 {
		reg.Check = &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/", host, cfg.RESTPort),
			Interval:                       durationOr(cfg.CheckInterval, 10*time.Second).String(),
			Timeout:                        durationOr(cfg.CheckTimeout, 2*time.Second).String(),
			DeregisterCriticalServiceAfter: durationOr(cfg.DeregisterAfter, time.Minute).String(),
		}
	}
	return &Registrar{client: client, reg: reg}, nil
}

// ServiceID is the registration id for one instance.
func ServiceID(name, host string, port int) string {
	return fmt.Sprintf("%s-%s-%d", name, host, port)
}

// ID returns the registration id.
func (r *Registrar) ID() string { return r.reg.ID }

// Register adds the instance to the agent catalog.
func (r *Registrar) Register() error {
	if err := r.client.Agent().ServiceRegister(r.reg); err != nil {
		return fmt.Errorf("consul: register %s: %w", r.reg.ID, err)
	}
	log.Info().Str("service_id", r.reg.ID).Str("name", r.reg.Name).Msg("registered")
	return nil
}

// Deregister removes the instance from the agent catalog.
func (r *Registrar) Deregister() error {
	if err := r.client.Agent().ServiceDeregister(r.reg.ID); err != nil {
		return fmt.Errorf("consul: deregister %s: %w", r.reg.ID, err)
	}
	log.Info().Str("service_id", r.reg.ID).Msg("deregistered")
	return nil
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
