package servicediscover

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"smallbiznis-academy/pkg/config"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("servicediscover",
	fx.Invoke(registerConsul),
)

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

type ConsulRegistry struct {
	client    *api.Client
	serviceID string
	service   *api.AgentServiceRegistration
}

// NewRegistration describes this instance to consul, health checked on its readiness route.
func NewRegistration(cfg *config.Config) (*api.AgentServiceRegistration, error) {
	host := cfg.Consul.Host
	if host == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		host = h
	}

	port, err := strconv.Atoi(strings.TrimPrefix(cfg.Server.Addr, ":"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_SERVER.ADDR %q: %w", cfg.Server.Addr, err)
	}

	return &api.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s-%d", cfg.AppName, host, port),
		Name:    cfg.AppName,
		Address: host,
		Port:    port,
		Tags:    []string{cfg.AppEnv, cfg.AppVersion},
		Check: &api.AgentServiceCheck{
			HTTP:                           "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/health/readiness",
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}, nil
}

func NewConsulRegistry(address string, service *api.AgentServiceRegistration) (*ConsulRegistry, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &ConsulRegistry{
		client:    client,
		serviceID: service.ID,
		service:   service,
	}, nil
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	return r.client.Agent().ServiceRegister(r.service)
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	return r.client.Agent().ServiceDeregister(r.serviceID)
}

// registerConsul announces the instance for its lifetime when CONSUL.ADDR is set.
func registerConsul(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Consul.Addr == "" {
		return nil
	}

	service, err := NewRegistration(cfg)
	if err != nil {
		return err
	}
	var registry ServiceRegistry
	registry, err = NewConsulRegistry(cfg.Consul.Addr, service)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := registry.Register(ctx); err != nil {
				zap.L().Error("[Consul] failed to register service", zap.String("service_id", service.ID), zap.Error(err))
				return err
			}
			zap.L().Info("[Consul] service registered", zap.String("service_id", service.ID))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return registry.Deregister(ctx)
		},
	})
	return nil
}
