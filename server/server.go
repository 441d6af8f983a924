package server

import (
	"context"
	"fmt"

	"github.com/itzg/srcds-router/a2s"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	config    *Config
	pool      *BackendPool
	discovery *DiscoveryCache
	listeners []*Listener
	api       *apiServer
}

func NewServer(ctx context.Context, config *Config) (*Server, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	ports, err := ParsePorts(config.Ports, config.EphemeralPorts)
	if err != nil {
		return nil, fmt.Errorf("could not parse ports: %w", err)
	}
	strategy, err := ParseSelectionStrategy(config.BackendSelection)
	if err != nil {
		return nil, err
	}
	charset, err := a2s.LookupCharset(config.QueryCharset)
	if err != nil {
		return nil, fmt.Errorf("could not use query charset: %w", err)
	}

	clientFilter, err := NewClientFilter(config.ClientsToAllow, config.ClientsToDeny)
	if err != nil {
		return nil, fmt.Errorf("could not create client filter: %w", err)
	}

	var notifier SessionNotifier
	if config.Webhook.Url != "" {
		logrus.WithField("url", config.Webhook.Url).
			Info("Using webhook for session notifications")
		notifier = NewWebhookNotifier(config.Webhook.Url)
	}

	sources := NewBackendSources()
	if err := sources.Set(SourceStatic, config.Backends); err != nil {
		return nil, err
	}

	if config.ServerList.Config != "" {
		loader := newServerListLoader(config.ServerList.Config, sources)
		if err := loader.Load(); err != nil {
			return nil, fmt.Errorf("could not load server list file: %w", err)
		}

		if config.ServerList.ConfigWatch {
			if err := loader.WatchForChanges(ctx); err != nil {
				return nil, fmt.Errorf("could not watch for changes to server list file: %w", err)
			}
		}
	}

	if config.InDocker {
		watcher := NewDockerWatcher(config.DockerSocket, config.DockerTimeout, config.DockerRefreshInterval, config.DockerApiVersion, sources)
		if err := watcher.Start(ctx); err != nil {
			return nil, fmt.Errorf("could not start docker integration: %w", err)
		}
	}

	var k8sWatcher *K8sWatcher
	if config.InKubeCluster {
		k8sWatcher, err = NewK8sWatcherInCluster(sources)
		if err != nil {
			return nil, fmt.Errorf("could not create in-cluster k8s watcher: %w", err)
		}
	} else if config.KubeConfig != "" {
		k8sWatcher, err = NewK8sWatcherWithConfig(config.KubeConfig, sources)
		if err != nil {
			return nil, fmt.Errorf("could not create k8s watcher with kube config: %w", err)
		}
	}
	if k8sWatcher != nil {
		if err := k8sWatcher.WithNamespace(config.KubeNamespace).Start(ctx); err != nil {
			return nil, fmt.Errorf("could not start backend watcher %s: %w", k8sWatcher, err)
		}
	}

	pool, err := sources.Attach(strategy)
	if err != nil {
		return nil, fmt.Errorf("could not build the backend pool: %w", err)
	}

	queryBackends := ResolveBackends(config.QueryBackends)

	metricsBuilder := NewMetricsBuilder(config.MetricsBackend, &config.MetricsBackendConfig)
	routerMetrics := metricsBuilder.BuildRouterMetrics()

	discovery := NewDiscoveryCache(a2s.NewQueryClient(config.QueryTimeout), queryBackends, config.QueryInterval, routerMetrics)
	if len(queryBackends) == 0 {
		discovery.FollowPool(pool)
	}
	overrides := NewInfoOverrides(config.AdvertiseHost, config.ServerNames, config.MapNames, config.ForcePlayerCount, charset)

	listenerConfig := ListenerConfig{
		Sessions: SessionConfig{
			Pool:              pool,
			IdleTimeout:       config.IdleTimeout,
			IdleCheckInterval: config.IdleCheckInterval,
			UseProxyProtocol:  config.UseProxyProtocol,
			LegacyRedirect:    config.LegacyRedirect,
			Metrics:           routerMetrics,
			Notifier:          notifier,
		},
		Discovery:    discovery,
		Overrides:    overrides,
		Metrics:      routerMetrics,
		ClientFilter: clientFilter,
	}

	var listeners []*Listener
	for _, port := range ports {
		l, err := Listen(port, listenerConfig)
		if err != nil {
			logrus.WithError(err).WithField("port", port).Error("Could not start listener")
			routerMetrics.Errors.With("type", "listener_bind").Add(1)
			continue
		}
		listeners = append(listeners, l)
	}
	if len(listeners) == 0 {
		return nil, fmt.Errorf("none of the %d listeners could be bound", len(ports))
	}

	if err := metricsBuilder.Start(ctx); err != nil {
		return nil, fmt.Errorf("could not start metrics reporter: %w", err)
	}

	s := &Server{
		config:    config,
		pool:      pool,
		discovery: discovery,
		listeners: listeners,
	}
	if config.ApiBinding != "" {
		s.api = newApiServer(pool, listeners, discovery, config.MetricsBackend)
	}
	return s, nil
}

func validateConfig(config *Config) error {
	if config.IdleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be positive, got %s", config.IdleTimeout)
	}
	if config.IdleCheckInterval <= 0 || config.IdleCheckInterval >= config.IdleTimeout {
		return fmt.Errorf("idle-check-interval %s must be positive and less than idle-timeout %s",
			config.IdleCheckInterval, config.IdleTimeout)
	}
	if config.QueryInterval <= 0 {
		return fmt.Errorf("query-interval must be positive, got %s", config.QueryInterval)
	}
	if config.QueryTimeout <= 0 {
		return fmt.Errorf("query-timeout must be positive, got %s", config.QueryTimeout)
	}
	return nil
}

func (s *Server) Listeners() []*Listener {
	return s.listeners
}

func (s *Server) Pool() *BackendPool {
	return s.pool
}

func (s *Server) Discovery() *DiscoveryCache {
	return s.discovery
}

// Run will run the server until the context is done or a fatal error occurs
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, l := range s.listeners {
		g.Go(func() error {
			return l.Run(ctx)
		})
	}
	g.Go(func() error {
		return s.discovery.Run(ctx)
	})
	if s.api != nil {
		g.Go(func() error {
			return s.api.Run(ctx, s.config.ApiBinding)
		})
	}

	err := g.Wait()
	logrus.Info("Stopped")
	return err
}
