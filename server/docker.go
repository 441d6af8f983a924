package server

import (
	"context"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

const (
	DockerRouterLabelPort    = "srcds-router.port"
	DockerRouterLabelNetwork = "srcds-router.network"
)

type dockerWatcherConfig struct {
	socket                 string
	timeoutSeconds         int
	refreshIntervalSeconds int
	apiVersion             string
}

func (c *dockerWatcherConfig) apiVersionOpt() client.Opt {
	if c.apiVersion != "" {
		logrus.WithField("apiVersion", c.apiVersion).Debug("Using specific Docker API version")
		return client.WithVersion(c.apiVersion)
	} else {
		logrus.Debug("Using Docker API version negotiation")
		return client.WithAPIVersionNegotiation()
	}
}

type containerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// DockerWatcher reports running containers labelled with srcds-router.port
// as backends
type DockerWatcher struct {
	config  dockerWatcherConfig
	sources *BackendSources
	client  containerLister
	last    []string
}

func NewDockerWatcher(socket string, timeoutSeconds int, refreshIntervalSeconds int, dockerApiVersion string, sources *BackendSources) *DockerWatcher {
	return &DockerWatcher{
		config: dockerWatcherConfig{
			socket:                 socket,
			timeoutSeconds:         timeoutSeconds,
			refreshIntervalSeconds: refreshIntervalSeconds,
			apiVersion:             dockerApiVersion,
		},
		sources: sources,
	}
}

// Start performs the initial listing and then keeps monitoring until ctx is done
func (w *DockerWatcher) Start(ctx context.Context) error {
	timeout := time.Duration(w.config.timeoutSeconds) * time.Second
	refreshInterval := time.Duration(w.config.refreshIntervalSeconds) * time.Second
	if refreshInterval <= 0 {
		refreshInterval = 15 * time.Second
	}

	opts := []client.Opt{
		client.WithHost(w.config.socket),
		client.WithTimeout(timeout),
		client.WithHTTPHeaders(map[string]string{
			"User-Agent": "srcds-router",
		}),
		w.config.apiVersionOpt(),
	}

	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return err
	}
	w.client = c

	logrus.Trace("Performing initial listing of Docker containers")
	if err := w.refresh(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(refreshInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.refresh(ctx); err != nil {
					logrus.WithError(err).Error("Docker monitoring failed")
				}
			case <-ctx.Done():
				logrus.Debug("Stopping Docker monitoring")
				return
			}
		}
	}()

	logrus.Info("Monitoring Docker for game server containers")
	return nil
}

func (w *DockerWatcher) refresh(ctx context.Context) error {
	backends, err := w.listBackends(ctx)
	if err != nil {
		return err
	}
	if slices.Equal(backends, w.last) {
		return nil
	}
	logrus.WithField("backends", backends).Debug("Docker backends changed")
	if err := w.sources.Set(SourceDocker, backends); err != nil {
		return err
	}
	w.last = backends
	return nil
}

func (w *DockerWatcher) listBackends(ctx context.Context) ([]string, error) {
	containers, err := w.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, err
	}

	var result []string
	for _, summary := range containers {
		if _, labelled := summary.Labels[DockerRouterLabelPort]; !labelled {
			continue
		}
		inspect, err := w.client.ContainerInspect(ctx, summary.ID)
		if err != nil {
			logrus.WithFields(logrus.Fields{"containerID": summary.ID}).WithError(err).Error("Failed to inspect Docker container")
			continue
		}
		if endpoint, ok := parseBackendContainer(&inspect); ok {
			result = append(result, endpoint)
		}
	}
	slices.Sort(result)
	return result, nil
}

func parseBackendContainer(container *container.InspectResponse) (endpoint string, ok bool) {
	fields := logrus.Fields{"containerId": container.ID, "containerNames": container.Name}
	if container.Config == nil || container.NetworkSettings == nil {
		return "", false
	}

	value, labelled := container.Config.Labels[DockerRouterLabelPort]
	if !labelled {
		return "", false
	}
	port, err := strconv.ParseUint(value, 10, 16)
	if err != nil || port == 0 {
		logrus.WithFields(fields).WithError(err).
			Warnf("ignoring container with invalid %s label", DockerRouterLabelPort)
		return "", false
	}

	if container.State != nil && !container.State.Running {
		logrus.WithFields(fields).Debug("ignoring container, not running")
		return "", false
	}

	networks := container.NetworkSettings.Networks
	if len(networks) == 0 {
		logrus.WithFields(fields).Warn("ignoring container, no networks found")
		return "", false
	}

	var ip string
	if network, named := container.Config.Labels[DockerRouterLabelNetwork]; named {
		for name, ep := range networks {
			if name == network || ep.NetworkID == network || slices.Contains(ep.Aliases, network) {
				ip = ep.IPAddress
				break
			}
		}
	} else {
		if len(networks) > 1 {
			logrus.WithFields(fields).
				Warnf("ignoring container, multiple networks found and none specified using label %s", DockerRouterLabelNetwork)
			return "", false
		}
		for _, ep := range networks {
			ip = ep.IPAddress
		}
	}

	if ip == "" {
		logrus.WithFields(fields).Warn("ignoring container, unable to find accessible ip address")
		return "", false
	}

	return net.JoinHostPort(ip, strconv.FormatUint(port, 10)), true
}
