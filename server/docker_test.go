package server

import (
	"context"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backendContainer(id string, running bool, labels map[string]string, networks map[string]*network.EndpointSettings) container.InspectResponse {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    id,
			Name:  "/" + id,
			State: &container.State{Running: running},
		},
		Config: &container.Config{Labels: labels},
		NetworkSettings: &container.NetworkSettings{
			Networks: networks,
		},
	}
}

func TestParseBackendContainer(t *testing.T) {
	bridge := map[string]*network.EndpointSettings{
		"bridge": {NetworkID: "n1", IPAddress: "172.17.0.2"},
	}
	twoNetworks := map[string]*network.EndpointSettings{
		"front": {NetworkID: "n1", IPAddress: "172.18.0.2"},
		"games": {NetworkID: "n2", IPAddress: "172.19.0.2", Aliases: []string{"game-net"}},
	}

	tests := []struct {
		name      string
		container container.InspectResponse
		expect    string
		ok        bool
	}{
		{
			name:      "single network",
			container: backendContainer("a", true, map[string]string{DockerRouterLabelPort: "27015"}, bridge),
			expect:    "172.17.0.2:27015",
			ok:        true,
		},
		{
			name:      "not labelled",
			container: backendContainer("a", true, map[string]string{}, bridge),
		},
		{
			name:      "invalid port",
			container: backendContainer("a", true, map[string]string{DockerRouterLabelPort: "huge"}, bridge),
		},
		{
			name:      "not running",
			container: backendContainer("a", false, map[string]string{DockerRouterLabelPort: "27015"}, bridge),
		},
		{
			name:      "ambiguous networks",
			container: backendContainer("a", true, map[string]string{DockerRouterLabelPort: "27015"}, twoNetworks),
		},
		{
			name: "network by name",
			container: backendContainer("a", true, map[string]string{
				DockerRouterLabelPort:    "27016",
				DockerRouterLabelNetwork: "games",
			}, twoNetworks),
			expect: "172.19.0.2:27016",
			ok:     true,
		},
		{
			name: "network by alias",
			container: backendContainer("a", true, map[string]string{
				DockerRouterLabelPort:    "27016",
				DockerRouterLabelNetwork: "game-net",
			}, twoNetworks),
			expect: "172.19.0.2:27016",
			ok:     true,
		},
		{
			name: "unknown network",
			container: backendContainer("a", true, map[string]string{
				DockerRouterLabelPort:    "27016",
				DockerRouterLabelNetwork: "other",
			}, twoNetworks),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			endpoint, ok := parseBackendContainer(&test.container)
			assert.Equal(t, test.ok, ok)
			assert.Equal(t, test.expect, endpoint)
		})
	}
}

type fakeContainerLister struct {
	containers map[string]container.InspectResponse
}

func (f *fakeContainerLister) ContainerList(context.Context, container.ListOptions) ([]container.Summary, error) {
	var result []container.Summary
	for id, c := range f.containers {
		result = append(result, container.Summary{ID: id, Labels: c.Config.Labels})
	}
	return result, nil
}

func (f *fakeContainerLister) ContainerInspect(_ context.Context, id string) (container.InspectResponse, error) {
	return f.containers[id], nil
}

func TestDockerWatcher_Refresh(t *testing.T) {
	bridge := func(ip string) map[string]*network.EndpointSettings {
		return map[string]*network.EndpointSettings{"bridge": {IPAddress: ip}}
	}
	lister := &fakeContainerLister{containers: map[string]container.InspectResponse{
		"b":   backendContainer("b", true, map[string]string{DockerRouterLabelPort: "27015"}, bridge("172.17.0.3")),
		"a":   backendContainer("a", true, map[string]string{DockerRouterLabelPort: "27015"}, bridge("172.17.0.2")),
		"web": backendContainer("web", true, map[string]string{}, bridge("172.17.0.9")),
	}}

	sources := NewBackendSources()
	watcher := NewDockerWatcher("", 0, 0, "", sources)
	watcher.client = lister

	require.NoError(t, watcher.refresh(context.Background()))
	assert.Equal(t, []string{"172.17.0.2:27015", "172.17.0.3:27015"}, sources.Source(SourceDocker))

	delete(lister.containers, "b")
	require.NoError(t, watcher.refresh(context.Background()))
	assert.Equal(t, []string{"172.17.0.2:27015"}, sources.Source(SourceDocker))
}
