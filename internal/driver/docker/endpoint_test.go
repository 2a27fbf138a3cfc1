package docker

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baylabs/bay/internal/config"
	"github.com/baylabs/bay/internal/testutil"
)

func driverWithMode(mode string) *Driver {
	return &Driver{
		cfg: config.DockerConfig{
			Network:      "bay-net",
			ConnectMode:  mode,
			HostAddress:  "127.0.0.1",
			PublishPorts: true,
		},
		logger: testutil.NewTestLogger(),
	}
}

func inspectWith(networks map[string]*network.EndpointSettings, ports nat.PortMap) container.InspectResponse {
	return container.InspectResponse{
		NetworkSettings: &container.NetworkSettings{
			Networks: networks,
			NetworkSettingsBase: container.NetworkSettingsBase{
				Ports: ports,
			},
		},
	}
}

func TestContainerIPPrefersConfiguredNetwork(t *testing.T) {
	networks := map[string]*network.EndpointSettings{
		"bridge":  {IPAddress: "172.17.0.2"},
		"bay-net": {IPAddress: "172.20.0.5"},
	}
	assert.Equal(t, "172.20.0.5", containerIP(networks, "bay-net"))
}

func TestContainerIPFallsBackToAnyNetwork(t *testing.T) {
	networks := map[string]*network.EndpointSettings{
		"bridge": {IPAddress: "172.17.0.2"},
	}
	assert.Equal(t, "172.17.0.2", containerIP(networks, "bay-net"))
	assert.Equal(t, "", containerIP(nil, "bay-net"))
}

func TestHostPortBindingRewritesWildcard(t *testing.T) {
	ports := nat.PortMap{
		"8123/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "49153"}},
	}
	host, port, ok := hostPortBinding(ports, 8123, "192.168.1.10")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.10", host)
	assert.Equal(t, 49153, port)

	ports = nat.PortMap{
		"8123/tcp": []nat.PortBinding{{HostIP: "::", HostPort: "49154"}},
	}
	host, port, ok = hostPortBinding(ports, 8123, "127.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 49154, port)
}

func TestHostPortBindingKeepsExplicitAddress(t *testing.T) {
	ports := nat.PortMap{
		"8123/tcp": []nat.PortBinding{{HostIP: "10.0.0.7", HostPort: "49200"}},
	}
	host, port, ok := hostPortBinding(ports, 8123, "127.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.7", host)
	assert.Equal(t, 49200, port)
}

func TestHostPortBindingMissing(t *testing.T) {
	_, _, ok := hostPortBinding(nat.PortMap{}, 8123, "127.0.0.1")
	assert.False(t, ok)

	ports := nat.PortMap{"8123/tcp": []nat.PortBinding{}}
	_, _, ok = hostPortBinding(ports, 8123, "127.0.0.1")
	assert.False(t, ok)

	ports = nat.PortMap{"8123/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}}}
	_, _, ok = hostPortBinding(ports, 8123, "127.0.0.1")
	assert.False(t, ok)
}

func TestResolveEndpointContainerNetworkMode(t *testing.T) {
	d := driverWithMode("container_network")
	info := inspectWith(
		map[string]*network.EndpointSettings{"bay-net": {IPAddress: "172.20.0.5"}},
		nat.PortMap{"8123/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "49153"}}},
	)

	endpoint, ok := d.resolveEndpoint(info, 8123)
	require.True(t, ok)
	assert.Equal(t, "http://172.20.0.5:8123", endpoint)
}

func TestResolveEndpointHostPortMode(t *testing.T) {
	d := driverWithMode("host_port")
	info := inspectWith(
		map[string]*network.EndpointSettings{"bay-net": {IPAddress: "172.20.0.5"}},
		nat.PortMap{"8123/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "49153"}}},
	)

	endpoint, ok := d.resolveEndpoint(info, 8123)
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:49153", endpoint)
}

func TestResolveEndpointAutoFallsBackToHostPort(t *testing.T) {
	d := driverWithMode("auto")

	// No container IP: auto falls back to the published port.
	info := inspectWith(
		map[string]*network.EndpointSettings{},
		nat.PortMap{"8123/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "49153"}}},
	)
	endpoint, ok := d.resolveEndpoint(info, 8123)
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:49153", endpoint)

	// Container IP present: auto prefers it.
	info = inspectWith(
		map[string]*network.EndpointSettings{"bay-net": {IPAddress: "172.20.0.5"}},
		nat.PortMap{"8123/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "49153"}}},
	)
	endpoint, ok = d.resolveEndpoint(info, 8123)
	require.True(t, ok)
	assert.Equal(t, "http://172.20.0.5:8123", endpoint)
}

func TestResolveEndpointNothingReachable(t *testing.T) {
	d := driverWithMode("auto")
	info := inspectWith(map[string]*network.EndpointSettings{}, nat.PortMap{})

	_, ok := d.resolveEndpoint(info, 8123)
	assert.False(t, ok)

	_, ok = d.resolveEndpoint(container.InspectResponse{}, 8123)
	assert.False(t, ok)
}

func TestMapContainerState(t *testing.T) {
	assert.Equal(t, "running", string(mapContainerState(&container.State{Status: "running"})))
	assert.Equal(t, "created", string(mapContainerState(&container.State{Status: "created"})))
	assert.Equal(t, "removing", string(mapContainerState(&container.State{Status: "removing"})))
	assert.Equal(t, "exited", string(mapContainerState(&container.State{Status: "exited"})))
	assert.Equal(t, "exited", string(mapContainerState(&container.State{Status: "dead"})))
	assert.Equal(t, "exited", string(mapContainerState(nil)))
}
