package docker

import (
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
)

// Endpoint resolution. Bay may run on the host (cannot reach container IPs
// on a user-defined bridge) or inside a container sharing a network with
// the runtime (can). The connect mode picks the strategy:
//
//	container_network  ->  http://<container ip>:<runtime port>
//	host_port          ->  http://<host address>:<published port>
//	auto               ->  container_network first, host_port fallback

func (d *Driver) resolveEndpoint(info container.InspectResponse, runtimePort int) (string, bool) {
	if info.NetworkSettings == nil {
		return "", false
	}

	if d.cfg.ConnectMode == "container_network" || d.cfg.ConnectMode == "auto" {
		if ip := containerIP(info.NetworkSettings.Networks, d.cfg.Network); ip != "" {
			return fmt.Sprintf("http://%s:%d", ip, runtimePort), true
		}
	}

	if d.cfg.ConnectMode == "host_port" || d.cfg.ConnectMode == "auto" {
		if host, port, ok := hostPortBinding(info.NetworkSettings.Ports, runtimePort, d.cfg.HostAddress); ok {
			return fmt.Sprintf("http://%s:%d", host, port), true
		}
	}

	return "", false
}

// containerIP picks the container's IP on the preferred network, falling
// back to the first attached network.
func containerIP(networks map[string]*network.EndpointSettings, preferred string) string {
	if len(networks) == 0 {
		return ""
	}
	if preferred != "" {
		if ep, ok := networks[preferred]; ok && ep != nil {
			return ep.IPAddress
		}
	}
	for _, ep := range networks {
		if ep != nil && ep.IPAddress != "" {
			return ep.IPAddress
		}
	}
	return ""
}

// hostPortBinding finds the host-side binding for runtimePort/tcp. A
// wildcard bind (0.0.0.0 or ::) is rewritten to the configured host
// address, which is what Bay actually dials.
func hostPortBinding(ports nat.PortMap, runtimePort int, hostAddress string) (string, int, bool) {
	key := nat.Port(fmt.Sprintf("%d/tcp", runtimePort))
	bindings, ok := ports[key]
	if !ok || len(bindings) == 0 {
		return "", 0, false
	}

	b := bindings[0]
	if b.HostPort == "" {
		return "", 0, false
	}
	port, err := strconv.Atoi(b.HostPort)
	if err != nil {
		return "", 0, false
	}

	host := b.HostIP
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = hostAddress
	}
	return host, port, true
}
