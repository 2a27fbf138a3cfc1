// Package docker implements the Bay driver contract on the Docker Engine
// API.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/baylabs/bay/internal/config"
	"github.com/baylabs/bay/internal/driver"
)

const labelPrefix = "bay."

// WorkspaceMountPath is where the workspace volume is bound inside every
// session container.
const WorkspaceMountPath = "/workspace"

// stopGraceSeconds is the graceful stop window before SIGKILL.
const stopGraceSeconds = 10

type Driver struct {
	docker *client.Client
	cfg    config.DockerConfig
	logger *slog.Logger
}

// New connects to the Docker daemon. An empty socket falls back to the
// environment (DOCKER_HOST et al).
func New(cfg config.DockerConfig, logger *slog.Logger) (*Driver, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Socket != "" {
		opts = append(opts, client.WithHost(cfg.Socket))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Driver{docker: cli, cfg: cfg, logger: logger}, nil
}

func (d *Driver) Close() error {
	return d.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.docker.Ping(ctx)
	return err
}

func (d *Driver) Create(ctx context.Context, opts driver.CreateOpts) (string, error) {
	labels := map[string]string{
		labelPrefix + "managed":      "true",
		labelPrefix + "owner":        opts.Owner,
		labelPrefix + "sandbox_id":   opts.SandboxID,
		labelPrefix + "session_id":   opts.SessionID,
		labelPrefix + "workspace_id": opts.WorkspaceID,
		labelPrefix + "profile_id":   opts.ProfileID,
		labelPrefix + "runtime_port": strconv.Itoa(opts.RuntimePort),
	}
	for k, v := range opts.ExtraLabels {
		labels[k] = v
	}

	env := make([]string, 0, len(opts.Env)+3)
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"SESSION_ID="+opts.SessionID,
		"SANDBOX_ID="+opts.SandboxID,
		"WORKSPACE_PATH="+WorkspaceMountPath,
	)

	pidsLimit := int64(opts.PidsLimit)
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    opts.MemoryBytes,
			NanoCPUs:  int64(opts.CPUs * 1e9),
			PidsLimit: &pidsLimit,
		},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: opts.WorkspaceRef,
				Target: WorkspaceMountPath,
			},
		},
	}

	exposeKey := nat.Port(fmt.Sprintf("%d/tcp", opts.RuntimePort))
	exposedPorts := nat.PortSet{exposeKey: struct{}{}}

	// Port publishing is needed for host_port mode and for the auto
	// fallback.
	if d.cfg.PublishPorts && (d.cfg.ConnectMode == "host_port" || d.cfg.ConnectMode == "auto") {
		hostPort := ""
		if d.cfg.HostPort > 0 {
			hostPort = strconv.Itoa(d.cfg.HostPort)
		}
		hostCfg.PortBindings = nat.PortMap{
			exposeKey: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}},
		}
	}

	// Attach to the configured network when it exists; a missing network
	// downgrades to the engine default with a warning rather than failing
	// the create.
	if d.cfg.Network != "" && (d.cfg.ConnectMode == "container_network" || d.cfg.ConnectMode == "auto") {
		exists, err := d.networkExists(ctx, d.cfg.Network)
		if err != nil {
			return "", fmt.Errorf("network inspect: %w", err)
		}
		if exists {
			hostCfg.NetworkMode = container.NetworkMode(d.cfg.Network)
		} else {
			d.logger.Warn("configured network not found, using engine default",
				"network", d.cfg.Network)
		}
	}

	containerCfg := &container.Config{
		Image:        opts.Image,
		Env:          env,
		Labels:       labels,
		ExposedPorts: exposedPorts,
	}

	resp, err := d.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil,
		"bay-session-"+opts.SessionID)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	d.logger.Info("container created",
		"container_id", resp.ID, "session_id", opts.SessionID, "image", opts.Image)
	return resp.ID, nil
}

func (d *Driver) Start(ctx context.Context, containerID string, runtimePort int) (string, error) {
	if err := d.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}

	info, err := d.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("container inspect: %w", err)
	}

	if endpoint, ok := d.resolveEndpoint(info, runtimePort); ok {
		d.logger.Info("endpoint resolved", "container_id", containerID, "endpoint", endpoint)
		return endpoint, nil
	}

	// Last resort: container name. Only reachable if Bay can resolve it.
	name := strings.TrimPrefix(info.Name, "/")
	endpoint := fmt.Sprintf("http://%s:%d", name, runtimePort)
	d.logger.Warn("endpoint resolution fell back to container name",
		"container_id", containerID, "endpoint", endpoint)
	return endpoint, nil
}

func (d *Driver) Stop(ctx context.Context, containerID string) error {
	grace := stopGraceSeconds
	err := d.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace})
	if err != nil {
		if client.IsErrNotFound(err) {
			d.logger.Warn("stop: container not found", "container_id", containerID)
			return nil
		}
		return fmt.Errorf("container stop: %w", err)
	}
	return nil
}

func (d *Driver) Destroy(ctx context.Context, containerID string) error {
	err := d.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			d.logger.Warn("destroy: container not found", "container_id", containerID)
			return nil
		}
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

func (d *Driver) Status(ctx context.Context, containerID string, runtimePort int) (*driver.ContainerInfo, error) {
	info, err := d.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return &driver.ContainerInfo{
				ContainerID: containerID,
				Status:      driver.StatusNotFound,
			}, nil
		}
		return nil, fmt.Errorf("container inspect: %w", err)
	}

	status := mapContainerState(info.State)

	result := &driver.ContainerInfo{
		ContainerID: containerID,
		Status:      status,
	}
	if info.State != nil {
		result.ExitCode = info.State.ExitCode
	}
	if status == driver.StatusRunning && runtimePort > 0 {
		if endpoint, ok := d.resolveEndpoint(info, runtimePort); ok {
			result.Endpoint = endpoint
		}
	}
	return result, nil
}

func (d *Driver) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	rc, err := d.docker.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	// Demultiplex Docker's stdout/stderr stream (8-byte headers).
	var out strings.Builder
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil && err != io.EOF {
		return out.String(), nil
	}
	return out.String(), nil
}

func (d *Driver) CreateVolume(ctx context.Context, name string, labels map[string]string) (string, error) {
	volumeLabels := map[string]string{labelPrefix + "managed": "true"}
	for k, v := range labels {
		volumeLabels[k] = v
	}

	vol, err := d.docker.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Driver: "local",
		Labels: volumeLabels,
	})
	if err != nil {
		return "", fmt.Errorf("volume create: %w", err)
	}
	return vol.Name, nil
}

func (d *Driver) DeleteVolume(ctx context.Context, name string) error {
	err := d.docker.VolumeRemove(ctx, name, false)
	if err != nil {
		if client.IsErrNotFound(err) {
			d.logger.Warn("delete volume: not found", "volume", name)
			return nil
		}
		return fmt.Errorf("volume remove: %w", err)
	}
	return nil
}

func (d *Driver) VolumeExists(ctx context.Context, name string) (bool, error) {
	_, err := d.docker.VolumeInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("volume inspect: %w", err)
	}
	return true, nil
}

func (d *Driver) networkExists(ctx context.Context, name string) (bool, error) {
	_, err := d.docker.NetworkInspect(ctx, name, network.InspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func mapContainerState(state *container.State) driver.ContainerStatus {
	if state == nil {
		return driver.StatusExited
	}
	switch state.Status {
	case "running":
		return driver.StatusRunning
	case "created":
		return driver.StatusCreated
	case "removing":
		return driver.StatusRemoving
	case "exited", "dead":
		return driver.StatusExited
	default:
		return driver.StatusExited
	}
}
