// Package driver defines the narrow contract Bay requires from a container
// engine. The control plane only ever talks to this interface; the Docker
// implementation lives in driver/docker.
package driver

import "context"

// ContainerStatus is the engine-level state of a container.
type ContainerStatus string

const (
	StatusCreated  ContainerStatus = "created"
	StatusRunning  ContainerStatus = "running"
	StatusExited   ContainerStatus = "exited"
	StatusRemoving ContainerStatus = "removing"
	StatusNotFound ContainerStatus = "not_found"
)

// ContainerInfo is the result of a Status call. Endpoint is only resolved
// when the container is running and a runtime port was supplied.
type ContainerInfo struct {
	ContainerID string
	Status      ContainerStatus
	Endpoint    string
	ExitCode    int
}

// CreateOpts carries everything the driver needs to create a session
// container: identity for labels, the workspace volume to bind, and the
// profile's image, environment and resource caps.
type CreateOpts struct {
	SessionID    string
	SandboxID    string
	Owner        string
	ProfileID    string
	WorkspaceID  string
	WorkspaceRef string // engine volume name, bind-mounted at the workspace mount path
	Image        string
	Env          map[string]string
	MemoryBytes  int64
	CPUs         float64
	PidsLimit    int
	RuntimePort  int
	ExtraLabels  map[string]string
}

// Driver is the container-engine adapter.
//
// Stop and Destroy absorb engine not-found errors: deletion is idempotent.
type Driver interface {
	// Create creates the container without starting it and returns the
	// engine container id.
	Create(ctx context.Context, opts CreateOpts) (string, error)

	// Start starts the container and resolves a reachable endpoint for the
	// runtime port.
	Start(ctx context.Context, containerID string, runtimePort int) (string, error)

	Stop(ctx context.Context, containerID string) error
	Destroy(ctx context.Context, containerID string) error

	// Status inspects the container. runtimePort 0 skips endpoint resolution.
	Status(ctx context.Context, containerID string, runtimePort int) (*ContainerInfo, error)

	// Logs returns the last tail lines of container output, best effort.
	Logs(ctx context.Context, containerID string, tail int) (string, error)

	CreateVolume(ctx context.Context, name string, labels map[string]string) (string, error)
	DeleteVolume(ctx context.Context, name string) error
	VolumeExists(ctx context.Context, name string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
