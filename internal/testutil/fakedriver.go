package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/baylabs/bay/internal/driver"
)

// FakeDriver is an in-memory driver.Driver for tests. It tracks
// containers and volumes and counts creates so tests can assert on
// promotion behavior without a container engine.
type FakeDriver struct {
	mu         sync.Mutex
	containers map[string]string // container id -> state
	volumes    map[string]bool
	nextID     int

	// EndpointURL is returned by Start for every container. Point it at
	// an httptest server to satisfy readiness probes.
	EndpointURL string

	CreateCount int
	StartCount  int

	CreateErr error
	StartErr  error
	StopErr   error
}

var _ driver.Driver = (*FakeDriver)(nil)

func NewFakeDriver(endpointURL string) *FakeDriver {
	return &FakeDriver{
		containers:  make(map[string]string),
		volumes:     make(map[string]bool),
		EndpointURL: endpointURL,
	}
}

// RunningContainers returns how many containers are currently running.
func (f *FakeDriver) RunningContainers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, state := range f.containers {
		if state == "running" {
			n++
		}
	}
	return n
}

// HasVolume reports whether the named volume exists.
func (f *FakeDriver) HasVolume(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[name]
}

// SetContainerState overrides a container's state for reconciliation
// tests.
func (f *FakeDriver) SetContainerState(containerID, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state == "not_found" {
		delete(f.containers, containerID)
		return
	}
	f.containers[containerID] = state
}

func (f *FakeDriver) Create(ctx context.Context, opts driver.CreateOpts) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.CreateCount++
	f.nextID++
	id := fmt.Sprintf("ctr-%d", f.nextID)
	f.containers[id] = "created"
	return id, nil
}

func (f *FakeDriver) Start(ctx context.Context, containerID string, runtimePort int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return "", f.StartErr
	}
	if _, ok := f.containers[containerID]; !ok {
		return "", fmt.Errorf("container not found: %s", containerID)
	}
	f.StartCount++
	f.containers[containerID] = "running"
	return f.EndpointURL, nil
}

func (f *FakeDriver) Stop(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StopErr != nil {
		return f.StopErr
	}
	if _, ok := f.containers[containerID]; ok {
		f.containers[containerID] = "exited"
	}
	return nil
}

func (f *FakeDriver) Destroy(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, containerID)
	return nil
}

func (f *FakeDriver) Status(ctx context.Context, containerID string, runtimePort int) (*driver.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.containers[containerID]
	if !ok {
		return &driver.ContainerInfo{ContainerID: containerID, Status: driver.StatusNotFound}, nil
	}
	info := &driver.ContainerInfo{ContainerID: containerID}
	switch state {
	case "created":
		info.Status = driver.StatusCreated
	case "running":
		info.Status = driver.StatusRunning
		info.Endpoint = f.EndpointURL
	case "removing":
		info.Status = driver.StatusRemoving
	default:
		info.Status = driver.StatusExited
	}
	return info, nil
}

func (f *FakeDriver) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	return "", nil
}

func (f *FakeDriver) CreateVolume(ctx context.Context, name string, labels map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[name] = true
	return name, nil
}

func (f *FakeDriver) DeleteVolume(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.volumes, name)
	return nil
}

func (f *FakeDriver) VolumeExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[name], nil
}

func (f *FakeDriver) Ping(ctx context.Context) error { return nil }

func (f *FakeDriver) Close() error { return nil }
