// Package session manages session (container) lifecycle. The core of it
// is EnsureRunning: the idempotent promotion of a session record to a
// running container with a ready runtime.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/baylabs/bay/internal/config"
	"github.com/baylabs/bay/internal/driver"
	"github.com/baylabs/bay/internal/errdefs"
	"github.com/baylabs/bay/internal/runtime"
	"github.com/baylabs/bay/internal/store"
)

// retryAfterMs is handed to clients when a session is mid-start.
const retryAfterMs = 1000

// ProbeConfig bounds the runtime readiness probe. The total budget is
// generous so a first-pull image start still makes it.
type ProbeConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration
	TotalBudget     time.Duration
}

func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     time.Second,
		AttemptTimeout:  2 * time.Second,
		TotalBudget:     120 * time.Second,
	}
}

type Manager struct {
	store  *store.Store
	driver driver.Driver
	logger *slog.Logger
	probe  ProbeConfig
}

func NewManager(st *store.Store, drv driver.Driver, logger *slog.Logger) *Manager {
	return &Manager{
		store:  st,
		driver: drv,
		logger: logger,
		probe:  DefaultProbeConfig(),
	}
}

// SetProbeConfig overrides the readiness probe bounds (tests, tuning).
func (m *Manager) SetProbeConfig(pc ProbeConfig) {
	m.probe = pc
}

// Create persists a pending session record. The driver is not touched;
// compute materializes on the first EnsureRunning.
func (m *Manager) Create(sandboxID string, workspace *store.Workspace, profile *config.Profile) (*store.Session, error) {
	sessionID := "sess-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	now := time.Now().UTC()

	sess := &store.Session{
		ID:            sessionID,
		SandboxID:     sandboxID,
		RuntimeType:   profile.RuntimeType,
		ProfileID:     profile.ID,
		DesiredState:  store.SessionPending,
		ObservedState: store.SessionPending,
		CreatedAt:     now,
		LastActiveAt:  now,
	}

	m.logger.Info("session create",
		"session_id", sessionID, "sandbox_id", sandboxID, "profile_id", profile.ID)

	if err := m.store.CreateSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session or nil when absent.
func (m *Manager) Get(id string) (*store.Session, error) {
	return m.store.GetSession(id)
}

// EnsureRunning promotes the session to running:
//
//  1. ready already -> return as-is
//  2. mid-start -> SessionNotReady, client retries
//  3. otherwise mark starting, create the container if none exists,
//     start it, wait for the runtime /health, mark running
//
// Any failure after the starting transition marks the session failed and
// re-raises; the existing container is adopted by the next attempt.
func (m *Manager) EnsureRunning(ctx context.Context, sess *store.Session, workspace *store.Workspace, profile *config.Profile) (*store.Session, error) {
	m.logger.Info("session ensure running",
		"session_id", sess.ID, "observed_state", sess.ObservedState)

	if sess.IsReady() {
		return sess, nil
	}

	if sess.ObservedState == store.SessionStarting {
		return nil, errdefs.SessionNotReady("session is starting", sess.SandboxID, retryAfterMs)
	}

	if err := m.store.UpdateSessionState(sess.ID, store.SessionRunning, store.SessionStarting); err != nil {
		return nil, err
	}
	sess.DesiredState = store.SessionRunning
	sess.ObservedState = store.SessionStarting

	if err := m.startAndWait(ctx, sess, workspace, profile); err != nil {
		m.logger.Error("session start failed", "session_id", sess.ID, "error", err)
		m.logStartFailure(ctx, sess)
		if serr := m.store.UpdateSessionObserved(sess.ID, store.SessionFailed); serr != nil {
			m.logger.Error("marking session failed", "session_id", sess.ID, "error", serr)
		}
		sess.ObservedState = store.SessionFailed
		return nil, err
	}

	now := time.Now().UTC()
	if err := m.store.UpdateSessionObserved(sess.ID, store.SessionRunning); err != nil {
		return nil, err
	}
	sess.ObservedState = store.SessionRunning
	sess.LastObservedAt = &now
	return sess, nil
}

func (m *Manager) startAndWait(ctx context.Context, sess *store.Session, workspace *store.Workspace, profile *config.Profile) error {
	if sess.ContainerID == nil {
		memoryBytes, err := units.RAMInBytes(profile.Memory)
		if err != nil {
			return errdefs.Validation("profile %s: invalid memory limit %q", profile.ID, profile.Memory)
		}

		sandbox, err := m.store.GetSandboxByID(sess.SandboxID)
		if err != nil {
			return err
		}
		owner := ""
		if sandbox != nil {
			owner = sandbox.Owner
		}

		containerID, err := m.driver.Create(ctx, driver.CreateOpts{
			SessionID:    sess.ID,
			SandboxID:    sess.SandboxID,
			Owner:        owner,
			ProfileID:    profile.ID,
			WorkspaceID:  workspace.ID,
			WorkspaceRef: workspace.DriverRef,
			Image:        profile.Image,
			Env:          profile.Env,
			MemoryBytes:  memoryBytes,
			CPUs:         profile.CPUs,
			PidsLimit:    profile.PidsLimit,
			RuntimePort:  profile.RuntimePort,
		})
		if err != nil {
			return fmt.Errorf("create container: %w", err)
		}
		if err := m.store.UpdateSessionContainer(sess.ID, &containerID); err != nil {
			return err
		}
		sess.ContainerID = &containerID
	}

	endpoint, err := m.driver.Start(ctx, *sess.ContainerID, profile.RuntimePort)
	if err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	if err := m.store.UpdateSessionEndpoint(sess.ID, &endpoint); err != nil {
		return err
	}
	sess.Endpoint = &endpoint

	return m.waitForReady(ctx, endpoint, sess.ID, sess.SandboxID)
}

// waitForReady polls GET <endpoint>/health with exponential backoff until
// it answers 200 or the budget runs out. Budget exhaustion is reported as
// SessionNotReady, not a timeout: retrying is the correct client action.
func (m *Manager) waitForReady(ctx context.Context, endpoint, sessionID, sandboxID string) error {
	client := runtime.NewClient(endpoint)
	deadline := time.Now().Add(m.probe.TotalBudget)
	interval := m.probe.InitialInterval
	attempt := 0
	started := time.Now()

	for {
		attempt++
		if err := client.Health(ctx, m.probe.AttemptTimeout); err == nil {
			m.logger.Info("runtime ready",
				"session_id", sessionID,
				"attempts", attempt,
				"elapsed_ms", time.Since(started).Milliseconds())
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		sleep := interval
		if sleep > remaining {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		interval *= 2
		if interval > m.probe.MaxInterval {
			interval = m.probe.MaxInterval
		}
	}

	m.logger.Error("runtime never became ready",
		"session_id", sessionID, "endpoint", endpoint, "attempts", attempt)
	return errdefs.SessionNotReady("runtime failed to become ready", sandboxID, retryAfterMs)
}

// logStartFailure surfaces the tail of the container log when a start
// fails, best effort.
func (m *Manager) logStartFailure(ctx context.Context, sess *store.Session) {
	if sess.ContainerID == nil {
		return
	}
	logs, err := m.driver.Logs(ctx, *sess.ContainerID, 50)
	if err != nil || logs == "" {
		return
	}
	m.logger.Error("container log tail", "session_id", sess.ID, "logs", logs)
}

// Stop reclaims compute; the session record and its history remain.
func (m *Manager) Stop(ctx context.Context, sess *store.Session) error {
	m.logger.Info("session stop", "session_id", sess.ID)

	if err := m.store.UpdateSessionState(sess.ID, store.SessionStopped, store.SessionStopping); err != nil {
		return err
	}

	if sess.ContainerID != nil {
		if err := m.driver.Stop(ctx, *sess.ContainerID); err != nil {
			return err
		}
	}

	if err := m.store.UpdateSessionObserved(sess.ID, store.SessionStopped); err != nil {
		return err
	}
	if err := m.store.UpdateSessionEndpoint(sess.ID, nil); err != nil {
		return err
	}
	sess.DesiredState = store.SessionStopped
	sess.ObservedState = store.SessionStopped
	sess.Endpoint = nil
	return nil
}

// Destroy force-removes the container and deletes the session row.
func (m *Manager) Destroy(ctx context.Context, sess *store.Session) error {
	m.logger.Info("session destroy", "session_id", sess.ID)

	if sess.ContainerID != nil {
		if err := m.driver.Destroy(ctx, *sess.ContainerID); err != nil {
			return err
		}
	}
	return m.store.DeleteSession(sess.ID)
}

// RefreshStatus reconciles observed_state from the engine:
//
//	running   -> running (endpoint refreshed)
//	created   -> pending
//	exited    -> stopped
//	not_found -> stopped, container_id cleared
//	removing  -> unchanged
func (m *Manager) RefreshStatus(ctx context.Context, sess *store.Session, profile *config.Profile) (*store.Session, error) {
	if sess.ContainerID == nil {
		return sess, nil
	}

	runtimePort := 0
	if profile != nil {
		runtimePort = profile.RuntimePort
	}
	info, err := m.driver.Status(ctx, *sess.ContainerID, runtimePort)
	if err != nil {
		return nil, err
	}

	switch info.Status {
	case driver.StatusRunning:
		sess.ObservedState = store.SessionRunning
		if info.Endpoint != "" {
			sess.Endpoint = &info.Endpoint
			if err := m.store.UpdateSessionEndpoint(sess.ID, &info.Endpoint); err != nil {
				return nil, err
			}
		}
	case driver.StatusCreated:
		sess.ObservedState = store.SessionPending
	case driver.StatusExited:
		sess.ObservedState = store.SessionStopped
	case driver.StatusNotFound:
		sess.ObservedState = store.SessionStopped
		sess.ContainerID = nil
		if err := m.store.UpdateSessionContainer(sess.ID, nil); err != nil {
			return nil, err
		}
	case driver.StatusRemoving:
		return sess, nil
	}

	if err := m.store.UpdateSessionObserved(sess.ID, sess.ObservedState); err != nil {
		return nil, err
	}
	return sess, nil
}

// Touch bumps last_active_at; called on capability dispatch.
func (m *Manager) Touch(sessionID string) {
	if err := m.store.TouchSession(sessionID, time.Now().UTC()); err != nil {
		m.logger.Warn("touch session", "session_id", sessionID, "error", err)
	}
}
