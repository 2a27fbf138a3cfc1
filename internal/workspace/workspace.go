// Package workspace manages the volume-backed workspaces sessions mount.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/baylabs/bay/internal/driver"
	"github.com/baylabs/bay/internal/errdefs"
	"github.com/baylabs/bay/internal/store"
)

// VolumePrefix + workspace id is the engine volume name for managed
// workspaces. Deterministic so operators can correlate volumes.
const VolumePrefix = "bay-workspace-"

// DefaultSizeLimitMB caps new workspaces unless overridden.
const DefaultSizeLimitMB = 1024

type Manager struct {
	store  *store.Store
	driver driver.Driver
	logger *slog.Logger
}

func NewManager(st *store.Store, drv driver.Driver, logger *slog.Logger) *Manager {
	return &Manager{store: st, driver: drv, logger: logger}
}

// VolumeName returns the engine volume name for a workspace id.
func VolumeName(workspaceID string) string {
	return VolumePrefix + workspaceID
}

// Create provisions the workspace row and its backing volume. A managed
// workspace records the sandbox that owns it and is cascade-deleted with
// that sandbox.
func (m *Manager) Create(ctx context.Context, owner string, managed bool, managedBySandboxID string) (*store.Workspace, error) {
	workspaceID := "ws-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	ws := &store.Workspace{
		ID:          workspaceID,
		Owner:       owner,
		Managed:     managed,
		DriverRef:   VolumeName(workspaceID),
		SizeLimitMB: DefaultSizeLimitMB,
		CreatedAt:   time.Now().UTC(),
	}
	if managed && managedBySandboxID != "" {
		ws.ManagedBySandboxID = &managedBySandboxID
	}

	m.logger.Info("workspace create",
		"workspace_id", workspaceID, "owner", owner, "managed", managed)

	labels := map[string]string{
		"bay.workspace_id": workspaceID,
		"bay.owner":        owner,
	}
	if _, err := m.driver.CreateVolume(ctx, ws.DriverRef, labels); err != nil {
		return nil, fmt.Errorf("create volume: %w", err)
	}

	if err := m.store.CreateWorkspace(ws); err != nil {
		// Roll back the volume so a failed insert does not leak storage.
		if derr := m.driver.DeleteVolume(ctx, ws.DriverRef); derr != nil {
			m.logger.Error("workspace volume cleanup failed",
				"workspace_id", workspaceID, "error", derr)
		}
		return nil, err
	}

	return ws, nil
}

// Get returns the workspace if it belongs to owner.
func (m *Manager) Get(id, owner string) (*store.Workspace, error) {
	ws, err := m.store.GetWorkspace(id, owner)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, errdefs.NotFound("workspace not found: %s", id)
	}
	return ws, nil
}

// GetByID skips the ownership check; internal callers only.
func (m *Manager) GetByID(id string) (*store.Workspace, error) {
	ws, err := m.store.GetWorkspaceByID(id)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, errdefs.NotFound("workspace not found: %s", id)
	}
	return ws, nil
}

// Delete removes the workspace row and its backing volume. Managed
// workspaces refuse deletion unless force is set: they are cascaded from
// sandbox deletion, not deleted directly.
func (m *Manager) Delete(ctx context.Context, id, owner string, force bool) error {
	ws, err := m.Get(id, owner)
	if err != nil {
		return err
	}

	if ws.Managed && !force {
		return errdefs.Validation("workspace %s is managed by its sandbox; delete the sandbox instead", id)
	}

	m.logger.Info("workspace delete", "workspace_id", id, "force", force)

	if err := m.driver.DeleteVolume(ctx, ws.DriverRef); err != nil {
		return fmt.Errorf("delete volume: %w", err)
	}
	return m.store.DeleteWorkspace(id)
}
