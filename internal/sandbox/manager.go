// Package sandbox orchestrates the sandbox lifecycle: creation with its
// workspace, lazy compute promotion, keepalive, stop and delete.
package sandbox

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baylabs/bay/internal/config"
	"github.com/baylabs/bay/internal/errdefs"
	"github.com/baylabs/bay/internal/session"
	"github.com/baylabs/bay/internal/store"
	"github.com/baylabs/bay/internal/workspace"
)

// Derived sandbox statuses reported to clients. Not stored: they
// summarize the sandbox and its current session. A sandbox with no
// current session is idle, not stopped; stopped means its session ended.
const (
	StatusIdle     = "idle"
	StatusStarting = "starting"
	StatusReady    = "ready"
	StatusStopped  = "stopped"
	StatusDeleted  = "deleted"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Manager struct {
	store      *store.Store
	sessions   *session.Manager
	workspaces *workspace.Manager
	cfg        *config.Config
	logger     *slog.Logger

	// Per-sandbox mutexes serialize ensure-running so concurrent exec
	// requests promote at most one container.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewManager(st *store.Store, sessions *session.Manager, workspaces *workspace.Manager, cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		store:      st,
		sessions:   sessions,
		workspaces: workspaces,
		cfg:        cfg,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(sandboxID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[sandboxID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[sandboxID] = mu
	}
	return mu
}

func (m *Manager) dropLock(sandboxID string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.locks, sandboxID)
}

// CreateOpts carries the request parameters for a new sandbox.
type CreateOpts struct {
	ProfileID   string
	WorkspaceID string // attach an existing workspace; empty = create managed
	TTLSeconds  int    // absolute lifetime; 0 = no expiry
}

// Create registers a sandbox. No container is started; compute
// materializes lazily on the first exec or file operation.
func (m *Manager) Create(ctx context.Context, owner string, opts CreateOpts) (*store.Sandbox, error) {
	profileID := opts.ProfileID
	if profileID == "" {
		profileID = "python-default"
	}
	profile := m.cfg.Profile(profileID)
	if profile == nil {
		return nil, errdefs.Validation("unknown profile: %s", profileID)
	}
	if opts.TTLSeconds < 0 {
		return nil, errdefs.Validation("ttl_seconds must not be negative")
	}

	sandboxID := "sandbox-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	var ws *store.Workspace
	var err error
	if opts.WorkspaceID != "" {
		ws, err = m.workspaces.Get(opts.WorkspaceID, owner)
	} else {
		ws, err = m.workspaces.Create(ctx, owner, true, sandboxID)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sb := &store.Sandbox{
		ID:           sandboxID,
		Owner:        owner,
		ProfileID:    profile.ID,
		WorkspaceID:  ws.ID,
		LastActiveAt: now,
		CreatedAt:    now,
	}
	if opts.TTLSeconds > 0 {
		expires := now.Add(time.Duration(opts.TTLSeconds) * time.Second)
		sb.ExpiresAt = &expires
	}

	m.logger.Info("sandbox create",
		"sandbox_id", sandboxID, "owner", owner, "profile_id", profile.ID,
		"workspace_id", ws.ID)

	if err := m.store.CreateSandbox(sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// Get returns the sandbox when it belongs to owner and is not deleted.
func (m *Manager) Get(id, owner string) (*store.Sandbox, error) {
	sb, err := m.store.GetSandbox(id, owner)
	if err != nil {
		return nil, err
	}
	if sb == nil {
		return nil, errdefs.NotFound("sandbox not found: %s", id)
	}
	return sb, nil
}

// ListResult is one page of sandboxes with their derived statuses.
type ListResult struct {
	Sandboxes  []*store.Sandbox
	Statuses   []string
	NextCursor string
}

// List returns a keyset-paginated page of the owner's sandboxes. The
// status filter is applied after the query; a filtered page may come back
// short of the limit even when more rows exist.
func (m *Manager) List(ctx context.Context, owner string, limit int, cursor, statusFilter string) (*ListResult, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	sandboxes, err := m.store.ListSandboxes(owner, limit, cursor)
	if err != nil {
		return nil, err
	}

	nextCursor := ""
	if len(sandboxes) > limit {
		sandboxes = sandboxes[:limit]
		nextCursor = sandboxes[limit-1].ID
	}

	result := &ListResult{NextCursor: nextCursor}
	for _, sb := range sandboxes {
		status, err := m.DerivedStatus(ctx, sb)
		if err != nil {
			return nil, err
		}
		if statusFilter != "" && status != statusFilter {
			continue
		}
		result.Sandboxes = append(result.Sandboxes, sb)
		result.Statuses = append(result.Statuses, status)
	}
	return result, nil
}

// DerivedStatus summarizes the sandbox for clients from its current
// session's observed state.
func (m *Manager) DerivedStatus(ctx context.Context, sb *store.Sandbox) (string, error) {
	if sb.DeletedAt != nil {
		return StatusDeleted, nil
	}
	if sb.CurrentSessionID == nil {
		return StatusIdle, nil
	}
	sess, err := m.sessions.Get(*sb.CurrentSessionID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return StatusIdle, nil
	}

	switch sess.ObservedState {
	case store.SessionPending, store.SessionStarting:
		return StatusStarting, nil
	case store.SessionRunning:
		return StatusReady, nil
	default:
		return StatusStopped, nil
	}
}

// EnsureRunning promotes the sandbox's session to running and returns it.
// Serialized per sandbox: the row is re-read under the lock so a second
// caller adopts whatever the first created instead of racing it.
func (m *Manager) EnsureRunning(ctx context.Context, id, owner string) (*store.Session, error) {
	// Ownership check happens before the lock so unauthorized callers
	// never contend on it.
	if _, err := m.Get(id, owner); err != nil {
		return nil, err
	}

	mu := m.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sb, err := m.store.GetSandboxByID(id)
	if err != nil {
		return nil, err
	}
	if sb == nil {
		return nil, errdefs.NotFound("sandbox not found: %s", id)
	}

	profile := m.cfg.Profile(sb.ProfileID)
	if profile == nil {
		return nil, errdefs.Internal("sandbox %s references unknown profile %s", id, sb.ProfileID)
	}
	ws, err := m.workspaces.GetByID(sb.WorkspaceID)
	if err != nil {
		return nil, err
	}

	var sess *store.Session
	if sb.CurrentSessionID != nil {
		sess, err = m.sessions.Get(*sb.CurrentSessionID)
		if err != nil {
			return nil, err
		}
	}
	if sess == nil || sess.ObservedState == store.SessionStopped {
		sess, err = m.sessions.Create(sb.ID, ws, profile)
		if err != nil {
			return nil, err
		}
		if err := m.store.UpdateSandboxSession(sb.ID, &sess.ID); err != nil {
			return nil, err
		}
	}

	// A failed session keeps its container; the promotion below adopts
	// and restarts it rather than leaking a replacement.
	if sess.ObservedState == store.SessionFailed {
		if err := m.store.UpdateSessionObserved(sess.ID, store.SessionPending); err != nil {
			return nil, err
		}
		sess.ObservedState = store.SessionPending
	}

	sess, err = m.sessions.EnsureRunning(ctx, sess, ws, profile)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	idleExpires := now.Add(time.Duration(profile.IdleTimeout) * time.Second)
	if err := m.store.UpdateSandboxActivity(sb.ID, &idleExpires, now); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetCurrentSession returns the sandbox's current session, or nil when it
// has no compute.
func (m *Manager) GetCurrentSession(id, owner string) (*store.Session, error) {
	sb, err := m.Get(id, owner)
	if err != nil {
		return nil, err
	}
	if sb.CurrentSessionID == nil {
		return nil, nil
	}
	return m.sessions.Get(*sb.CurrentSessionID)
}

// Touch bumps the session's last_active_at after a dispatched operation.
func (m *Manager) Touch(sessionID string) {
	m.sessions.Touch(sessionID)
}

// Keepalive pushes out the idle deadline without starting compute.
func (m *Manager) Keepalive(id, owner string) (*store.Sandbox, error) {
	sb, err := m.Get(id, owner)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var idleExpires *time.Time
	if sb.CurrentSessionID != nil {
		profile := m.cfg.Profile(sb.ProfileID)
		if profile != nil {
			t := now.Add(time.Duration(profile.IdleTimeout) * time.Second)
			idleExpires = &t
		}
	}
	if err := m.store.UpdateSandboxActivity(sb.ID, idleExpires, now); err != nil {
		return nil, err
	}
	sb.IdleExpiresAt = idleExpires
	sb.LastActiveAt = now
	return sb, nil
}

// Stop reclaims the sandbox's compute. Idempotent: stopping a sandbox
// with no running session succeeds. It does not take the per-sandbox
// mutex; an in-flight promotion observes the terminal state on its next
// re-read.
func (m *Manager) Stop(ctx context.Context, id, owner string) error {
	if _, err := m.Get(id, owner); err != nil {
		return err
	}
	return m.stopSandbox(ctx, id)
}

func (m *Manager) stopSandbox(ctx context.Context, id string) error {
	sb, err := m.store.GetSandboxByID(id)
	if err != nil {
		return err
	}
	if sb == nil {
		return errdefs.NotFound("sandbox not found: %s", id)
	}

	m.logger.Info("sandbox stop", "sandbox_id", id)

	sessions, err := m.store.ListSessionsBySandbox(id)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.ObservedState == store.SessionStopped || sess.ObservedState == store.SessionFailed {
			continue
		}
		if err := m.sessions.Stop(ctx, sess); err != nil {
			return err
		}
	}

	return m.store.ClearSandboxCompute(id)
}

// Delete destroys the sandbox's sessions, soft-deletes the row and
// cascades to its managed workspace. The record disappears from every
// read path.
func (m *Manager) Delete(ctx context.Context, id, owner string) error {
	sb, err := m.Get(id, owner)
	if err != nil {
		return err
	}

	m.logger.Info("sandbox delete", "sandbox_id", id)

	sessions, err := m.store.ListSessionsBySandbox(id)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := m.sessions.Destroy(ctx, sess); err != nil {
			return err
		}
	}

	if err := m.store.SoftDeleteSandbox(id, time.Now().UTC()); err != nil {
		return err
	}

	ws, err := m.store.GetWorkspaceByID(sb.WorkspaceID)
	if err != nil {
		return err
	}
	if ws != nil && ws.Managed && ws.ManagedBySandboxID != nil && *ws.ManagedBySandboxID == id {
		if err := m.workspaces.Delete(ctx, ws.ID, owner, true); err != nil {
			return err
		}
	}

	m.dropLock(id)
	return nil
}

// ReapExpired stops idle-expired sandboxes and deletes TTL-expired ones.
// Called periodically by the reaper; errors on one sandbox do not stop
// the sweep.
func (m *Manager) ReapExpired(ctx context.Context, now time.Time) {
	idle, err := m.store.ListIdleExpiredSandboxes(now)
	if err != nil {
		m.logger.Error("listing idle-expired sandboxes", "error", err)
	}
	for _, sb := range idle {
		m.logger.Info("reaping idle sandbox", "sandbox_id", sb.ID)
		if err := m.stopSandbox(ctx, sb.ID); err != nil {
			m.logger.Error("stopping idle sandbox", "sandbox_id", sb.ID, "error", err)
		}
	}

	expired, err := m.store.ListExpiredSandboxes(now)
	if err != nil {
		m.logger.Error("listing expired sandboxes", "error", err)
	}
	for _, sb := range expired {
		m.logger.Info("reaping expired sandbox", "sandbox_id", sb.ID)
		if err := m.Delete(ctx, sb.ID, sb.Owner); err != nil {
			m.logger.Error("deleting expired sandbox", "sandbox_id", sb.ID, "error", err)
		}
	}
}
