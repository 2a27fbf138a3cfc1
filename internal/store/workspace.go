package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Workspace struct {
	ID                 string    `json:"id"`
	Owner              string    `json:"owner"`
	Managed            bool      `json:"managed"`
	ManagedBySandboxID *string   `json:"managed_by_sandbox_id,omitempty"`
	DriverRef          string    `json:"driver_ref"`
	SizeLimitMB        int       `json:"size_limit_mb"`
	CreatedAt          time.Time `json:"created_at"`
}

const workspaceColumns = `id, owner, managed, managed_by_sandbox_id, driver_ref, size_limit_mb, created_at`

func (s *Store) CreateWorkspace(ws *Workspace) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO workspaces (id, owner, managed, managed_by_sandbox_id, driver_ref, size_limit_mb, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ws.ID, ws.Owner, ws.Managed, nullString(ws.ManagedBySandboxID),
			ws.DriverRef, ws.SizeLimitMB, ws.CreatedAt.UTC(),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting workspace: %w", err)
	}
	return nil
}

// GetWorkspace returns the workspace only when it belongs to owner.
// Returns (nil, nil) when absent.
func (s *Store) GetWorkspace(id, owner string) (*Workspace, error) {
	row := s.db.QueryRow(
		`SELECT `+workspaceColumns+` FROM workspaces WHERE id = ? AND owner = ?`, id, owner,
	)
	return scanWorkspace(row)
}

// GetWorkspaceByID ignores ownership (internal lookups).
func (s *Store) GetWorkspaceByID(id string) (*Workspace, error) {
	row := s.db.QueryRow(
		`SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`, id,
	)
	return scanWorkspace(row)
}

func (s *Store) DeleteWorkspace(id string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(`DELETE FROM workspaces WHERE id = ?`, id)
		return e
	})
	if err != nil {
		return fmt.Errorf("deleting workspace: %w", err)
	}
	return checkRowAffected(result, "workspace", id)
}

func scanWorkspace(row scannable) (*Workspace, error) {
	var ws Workspace
	var managedBy sql.NullString
	err := row.Scan(
		&ws.ID, &ws.Owner, &ws.Managed, &managedBy, &ws.DriverRef, &ws.SizeLimitMB, &ws.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning workspace: %w", err)
	}
	ws.ManagedBySandboxID = stringPtr(managedBy)
	return &ws, nil
}
