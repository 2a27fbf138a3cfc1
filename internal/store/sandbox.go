package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Sandbox struct {
	ID               string     `json:"id"`
	Owner            string     `json:"owner"`
	ProfileID        string     `json:"profile_id"`
	WorkspaceID      string     `json:"workspace_id"`
	CurrentSessionID *string    `json:"current_session_id,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	IdleExpiresAt    *time.Time `json:"idle_expires_at,omitempty"`
	LastActiveAt     time.Time  `json:"last_active_at"`
	CreatedAt        time.Time  `json:"created_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

const sandboxColumns = `id, owner, profile_id, workspace_id, current_session_id,
	expires_at, idle_expires_at, last_active_at, created_at, deleted_at`

func (s *Store) CreateSandbox(sb *Sandbox) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO sandboxes (id, owner, profile_id, workspace_id, current_session_id,
			 expires_at, idle_expires_at, last_active_at, created_at, deleted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sb.ID, sb.Owner, sb.ProfileID, sb.WorkspaceID, nullString(sb.CurrentSessionID),
			nullTime(sb.ExpiresAt), nullTime(sb.IdleExpiresAt),
			sb.LastActiveAt.UTC(), sb.CreatedAt.UTC(), nullTime(sb.DeletedAt),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting sandbox: %w", err)
	}
	return nil
}

// GetSandbox returns the sandbox only when it belongs to owner and is not
// soft-deleted. Returns (nil, nil) when absent.
func (s *Store) GetSandbox(id, owner string) (*Sandbox, error) {
	row := s.db.QueryRow(
		`SELECT `+sandboxColumns+` FROM sandboxes
		 WHERE id = ? AND owner = ? AND deleted_at IS NULL`, id, owner,
	)
	return scanSandbox(row)
}

// GetSandboxByID ignores ownership but still hides soft-deleted rows.
// Used for the locked re-read inside ensure-running.
func (s *Store) GetSandboxByID(id string) (*Sandbox, error) {
	row := s.db.QueryRow(
		`SELECT `+sandboxColumns+` FROM sandboxes
		 WHERE id = ? AND deleted_at IS NULL`, id,
	)
	return scanSandbox(row)
}

// ListSandboxes returns up to limit+1 rows ordered by id, starting after
// cursor. The caller trims the extra row to detect further pages.
func (s *Store) ListSandboxes(owner string, limit int, cursor string) ([]*Sandbox, error) {
	query := `SELECT ` + sandboxColumns + ` FROM sandboxes
	 WHERE owner = ? AND deleted_at IS NULL`
	args := []any{owner}
	if cursor != "" {
		query += ` AND id > ?`
		args = append(args, cursor)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sandboxes: %w", err)
	}
	defer rows.Close()

	var sandboxes []*Sandbox
	for rows.Next() {
		sb, err := scanSandbox(rows)
		if err != nil {
			return nil, err
		}
		sandboxes = append(sandboxes, sb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sandboxes: %w", err)
	}
	return sandboxes, nil
}

// UpdateSandboxSession sets or clears current_session_id.
func (s *Store) UpdateSandboxSession(id string, sessionID *string) error {
	return s.updateSandbox(id, `UPDATE sandboxes SET current_session_id = ? WHERE id = ?`,
		nullString(sessionID), id)
}

// UpdateSandboxActivity bumps idle_expires_at and last_active_at.
func (s *Store) UpdateSandboxActivity(id string, idleExpiresAt *time.Time, lastActiveAt time.Time) error {
	return s.updateSandbox(id,
		`UPDATE sandboxes SET idle_expires_at = ?, last_active_at = ? WHERE id = ?`,
		nullTime(idleExpiresAt), lastActiveAt.UTC(), id)
}

// ClearSandboxCompute clears current_session_id and idle_expires_at (stop).
func (s *Store) ClearSandboxCompute(id string) error {
	return s.updateSandbox(id,
		`UPDATE sandboxes SET current_session_id = NULL, idle_expires_at = NULL WHERE id = ?`, id)
}

// SoftDeleteSandbox stamps deleted_at and clears the session back-pointer.
// Idempotent at the SQL level: a second call affects zero rows and reports
// not found, which callers treat per the soft-delete invisibility rule.
func (s *Store) SoftDeleteSandbox(id string, now time.Time) error {
	return s.updateSandbox(id,
		`UPDATE sandboxes SET deleted_at = ?, current_session_id = NULL
		 WHERE id = ? AND deleted_at IS NULL`,
		now.UTC(), id)
}

// ListExpiredSandboxes returns live sandboxes whose absolute TTL has passed.
func (s *Store) ListExpiredSandboxes(now time.Time) ([]*Sandbox, error) {
	return s.listSandboxesWhere(`expires_at IS NOT NULL AND expires_at <= ?`, now.UTC())
}

// ListIdleExpiredSandboxes returns live sandboxes whose idle deadline has
// passed and that still reference a session.
func (s *Store) ListIdleExpiredSandboxes(now time.Time) ([]*Sandbox, error) {
	return s.listSandboxesWhere(
		`idle_expires_at IS NOT NULL AND idle_expires_at <= ? AND current_session_id IS NOT NULL`,
		now.UTC())
}

func (s *Store) listSandboxesWhere(cond string, args ...any) ([]*Sandbox, error) {
	rows, err := s.db.Query(
		`SELECT `+sandboxColumns+` FROM sandboxes WHERE deleted_at IS NULL AND `+cond, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sandboxes: %w", err)
	}
	defer rows.Close()

	var sandboxes []*Sandbox
	for rows.Next() {
		sb, err := scanSandbox(rows)
		if err != nil {
			return nil, err
		}
		sandboxes = append(sandboxes, sb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sandboxes: %w", err)
	}
	return sandboxes, nil
}

func (s *Store) updateSandbox(id string, query string, args ...any) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(query, args...)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating sandbox: %w", err)
	}
	return checkRowAffected(result, "sandbox", id)
}

func scanSandbox(row scannable) (*Sandbox, error) {
	var sb Sandbox
	var currentSessionID sql.NullString
	var expiresAt, idleExpiresAt, deletedAt sql.NullTime
	err := row.Scan(
		&sb.ID, &sb.Owner, &sb.ProfileID, &sb.WorkspaceID, &currentSessionID,
		&expiresAt, &idleExpiresAt, &sb.LastActiveAt, &sb.CreatedAt, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning sandbox: %w", err)
	}
	sb.CurrentSessionID = stringPtr(currentSessionID)
	sb.ExpiresAt = timePtr(expiresAt)
	sb.IdleExpiresAt = timePtr(idleExpiresAt)
	sb.DeletedAt = timePtr(deletedAt)
	return &sb, nil
}
