package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Session lifecycle states. A session moves pending -> starting -> running
// -> stopping -> stopped; failed is terminal.
const (
	SessionPending  = "pending"
	SessionStarting = "starting"
	SessionRunning  = "running"
	SessionStopping = "stopping"
	SessionStopped  = "stopped"
	SessionFailed   = "failed"
)

type Session struct {
	ID             string     `json:"id"`
	SandboxID      string     `json:"sandbox_id"`
	RuntimeType    string     `json:"runtime_type"`
	ProfileID      string     `json:"profile_id"`
	ContainerID    *string    `json:"container_id,omitempty"`
	Endpoint       *string    `json:"endpoint,omitempty"`
	DesiredState   string     `json:"desired_state"`
	ObservedState  string     `json:"observed_state"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActiveAt   time.Time  `json:"last_active_at"`
	LastObservedAt *time.Time `json:"last_observed_at,omitempty"`
}

// IsReady reports whether the session is running with a resolved endpoint.
func (sess *Session) IsReady() bool {
	return sess.ObservedState == SessionRunning && sess.Endpoint != nil && *sess.Endpoint != ""
}

const sessionColumns = `id, sandbox_id, runtime_type, profile_id, container_id,
	endpoint, desired_state, observed_state, created_at, last_active_at, last_observed_at`

func (s *Store) CreateSession(sess *Session) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO sessions (id, sandbox_id, runtime_type, profile_id, container_id,
			 endpoint, desired_state, observed_state, created_at, last_active_at, last_observed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.SandboxID, sess.RuntimeType, sess.ProfileID, nullString(sess.ContainerID),
			nullString(sess.Endpoint), sess.DesiredState, sess.ObservedState,
			sess.CreatedAt.UTC(), sess.LastActiveAt.UTC(), nullTime(sess.LastObservedAt),
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession returns the session or (nil, nil) when absent.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id,
	)
	return scanSession(row)
}

// ListSessionsBySandbox returns every session ever created for the sandbox,
// newest first.
func (s *Store) ListSessionsBySandbox(sandboxID string) ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions WHERE sandbox_id = ? ORDER BY created_at DESC`,
		sandboxID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionState transitions desired/observed state.
func (s *Store) UpdateSessionState(id, desired, observed string) error {
	return s.updateSession(id,
		`UPDATE sessions SET desired_state = ?, observed_state = ?, last_observed_at = ? WHERE id = ?`,
		desired, observed, time.Now().UTC(), id)
}

// UpdateSessionObserved updates only the observed state.
func (s *Store) UpdateSessionObserved(id, observed string) error {
	return s.updateSession(id,
		`UPDATE sessions SET observed_state = ?, last_observed_at = ? WHERE id = ?`,
		observed, time.Now().UTC(), id)
}

// UpdateSessionContainer persists the container id once created.
func (s *Store) UpdateSessionContainer(id string, containerID *string) error {
	return s.updateSession(id,
		`UPDATE sessions SET container_id = ? WHERE id = ?`, nullString(containerID), id)
}

// UpdateSessionEndpoint sets or clears the runtime endpoint.
func (s *Store) UpdateSessionEndpoint(id string, endpoint *string) error {
	return s.updateSession(id,
		`UPDATE sessions SET endpoint = ? WHERE id = ?`, nullString(endpoint), id)
}

// TouchSession bumps last_active_at.
func (s *Store) TouchSession(id string, at time.Time) error {
	return s.updateSession(id,
		`UPDATE sessions SET last_active_at = ? WHERE id = ?`, at.UTC(), id)
}

func (s *Store) DeleteSession(id string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
		return e
	})
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return checkRowAffected(result, "session", id)
}

func (s *Store) updateSession(id string, query string, args ...any) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(query, args...)
		return e
	})
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return checkRowAffected(result, "session", id)
}

func scanSession(row scannable) (*Session, error) {
	var sess Session
	var containerID, endpoint sql.NullString
	var lastObservedAt sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.SandboxID, &sess.RuntimeType, &sess.ProfileID, &containerID,
		&endpoint, &sess.DesiredState, &sess.ObservedState,
		&sess.CreatedAt, &sess.LastActiveAt, &lastObservedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.ContainerID = stringPtr(containerID)
	sess.Endpoint = stringPtr(endpoint)
	sess.LastObservedAt = timePtr(lastObservedAt)
	return &sess, nil
}
