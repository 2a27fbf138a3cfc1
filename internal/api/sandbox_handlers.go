package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/baylabs/bay/internal/idempotency"
	"github.com/baylabs/bay/internal/sandbox"
	"github.com/baylabs/bay/internal/store"
)

// sandboxRepr is the client-facing sandbox representation.
type sandboxRepr struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Profile       string     `json:"profile"`
	WorkspaceID   string     `json:"workspace_id"`
	Capabilities  []string   `json:"capabilities"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	IdleExpiresAt *time.Time `json:"idle_expires_at,omitempty"`
}

func (s *Server) sandboxRepr(sb *store.Sandbox, status string) sandboxRepr {
	repr := sandboxRepr{
		ID:            sb.ID,
		Status:        status,
		Profile:       sb.ProfileID,
		WorkspaceID:   sb.WorkspaceID,
		Capabilities:  []string{},
		CreatedAt:     sb.CreatedAt,
		ExpiresAt:     sb.ExpiresAt,
		IdleExpiresAt: sb.IdleExpiresAt,
	}
	if p := s.cfg.Profile(sb.ProfileID); p != nil {
		repr.Capabilities = p.Capabilities
	}
	return repr
}

type createSandboxRequest struct {
	Profile     string `json:"profile"`
	WorkspaceID string `json:"workspace_id"`
	TTLSeconds  int    `json:"ttl"`
}

func (s *Server) handleCreateSandbox(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeValidationError(w, r, "reading request body: "+err.Error())
		return
	}

	var req createSandboxRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeValidationError(w, r, "invalid json: "+err.Error())
			return
		}
	}

	owner := ownerFrom(r.Context())
	idemKey := r.Header.Get("Idempotency-Key")
	fingerprint := ""
	if idemKey != "" && s.idempotency.Enabled() {
		fingerprint = idempotency.Fingerprint(r.Method, r.URL.Path, body)
		cached, err := s.idempotency.Check(owner, idemKey, fingerprint)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(cached.StatusCode)
			io.WriteString(w, cached.Body)
			return
		}
	}

	sb, err := s.sandboxes.Create(r.Context(), owner, sandbox.CreateOpts{
		ProfileID:   req.Profile,
		WorkspaceID: req.WorkspaceID,
		TTLSeconds:  req.TTLSeconds,
	})
	if err != nil {
		s.logger.Error("create sandbox", "error", err)
		writeError(w, r, err)
		return
	}

	repr := s.sandboxRepr(sb, sandbox.StatusIdle)
	if fingerprint != "" {
		if snapshot, err := json.Marshal(repr); err == nil {
			s.idempotency.Save(owner, idemKey, fingerprint, string(snapshot), http.StatusCreated)
		}
	}
	writeJSON(w, http.StatusCreated, repr)
}

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			writeValidationError(w, r, "limit must be an integer in [1,200]")
			return
		}
		limit = n
	}

	result, err := s.sandboxes.List(r.Context(), owner, limit, q.Get("cursor"), q.Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]sandboxRepr, 0, len(result.Sandboxes))
	for i, sb := range result.Sandboxes {
		items = append(items, s.sandboxRepr(sb, result.Statuses[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"next_cursor": result.NextCursor,
	})
}

func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	sb, err := s.sandboxes.Get(r.PathValue("id"), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := s.sandboxes.DerivedStatus(r.Context(), sb)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sandboxRepr(sb, status))
}

func (s *Server) handleKeepalive(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	if _, err := s.sandboxes.Keepalive(r.PathValue("id"), owner); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	if err := s.sandboxes.Stop(r.Context(), r.PathValue("id"), owner); err != nil {
		s.logger.Error("stop sandbox", "sandbox_id", r.PathValue("id"), "error", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	if err := s.sandboxes.Delete(r.Context(), r.PathValue("id"), owner); err != nil {
		s.logger.Error("delete sandbox", "sandbox_id", r.PathValue("id"), "error", err)
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
