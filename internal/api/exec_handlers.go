package api

import (
	"encoding/json"
	"net/http"
)

// defaultExecTimeout is applied when the request carries none, seconds.
const defaultExecTimeout = 30

// maxExecTimeout caps caller-supplied exec timeouts, seconds.
const maxExecTimeout = 600

type execPythonRequest struct {
	Code    string `json:"code"`
	Timeout int    `json:"timeout"`
}

func (s *Server) handleExecPython(w http.ResponseWriter, r *http.Request) {
	var req execPythonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, r, "invalid json: "+err.Error())
		return
	}
	if req.Code == "" {
		writeValidationError(w, r, "code is required")
		return
	}
	timeout, ok := clampTimeout(req.Timeout)
	if !ok {
		writeValidationError(w, r, "timeout must be in [1,600] seconds")
		return
	}

	owner := ownerFrom(r.Context())
	result, err := s.caps.ExecPython(r.Context(), r.PathValue("id"), owner, req.Code, timeout)
	if err != nil {
		s.logger.Error("exec python", "sandbox_id", r.PathValue("id"), "error", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type execShellRequest struct {
	Command    string            `json:"command"`
	Timeout    int               `json:"timeout"`
	Cwd        string            `json:"cwd"`
	Env        map[string]string `json:"env"`
	Background bool              `json:"background"`
}

func (s *Server) handleExecShell(w http.ResponseWriter, r *http.Request) {
	var req execShellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, r, "invalid json: "+err.Error())
		return
	}
	if req.Command == "" {
		writeValidationError(w, r, "command is required")
		return
	}
	timeout, ok := clampTimeout(req.Timeout)
	if !ok {
		writeValidationError(w, r, "timeout must be in [1,600] seconds")
		return
	}

	owner := ownerFrom(r.Context())
	result, err := s.caps.ExecShell(r.Context(), r.PathValue("id"), owner,
		req.Command, timeout, req.Cwd, req.Env, req.Background)
	if err != nil {
		s.logger.Error("exec shell", "sandbox_id", r.PathValue("id"), "error", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func clampTimeout(timeout int) (int, bool) {
	if timeout == 0 {
		return defaultExecTimeout, true
	}
	if timeout < 0 || timeout > maxExecTimeout {
		return 0, false
	}
	return timeout, true
}
