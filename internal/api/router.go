// Package api is the HTTP control plane: sandbox lifecycle plus the
// exec and filesystem operations dispatched into running sandboxes.
package api

import (
	"log/slog"
	"net/http"

	"github.com/baylabs/bay/internal/config"
)

type Server struct {
	cfg         *config.Config
	sandboxes   SandboxService
	caps        CapabilityService
	idempotency IdempotencyService
	logger      *slog.Logger
	mux         *http.ServeMux
}

func NewServer(cfg *config.Config, sandboxes SandboxService, caps CapabilityService, idem IdempotencyService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		sandboxes:   sandboxes,
		caps:        caps,
		idempotency: idem,
		logger:      logger,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.requestIDMiddleware(s.authMiddleware(s.mux))
}

func (s *Server) routes() {
	// Sandbox lifecycle
	s.mux.HandleFunc("POST /v1/sandboxes", s.handleCreateSandbox)
	s.mux.HandleFunc("GET /v1/sandboxes", s.handleListSandboxes)
	s.mux.HandleFunc("GET /v1/sandboxes/{id}", s.handleGetSandbox)
	s.mux.HandleFunc("POST /v1/sandboxes/{id}/keepalive", s.handleKeepalive)
	s.mux.HandleFunc("POST /v1/sandboxes/{id}/stop", s.handleStop)
	s.mux.HandleFunc("DELETE /v1/sandboxes/{id}", s.handleDelete)

	// Execution
	s.mux.HandleFunc("POST /v1/sandboxes/{id}/python/exec", s.handleExecPython)
	s.mux.HandleFunc("POST /v1/sandboxes/{id}/shell/exec", s.handleExecShell)

	// Filesystem
	s.mux.HandleFunc("POST /v1/sandboxes/{id}/files/read", s.handleReadFile)
	s.mux.HandleFunc("GET /v1/sandboxes/{id}/files/read", s.handleReadFile)
	s.mux.HandleFunc("POST /v1/sandboxes/{id}/files/write", s.handleWriteFile)
	s.mux.HandleFunc("POST /v1/sandboxes/{id}/files/list", s.handleListDir)
	s.mux.HandleFunc("GET /v1/sandboxes/{id}/files/list", s.handleListDir)
	s.mux.HandleFunc("POST /v1/sandboxes/{id}/files/delete", s.handleDeleteFile)
	s.mux.HandleFunc("POST /v1/sandboxes/{id}/files/upload", s.handleUpload)
	s.mux.HandleFunc("GET /v1/sandboxes/{id}/files/download", s.handleDownload)

	// Health check (no auth)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
