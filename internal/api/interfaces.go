package api

import (
	"context"
	"io"

	"github.com/baylabs/bay/internal/idempotency"
	"github.com/baylabs/bay/internal/runtime"
	"github.com/baylabs/bay/internal/sandbox"
	"github.com/baylabs/bay/internal/store"
)

// SandboxService abstracts sandbox lifecycle operations needed by the
// handlers.
type SandboxService interface {
	Create(ctx context.Context, owner string, opts sandbox.CreateOpts) (*store.Sandbox, error)
	Get(id, owner string) (*store.Sandbox, error)
	List(ctx context.Context, owner string, limit int, cursor, statusFilter string) (*sandbox.ListResult, error)
	DerivedStatus(ctx context.Context, sb *store.Sandbox) (string, error)
	Keepalive(id, owner string) (*store.Sandbox, error)
	Stop(ctx context.Context, id, owner string) error
	Delete(ctx context.Context, id, owner string) error
}

// CapabilityService abstracts the operations dispatched into a running
// sandbox.
type CapabilityService interface {
	ExecPython(ctx context.Context, sandboxID, owner, code string, timeout int) (*runtime.PythonResult, error)
	ExecShell(ctx context.Context, sandboxID, owner, command string, timeout int, cwd string, env map[string]string, background bool) (*runtime.ShellResult, error)
	ReadFile(ctx context.Context, sandboxID, owner, path string) (string, error)
	WriteFile(ctx context.Context, sandboxID, owner, path, content, mode string) (*runtime.WriteResult, error)
	ListDir(ctx context.Context, sandboxID, owner, path string, showHidden bool) ([]runtime.FileEntry, error)
	DeleteFile(ctx context.Context, sandboxID, owner, path string) error
	Upload(ctx context.Context, sandboxID, owner, path string, content io.Reader) (*runtime.UploadResult, error)
	Download(ctx context.Context, sandboxID, owner, path string) (io.ReadCloser, error)
}

// IdempotencyService abstracts retry-safe create handling.
type IdempotencyService interface {
	Enabled() bool
	Check(owner, key, fingerprint string) (*idempotency.CachedResponse, error)
	Save(owner, key, fingerprint, responseBody string, statusCode int)
}
