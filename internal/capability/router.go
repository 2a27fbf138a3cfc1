// Package capability routes sandbox operations to the runtime that
// advertises them. Every dispatch first ensures the sandbox has a running
// session, then validates the capability against the runtime's /meta
// handshake before forwarding.
package capability

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/baylabs/bay/internal/errdefs"
	"github.com/baylabs/bay/internal/runtime"
	"github.com/baylabs/bay/internal/sandbox"
	"github.com/baylabs/bay/internal/store"
)

// Capability names as advertised in /meta.
const (
	CapPython     = "python"
	CapShell      = "shell"
	CapFilesystem = "filesystem"
)

// runtimeShip is the only runtime type Bay currently speaks.
const runtimeShip = "ship"

type adapterEntry struct {
	client *runtime.Client
	meta   *runtime.Meta
}

type Router struct {
	sandboxes *sandbox.Manager
	logger    *slog.Logger

	mu       sync.Mutex
	adapters map[string]*adapterEntry // keyed by endpoint
}

func NewRouter(sandboxes *sandbox.Manager, logger *slog.Logger) *Router {
	return &Router{
		sandboxes: sandboxes,
		logger:    logger,
		adapters:  make(map[string]*adapterEntry),
	}
}

// ensureSession promotes the sandbox and returns the ready session plus
// an adapter validated to carry the capability.
func (r *Router) ensureSession(ctx context.Context, sandboxID, owner, capability string) (*store.Session, *adapterEntry, error) {
	sess, err := r.sandboxes.EnsureRunning(ctx, sandboxID, owner)
	if err != nil {
		return nil, nil, err
	}
	if sess.Endpoint == nil || *sess.Endpoint == "" {
		return nil, nil, errdefs.Internal("session %s has no endpoint", sess.ID)
	}
	if sess.RuntimeType != runtimeShip {
		return nil, nil, errdefs.Internal("unknown runtime type: %s", sess.RuntimeType)
	}

	entry, err := r.adapterFor(ctx, *sess.Endpoint)
	if err != nil {
		return nil, nil, err
	}

	if !entry.meta.HasCapability(capability) {
		return nil, nil, errdefs.CapabilityNotSupported(capability, entry.meta.CapabilityNames())
	}
	return sess, entry, nil
}

// adapterFor returns the cached adapter for an endpoint, performing the
// /meta handshake on first contact. A restarted container gets a new
// endpoint and therefore a fresh handshake.
func (r *Router) adapterFor(ctx context.Context, endpoint string) (*adapterEntry, error) {
	r.mu.Lock()
	entry, ok := r.adapters[endpoint]
	r.mu.Unlock()
	if ok {
		return entry, nil
	}

	client := runtime.NewClient(endpoint)
	meta, err := client.GetMeta(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info("runtime handshake",
		"endpoint", endpoint,
		"runtime", meta.Runtime.Name,
		"version", meta.Runtime.Version,
		"capabilities", meta.CapabilityNames())

	entry = &adapterEntry{client: client, meta: meta}
	r.mu.Lock()
	r.adapters[endpoint] = entry
	r.mu.Unlock()
	return entry, nil
}

// ExecPython runs code in the sandbox's IPython kernel.
func (r *Router) ExecPython(ctx context.Context, sandboxID, owner, code string, timeout int) (*runtime.PythonResult, error) {
	sess, entry, err := r.ensureSession(ctx, sandboxID, owner, CapPython)
	if err != nil {
		return nil, err
	}
	defer r.sandboxes.Touch(sess.ID)
	return entry.client.ExecPython(ctx, code, timeout)
}

// ExecShell runs a shell command in the sandbox.
func (r *Router) ExecShell(ctx context.Context, sandboxID, owner, command string, timeout int, cwd string, env map[string]string, background bool) (*runtime.ShellResult, error) {
	sess, entry, err := r.ensureSession(ctx, sandboxID, owner, CapShell)
	if err != nil {
		return nil, err
	}
	defer r.sandboxes.Touch(sess.ID)
	return entry.client.ExecShell(ctx, command, timeout, cwd, env, background)
}

// Filesystem operations.

func (r *Router) ReadFile(ctx context.Context, sandboxID, owner, path string) (string, error) {
	sess, entry, err := r.ensureSession(ctx, sandboxID, owner, CapFilesystem)
	if err != nil {
		return "", err
	}
	defer r.sandboxes.Touch(sess.ID)
	return entry.client.ReadFile(ctx, path)
}

func (r *Router) WriteFile(ctx context.Context, sandboxID, owner, path, content, mode string) (*runtime.WriteResult, error) {
	sess, entry, err := r.ensureSession(ctx, sandboxID, owner, CapFilesystem)
	if err != nil {
		return nil, err
	}
	defer r.sandboxes.Touch(sess.ID)
	return entry.client.WriteFile(ctx, path, content, mode)
}

func (r *Router) ListDir(ctx context.Context, sandboxID, owner, path string, showHidden bool) ([]runtime.FileEntry, error) {
	sess, entry, err := r.ensureSession(ctx, sandboxID, owner, CapFilesystem)
	if err != nil {
		return nil, err
	}
	defer r.sandboxes.Touch(sess.ID)
	return entry.client.ListDir(ctx, path, showHidden)
}

func (r *Router) DeleteFile(ctx context.Context, sandboxID, owner, path string) error {
	sess, entry, err := r.ensureSession(ctx, sandboxID, owner, CapFilesystem)
	if err != nil {
		return err
	}
	defer r.sandboxes.Touch(sess.ID)
	return entry.client.DeleteFile(ctx, path)
}

func (r *Router) Upload(ctx context.Context, sandboxID, owner, path string, content io.Reader) (*runtime.UploadResult, error) {
	sess, entry, err := r.ensureSession(ctx, sandboxID, owner, CapFilesystem)
	if err != nil {
		return nil, err
	}
	defer r.sandboxes.Touch(sess.ID)
	return entry.client.Upload(ctx, path, content)
}

// Download streams a file out of the sandbox. The caller closes the
// returned reader.
func (r *Router) Download(ctx context.Context, sandboxID, owner, path string) (io.ReadCloser, error) {
	sess, entry, err := r.ensureSession(ctx, sandboxID, owner, CapFilesystem)
	if err != nil {
		return nil, err
	}
	defer r.sandboxes.Touch(sess.ID)
	return entry.client.Download(ctx, path)
}
