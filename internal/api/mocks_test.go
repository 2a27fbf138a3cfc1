package api

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/baylabs/bay/internal/idempotency"
	"github.com/baylabs/bay/internal/runtime"
	"github.com/baylabs/bay/internal/sandbox"
	"github.com/baylabs/bay/internal/store"
)

type MockSandboxService struct {
	mock.Mock
}

func (m *MockSandboxService) Create(ctx context.Context, owner string, opts sandbox.CreateOpts) (*store.Sandbox, error) {
	args := m.Called(ctx, owner, opts)
	if sb := args.Get(0); sb != nil {
		return sb.(*store.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSandboxService) Get(id, owner string) (*store.Sandbox, error) {
	args := m.Called(id, owner)
	if sb := args.Get(0); sb != nil {
		return sb.(*store.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSandboxService) List(ctx context.Context, owner string, limit int, cursor, statusFilter string) (*sandbox.ListResult, error) {
	args := m.Called(ctx, owner, limit, cursor, statusFilter)
	if result := args.Get(0); result != nil {
		return result.(*sandbox.ListResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSandboxService) DerivedStatus(ctx context.Context, sb *store.Sandbox) (string, error) {
	args := m.Called(ctx, sb)
	return args.String(0), args.Error(1)
}

func (m *MockSandboxService) Keepalive(id, owner string) (*store.Sandbox, error) {
	args := m.Called(id, owner)
	if sb := args.Get(0); sb != nil {
		return sb.(*store.Sandbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSandboxService) Stop(ctx context.Context, id, owner string) error {
	args := m.Called(ctx, id, owner)
	return args.Error(0)
}

func (m *MockSandboxService) Delete(ctx context.Context, id, owner string) error {
	args := m.Called(ctx, id, owner)
	return args.Error(0)
}

type MockCapabilityService struct {
	mock.Mock
}

func (m *MockCapabilityService) ExecPython(ctx context.Context, sandboxID, owner, code string, timeout int) (*runtime.PythonResult, error) {
	args := m.Called(ctx, sandboxID, owner, code, timeout)
	if result := args.Get(0); result != nil {
		return result.(*runtime.PythonResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCapabilityService) ExecShell(ctx context.Context, sandboxID, owner, command string, timeout int, cwd string, env map[string]string, background bool) (*runtime.ShellResult, error) {
	args := m.Called(ctx, sandboxID, owner, command, timeout, cwd, env, background)
	if result := args.Get(0); result != nil {
		return result.(*runtime.ShellResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCapabilityService) ReadFile(ctx context.Context, sandboxID, owner, path string) (string, error) {
	args := m.Called(ctx, sandboxID, owner, path)
	return args.String(0), args.Error(1)
}

func (m *MockCapabilityService) WriteFile(ctx context.Context, sandboxID, owner, path, content, mode string) (*runtime.WriteResult, error) {
	args := m.Called(ctx, sandboxID, owner, path, content, mode)
	if result := args.Get(0); result != nil {
		return result.(*runtime.WriteResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCapabilityService) ListDir(ctx context.Context, sandboxID, owner, path string, showHidden bool) ([]runtime.FileEntry, error) {
	args := m.Called(ctx, sandboxID, owner, path, showHidden)
	if entries := args.Get(0); entries != nil {
		return entries.([]runtime.FileEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCapabilityService) DeleteFile(ctx context.Context, sandboxID, owner, path string) error {
	args := m.Called(ctx, sandboxID, owner, path)
	return args.Error(0)
}

func (m *MockCapabilityService) Upload(ctx context.Context, sandboxID, owner, path string, content io.Reader) (*runtime.UploadResult, error) {
	args := m.Called(ctx, sandboxID, owner, path, content)
	if result := args.Get(0); result != nil {
		return result.(*runtime.UploadResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCapabilityService) Download(ctx context.Context, sandboxID, owner, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, sandboxID, owner, path)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockIdempotencyService struct {
	mock.Mock
}

func (m *MockIdempotencyService) Enabled() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockIdempotencyService) Check(owner, key, fingerprint string) (*idempotency.CachedResponse, error) {
	args := m.Called(owner, key, fingerprint)
	if cached := args.Get(0); cached != nil {
		return cached.(*idempotency.CachedResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockIdempotencyService) Save(owner, key, fingerprint, responseBody string, statusCode int) {
	m.Called(owner, key, fingerprint, responseBody, statusCode)
}
