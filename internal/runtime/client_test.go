package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baylabs/bay/internal/errdefs"
)

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	assert.NoError(t, c.Health(context.Background(), time.Second))
}

func TestHealthUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	err := c.Health(context.Background(), 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeRuntime))
}

func TestGetMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/meta", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"runtime": map[string]string{
				"name": "ship", "version": "1.2.0",
				"api_version": "v1", "mount_path": "/workspace",
			},
			"capabilities": map[string]any{
				"python":     map[string]any{"kernel": "ipython"},
				"shell":      map[string]any{},
				"filesystem": map[string]any{},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	meta, err := c.GetMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ship", meta.Runtime.Name)
	assert.True(t, meta.HasCapability("python"))
	assert.False(t, meta.HasCapability("gpu"))
	assert.ElementsMatch(t, []string{"python", "shell", "filesystem"}, meta.CapabilityNames())
}

func TestExecShellPayloadAndResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/shell/exec", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "echo hi", payload["command"])
		assert.Equal(t, float64(30), payload["timeout"])
		assert.Equal(t, "/workspace", payload["cwd"])
		_, hasBackground := payload["background"]
		assert.False(t, hasBackground)

		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "return_code": 0, "stdout": "hi\n", "stderr": "", "pid": 7,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	result, err := c.ExecShell(context.Background(), "echo hi", 30, "/workspace", nil, false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hi\n", result.Stdout)
	assert.Equal(t, 7, result.PID)
}

func TestExecPythonResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ipython/exec", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"success":         true,
			"execution_count": 3,
			"output": map[string]any{
				"text":   "42\n",
				"images": []string{"base64data"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	result, err := c.ExecPython(context.Background(), "6*7", 30)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.ExecutionCount)
	assert.Equal(t, "42\n", result.Output.Text)
	assert.Len(t, result.Output.Images, 1)
}

func TestFileNotFoundOnFSPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such file", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.ReadFile(context.Background(), "/workspace/missing.txt")
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeFileNotFound))
}

func TestForbiddenOnMountEscape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "path escapes workspace", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.ReadFile(context.Background(), "../../etc/passwd")
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeForbidden))
}

func TestRuntimeErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kernel crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.ExecPython(context.Background(), "1+1", 30)
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeRuntime))
}

func TestUploadMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fs/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "/workspace/up.bin", r.FormValue("file_path"))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))

		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "file_path": "/workspace/up.bin", "size": 7,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	result, err := c.Upload(context.Background(), "/workspace/up.bin", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(7), result.Size)
}

func TestDownloadStreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fs/download", r.URL.Path)
		assert.Equal(t, "/workspace/a.txt", r.URL.Query().Get("file_path"))
		io.WriteString(w, "streamed")
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	rc, err := c.Download(context.Background(), "/workspace/a.txt")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(data))
}

func TestEndpointTrimsTrailingSlash(t *testing.T) {
	c := NewClient("http://10.0.0.1:8123/")
	assert.Equal(t, "http://10.0.0.1:8123", c.Endpoint())
}
