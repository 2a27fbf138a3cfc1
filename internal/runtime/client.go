// Package runtime is the HTTP client for the in-sandbox runtime ("ship").
//
// The wire contract: /health and /meta for handshake, /fs/* for filesystem
// access, /shell/exec and /ipython/exec for execution. Paths are resolved
// by the runtime relative to its workspace mount and may not escape it.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/baylabs/bay/internal/errdefs"
)

// DefaultTimeout bounds runtime calls that carry no caller timeout.
const DefaultTimeout = 30 * time.Second

// execSlack is added on top of a caller-supplied exec timeout so the
// runtime gets to report its own timeout before we cut the connection.
const execSlack = 5 * time.Second

// RuntimeInfo mirrors the runtime block of /meta.
type RuntimeInfo struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	MountPath  string `json:"mount_path"`
}

// Meta is the /meta handshake document. Capabilities maps capability name
// to its (opaque) descriptor.
type Meta struct {
	Runtime      RuntimeInfo                `json:"runtime"`
	Capabilities map[string]json.RawMessage `json:"capabilities"`
}

// HasCapability reports whether the runtime advertises the capability.
func (m *Meta) HasCapability(name string) bool {
	_, ok := m.Capabilities[name]
	return ok
}

// CapabilityNames returns the advertised capability names.
func (m *Meta) CapabilityNames() []string {
	names := make([]string, 0, len(m.Capabilities))
	for name := range m.Capabilities {
		names = append(names, name)
	}
	return names
}

// FileEntry is one entry of a directory listing.
type FileEntry struct {
	Name         string  `json:"name"`
	Path         string  `json:"path"`
	IsFile       bool    `json:"is_file"`
	IsDir        bool    `json:"is_dir"`
	Size         *int64  `json:"size,omitempty"`
	ModifiedTime *string `json:"modified_time,omitempty"`
}

// ShellResult is the response of /shell/exec.
type ShellResult struct {
	Success    bool   `json:"success"`
	ReturnCode int    `json:"return_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	PID        int    `json:"pid"`
	ProcessID  string `json:"process_id,omitempty"`
}

// PythonOutput is the output block of /ipython/exec.
type PythonOutput struct {
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"`
}

// PythonResult is the response of /ipython/exec.
type PythonResult struct {
	Success        bool         `json:"success"`
	ExecutionCount int          `json:"execution_count"`
	Output         PythonOutput `json:"output"`
	Error          *string      `json:"error,omitempty"`
}

// WriteResult is the response of /fs/write_file.
type WriteResult struct {
	Success bool  `json:"success"`
	Size    int64 `json:"size"`
}

// UploadResult is the response of /fs/upload.
type UploadResult struct {
	Success  bool   `json:"success"`
	FilePath string `json:"file_path"`
	Size     int64  `json:"size"`
}

// Client talks to one runtime endpoint. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		baseURL: strings.TrimRight(endpoint, "/"),
		http:    &http.Client{},
	}
}

// Endpoint returns the base URL this client dials.
func (c *Client) Endpoint() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, timeout time.Duration, out any) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errdefs.Internal("building runtime request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errdefs.Timeout("runtime request timed out: %s", path)
		}
		return errdefs.Runtime("runtime request failed: %s", path).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return runtimeHTTPError(path, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errdefs.Runtime("decoding runtime response from %s: %v", path, err)
		}
	}
	return nil
}

// runtimeHTTPError maps runtime status codes onto Bay error kinds. The
// runtime reports 404 for missing paths and 403 for mount escapes.
func runtimeHTTPError(path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(raw))

	switch resp.StatusCode {
	case http.StatusNotFound:
		if strings.HasPrefix(path, "/fs/") {
			return errdefs.FileNotFound("file not found: %s", detail)
		}
	case http.StatusForbidden:
		return errdefs.Forbidden("runtime refused path: " + detail)
	}
	return errdefs.Runtime("runtime returned %d on %s: %s", resp.StatusCode, path, detail)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, timeout time.Duration, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errdefs.Internal("encoding runtime request: %v", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json", timeout, out)
}

// Health probes GET /health with the given per-attempt timeout.
func (c *Client) Health(ctx context.Context, timeout time.Duration) error {
	return c.do(ctx, http.MethodGet, "/health", nil, "", timeout, nil)
}

// GetMeta fetches the /meta handshake document.
func (c *Client) GetMeta(ctx context.Context) (*Meta, error) {
	var meta Meta
	if err := c.do(ctx, http.MethodGet, "/meta", nil, "", 0, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Filesystem operations

func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	var out struct {
		Content string `json:"content"`
		Path    string `json:"path"`
		Size    int64  `json:"size"`
	}
	if err := c.postJSON(ctx, "/fs/read_file", map[string]any{"path": path}, 0, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// WriteFile writes content at path. mode is "w" (truncate) or "a" (append).
func (c *Client) WriteFile(ctx context.Context, path, content, mode string) (*WriteResult, error) {
	var out WriteResult
	payload := map[string]any{"path": path, "content": content, "mode": mode}
	if err := c.postJSON(ctx, "/fs/write_file", payload, 0, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListDir(ctx context.Context, path string, showHidden bool) ([]FileEntry, error) {
	var out struct {
		Files       []FileEntry `json:"files"`
		CurrentPath string      `json:"current_path"`
	}
	payload := map[string]any{"path": path, "show_hidden": showHidden}
	if err := c.postJSON(ctx, "/fs/list_dir", payload, 0, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

func (c *Client) DeleteFile(ctx context.Context, path string) error {
	return c.postJSON(ctx, "/fs/delete_file", map[string]any{"path": path}, 0, nil)
}

// Upload sends content as a multipart form to /fs/upload.
func (c *Client) Upload(ctx context.Context, path string, content io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "upload")
	if err != nil {
		return nil, errdefs.Internal("building multipart request: %v", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, errdefs.Internal("buffering upload: %v", err)
	}
	if err := mw.WriteField("file_path", path); err != nil {
		return nil, errdefs.Internal("building multipart request: %v", err)
	}
	if err := mw.Close(); err != nil {
		return nil, errdefs.Internal("building multipart request: %v", err)
	}

	var out UploadResult
	if err := c.do(ctx, http.MethodPost, "/fs/upload", &buf, mw.FormDataContentType(), 0, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download streams a file from the runtime. The caller must close the
// returned reader.
func (c *Client) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	u := c.baseURL + "/fs/download?file_path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errdefs.Internal("building runtime request: %v", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errdefs.Runtime("runtime request failed: /fs/download").WithCause(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, runtimeHTTPError("/fs/download", resp)
	}
	return resp.Body, nil
}

// Execution operations

// ExecShell runs a shell command. timeout is in seconds as the runtime
// expects; the HTTP deadline gets a little slack on top.
func (c *Client) ExecShell(ctx context.Context, command string, timeout int, cwd string, env map[string]string, background bool) (*ShellResult, error) {
	payload := map[string]any{
		"command": command,
		"timeout": timeout,
	}
	if cwd != "" {
		payload["cwd"] = cwd
	}
	if len(env) > 0 {
		payload["env"] = env
	}
	if background {
		payload["background"] = true
	}

	var out ShellResult
	httpTimeout := time.Duration(timeout)*time.Second + execSlack
	if err := c.postJSON(ctx, "/shell/exec", payload, httpTimeout, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecPython runs code in the runtime's IPython kernel.
func (c *Client) ExecPython(ctx context.Context, code string, timeout int) (*PythonResult, error) {
	payload := map[string]any{
		"code":    code,
		"timeout": timeout,
		"silent":  false,
	}

	var out PythonResult
	httpTimeout := time.Duration(timeout)*time.Second + execSlack
	if err := c.postJSON(ctx, "/ipython/exec", payload, httpTimeout, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
