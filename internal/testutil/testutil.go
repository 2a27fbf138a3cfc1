// Package testutil provides shared helpers for package tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/baylabs/bay/internal/config"
	"github.com/baylabs/bay/internal/store"
)

// TestConfig returns a Config with sensible test defaults.
func TestConfig() *config.Config {
	return &config.Config{
		Listen: "127.0.0.1:0",
		DBPath: ":memory:",
		Docker: config.DockerConfig{
			Socket:       "unix:///var/run/docker.sock",
			ConnectMode:  "auto",
			HostAddress:  "127.0.0.1",
			PublishPorts: true,
		},
		Idempotency: config.IdempotencyConfig{
			Enabled:  true,
			TTLHours: 1,
		},
		Reaper: config.ReaperConfig{
			Enabled:         false,
			IntervalSeconds: 30,
		},
		Profiles: []config.Profile{
			{
				ID:           "python-default",
				Image:        "ship:latest",
				RuntimeType:  "ship",
				RuntimePort:  8123,
				CPUs:         1.0,
				Memory:       "1g",
				PidsLimit:    256,
				Capabilities: []string{"filesystem", "shell", "python"},
				IdleTimeout:  1800,
			},
		},
	}
}

// NewTestStore creates an in-memory SQLite store for testing.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", 1)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// JSONRequest creates an httptest request with a JSON body.
func JSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v (body: %s)", err, rec.Body.String())
	}
}
