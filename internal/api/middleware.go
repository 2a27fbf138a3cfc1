package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/baylabs/bay/internal/errdefs"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	ownerKey     contextKey = "owner"
)

// defaultOwner is the principal when no identity header is sent. Single
// user deployments never need to set one.
const defaultOwner = "default"

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func ownerFrom(ctx context.Context) string {
	if owner, ok := ctx.Value(ownerKey).(string); ok && owner != "" {
		return owner
	}
	return defaultOwner
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware derives the owner principal. With an API key configured
// every request (except /healthz) must carry it as a bearer token; the
// owner is then the X-Owner header or the default. Without a key the
// instance is open (dev mode) and X-Owner alone identifies the caller.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if s.cfg.APIKey != "" {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, r, errdefs.Unauthorized("missing authorization header"))
				return
			}
			token := strings.TrimPrefix(auth, "Bearer ")
			if token == auth || token != s.cfg.APIKey {
				writeError(w, r, errdefs.Unauthorized("invalid api key"))
				return
			}
		}

		owner := r.Header.Get("X-Owner")
		if owner == "" {
			owner = defaultOwner
		}
		ctx := context.WithValue(r.Context(), ownerKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
