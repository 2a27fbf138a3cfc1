// Package idempotency makes POST create endpoints safe to retry. The
// client sends an Idempotency-Key header; the first request records its
// response, replays within the TTL get that response back verbatim, and a
// key reuse with a different request body is a conflict.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"time"

	"github.com/baylabs/bay/internal/config"
	"github.com/baylabs/bay/internal/errdefs"
	"github.com/baylabs/bay/internal/store"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,128}$`)

// ValidateKey reports whether the key is well-formed.
func ValidateKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Fingerprint hashes the request identity: method, path and raw body.
// Same inputs, same fingerprint; any byte of difference is a new request.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(":"))
	h.Write([]byte(path))
	h.Write([]byte(":"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// CachedResponse is a replayed response snapshot.
type CachedResponse struct {
	Body       string
	StatusCode int
}

type Manager struct {
	store  *store.Store
	cfg    config.IdempotencyConfig
	logger *slog.Logger
}

func NewManager(st *store.Store, cfg config.IdempotencyConfig, logger *slog.Logger) *Manager {
	return &Manager{store: st, cfg: cfg, logger: logger}
}

func (m *Manager) Enabled() bool {
	return m.cfg.Enabled
}

func (m *Manager) ttl() time.Duration {
	hours := m.cfg.TTLHours
	if hours <= 0 {
		hours = 1
	}
	return time.Duration(hours) * time.Hour
}

// Check looks up the key before the handler runs. Returns a cached
// response to replay, nil to proceed, or an error:
//
//   - malformed key -> conflict
//   - key reused with a different fingerprint -> conflict
//   - expired record -> lazily deleted, request proceeds
func (m *Manager) Check(owner, key, fingerprint string) (*CachedResponse, error) {
	if !m.cfg.Enabled || key == "" {
		return nil, nil
	}
	if !ValidateKey(key) {
		return nil, errdefs.Conflict("invalid idempotency key: must match [A-Za-z0-9_-]{1,128}", nil)
	}

	rec, err := m.store.GetIdempotencyKey(owner, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	if rec.IsExpired(time.Now().UTC()) {
		if err := m.store.DeleteIdempotencyKey(owner, key); err != nil {
			m.logger.Warn("deleting expired idempotency key", "key", key, "error", err)
		}
		return nil, nil
	}

	if rec.RequestFingerprint != fingerprint {
		return nil, errdefs.Conflict("idempotency key reused with a different request", nil)
	}

	m.logger.Info("idempotent replay", "owner", owner, "key", key)
	return &CachedResponse{Body: rec.ResponseSnapshot, StatusCode: rec.StatusCode}, nil
}

// Save records the handler's response under the key. A concurrent writer
// beating us to the insert is fine: first writer wins and this copy is
// dropped.
func (m *Manager) Save(owner, key, fingerprint, responseBody string, statusCode int) {
	if !m.cfg.Enabled || key == "" || !ValidateKey(key) {
		return
	}

	now := time.Now().UTC()
	err := m.store.InsertIdempotencyKey(&store.IdempotencyKey{
		Owner:              owner,
		Key:                key,
		RequestFingerprint: fingerprint,
		ResponseSnapshot:   responseBody,
		StatusCode:         statusCode,
		CreatedAt:          now,
		ExpiresAt:          now.Add(m.ttl()),
	})
	if err != nil && err != store.ErrDuplicateKey {
		m.logger.Warn("saving idempotency key", "key", key, "error", err)
	}
}

// CleanupExpired bulk-deletes expired records; called by the reaper.
func (m *Manager) CleanupExpired(now time.Time) {
	n, err := m.store.DeleteExpiredIdempotencyKeys(now)
	if err != nil {
		m.logger.Error("cleaning up idempotency keys", "error", err)
		return
	}
	if n > 0 {
		m.logger.Info("expired idempotency keys removed", "count", n)
	}
}
