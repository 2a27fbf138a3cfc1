package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baylabs/bay/internal/config"
	"github.com/baylabs/bay/internal/errdefs"
	"github.com/baylabs/bay/internal/store"
	"github.com/baylabs/bay/internal/testutil"
)

func newTestManager(t *testing.T, enabled bool) (*Manager, *store.Store) {
	t.Helper()
	st := testutil.NewTestStore(t)
	cfg := config.IdempotencyConfig{Enabled: enabled, TTLHours: 1}
	return NewManager(st, cfg, testutil.NewTestLogger()), st
}

func TestValidateKey(t *testing.T) {
	assert.True(t, ValidateKey("abc-123_DEF"))
	assert.True(t, ValidateKey("a"))
	assert.False(t, ValidateKey(""))
	assert.False(t, ValidateKey("has space"))
	assert.False(t, ValidateKey("has/slash"))
	assert.False(t, ValidateKey(string(make([]byte, 129))))
}

func TestFingerprintDeterministic(t *testing.T) {
	fp1 := Fingerprint("POST", "/v1/sandboxes", []byte(`{"profile":"python-default"}`))
	fp2 := Fingerprint("POST", "/v1/sandboxes", []byte(`{"profile":"python-default"}`))
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)

	fp3 := Fingerprint("POST", "/v1/sandboxes", []byte(`{"profile":"python-data"}`))
	assert.NotEqual(t, fp1, fp3)

	fp4 := Fingerprint("PUT", "/v1/sandboxes", []byte(`{"profile":"python-default"}`))
	assert.NotEqual(t, fp1, fp4)
}

func TestCheckAbsentKey(t *testing.T) {
	m, _ := newTestManager(t, true)

	cached, err := m.Check("alice", "k1", "fp1")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestCheckReplaysSavedResponse(t *testing.T) {
	m, _ := newTestManager(t, true)

	m.Save("alice", "k1", "fp1", `{"id":"sandbox-1"}`, 201)

	cached, err := m.Check("alice", "k1", "fp1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, `{"id":"sandbox-1"}`, cached.Body)
	assert.Equal(t, 201, cached.StatusCode)
}

func TestCheckFingerprintMismatchConflicts(t *testing.T) {
	m, _ := newTestManager(t, true)

	m.Save("alice", "k1", "fp1", "{}", 201)

	_, err := m.Check("alice", "k1", "fp-other")
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))
}

func TestCheckInvalidKeyConflicts(t *testing.T) {
	m, _ := newTestManager(t, true)

	_, err := m.Check("alice", "not a valid key!", "fp1")
	require.Error(t, err)
	assert.True(t, errdefs.IsConflict(err))
}

func TestCheckExpiredKeyIsLazilyDeleted(t *testing.T) {
	m, st := newTestManager(t, true)

	now := time.Now().UTC()
	require.NoError(t, st.InsertIdempotencyKey(&store.IdempotencyKey{
		Owner: "alice", Key: "k1", RequestFingerprint: "fp1",
		ResponseSnapshot: "{}", StatusCode: 201,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))

	cached, err := m.Check("alice", "k1", "fp1")
	require.NoError(t, err)
	assert.Nil(t, cached)

	rec, err := st.GetIdempotencyKey("alice", "k1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestKeysAreOwnerScoped(t *testing.T) {
	m, _ := newTestManager(t, true)

	m.Save("alice", "k1", "fp1", `{"id":"sandbox-alice"}`, 201)

	cached, err := m.Check("bob", "k1", "fp1")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestDisabledManagerIsPassthrough(t *testing.T) {
	m, _ := newTestManager(t, false)

	m.Save("alice", "k1", "fp1", "{}", 201)

	cached, err := m.Check("alice", "k1", "fp1")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestSaveSwallowsDuplicate(t *testing.T) {
	m, _ := newTestManager(t, true)

	m.Save("alice", "k1", "fp1", `{"first":true}`, 201)
	m.Save("alice", "k1", "fp1", `{"second":true}`, 201)

	cached, err := m.Check("alice", "k1", "fp1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, `{"first":true}`, cached.Body)
}

func TestCleanupExpired(t *testing.T) {
	m, st := newTestManager(t, true)

	now := time.Now().UTC()
	require.NoError(t, st.InsertIdempotencyKey(&store.IdempotencyKey{
		Owner: "alice", Key: "old", RequestFingerprint: "fp",
		ResponseSnapshot: "{}", StatusCode: 201,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))
	m.Save("alice", "new", "fp", "{}", 201)

	m.CleanupExpired(now)

	old, err := st.GetIdempotencyKey("alice", "old")
	require.NoError(t, err)
	assert.Nil(t, old)

	fresh, err := st.GetIdempotencyKey("alice", "new")
	require.NoError(t, err)
	assert.NotNil(t, fresh)
}
