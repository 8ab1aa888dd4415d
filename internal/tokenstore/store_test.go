// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlowFarm Contributors

package tokenstore_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowfarm/flowfarm/internal/auth"
	"github.com/flowfarm/flowfarm/internal/tokenstore"
)

// fakeClock is a settable clock shared with the store under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T) (*tokenstore.Store, *tokenstore.MemoryTier, *tokenstore.MemoryTier, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	session := tokenstore.NewMemoryTier(tokenstore.TierSession)
	durable := tokenstore.NewMemoryTier(tokenstore.TierDurable)
	return tokenstore.New(session, durable, tokenstore.WithNowFunc(clock.Now)), session, durable, clock
}

func TestStore_SaveRead(t *testing.T) {
	store, session, durable, clock := newStore(t)
	user := &auth.UserRecord{ID: 3, Username: "ann", Role: auth.RoleEmployee, Status: auth.StatusActive}

	require.NoError(t, store.Save("a1", "r1", time.Hour, false, user))

	rec, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, "a1", rec.AccessToken)
	assert.Equal(t, "r1", rec.RefreshToken)
	assert.Equal(t, tokenstore.TierSession, rec.Tier)
	assert.False(t, rec.Remember)
	assert.WithinDuration(t, clock.Now().Add(time.Hour), rec.ExpiresAt, time.Second)
	assert.WithinDuration(t, clock.Now(), rec.IssuedAt, time.Millisecond)
	require.NotNil(t, rec.User)
	assert.Equal(t, "ann", rec.User.Username)

	sessData, _ := session.Load()
	assert.Equal(t, "false", sessData[tokenstore.KeyRememberMe])
	durData, _ := durable.Load()
	assert.Empty(t, durData)
}

func TestStore_RememberSelectsDurableTier(t *testing.T) {
	store, session, durable, _ := newStore(t)

	require.NoError(t, store.Save("a1", "", time.Hour, true, nil))

	rec, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, tokenstore.TierDurable, rec.Tier)
	assert.True(t, rec.Remember)
	assert.Empty(t, rec.RefreshToken)

	sessData, _ := session.Load()
	assert.Empty(t, sessData)
	durData, _ := durable.Load()
	assert.Equal(t, "a1", durData[tokenstore.KeyAccessToken])
	assert.NotContains(t, durData, tokenstore.KeyRefreshToken)
}

func TestStore_TierSwitchPurgesOtherTier(t *testing.T) {
	store, _, durable, _ := newStore(t)

	require.NoError(t, store.Save("durable-token", "r", time.Hour, true, nil))
	require.NoError(t, store.Save("session-token", "", time.Hour, false, nil))

	durData, _ := durable.Load()
	assert.Empty(t, durData)

	rec, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, "session-token", rec.AccessToken)
	assert.Empty(t, rec.RefreshToken)
}

func TestStore_SessionTierWinsOnRead(t *testing.T) {
	store, session, durable, _ := newStore(t)

	// Another process wrote the durable tier after this one wrote the
	// session tier; both now hold different tokens.
	session.Set(tokenstore.KeyAccessToken, "from-session")
	durable.Set(tokenstore.KeyAccessToken, "from-durable")

	rec, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, "from-session", rec.AccessToken)
	assert.Equal(t, tokenstore.TierSession, rec.Tier)
}

func TestStore_Validity(t *testing.T) {
	store, _, _, clock := newStore(t)

	assert.False(t, store.IsValid(), "empty store")

	require.NoError(t, store.Save("a1", "", time.Hour, false, nil))
	assert.True(t, store.IsValid())
	assert.Equal(t, 3600, store.RemainingSeconds())
	assert.False(t, store.ShouldPreemptivelyRefresh())

	clock.Advance(time.Hour - tokenstore.DefaultRefreshThreshold + time.Second)
	assert.True(t, store.IsValid())
	assert.True(t, store.ShouldPreemptivelyRefresh())

	clock.Advance(tokenstore.DefaultRefreshThreshold - tokenstore.DefaultSkew)
	assert.False(t, store.IsValid(), "inside the skew margin")
	assert.Positive(t, store.RemainingSeconds())

	tok, ok := store.ValidAccessToken()
	assert.False(t, ok)
	assert.Empty(t, tok)
	assert.Empty(t, store.AuthorizationHeader())

	clock.Advance(tokenstore.DefaultSkew)
	assert.Zero(t, store.RemainingSeconds())
	assert.False(t, store.ShouldPreemptivelyRefresh())
}

func TestStore_MissingExpiryIsInvalid(t *testing.T) {
	store, _, _, _ := newStore(t)

	require.NoError(t, store.Save("a1", "", 0, false, nil))

	rec, ok := store.Read()
	require.True(t, ok)
	assert.True(t, rec.ExpiresAt.IsZero())
	assert.False(t, store.IsValid())
	assert.Zero(t, store.RemainingSeconds())
}

func TestStore_AuthorizationHeader(t *testing.T) {
	store, _, _, _ := newStore(t)
	require.NoError(t, store.Save("a1", "", time.Hour, false, nil))
	assert.Equal(t, "Bearer a1", store.AuthorizationHeader())
}

func TestStore_UpdateAccess(t *testing.T) {
	store, _, durable, clock := newStore(t)
	require.NoError(t, store.Save("a1", "r1", time.Hour, true, &auth.UserRecord{Username: "ann"}))

	clock.Advance(50 * time.Minute)
	require.NoError(t, store.UpdateAccess("a2", "", 30*time.Minute))

	rec, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, "a2", rec.AccessToken)
	assert.Equal(t, "r1", rec.RefreshToken, "refresh token kept when none issued")
	assert.WithinDuration(t, clock.Now().Add(30*time.Minute), rec.ExpiresAt, time.Millisecond)
	assert.Equal(t, tokenstore.TierDurable, rec.Tier)
	require.NotNil(t, rec.User)

	require.NoError(t, store.UpdateAccess("a3", "r2", time.Hour))
	durData, _ := durable.Load()
	assert.Equal(t, "r2", durData[tokenstore.KeyRefreshToken])

	t.Run("no session", func(t *testing.T) {
		empty, _, _, _ := newStore(t)
		err := empty.UpdateAccess("a", "", time.Hour)
		require.Error(t, err)
	})
}

func TestStore_UpdateUser(t *testing.T) {
	store, _, _, _ := newStore(t)
	require.NoError(t, store.Save("a1", "", time.Hour, false, &auth.UserRecord{Username: "ann"}))

	require.NoError(t, store.UpdateUser(auth.UserRecord{Username: "ann", Role: auth.RoleUserAdmin}))

	rec, _ := store.Read()
	require.NotNil(t, rec.User)
	assert.Equal(t, auth.RoleUserAdmin, rec.User.Role)
}

func TestStore_SaveRejectsEmptyToken(t *testing.T) {
	store, _, _, _ := newStore(t)
	assert.Error(t, store.Save("", "r", time.Hour, false, nil))
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	store, session, durable, _ := newStore(t)
	require.NoError(t, store.Save("a1", "r1", time.Hour, false, nil))
	durable.Set(tokenstore.KeyLegacyToken, "old")

	for range 2 {
		require.NoError(t, store.Clear())
		sessData, _ := session.Load()
		durData, _ := durable.Load()
		assert.Empty(t, sessData)
		assert.Empty(t, durData)
		_, ok := store.Read()
		assert.False(t, ok)
	}
}

func TestStore_MigrateLegacy(t *testing.T) {
	t.Run("imports once", func(t *testing.T) {
		store, _, durable, _ := newStore(t)
		durable.Set(tokenstore.KeyLegacyToken, "legacy")

		assert.True(t, store.MigrateLegacy())
		assert.False(t, store.MigrateLegacy())

		durData, _ := durable.Load()
		assert.Equal(t, "legacy", durData[tokenstore.KeyAccessToken])
		assert.NotContains(t, durData, tokenstore.KeyLegacyToken)

		rec, ok := store.Read()
		require.True(t, ok)
		assert.True(t, rec.Remember)
		assert.False(t, store.IsValid(), "legacy tokens carry no expiry")
	})

	t.Run("never overwrites a current token", func(t *testing.T) {
		store, _, durable, _ := newStore(t)
		require.NoError(t, store.Save("current", "", time.Hour, false, nil))
		durable.Set(tokenstore.KeyLegacyToken, "legacy")

		assert.False(t, store.MigrateLegacy())

		rec, _ := store.Read()
		assert.Equal(t, "current", rec.AccessToken)
	})

	t.Run("first read migrates", func(t *testing.T) {
		store, _, durable, _ := newStore(t)
		durable.Set(tokenstore.KeyLegacyToken, "legacy")

		rec, ok := store.Read()
		require.True(t, ok)
		assert.Equal(t, "legacy", rec.AccessToken)
	})

	t.Run("nothing to import", func(t *testing.T) {
		store, _, _, _ := newStore(t)
		assert.False(t, store.MigrateLegacy())
	})
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store, _, _, _ := newStore(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = store.Save("tok", "", time.Hour, i%4 == 0, nil)
				return
			}
			_ = store.IsValid()
		}()
	}
	wg.Wait()

	rec, ok := store.Read()
	require.True(t, ok)
	assert.Equal(t, "tok", rec.AccessToken)
}
