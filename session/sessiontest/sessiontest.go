// Package sessiontest is a conformance suite for session.Store backends.
package sessiontest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/session"
)

// NewIdentity returns a fully populated identity for tests.
func NewIdentity(t testing.TB, externalID string) auth.Identity {
	t.Helper()
	id, err := auth.NewIdentity("https://issuer.example.com", externalID,
		auth.WithEmail(externalID+"@example.com"),
		auth.WithDisplayName("User "+externalID),
		auth.WithAttribute("tenant", "acme"),
	)
	require.NoError(t, err)
	return id
}

// NewSession returns a session for externalID that lives for ttl.
func NewSession(t testing.TB, externalID string, ttl time.Duration) *session.Session {
	t.Helper()
	s, err := session.NewSession(NewIdentity(t, externalID), ttl, time.Now().Truncate(time.Millisecond))
	require.NoError(t, err)
	return s
}

// Run exercises the Store contract against stores produced by newStore. Each
// subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) session.Store) {
	t.Run("save then load", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		s := NewSession(t, "alice", time.Hour)

		require.NoError(t, store.Save(ctx, s))
		got, err := store.Load(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, s.ID, got.ID)
		assert.True(t, s.Identity.Same(got.Identity))
		assert.Equal(t, s.Identity.Email(), got.Identity.Email())
		assert.Equal(t, s.Identity.DisplayName(), got.Identity.DisplayName())
		assert.Equal(t, s.Identity.Attributes(), got.Identity.Attributes())
		assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))
		assert.True(t, s.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("absent id loads as nil", func(t *testing.T) {
		store := newStore(t)
		id := NewSession(t, "ghost", time.Hour).ID

		got, err := store.Load(context.Background(), id)
		assert.NoError(t, err)
		assert.Nil(t, got)

		got, err = store.Load(context.Background(), "not a session id")
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		s := NewSession(t, "bob", time.Hour)

		require.NoError(t, store.Save(ctx, s))
		require.NoError(t, store.Delete(ctx, s.ID))
		require.NoError(t, store.Delete(ctx, s.ID))

		got, err := store.Load(ctx, s.ID)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("save replaces", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		s := NewSession(t, "carol", time.Hour)
		require.NoError(t, store.Save(ctx, s))

		replaced := *s
		replaced.ExpiresAt = s.ExpiresAt.Add(time.Hour)
		require.NoError(t, store.Save(ctx, &replaced))

		got, err := store.Load(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, replaced.ExpiresAt.Equal(got.ExpiresAt))
	})

	t.Run("cancelled context never writes", func(t *testing.T) {
		store := newStore(t)
		s := NewSession(t, "dave", time.Hour)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := store.Save(ctx, s)
		assert.ErrorIs(t, err, auth.ErrProviderUnavailable)

		got, err := store.Load(context.Background(), s.ID)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("expired session is rejected on save", func(t *testing.T) {
		store := newStore(t)
		s := NewSession(t, "erin", time.Hour)
		s.ExpiresAt = time.Now().Add(-time.Second)

		assert.ErrorIs(t, store.Save(context.Background(), s), auth.ErrProviderRejected)
		assert.ErrorIs(t, store.Save(context.Background(), nil), auth.ErrProviderRejected)
	})

	t.Run("concurrent saves", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		sessions := make([]*session.Session, 32)
		for i := range sessions {
			sessions[i] = NewSession(t, "user", time.Hour)
		}
		var wg sync.WaitGroup
		for _, s := range sessions {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.Save(ctx, s))
			}()
		}
		wg.Wait()

		for _, s := range sessions {
			got, err := store.Load(ctx, s.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
		}
	})
}
