package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcjazz/authkestra/session"
	"github.com/marcjazz/authkestra/session/memory"
	"github.com/marcjazz/authkestra/session/sessiontest"
)

func newStore(t *testing.T, opts ...memory.Option) *memory.Store {
	t.Helper()
	s := memory.New(opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) session.Store { return newStore(t) })
}

func TestLoadHonoursClock(t *testing.T) {
	now := time.Now()
	store := newStore(t, memory.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	s := sessiontest.NewSession(t, "alice", time.Hour)
	require.NoError(t, store.Save(ctx, s))

	now = s.ExpiresAt
	got, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, store.Len())
}

func TestEntriesExpireFromCache(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	s := sessiontest.NewSession(t, "bob", time.Hour)
	s.ExpiresAt = time.Now().Add(50 * time.Millisecond)
	require.NoError(t, store.Save(ctx, s))

	assert.Eventually(t, func() bool {
		got, err := store.Load(ctx, s.ID)
		return err == nil && got == nil
	}, time.Second, 10*time.Millisecond)
}

func TestCapacityEvictsOldest(t *testing.T) {
	store := newStore(t, memory.WithCapacity(2))
	ctx := context.Background()

	first := sessiontest.NewSession(t, "a", time.Hour)
	second := sessiontest.NewSession(t, "b", time.Hour)
	third := sessiontest.NewSession(t, "c", time.Hour)
	for _, s := range []*session.Session{first, second, third} {
		require.NoError(t, store.Save(ctx, s))
	}

	got, err := store.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 2, store.Len())
}

func TestLoadReturnsCopy(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	s := sessiontest.NewSession(t, "carol", time.Hour)
	require.NoError(t, store.Save(ctx, s))

	got, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	got.ExpiresAt = time.Time{}

	again, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, s.ExpiresAt.Equal(again.ExpiresAt))
}
