package session_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/session"
	"github.com/marcjazz/authkestra/session/sessiontest"
)

func TestNewSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	id := sessiontest.NewIdentity(t, "alice")

	s, err := session.NewSession(id, time.Hour, now)
	require.NoError(t, err)
	assert.True(t, session.ValidID(s.ID))
	assert.Len(t, s.ID, 22)
	assert.Equal(t, now.Add(time.Hour), s.ExpiresAt)
	assert.False(t, s.Expired(now.Add(59*time.Minute)))
	assert.True(t, s.Expired(now.Add(time.Hour)))
	assert.Equal(t, 30*time.Minute, s.TTL(now.Add(30*time.Minute)))
	assert.Zero(t, s.TTL(now.Add(2*time.Hour)))

	other, err := session.NewSession(id, time.Hour, now)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, other.ID)

	_, err = session.NewSession(auth.Identity{}, time.Hour, now)
	assert.Error(t, err)
	_, err = session.NewSession(id, 0, now)
	assert.Error(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	s := sessiontest.NewSession(t, "bob", time.Hour)

	data, err := session.Encode(s)
	require.NoError(t, err)
	got, err := session.Decode(s.ID, data)
	require.NoError(t, err)

	assert.Equal(t, s.ID, got.ID)
	assert.True(t, s.Identity.Same(got.Identity))
	assert.Equal(t, "acme", got.Identity.Attributes()["tenant"])
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))
}

func TestCodecIsDeterministic(t *testing.T) {
	id, err := auth.NewIdentity("p", "x", auth.WithAttributes(map[string]string{"b": "2", "a": "1", "c": "3"}))
	require.NoError(t, err)
	s, err := session.NewSession(id, time.Hour, time.Now())
	require.NoError(t, err)

	first, err := session.Encode(s)
	require.NoError(t, err)
	for range 10 {
		again, err := session.Encode(s)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(first, again))
	}
}

func TestDecodeVersion1(t *testing.T) {
	s := sessiontest.NewSession(t, "carol", time.Hour)
	data, err := session.Encode(s)
	require.NoError(t, err)

	// A v1 record is the v2 record without the attribute section.
	v1 := append([]byte{1}, data[1:len(data)-attributeSectionLen(s)]...)
	got, err := session.Decode(s.ID, v1)
	require.NoError(t, err)
	assert.True(t, s.Identity.Same(got.Identity))
	assert.Empty(t, got.Identity.Attributes())
}

func attributeSectionLen(s *session.Session) int {
	n := 2
	for k, v := range s.Identity.Attributes() {
		n += 2 + len(k) + 2 + len(v)
	}
	return n
}

func TestDecodeRejectsCorruptRecords(t *testing.T) {
	s := sessiontest.NewSession(t, "dave", time.Hour)
	data, err := session.Encode(s)
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":           nil,
		"unknown version": append([]byte{9}, data[1:]...),
		"truncated":       data[:len(data)-3],
		"trailing bytes":  append(append([]byte(nil), data...), 0x00),
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := session.Decode("id", blob)
			assert.True(t, errors.Is(err, session.ErrCorrupt), "got %v", err)
		})
	}
}

func TestCheckSave(t *testing.T) {
	s := sessiontest.NewSession(t, "erin", time.Hour)
	assert.NoError(t, session.CheckSave(context.Background(), s, time.Now()))
	assert.ErrorIs(t, session.CheckSave(context.Background(), s, s.ExpiresAt), auth.ErrProviderRejected)
}

func FuzzDecode(f *testing.F) {
	id, _ := auth.NewIdentity("p", "x", auth.WithAttribute("k", "v"))
	s, _ := session.NewSession(id, time.Hour, time.Now())
	seed, _ := session.Encode(s)
	f.Add(seed)
	f.Add([]byte{1})
	f.Add([]byte{2, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		got, err := session.Decode("id", data)
		if err != nil {
			if !errors.Is(err, session.ErrCorrupt) {
				t.Fatalf("decode error %v does not wrap ErrCorrupt", err)
			}
			return
		}
		if got.Identity.IsZero() {
			t.Fatal("decoded session without identity")
		}
	})
}
