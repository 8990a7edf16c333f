package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIDRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	require.NoError(t, err)

	parsed, err := ParseSessionID(sid.String())
	require.NoError(t, err)
	assert.Equal(t, sid, parsed)

	_, err = ParseSessionID("c2hvcnQ")
	assert.Error(t, err)
}

func TestNewStateIsUniqueAndLongEnough(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		s, err := NewState()
		require.NoError(t, err)
		assert.Len(t, s, 43)
		_, dup := seen[s]
		require.False(t, dup)
		seen[s] = struct{}{}
	}
}

func TestNewTokenRejectsShortLength(t *testing.T) {
	_, err := NewToken(8)
	assert.Error(t, err)
}

func TestEqualSecret(t *testing.T) {
	assert.True(t, EqualSecret("abc", "abc"))
	assert.False(t, EqualSecret("abc", "abd"))
	assert.False(t, EqualSecret("abc", "ab"))
}
