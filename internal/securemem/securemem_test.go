package securemem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	s := NewString("hunter2")
	defer s.Destroy()

	assert.Equal(t, "hunter2", s.String())
	assert.Equal(t, []byte("hunter2"), s.Bytes())
	assert.Equal(t, 7, s.Len())
	assert.False(t, s.IsEmpty())
}

func TestNewStringFromBytesWipesInput(t *testing.T) {
	input := []byte("secret")
	s := NewStringFromBytes(input)
	defer s.Destroy()

	assert.Equal(t, "secret", s.String())
	// memguard wiped the caller's slice.
	assert.NotEqual(t, []byte("secret"), input)
}

func TestEqualIsConstantTimeMatch(t *testing.T) {
	s := NewString("token")
	defer s.Destroy()

	for i := 0; i < 3; i++ {
		assert.True(t, s.Equal("token"))
		assert.False(t, s.Equal("Token"))
		assert.False(t, s.Equal(""))
	}
}

func TestDestroyMakesStringEmpty(t *testing.T) {
	s := NewString("ephemeral")
	s.Destroy()

	assert.Equal(t, "", s.String())
	assert.Nil(t, s.Bytes())
	assert.True(t, s.IsEmpty())
	assert.True(t, s.Equal(""))
	assert.False(t, s.Equal("ephemeral"))

	// Destroy is idempotent.
	s.Destroy()
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewString("original")
	clone := s.Clone()
	defer clone.Destroy()

	s.Destroy()
	require.Equal(t, "original", clone.String())
}

func TestNilReceiverIsSafe(t *testing.T) {
	var s *String
	assert.Equal(t, "", s.String())
	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.Equal(""))
	s.Destroy()
}

func TestEmptySecret(t *testing.T) {
	s := NewString("")
	defer s.Destroy()

	assert.True(t, s.IsEmpty())
	assert.Equal(t, "", s.String())
	assert.True(t, s.Equal(""))
}
