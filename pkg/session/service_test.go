package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceCreateGetRoundTrips(t *testing.T) {
	svc := NewService(t.TempDir())

	s, err := svc.Create()
	require.NoError(t, err)

	fetched, err := svc.Get(s.ID())
	require.NoError(t, err)
	assert.Equal(t, s.ID(), fetched.ID())
}

func TestServiceListReturnsEveryCreatedSession(t *testing.T) {
	svc := NewService(t.TempDir())

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		s, err := svc.Create()
		require.NoError(t, err)
		ids[s.ID()] = true
	}

	listed, err := svc.List()
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for _, id := range listed {
		assert.True(t, ids[id])
	}
}

func TestServiceListOnEmptyDataDirReturnsNoError(t *testing.T) {
	svc := NewService(t.TempDir())
	listed, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestServiceDeleteRemovesSession(t *testing.T) {
	svc := NewService(t.TempDir())
	s, err := svc.Create()
	require.NoError(t, err)

	require.NoError(t, svc.Delete(s.ID()))

	_, err = svc.Get(s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceDeleteUnknownSessionFails(t *testing.T) {
	svc := NewService(t.TempDir())
	err := svc.Delete("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}
