package localstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("k", []byte(`{"a":1}`)))
	v, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(v))

	require.NoError(t, s.Set("k", []byte(`{"a":2}`)))
	v, _, err = s.Get("k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(v))

	require.NoError(t, s.Remove("k"))
	require.NoError(t, s.Remove("k"))
	_, ok, err = s.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestBoltStore(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "nested", "local.bolt"))
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.bolt")

	s, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("conversations", []byte("payload")))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get("conversations")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(v))
}

func TestBoltStoreClosed(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "local.bolt"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Set("k", nil), ErrClosed)
}
