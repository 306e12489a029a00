package vfs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutPathAndGetPathRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.hfs")
	s, err := OpenStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.PutPath("tmp/counter", []byte("1"))
	require.NoError(t, err)

	data, ok, err := s.GetPath("tmp/counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), data)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.hfs")

	s, err := OpenStore(path)
	require.NoError(t, err)
	_, err = s.PutPath("etc/config", []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	data, ok, err := reopened.GetPath("etc/config")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)
}

func TestStoreOverwriteKeepsLatestValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.hfs")
	s, err := OpenStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.PutPath("tmp/x", []byte("a"))
	require.NoError(t, err)
	_, err = s.PutPath("tmp/x", []byte("b"))
	require.NoError(t, err)

	data, ok, err := s.GetPath("tmp/x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), data)
}

func TestStoreListPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.hfs")
	s, err := OpenStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.PutPath("tmp/a", []byte("1"))
	require.NoError(t, err)
	_, err = s.PutPath("tmp/b", []byte("2"))
	require.NoError(t, err)
	_, err = s.PutPath("etc/c", []byte("3"))
	require.NoError(t, err)

	got := s.ListPrefix("tmp/")
	assert.ElementsMatch(t, []string{"tmp/a", "tmp/b"}, got)
}
