package vfs

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPackage() fstest.MapFS {
	return fstest.MapFS{
		"srv/www/index.html": &fstest.MapFile{Data: []byte("<h1>hi</h1>")},
		"srv/share/readme":   &fstest.MapFile{Data: []byte("shared")},
	}
}

func newTestFS(t *testing.T) *FS {
	t.Helper()
	storePath := filepath.Join(t.TempDir(), "app.hfs")
	store, err := OpenStore(storePath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New("testapp", testPackage(), "srv/www", "srv/share", "usr/lib", store, nil)
}

func TestOpenReadOnlyMountServesPackageContent(t *testing.T) {
	f := newTestFS(t)

	h, err := f.Open(context.Background(), "www/index.html", OpenRead)
	require.NoError(t, err)

	data, err := f.Read(h, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(data))
}

func TestWriteToReadOnlyMountFails(t *testing.T) {
	f := newTestFS(t)

	_, err := f.Open(context.Background(), "www/index.html", OpenWrite)
	assert.Error(t, err)

	_, err = f.Open(context.Background(), "share/readme", OpenWrite)
	assert.Error(t, err)
}

func TestWriteThenReadUnderTmpRoundTrips(t *testing.T) {
	f := newTestFS(t)

	h, err := f.Open(context.Background(), "tmp/state.json", OpenWrite)
	require.NoError(t, err)

	_, err = f.Write(h, 0, []byte(`{"n":1}`))
	require.NoError(t, err)

	h2, err := f.Open(context.Background(), "tmp/state.json", OpenRead)
	require.NoError(t, err)

	data, err := f.Read(h2, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(data))
}

func TestReadUnknownTmpPathIsNotFound(t *testing.T) {
	f := newTestFS(t)

	_, err := f.Open(context.Background(), "tmp/missing", OpenRead)
	assert.Error(t, err)
}

func TestPathTraversalIsRejected(t *testing.T) {
	f := newTestFS(t)

	_, err := f.Open(context.Background(), "tmp/../etc/passwd", OpenRead)
	assert.Error(t, err)
}

func TestIPFSMountWithoutProviderIsNotFound(t *testing.T) {
	f := newTestFS(t)

	_, err := f.Open(context.Background(), "ipfs/bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi/file", OpenRead)
	assert.Error(t, err)
}
