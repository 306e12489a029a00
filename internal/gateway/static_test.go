package gateway

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermes-engine/hermes/internal/registry"
	"github.com/hermes-engine/hermes/internal/vfs"
)

func testAppState(t *testing.T) *registry.AppState {
	t.Helper()
	handle := fstest.MapFS{
		"srv/www/index.html": &fstest.MapFile{Data: []byte("<h1>hello</h1>")},
	}
	storePath := filepath.Join(t.TempDir(), "app.hfs")
	store, err := vfs.OpenStore(storePath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	appFS := vfs.New("testapp", handle, "srv/www", "srv/share", "usr/lib", store, nil)
	return &registry.AppState{Name: "testapp", VFS: appFS, Mailbox: registry.NewMailbox()}
}

func TestServeStaticReturnsIndexForDirectoryRequest(t *testing.T) {
	gw := &Gateway{}
	app := testAppState(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	gw.serveStatic(rr, req, app)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "<h1>hello</h1>", rr.Body.String())
}

func TestServeStaticReturns404ForMissingFile(t *testing.T) {
	gw := &Gateway{}
	app := testAppState(t)

	req := httptest.NewRequest(http.MethodGet, "/missing.js", nil)
	rr := httptest.NewRecorder()
	gw.serveStatic(rr, req, app)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
