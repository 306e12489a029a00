package gateway

import (
	"context"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hermes-engine/hermes/internal/middleware"
	"github.com/hermes-engine/hermes/internal/registry"
	"github.com/hermes-engine/hermes/internal/vfs"
)

// serveStatic serves a request from the app's www/ VFS subtree (spec §4.6
// "other paths are served from the app's www/ VFS subtree with no event
// emitted"). A directory request resolves to its index.html.
func (g *Gateway) serveStatic(w http.ResponseWriter, r *http.Request, app *registry.AppState) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p := strings.TrimPrefix(r.URL.Path, "/")
	if p == "" || strings.HasSuffix(p, "/") {
		p += "index.html"
	}
	vfsPath := "www/" + p

	h, err := app.VFS.Open(ctx, vfsPath, vfs.OpenRead)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	defer app.VFS.Close(h)

	const maxStaticFile = 1 << 30 // generous cap; Read clips to the file's actual size
	data, err := app.VFS.Read(h, 0, maxStaticFile)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	_, _ = w.Write(data)
}
