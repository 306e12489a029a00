// Package vfs implements the per-application virtual filesystem (spec
// §4.3/C4): a hierarchical namespace with per-path-prefix permissions,
// backed by the package's read-only bundled assets and a writable
// content-addressed Store. Grounded on the teacher's per-service isolated
// storage in system/sandbox/sandbox.go and system/runtime/runtime.go
// (packageStorage), generalized from a single KV namespace to a mounted
// namespace with distinct read-only and writable regions.
package vfs

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/hermes-engine/hermes/internal/herrors"
	"github.com/hermes-engine/hermes/internal/manifest"
)

// mount classifies a VFS path into one of the prefix regions spec §3
// describes.
type mount int

const (
	mountWWW mount = iota
	mountShare
	mountLib
	mountUsr
	mountTmp
	mountEtc
	mountIPFS
	mountUnknown
)

func classify(path string) mount {
	switch {
	case strings.HasPrefix(path, "www/") || path == "www":
		return mountWWW
	case strings.HasPrefix(path, "share/") || path == "share":
		return mountShare
	case strings.HasPrefix(path, "lib/") || path == "lib":
		return mountLib
	case strings.HasPrefix(path, "usr/") || path == "usr":
		return mountUsr
	case strings.HasPrefix(path, "tmp/") || path == "tmp":
		return mountTmp
	case strings.HasPrefix(path, "etc/") || path == "etc":
		return mountEtc
	case strings.HasPrefix(path, "ipfs/") || path == "ipfs":
		return mountIPFS
	default:
		return mountUnknown
	}
}

func (m mount) writable() bool {
	return m == mountTmp || m == mountEtc
}

// OpenMode is the caller's intent for Open, distinct from a mount's
// permission classification.
type OpenMode int

const (
	OpenRead OpenMode = iota
	OpenWrite
)

// Handle is a single open VFS entry. It is not safe for concurrent use by
// multiple goroutines; a module call owns its own handles.
type Handle struct {
	path string
	mode OpenMode
	data []byte // snapshot taken at Open time
}

// IPFSProvider resolves a CID to content on behalf of the ipfs/ overlay.
// Satisfied by the pub-sub/DHT HRE in non-test builds (spec §4.3).
type IPFSProvider interface {
	Fetch(ctx context.Context, c string) ([]byte, error)
}

const lockStripes = 64

// FS is one application's virtual filesystem.
type FS struct {
	appName string
	handle  manifest.PackageHandle
	wwwRoot, shareRoot, libRoot string

	store *Store
	ipfs  IPFSProvider

	pinsMu sync.Mutex
	pins   map[string]bool

	stripes [lockStripes]sync.RWMutex
}

// New builds an application's FS. handle supplies the package's read-only
// bundled assets (www/share/lib roots as declared in its manifest); store
// is the per-app writable content store opened from <state-dir>/<app>.hfs;
// ipfs may be nil if the engine has no pub-sub/DHT provider configured, in
// which case ipfs/ lookups fail with PathNotFound.
func New(appName string, handle manifest.PackageHandle, wwwRoot, shareRoot, libRoot string, store *Store, ipfs IPFSProvider) *FS {
	return &FS{
		appName:   appName,
		handle:    handle,
		wwwRoot:   wwwRoot,
		shareRoot: shareRoot,
		libRoot:   libRoot,
		store:     store,
		ipfs:      ipfs,
		pins:      map[string]bool{},
	}
}

func (f *FS) lockFor(path string) *sync.RWMutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return &f.stripes[h.Sum32()%lockStripes]
}

// packagePath maps a VFS path under www/, share/, lib/, or usr/ to the
// corresponding path inside the package handle.
func (f *FS) packagePath(path string) (string, error) {
	switch classify(path) {
	case mountWWW:
		return joinRoot(f.wwwRoot, strings.TrimPrefix(path, "www/")), nil
	case mountShare:
		return joinRoot(f.shareRoot, strings.TrimPrefix(path, "share/")), nil
	case mountLib, mountUsr:
		// usr/lib/<module>/... maps directly onto the package's usr/lib
		// overlay root; lib/... is an alias for the same overlay.
		rel := strings.TrimPrefix(path, "usr/")
		rel = strings.TrimPrefix(rel, "lib/")
		return joinRoot(f.libRoot, rel), nil
	default:
		return "", fmt.Errorf("not a package-backed path: %s", path)
	}
}

func joinRoot(root, rel string) string {
	if rel == "" {
		return root
	}
	return root + "/" + rel
}

// Open resolves path under the mount table and returns a Handle. Opening a
// read-only mount for OpenWrite fails with herrors.ReadOnly.
func (f *FS) Open(ctx context.Context, path string, mode OpenMode) (*Handle, error) {
	if strings.Contains(path, "..") {
		return nil, herrors.PermissionDenied(path)
	}

	m := classify(path)

	if mode == OpenWrite && !m.writable() {
		return nil, herrors.ReadOnly(path)
	}

	switch m {
	case mountWWW, mountShare, mountLib, mountUsr:
		pkgPath, err := f.packagePath(path)
		if err != nil {
			return nil, herrors.PathNotFound(path)
		}
		data, err := readPackageFile(f.handle, pkgPath)
		if err != nil {
			return nil, herrors.PathNotFound(path)
		}
		return &Handle{path: path, mode: mode, data: data}, nil

	case mountTmp, mountEtc:
		data, ok, err := f.store.GetPath(path)
		if err != nil {
			return nil, herrors.StoreIO(err)
		}
		if !ok {
			if mode == OpenRead {
				return nil, herrors.PathNotFound(path)
			}
			data = nil // new file
		}
		return &Handle{path: path, mode: mode, data: data}, nil

	case mountIPFS:
		data, err := f.resolveIPFS(ctx, path)
		if err != nil {
			return nil, err
		}
		return &Handle{path: path, mode: OpenRead, data: data}, nil

	default:
		return nil, herrors.PathNotFound(path)
	}
}

func (f *FS) resolveIPFS(ctx context.Context, path string) ([]byte, error) {
	rest := strings.TrimPrefix(path, "ipfs/")
	parts := strings.SplitN(rest, "/", 2)
	cidStr := parts[0]

	if _, err := cid.Decode(cidStr); err != nil {
		return nil, herrors.PathNotFound(path)
	}

	cacheKey := "ipfs/" + cidStr
	if cached, ok, err := f.store.GetPath(cacheKey); err == nil && ok {
		return cached, nil
	}

	if f.ipfs == nil {
		return nil, herrors.PathNotFound(path)
	}

	content, err := f.ipfs.Fetch(ctx, cidStr)
	if err != nil {
		return nil, herrors.StoreIO(err)
	}

	if _, err := f.store.PutPath(cacheKey, content); err != nil {
		return nil, herrors.StoreIO(err)
	}

	f.pinsMu.Lock()
	f.pins[cidStr] = true
	f.pinsMu.Unlock()

	return content, nil
}

// Read returns up to length bytes of the handle's content starting at off.
func (f *FS) Read(h *Handle, off int64, length int) ([]byte, error) {
	if off < 0 || off > int64(len(h.data)) {
		return nil, herrors.PathNotFound(h.path)
	}
	end := off + int64(length)
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return h.data[off:end], nil
}

// Write stores bytes at off within a writable handle, growing the
// in-memory buffer as needed, and persists the result to the Store.
func (f *FS) Write(h *Handle, off int64, data []byte) (int, error) {
	if h.mode != OpenWrite {
		return 0, herrors.ReadOnly(h.path)
	}
	if !classify(h.path).writable() {
		return 0, herrors.ReadOnly(h.path)
	}

	lock := f.lockFor(h.path)
	lock.Lock()
	defer lock.Unlock()

	end := off + int64(len(data))
	if end > int64(len(h.data)) {
		grown := make([]byte, end)
		copy(grown, h.data)
		h.data = grown
	}
	copy(h.data[off:end], data)

	if _, err := f.store.PutPath(h.path, h.data); err != nil {
		return 0, herrors.StoreIO(err)
	}
	return len(data), nil
}

// List returns known entries under a path prefix. For writable mounts this
// is the Store's path index; for read-only mounts it is the package
// handle's directory listing.
func (f *FS) List(path string) ([]string, error) {
	m := classify(path)
	if m.writable() {
		return f.store.ListPrefix(path), nil
	}
	pkgPath, err := f.packagePath(path)
	if err != nil {
		return nil, herrors.PathNotFound(path)
	}
	return listPackageDir(f.handle, pkgPath)
}

// Info is the result of Stat.
type Info struct {
	Path     string
	Size     int64
	ReadOnly bool
}

// Stat reports size and permission classification for path. It opens path
// for reading internally and returns no handle.
func (f *FS) Stat(path string) (Info, error) {
	h, err := f.Open(context.Background(), path, OpenRead)
	if err != nil {
		return Info{}, err
	}
	return Info{Path: path, Size: int64(len(h.data)), ReadOnly: !classify(path).writable()}, nil
}

// Close releases a handle. Read-only handles hold no resources beyond the
// in-memory snapshot; Close exists for symmetry with spec §4.3's op list.
func (f *FS) Close(h *Handle) error { return nil }

// Pins returns the set of CIDs this application has resolved and pinned.
func (f *FS) Pins() []string {
	f.pinsMu.Lock()
	defer f.pinsMu.Unlock()
	out := make([]string, 0, len(f.pins))
	for c := range f.pins {
		out = append(out, c)
	}
	return out
}
