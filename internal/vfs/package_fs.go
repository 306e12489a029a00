package vfs

import (
	"io/fs"
	"strings"

	"github.com/hermes-engine/hermes/internal/manifest"
)

func readPackageFile(handle manifest.PackageHandle, path string) ([]byte, error) {
	return fs.ReadFile(handle, path)
}

func listPackageDir(handle manifest.PackageHandle, dir string) ([]string, error) {
	entries, err := fs.ReadDir(handle, dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(dir, "/")+"/"+e.Name())
	}
	return out, nil
}
