package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestToModuleConfigEncodesEachValueAsJSON(t *testing.T) {
	cfg, err := toModuleConfig(map[string]any{"retries": 3, "label": "x"})
	require.NoError(t, err)
	assert.JSONEq(t, "3", string(cfg["retries"]))
	assert.JSONEq(t, `"x"`, string(cfg["label"]))
}

func TestToModuleConfigReturnsNilForEmptyInput(t *testing.T) {
	cfg, err := toModuleConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestRunModulePackageAssemblesMetadataAndCopiesWasm(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "handler.wasm"), "fake-wasm-bytes")

	manifestPath := filepath.Join(dir, "module.yaml")
	outDir := filepath.Join(dir, "out")
	writeTestFile(t, manifestPath, `
module_id: echo
wasm_file: handler.wasm
exported_events: ["http"]
output_dir: `+outDir+`
`)

	require.NoError(t, runModulePackage(manifestPath))

	assert.FileExists(t, filepath.Join(outDir, "metadata.json"))
	assert.FileExists(t, filepath.Join(outDir, "module.wasm"))

	data, err := os.ReadFile(filepath.Join(outDir, "module.wasm"))
	require.NoError(t, err)
	assert.Equal(t, "fake-wasm-bytes", string(data))
}

func TestRunModulePackageRejectsMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "module.yaml")
	writeTestFile(t, manifestPath, `module_id: echo`)

	err := runModulePackage(manifestPath)
	assert.Error(t, err)
}

func TestRunAppPackageAssemblesManifestsAndFoldsInModules(t *testing.T) {
	dir := t.TempDir()
	moduleDir := filepath.Join(dir, "built-module")
	writeTestFile(t, filepath.Join(moduleDir, "metadata.json"), `{"module_id":"echo","wasm_file":"module.wasm","exported_events":["http"]}`)
	writeTestFile(t, filepath.Join(moduleDir, "module.wasm"), "fake-wasm-bytes")
	writeTestFile(t, filepath.Join(dir, "www", "index.html"), "<h1>hi</h1>")

	manifestPath := filepath.Join(dir, "app.yaml")
	outDir := filepath.Join(dir, "out")
	writeTestFile(t, manifestPath, `
app_name: demo
version: "1.0.0"
default_auth_level: none
hostnames: ["demo.hermes.local"]
www_dir: www
modules:
  - module_id: echo
    dir: built-module
output_dir: `+outDir+`
`)

	require.NoError(t, runAppPackage(manifestPath))

	assert.FileExists(t, filepath.Join(outDir, "metadata.json"))
	assert.FileExists(t, filepath.Join(outDir, "manifest_app.json"))
	assert.FileExists(t, filepath.Join(outDir, "usr/lib/echo/module.wasm"))
	assert.FileExists(t, filepath.Join(outDir, "srv/www/index.html"))
}

func TestRunAppPackageRejectsMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "app.yaml")
	writeTestFile(t, manifestPath, `app_name: demo`)

	err := runAppPackage(manifestPath)
	assert.Error(t, err)
}
