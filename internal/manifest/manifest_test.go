package manifest

import (
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func echoPackage() fstest.MapFS {
	return fstest.MapFS{
		"metadata.json": &fstest.MapFile{Data: []byte(`{
			"app_name": "echo",
			"version": "1.0.0",
			"permissions": [{"capability": "kv"}]
		}`)},
		"manifest_app.json": &fstest.MapFile{Data: []byte(`{
			"modules": [{"module_id": "echo", "dir": "modules/echo"}],
			"default_auth_level": "none",
			"hostnames": ["echo.hermes.local"],
			"endpoints": [{"path_prefix": "/api"}]
		}`)},
		"modules/echo/metadata.json": &fstest.MapFile{Data: []byte(`{
			"wasm_file": "module.wasm",
			"exported_events": ["http"]
		}`)},
		"modules/echo/module.wasm": &fstest.MapFile{Data: []byte{0x00, 0x61, 0x73, 0x6d}},
		"modules/echo/config.json": &fstest.MapFile{Data: []byte(`{"greeting": "\"hi\""}`)},
	}
}

func TestOpenPackageParsesMetadataAndModules(t *testing.T) {
	pkg, err := OpenPackage(echoPackage())
	require.NoError(t, err)

	assert.Equal(t, "echo", pkg.Meta.AppName)
	assert.Equal(t, "1.0.0", pkg.Meta.Version)
	require.Contains(t, pkg.Modules, "echo")
	assert.Equal(t, []string{"http"}, pkg.Modules["echo"].Metadata.ExportedEvents)
	assert.NotEmpty(t, pkg.Modules["echo"].Wasm)
	assert.True(t, pkg.CheckPermission("kv"))
	assert.False(t, pkg.CheckPermission("sqlite"))
}

func TestOpenPackageMissingWasmFails(t *testing.T) {
	files := echoPackage()
	delete(files, "modules/echo/module.wasm")

	_, err := OpenPackage(files)
	assert.Error(t, err)
}

func TestOpenPackageRejectsMissingAppName(t *testing.T) {
	files := echoPackage()
	files["metadata.json"] = &fstest.MapFile{Data: []byte(`{"version": "1.0.0"}`)}

	_, err := OpenPackage(files)
	assert.Error(t, err)
}

func TestOpenPackageRejectsInvalidAuthLevel(t *testing.T) {
	files := echoPackage()
	files["manifest_app.json"] = &fstest.MapFile{Data: []byte(`{
		"modules": [{"module_id": "echo", "dir": "modules/echo"}],
		"default_auth_level": "none",
		"hostnames": ["echo.hermes.local"],
		"auth_rules": [{"path_regex": "/api/.*", "auth_level": "sometimes"}]
	}`)}

	_, err := OpenPackage(files)
	assert.Error(t, err)
}

func TestOpenPackageRejectsModuleWithNoExportedEvents(t *testing.T) {
	files := echoPackage()
	files["modules/echo/metadata.json"] = &fstest.MapFile{Data: []byte(`{
		"wasm_file": "module.wasm",
		"exported_events": []
	}`)}

	_, err := OpenPackage(files)
	assert.Error(t, err)
}
