// Packaging build manifests: human-authored YAML describing a module or
// app build, assembled into the on-disk directory layout
// manifest.OpenPackage reads at runtime (metadata.json / manifest_app.json
// / module subdirectories). Package signing and the HDF5 on-disk format
// are out of scope (spec §1); this is a plain directory tree, the
// simplest handle manifest.OpenPackage's fs.FS-shaped PackageHandle
// already accepts. Grounded on the teacher's system/sandbox policy_loader
// YAML-config pattern (os.ReadFile + yaml.Unmarshal into a tagged struct).
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hermes-engine/hermes/internal/manifest"
)

// moduleBuildManifest is the YAML build input for `module package`. Config
// is plain YAML (map[string]any), converted to manifest.ModuleConfig's
// json.RawMessage values at build time rather than tagged yaml directly on
// ModuleConfig, since yaml.v3 does not honor json.Marshaler/Unmarshaler.
type moduleBuildManifest struct {
	ModuleID       string         `yaml:"module_id"`
	WasmFile       string         `yaml:"wasm_file"` // path on disk, relative to the manifest file
	ExportedEvents []string       `yaml:"exported_events"`
	Config         map[string]any `yaml:"config,omitempty"`
	SignatureFile  string         `yaml:"signature_file,omitempty"`
	OutputDir      string         `yaml:"output_dir"`
}

func toModuleConfig(raw map[string]any) (manifest.ModuleConfig, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	cfg := make(manifest.ModuleConfig, len(raw))
	for k, v := range raw {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding config key %q: %w", k, err)
		}
		cfg[k] = b
	}
	return cfg, nil
}

// appBuildManifest is the YAML build input for `app package`.
type appBuildManifest struct {
	AppName          string                `yaml:"app_name"`
	Version          string                `yaml:"version"`
	DisplayName      string                `yaml:"display_name,omitempty"`
	Icon             string                `yaml:"icon,omitempty"`
	OpenAPIPath      string                `yaml:"openapi,omitempty"`
	Permissions      []manifest.Permission `yaml:"permissions,omitempty"`
	DefaultAuthLevel string                `yaml:"default_auth_level"`
	AuthRules        []manifest.AuthRule   `yaml:"auth_rules,omitempty"`
	Endpoints        []manifest.EndpointDecl `yaml:"endpoints,omitempty"`
	Hostnames        []string              `yaml:"hostnames"`

	// Modules names already-built module directories (the output_dir of a
	// prior `module package` run) to fold into the app package under
	// usr/lib/<module_id>/.
	Modules []struct {
		ModuleID string `yaml:"module_id"`
		Dir      string `yaml:"dir"`
	} `yaml:"modules"`

	WWWDir    string `yaml:"www_dir,omitempty"`
	ShareDir  string `yaml:"share_dir,omitempty"`
	OutputDir string `yaml:"output_dir"`
}

func runModulePackage(manifestPath string) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("reading build manifest: %w", err)
	}
	var m moduleBuildManifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parsing build manifest: %w", err)
	}
	if m.ModuleID == "" || m.WasmFile == "" || m.OutputDir == "" {
		return fmt.Errorf("build manifest: module_id, wasm_file, and output_dir are required")
	}

	base := filepath.Dir(manifestPath)
	if err := os.MkdirAll(m.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	meta := manifest.ModuleMetadata{
		ModuleID:       m.ModuleID,
		WasmFile:       "module.wasm",
		ExportedEvents: m.ExportedEvents,
	}
	if err := writeJSON(filepath.Join(m.OutputDir, "metadata.json"), meta); err != nil {
		return err
	}
	cfg, err := toModuleConfig(m.Config)
	if err != nil {
		return err
	}
	if cfg != nil {
		if err := writeJSON(filepath.Join(m.OutputDir, "config.json"), cfg); err != nil {
			return err
		}
	}
	if err := copyFile(resolvePath(base, m.WasmFile), filepath.Join(m.OutputDir, meta.WasmFile)); err != nil {
		return fmt.Errorf("copying wasm file: %w", err)
	}
	if m.SignatureFile != "" {
		if err := copyFile(resolvePath(base, m.SignatureFile), filepath.Join(m.OutputDir, "signature.sig")); err != nil {
			return fmt.Errorf("copying signature file: %w", err)
		}
	}

	fmt.Printf("module %q packaged into %s\n", m.ModuleID, m.OutputDir)
	return nil
}

func runAppPackage(manifestPath string) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("reading build manifest: %w", err)
	}
	var a appBuildManifest
	if err := yaml.Unmarshal(raw, &a); err != nil {
		return fmt.Errorf("parsing build manifest: %w", err)
	}
	if a.AppName == "" || a.Version == "" || a.OutputDir == "" {
		return fmt.Errorf("build manifest: app_name, version, and output_dir are required")
	}

	base := filepath.Dir(manifestPath)

	meta := manifest.AppMetadata{
		AppName:     a.AppName,
		Version:     a.Version,
		DisplayName: a.DisplayName,
		Icon:        a.Icon,
		OpenAPIPath: a.OpenAPIPath,
		Permissions: a.Permissions,
	}
	app := manifest.AppManifest{
		DefaultAuthLevel: a.DefaultAuthLevel,
		AuthRules:        a.AuthRules,
		Endpoints:        a.Endpoints,
		Hostnames:        a.Hostnames,
	}
	for _, m := range a.Modules {
		app.Modules = append(app.Modules, manifest.ModuleDecl{ModuleID: m.ModuleID, Dir: filepath.Join("usr/lib", m.ModuleID)})
	}

	if err := os.MkdirAll(a.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := writeJSON(filepath.Join(a.OutputDir, "metadata.json"), meta); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(a.OutputDir, "manifest_app.json"), app); err != nil {
		return err
	}

	for _, m := range a.Modules {
		dst := filepath.Join(a.OutputDir, "usr/lib", m.ModuleID)
		if err := copyDir(resolvePath(base, m.Dir), dst); err != nil {
			return fmt.Errorf("copying module %q: %w", m.ModuleID, err)
		}
	}
	if a.WWWDir != "" {
		if err := copyDir(resolvePath(base, a.WWWDir), filepath.Join(a.OutputDir, "srv/www")); err != nil {
			return fmt.Errorf("copying www dir: %w", err)
		}
	}
	if a.ShareDir != "" {
		if err := copyDir(resolvePath(base, a.ShareDir), filepath.Join(a.OutputDir, "srv/share")); err != nil {
			return fmt.Errorf("copying share dir: %w", err)
		}
	}

	fmt.Printf("app %q packaged into %s\n", a.AppName, a.OutputDir)
	return nil
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}
