// Package manifest parses the package/module descriptors named in spec §6
// (metadata.json, manifest_app.json, per-module metadata.json/config.json)
// and walks an opened package handle into a Package value. Grounded on the
// teacher's system/runtime/package.go PackageManifest/ServiceDeclaration
// shape, generalized from "service declarations" to "module declarations".
package manifest

import (
	"encoding/json"
	"fmt"
	"io/fs"
)

// AppMetadata is the parsed contents of a package's top-level metadata.json:
// identity, version, required permissions, and optional presentation
// extras.
type AppMetadata struct {
	AppName     string            `json:"app_name" yaml:"app_name"`
	Version     string            `json:"version" yaml:"version"`
	DisplayName string            `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Icon        string            `json:"icon,omitempty" yaml:"icon,omitempty"`
	OpenAPIPath string            `json:"openapi,omitempty" yaml:"openapi,omitempty"`
	Permissions []Permission      `json:"permissions" yaml:"permissions"`
	Extra       map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Permission is one capability a package declares it needs; with
// --untrusted set, the permgate wrappers around the Cron, KV and SQLite
// providers consult it on every host call.
type Permission struct {
	Capability string `json:"capability" yaml:"capability"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// AuthRule is one entry of the per-app regex rule table (spec §4.6/§6).
type AuthRule struct {
	PathRegex string `json:"path_regex" yaml:"path_regex"`
	Method    string `json:"method" yaml:"method"` // "" matches any method
	AuthLevel string `json:"auth_level" yaml:"auth_level"` // required|optional|none
}

// EndpointDecl names a path the gateway should treat as an API endpoint
// (converted to an HTTP event) rather than static content.
type EndpointDecl struct {
	PathPrefix string `json:"path_prefix" yaml:"path_prefix"`
}

// AppManifest is manifest_app.json: module list, default auth level, and
// the endpoint/static split the gateway needs.
type AppManifest struct {
	Modules          []ModuleDecl   `json:"modules" yaml:"modules"`
	DefaultAuthLevel string         `json:"default_auth_level" yaml:"default_auth_level"`
	AuthRules        []AuthRule     `json:"auth_rules,omitempty" yaml:"auth_rules,omitempty"`
	Endpoints        []EndpointDecl `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Hostnames        []string       `json:"hostnames" yaml:"hostnames"`
}

// ModuleDecl references one module subpackage by its directory name inside
// the package handle.
type ModuleDecl struct {
	ModuleID string `json:"module_id" yaml:"module_id"`
	Dir      string `json:"dir" yaml:"dir"`
}

// ModuleMetadata is a module subpackage's own metadata.json: which events it
// handles and where its wasm binary lives relative to the module directory.
type ModuleMetadata struct {
	ModuleID       string   `json:"module_id" yaml:"module_id"`
	WasmFile       string   `json:"wasm_file" yaml:"wasm_file"`
	ExportedEvents []string `json:"exported_events" yaml:"exported_events"`
}

// ModuleConfig is a module's optional config.json payload, passed through
// to the executor as module-local configuration (spec §3 "Module").
type ModuleConfig map[string]json.RawMessage

// Module is one fully-parsed module subpackage: metadata, optional config,
// the raw wasm bytes, and any author signature blob found alongside it.
// Signature content is opaque to the core (spec §1/§6).
type Module struct {
	Metadata  ModuleMetadata
	Config    ModuleConfig
	Wasm      []byte
	Signature []byte
}

// Package is the fully-parsed result of OpenPackage: app identity, the
// module set, and the three static overlays spec §6 names.
type Package struct {
	Meta    AppMetadata
	App     AppManifest
	Modules map[string]*Module // keyed by ModuleID

	// WWWRoot, ShareRoot, and LibRoot name the paths inside the handle that
	// back the VFS's www/, share/, and usr/lib/<module>/ mounts. A Package
	// does not read these eagerly; the VFS opens them lazily against the
	// same handle.
	WWWRoot   string
	ShareRoot string
	LibRoot   string
}

// PackageHandle is the opaque, already-opened package container the core
// receives (spec §6 — "the core consumes an opaque handle to this;
// verification is external"). An io/fs.FS shape lets tests substitute
// fstest.MapFS or an in-memory zip without involving the real on-disk
// package format.
type PackageHandle interface {
	fs.FS
}

const (
	metadataFile    = "metadata.json"
	manifestAppFile = "manifest_app.json"
	configFile      = "config.json"
	signatureFile   = "signature.sig"
	wwwDir          = "srv/www"
	shareDir        = "srv/share"
	libDirPrefix    = "usr/lib"
)

// OpenPackage enumerates a package handle per spec §4.2's construction step:
// parse metadata.json and manifest_app.json, then each declared module's
// own metadata.json/config.json/wasm file.
func OpenPackage(handle PackageHandle) (*Package, error) {
	meta, err := readJSON[AppMetadata](handle, metadataFile)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", metadataFile, err)
	}

	app, err := readJSON[AppManifest](handle, manifestAppFile)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", manifestAppFile, err)
	}

	pkg := &Package{
		Meta:      meta,
		App:       app,
		Modules:   make(map[string]*Module, len(app.Modules)),
		WWWRoot:   wwwDir,
		ShareRoot: shareDir,
		LibRoot:   libDirPrefix,
	}

	for _, decl := range app.Modules {
		mod, err := openModule(handle, decl)
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", decl.ModuleID, err)
		}
		pkg.Modules[decl.ModuleID] = mod
	}

	if err := pkg.Validate(); err != nil {
		return nil, err
	}

	return pkg, nil
}

func openModule(handle PackageHandle, decl ModuleDecl) (*Module, error) {
	modMeta, err := readJSON[ModuleMetadata](handle, join(decl.Dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("reading metadata.json: %w", err)
	}
	if modMeta.ModuleID == "" {
		modMeta.ModuleID = decl.ModuleID
	}

	wasmPath := join(decl.Dir, modMeta.WasmFile)
	wasm, err := fs.ReadFile(handle, wasmPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", wasmPath, err)
	}

	var cfg ModuleConfig
	if cfgBytes, err := fs.ReadFile(handle, join(decl.Dir, configFile)); err == nil {
		if err := json.Unmarshal(cfgBytes, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config.json: %w", err)
		}
	}

	var sig []byte
	if sigBytes, err := fs.ReadFile(handle, join(decl.Dir, signatureFile)); err == nil {
		sig = sigBytes
	}

	return &Module{Metadata: modMeta, Config: cfg, Wasm: wasm, Signature: sig}, nil
}

// Validate checks the required fields and cross-references a complete
// package needs before the Registry builds prelinked images from it,
// mirroring the teacher's PackageManifest.Validate/CheckPermissions split.
func (p *Package) Validate() error {
	if p.Meta.AppName == "" {
		return fmt.Errorf("metadata.json: app_name is required")
	}
	if p.Meta.Version == "" {
		return fmt.Errorf("metadata.json: version is required")
	}
	if len(p.App.Modules) == 0 {
		return fmt.Errorf("manifest_app.json: at least one module is required")
	}
	for _, decl := range p.App.Modules {
		mod, ok := p.Modules[decl.ModuleID]
		if !ok {
			return fmt.Errorf("manifest_app.json: declared module %q has no parsed module", decl.ModuleID)
		}
		if len(mod.Wasm) == 0 {
			return fmt.Errorf("module %q: wasm_file is empty", decl.ModuleID)
		}
		if len(mod.Metadata.ExportedEvents) == 0 {
			return fmt.Errorf("module %q: declares no exported_events", decl.ModuleID)
		}
	}
	for _, rule := range p.App.AuthRules {
		switch rule.AuthLevel {
		case "required", "optional", "none":
		default:
			return fmt.Errorf("auth rule %q: invalid auth_level %q", rule.PathRegex, rule.AuthLevel)
		}
	}
	return nil
}

// CheckPermission reports whether the package's metadata.json declared the
// given capability.
func (p *Package) CheckPermission(capability string) bool {
	for _, perm := range p.Meta.Permissions {
		if perm.Capability == capability {
			return true
		}
	}
	return false
}

func readJSON[T any](handle PackageHandle, path string) (T, error) {
	var out T
	data, err := fs.ReadFile(handle, path)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parsing %s: %w", path, err)
	}
	return out, nil
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
