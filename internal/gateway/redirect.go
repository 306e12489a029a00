package gateway

import (
	"net/http"
	"net/url"
	"strings"
)

// redirectGuard wraps an http.ResponseWriter so a module-originated
// redirect (a handler reply carrying a Location header, or a static file
// that is itself a redirect stub) can only point at an allowlisted host
// and path prefix (spec §6 REDIRECT_ALLOWED_HOSTS/
// REDIRECT_ALLOWED_PATH_PREFIXES). A disallowed redirect is rewritten to
// 502 rather than forwarded to the client.
type redirectGuard struct {
	http.ResponseWriter
	allowedHosts        []string
	allowedPathPrefixes []string
	blocked             bool
}

func (g *redirectGuard) WriteHeader(code int) {
	if code >= 300 && code < 400 {
		loc := g.Header().Get("Location")
		if loc != "" && !g.locationAllowed(loc) {
			g.Header().Del("Location")
			g.blocked = true
			g.ResponseWriter.WriteHeader(http.StatusBadGateway)
			return
		}
	}
	g.ResponseWriter.WriteHeader(code)
}

func (g *redirectGuard) Write(b []byte) (int, error) {
	if g.blocked {
		return len(b), nil
	}
	return g.ResponseWriter.Write(b)
}

func (g *redirectGuard) locationAllowed(loc string) bool {
	if len(g.allowedHosts) == 0 && len(g.allowedPathPrefixes) == 0 {
		return true
	}

	u, err := url.Parse(loc)
	if err != nil {
		return false
	}

	if u.Host == "" {
		// Relative redirect: only the path-prefix allowlist applies.
		return matchesAnyPrefix(u.Path, g.allowedPathPrefixes)
	}

	if !containsString(g.allowedHosts, u.Hostname()) {
		return false
	}
	if len(g.allowedPathPrefixes) > 0 && !matchesAnyPrefix(u.Path, g.allowedPathPrefixes) {
		return false
	}
	return true
}

func matchesAnyPrefix(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
