package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedirectGuardAllowsListedHost(t *testing.T) {
	rr := httptest.NewRecorder()
	g := &redirectGuard{ResponseWriter: rr, allowedHosts: []string{"trusted.example"}}
	g.Header().Set("Location", "https://trusted.example/next")
	g.WriteHeader(http.StatusFound)

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "https://trusted.example/next", rr.Header().Get("Location"))
}

func TestRedirectGuardBlocksUnlistedHost(t *testing.T) {
	rr := httptest.NewRecorder()
	g := &redirectGuard{ResponseWriter: rr, allowedHosts: []string{"trusted.example"}}
	g.Header().Set("Location", "https://evil.example/steal")
	g.WriteHeader(http.StatusFound)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Empty(t, rr.Header().Get("Location"))
}

func TestRedirectGuardAllowsEverythingWithNoConfiguredAllowlist(t *testing.T) {
	rr := httptest.NewRecorder()
	g := &redirectGuard{ResponseWriter: rr}
	g.Header().Set("Location", "https://anywhere.example/")
	g.WriteHeader(http.StatusFound)

	assert.Equal(t, http.StatusFound, rr.Code)
}

func TestRedirectGuardChecksPathPrefixForRelativeRedirect(t *testing.T) {
	rr := httptest.NewRecorder()
	g := &redirectGuard{ResponseWriter: rr, allowedPathPrefixes: []string{"/app/"}}
	g.Header().Set("Location", "/other/page")
	g.WriteHeader(http.StatusFound)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestRedirectGuardPassesThroughNonRedirectStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	g := &redirectGuard{ResponseWriter: rr, allowedHosts: []string{"trusted.example"}}
	g.WriteHeader(http.StatusOK)

	assert.Equal(t, http.StatusOK, rr.Code)
}
