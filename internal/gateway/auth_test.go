package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermes-engine/hermes/internal/manifest"
)

func TestCompileAuthRulesRejectsBadRegex(t *testing.T) {
	_, err := compileAuthRules([]manifest.AuthRule{{PathRegex: "(", AuthLevel: "required"}}, "none")
	assert.Error(t, err)
}

func TestAuthLevelForMatchesFirstRule(t *testing.T) {
	rules, err := compileAuthRules([]manifest.AuthRule{
		{PathRegex: "^/api/admin", Method: "", AuthLevel: "required"},
		{PathRegex: "^/api/", Method: "", AuthLevel: "optional"},
	}, "none")
	require.NoError(t, err)

	assert.Equal(t, "required", authLevelFor(rules, "none", http.MethodGet, "/api/admin/users"))
	assert.Equal(t, "optional", authLevelFor(rules, "none", http.MethodGet, "/api/echo"))
	assert.Equal(t, "none", authLevelFor(rules, "none", http.MethodGet, "/www/index.html"))
}

func TestAuthLevelForHonorsMethodGuard(t *testing.T) {
	rules, err := compileAuthRules([]manifest.AuthRule{
		{PathRegex: "^/api/echo", Method: http.MethodPost, AuthLevel: "required"},
	}, "none")
	require.NoError(t, err)

	assert.Equal(t, "required", authLevelFor(rules, "none", http.MethodPost, "/api/echo"))
	assert.Equal(t, "none", authLevelFor(rules, "none", http.MethodGet, "/api/echo"))
}

func TestBearerTokenExtractsCredential(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", bearerToken(r))
}

func TestBearerTokenEmptyWithoutHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(r))
}

func TestJWTValidatorRejectsGarbageToken(t *testing.T) {
	v := &JWTValidator{Secret: []byte("0123456789abcdef0123456789abcdef")}
	_, err := v.Validate(nil, "not-a-jwt")
	assert.Error(t, err)
}
