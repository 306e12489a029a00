package gateway

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hermes-engine/hermes/internal/manifest"
)

// CredentialValidator authenticates the bearer credential on a request,
// returning the subject identity on success. Pluggable per spec §4.6; the
// default implementation validates a JWT.
type CredentialValidator interface {
	Validate(ctx context.Context, token string) (subject string, err error)
}

// JWTValidator is the default CredentialValidator, grounded on
// cmd/gateway/main.go's Claims/jwtSecret handling.
type JWTValidator struct {
	Secret []byte
}

type claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// Validate parses and verifies token against Secret using HMAC.
func (v *JWTValidator) Validate(ctx context.Context, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", err
	}
	c := parsed.Claims.(*claims)
	return c.Subject, nil
}

// compiledRule is an AuthRule with its path_regex precompiled.
type compiledRule struct {
	re     *regexp.Regexp
	method string
	level  string
}

func compileAuthRules(rules []manifest.AuthRule, defaultLevel string) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.PathRegex)
		if err != nil {
			return nil, err
		}
		out = append(out, compiledRule{re: re, method: r.Method, level: r.AuthLevel})
	}
	return out, nil
}

// authLevelFor returns the first matching rule's level, or the app's
// default_auth_level when nothing matches.
func authLevelFor(rules []compiledRule, defaultLevel, method, path string) string {
	for _, r := range rules {
		if r.method != "" && !strings.EqualFold(r.method, method) {
			continue
		}
		if r.re.MatchString(path) {
			return r.level
		}
	}
	if defaultLevel == "" {
		return "none"
	}
	return defaultLevel
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}
