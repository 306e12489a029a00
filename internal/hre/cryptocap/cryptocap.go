// Package cryptocap implements the crypto HRE named in spec §6: a small
// capability provider exposing hashing and randomness to modules, without
// exposing key management (out of scope per spec §1).
package cryptocap

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/hermes-engine/hermes/internal/hre"
)

// Provider implements hre.CryptoProvider over the standard library's
// crypto primitives.
type Provider struct{}

var _ hre.CryptoProvider = Provider{}

// New builds a crypto Provider.
func New() Provider { return Provider{} }

// Sha256 returns the sha256 digest of data.
func (Provider) Sha256(ctx context.Context, data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// RandomBytes returns n cryptographically random bytes.
func (Provider) RandomBytes(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return buf, nil
}
