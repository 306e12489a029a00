// Package localtime implements the localtime HRE named in spec §6, a small
// capability provider rounding out the HRE set.
package localtime

import (
	"context"
	"time"

	"github.com/hermes-engine/hermes/internal/hre"
)

// Provider exposes the engine process's wall clock to modules.
type Provider struct{}

var _ hre.LocaltimeProvider = Provider{}

// New builds a localtime Provider.
func New() Provider { return Provider{} }

// Now returns the current time as unix milliseconds.
func (Provider) Now(ctx context.Context) int64 {
	return time.Now().UnixMilli()
}
