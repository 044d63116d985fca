// Package sending defines the provider port used by campaign dispatch.
//
// A Provider delivers one fully rendered message and reports a tagged
// Outcome instead of an error, so callers never have to parse provider
// error strings. ClassifyError remains for adapters that only surface a raw
// error.
package sending

import (
	"context"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Provider sends a single email. Implementations must be safe for
// concurrent use.
type Provider interface {
	Send(ctx context.Context, msg *domain.EmailMessage) Outcome
	Type() domain.ESPType
}

// Configurable is implemented by providers that can exist without usable
// credentials. Dispatch refuses to start when Configured returns false.
type Configurable interface {
	Configured() bool
}

// IsConfigured reports whether p can be used for sending.
func IsConfigured(p Provider) bool {
	if p == nil {
		return false
	}
	if c, ok := p.(Configurable); ok {
		return c.Configured()
	}
	return true
}
