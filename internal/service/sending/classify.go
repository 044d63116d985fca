package sending

import (
	"errors"
	"strings"
	"time"
)

// ProviderError is the raw error shape some providers return: a message and
// an optional SMTP/HTTP-like status code.
type ProviderError struct {
	Message    string
	StatusCode int
}

func (e *ProviderError) Error() string { return e.Message }

// Status codes with fixed meaning for classification.
const (
	StatusMailboxUnavailable = 550
	StatusTooManyRequests    = 429
)

// ClassifyError maps a raw provider error onto an Outcome. A message
// containing the lowercase word "bounce" or status 550 is a bounce, 429 is
// a rate limit, and everything else is transient. The match is
// case-sensitive.
func ClassifyError(err error) Outcome {
	if err == nil {
		return Sent("")
	}
	var pe *ProviderError
	code := 0
	msg := err.Error()
	if errors.As(err, &pe) {
		code = pe.StatusCode
		msg = pe.Message
	}

	switch {
	case code == StatusTooManyRequests:
		return RateLimited(time.Second).WithStatus(code, "")
	case code == StatusMailboxUnavailable || strings.Contains(msg, "bounce"):
		return Bounced(msg).WithStatus(code, "")
	default:
		return Transient(msg).WithStatus(code, "")
	}
}
