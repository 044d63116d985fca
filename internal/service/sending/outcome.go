package sending

import (
	"fmt"
	"time"
)

// OutcomeKind tags the result of one provider call.
type OutcomeKind string

const (
	KindSent             OutcomeKind = "sent"
	KindBounced          OutcomeKind = "bounced"
	KindRateLimited      OutcomeKind = "rate_limited"
	KindInvalidRecipient OutcomeKind = "invalid_recipient"
	KindTransient        OutcomeKind = "transient"
)

// Outcome is the tagged result of a send. Only the fields relevant to Kind
// are set.
type Outcome struct {
	Kind       OutcomeKind
	MessageID  string
	Reason     string
	RetryAfter time.Duration
	StatusCode int
	Code       string
}

// Sent is a provider-accepted message.
func Sent(messageID string) Outcome {
	return Outcome{Kind: KindSent, MessageID: messageID}
}

// Bounced is a permanent rejection of the recipient address.
func Bounced(reason string) Outcome {
	return Outcome{Kind: KindBounced, Reason: reason}
}

// RateLimited asks the caller to slow down and retry after d.
func RateLimited(d time.Duration) Outcome {
	return Outcome{Kind: KindRateLimited, RetryAfter: d, Reason: "rate limited"}
}

// InvalidRecipient is an address the provider refuses to attempt.
func InvalidRecipient(reason string) Outcome {
	return Outcome{Kind: KindInvalidRecipient, Reason: reason}
}

// Transient is any other failure. It is not retried within a dispatch.
func Transient(detail string) Outcome {
	return Outcome{Kind: KindTransient, Reason: detail}
}

// WithStatus attaches provider diagnostics.
func (o Outcome) WithStatus(statusCode int, code string) Outcome {
	o.StatusCode = statusCode
	o.Code = code
	return o
}

// IsBounce reports whether the outcome is recorded as a bounce.
func (o Outcome) IsBounce() bool {
	return o.Kind == KindBounced || o.Kind == KindInvalidRecipient
}

// Error renders a failed outcome for the per-recipient error list.
func (o Outcome) Error() string {
	switch {
	case o.Kind == KindSent:
		return ""
	case o.Reason != "" && o.StatusCode != 0:
		return fmt.Sprintf("%s (status %d)", o.Reason, o.StatusCode)
	case o.Reason != "":
		return o.Reason
	default:
		return string(o.Kind)
	}
}
