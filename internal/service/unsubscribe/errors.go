package unsubscribe

import (
	"errors"
	"fmt"
)

// Sentinel errors for the unsubscribe service layer.
var (
	ErrAlreadyUnsubscribed = errors.New("email already unsubscribed from campaign")
	ErrInvalidRequest      = errors.New("invalid unsubscribe request")

	// ErrUnknownCampaign is an ErrInvalidRequest: redelivering it cannot help.
	ErrUnknownCampaign = fmt.Errorf("%w: unknown campaign", ErrInvalidRequest)
)
