package dispatch

import "errors"

// Sentinel errors returned by Scheduler. Handlers map them to HTTP statuses.
var (
	ErrValidation            = errors.New("invalid dispatch request")
	ErrNotFound              = errors.New("campaign not found")
	ErrProviderNotConfigured = errors.New("email provider is not configured")
	ErrAlreadyDispatched     = errors.New("campaign has already been dispatched")
	ErrNotResumable          = errors.New("campaign has no dispatch in progress")
)
