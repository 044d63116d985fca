package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotEditable       = errors.New("campaign is not a draft")
	ErrInvalidCampaign   = errors.New("invalid campaign")
)
