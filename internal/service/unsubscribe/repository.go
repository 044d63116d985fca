package unsubscribe

import (
	"context"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/ledger"
)

// Repository defines the data access contract for opt-outs.
type Repository interface {
	// Record stores the opt-out, clears email_consent on every contact with
	// the address and bumps the campaign's total_unsubscribed as one unit of
	// work: either all three land or none does. It returns how many contacts
	// lost consent. Returns ErrAlreadyUnsubscribed if the (campaign, email)
	// pair was recorded before and ErrUnknownCampaign if the campaign does
	// not exist.
	Record(ctx context.Context, u *domain.Unsubscribe) (int, error)

	// RevokeConsent clears email_consent on every contact with this
	// address and returns how many rows changed.
	RevokeConsent(ctx context.Context, email string) (int, error)

	// Count returns the total number of recorded opt-outs.
	Count(ctx context.Context) (int, error)
}

// EventLedger appends to and reads the ledger.
type EventLedger interface {
	Record(ctx context.Context, e *domain.CampaignEvent) error
	Query(ctx context.Context, f ledger.Filter) ([]domain.CampaignEvent, error)
}
