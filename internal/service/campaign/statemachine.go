package campaign

import (
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
)

var transitions = map[domain.CampaignStatus][]domain.CampaignStatus{
	domain.CampaignDraft:   {domain.CampaignSending},
	domain.CampaignSending: {domain.CampaignCompleted, domain.CampaignFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to domain.CampaignStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition for an illegal move.
func CheckTransition(from, to domain.CampaignStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// FinalStatus is completed when anything was sent and failed otherwise.
func FinalStatus(sent int) domain.CampaignStatus {
	if sent > 0 {
		return domain.CampaignCompleted
	}
	return domain.CampaignFailed
}
