package campaign

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign and returns its ID.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// Update modifies a draft campaign. Only non-nil fields are applied.
	// Returns ErrNotEditable if the campaign left draft.
	Update(ctx context.Context, id string, u UpdateFields) error

	// BeginSending atomically moves a draft to sending and stores the
	// recipient count. Returns ErrInvalidTransition if the campaign was not
	// a draft at the time of the write.
	BeginSending(ctx context.Context, id string, totalRecipients int, sentBy string) error

	// Finalize atomically moves a sending campaign to its terminal status
	// and writes the final counters in the same statement.
	Finalize(ctx context.Context, id string, f Finalization) error

	// RecordTestSend stamps test_sent_to and test_sent_at only.
	RecordTestSend(ctx context.Context, id, email string, at time.Time) error
}

// CheckpointStore persists dispatch progress between batches.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *domain.DispatchCheckpoint) error

	// GetCheckpoint returns nil, nil when the campaign has none.
	GetCheckpoint(ctx context.Context, campaignID string) (*domain.DispatchCheckpoint, error)

	// ListStuck returns sending campaigns whose latest progress (checkpoint
	// or, lacking one, the campaign row) is older than staleBefore.
	ListStuck(ctx context.Context, staleBefore time.Time) ([]domain.StuckDispatch, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name                    *string                `json:"name"`
	Subject                 *string                `json:"subject"`
	MessageBody             *string                `json:"message_body"`
	AudienceFilter          *domain.AudienceFilter `json:"audience_filter"`
	TargetTag               *string                `json:"target_tag"`
	FooterIncluded          *bool                  `json:"footer_included"`
	UnsubscribeLinkIncluded *bool                  `json:"unsubscribe_link_included"`
}

// Finalization is the single write that closes a live dispatch.
type Finalization struct {
	Status       domain.CampaignStatus
	TotalSent    int
	TotalBounced int
	SentAt       time.Time
}
