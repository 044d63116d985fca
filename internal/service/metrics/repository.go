package metrics

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/ledger"
)

// Store is the read model the aggregator queries. Implementations push the
// sums down to the database where they can.
type Store interface {
	// SumCampaigns totals campaigns in status whose sent_at is in [from, to).
	SumCampaigns(ctx context.Context, status domain.CampaignStatus, from, to time.Time) (CampaignTotals, error)

	// RecentCampaigns returns up to limit campaigns in status, newest
	// sent_at first.
	RecentCampaigns(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error)

	// CampaignsByID returns the campaigns that exist among ids, any order.
	CampaignsByID(ctx context.Context, ids []string) ([]domain.Campaign, error)

	// CountContactsCreated counts contacts with created_at in [from, to).
	// A zero from means no lower bound.
	CountContactsCreated(ctx context.Context, from, to time.Time) (int, error)

	ContactBreakdown(ctx context.Context) (ContactBreakdown, error)
	TagCounts(ctx context.Context) (map[string]int, error)
	CountUnsubscribes(ctx context.Context) (int, error)
}

// EventReader is the ledger read side.
type EventReader interface {
	Query(ctx context.Context, f ledger.Filter) ([]domain.CampaignEvent, error)
}
