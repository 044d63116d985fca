package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/ledger"
	"github.com/ignite/campaign-engine/internal/service/metrics"
)

// CampaignService is the draft CRUD surface of campaign.Service.
type CampaignService interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Create(ctx context.Context, input campaign.CreateInput) (*domain.Campaign, error)
	Update(ctx context.Context, id string, u campaign.UpdateFields) (*domain.Campaign, error)
}

// Dispatcher runs and resumes dispatches. dispatch.Scheduler satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, campaignID string, mode domain.DispatchMode) (*domain.DispatchResult, error)
	Resume(ctx context.Context, campaignID string) (*domain.DispatchResult, error)
}

// EventReader reads the campaign event ledger.
type EventReader interface {
	Query(ctx context.Context, f ledger.Filter) ([]domain.CampaignEvent, error)
}

// Analytics is the metrics aggregator. metrics.Service satisfies it.
type Analytics interface {
	CampaignMetrics(ctx context.Context, start, end time.Time) (*metrics.CampaignMetrics, error)
	ContactGrowth(ctx context.Context, months int) ([]metrics.GrowthPoint, error)
	EngagementStats(ctx context.Context) (*metrics.EngagementStats, error)
	TagAnalytics(ctx context.Context) ([]metrics.TagCount, error)
	TopCampaigns(ctx context.Context, limit int) ([]metrics.CampaignPerformance, error)
	BounceAnalysis(ctx context.Context) ([]metrics.BounceReason, error)
	CompareCampaigns(ctx context.Context, ids []string) ([]metrics.CampaignPerformance, error)
}

// Handlers contains the HTTP handlers of the API server.
type Handlers struct {
	campaigns  CampaignService
	dispatcher Dispatcher
	events     EventReader
	analytics  Analytics
	now        func() time.Time

	// lifetime bounds dispatches instead of the request context.
	lifetime context.Context
}

// NewHandlers creates the handler set.
func NewHandlers(campaigns CampaignService, dispatcher Dispatcher, events EventReader, analytics Analytics) *Handlers {
	return &Handlers{
		campaigns:  campaigns,
		dispatcher: dispatcher,
		events:     events,
		analytics:  analytics,
		now:        time.Now,
	}
}

// SetLifetime ties running dispatches to ctx. A dispatch outlives the
// request that started it; cancelling ctx at shutdown stops it at its next
// send, leaving the checkpoint for the recovery worker.
func (h *Handlers) SetLifetime(ctx context.Context) {
	h.lifetime = ctx
}

// dispatchContext detaches r's values from its cancellation and binds them
// to the server lifetime instead.
func (h *Handlers) dispatchContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	if h.lifetime == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(h.lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
