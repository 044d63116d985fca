// Package metrics aggregates campaign summaries and the event ledger into
// delivery, growth and engagement analytics. All rates are percentages
// rounded to two decimals and are 0 when the denominator is 0.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/ledger"
)

// ErrValidation is returned for unusable query parameters.
var ErrValidation = errors.New("invalid analytics request")

const (
	recentCampaignWindow = 50
	defaultTopCampaigns  = 5
	topTagLimit          = 10
	defaultGrowthMonths  = 6
	maxGrowthMonths      = 60
	unknownBounceReason  = "Unknown"
)

// Success score weights.
const (
	deliveryWeight    = 0.6
	bounceWeight      = 0.3
	unsubscribeWeight = 0.1
)

// Service computes analytics. It only reads.
type Service struct {
	store  Store
	events EventReader
	now    func() time.Time
}

// NewService creates the aggregator.
func NewService(store Store, events EventReader) *Service {
	return &Service{store: store, events: events, now: time.Now}
}

// CampaignMetrics totals completed campaigns sent in [start, end) and
// compares them with the calendar month before start.
func (s *Service) CampaignMetrics(ctx context.Context, start, end time.Time) (*CampaignMetrics, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrValidation)
	}
	cur, err := s.store.SumCampaigns(ctx, domain.CampaignCompleted, start, end)
	if err != nil {
		return nil, fmt.Errorf("sum campaigns: %w", err)
	}

	prevStart := time.Date(start.Year(), start.Month()-1, 1, 0, 0, 0, 0, start.Location())
	prevEnd := prevStart.AddDate(0, 1, 0)
	prev, err := s.store.SumCampaigns(ctx, domain.CampaignCompleted, prevStart, prevEnd)
	if err != nil {
		return nil, fmt.Errorf("sum previous month: %w", err)
	}

	out := &CampaignMetrics{
		Period:         Period{Start: start, End: end},
		Current:        summarize(cur),
		PreviousPeriod: Period{Start: prevStart, End: prevEnd},
		Previous:       summarize(prev),
	}
	out.Trend = Trend{
		SentChange:            pctChange(prev.Sent, cur.Sent),
		CampaignsChange:       pctChange(prev.Campaigns, cur.Campaigns),
		DeliveryRateChange:    round2(out.Current.DeliveryRate - out.Previous.DeliveryRate),
		BounceRateChange:      round2(out.Current.BounceRate - out.Previous.BounceRate),
		UnsubscribeRateChange: round2(out.Current.UnsubscribeRate - out.Previous.UnsubscribeRate),
	}
	return out, nil
}

// ContactGrowth returns the last months calendar months, oldest first,
// including the current one.
func (s *Service) ContactGrowth(ctx context.Context, months int) ([]GrowthPoint, error) {
	if months <= 0 {
		months = defaultGrowthMonths
	}
	if months > maxGrowthMonths {
		return nil, fmt.Errorf("%w: at most %d months", ErrValidation, maxGrowthMonths)
	}
	now := s.now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	out := make([]GrowthPoint, 0, months)
	for i := months - 1; i >= 0; i-- {
		from := thisMonth.AddDate(0, -i, 0)
		to := from.AddDate(0, 1, 0)
		added, err := s.store.CountContactsCreated(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("count new contacts: %w", err)
		}
		total, err := s.store.CountContactsCreated(ctx, time.Time{}, to)
		if err != nil {
			return nil, fmt.Errorf("count total contacts: %w", err)
		}
		out = append(out, GrowthPoint{Month: from.Format("2006-01"), NewContacts: added, TotalContacts: total})
	}
	return out, nil
}

// EngagementStats breaks contacts down by activity and consent.
func (s *Service) EngagementStats(ctx context.Context) (*EngagementStats, error) {
	b, err := s.store.ContactBreakdown(ctx)
	if err != nil {
		return nil, fmt.Errorf("contact breakdown: %w", err)
	}
	unsub, err := s.store.CountUnsubscribes(ctx)
	if err != nil {
		return nil, fmt.Errorf("count unsubscribes: %w", err)
	}
	total := b.ActiveConsented + b.ActiveNotConsented + b.Inactive
	return &EngagementStats{
		ContactBreakdown: b,
		Total:            total,
		Unsubscribed:     unsub,
		ConsentRate:      round2(domain.Percent(b.ActiveConsented, total)),
	}, nil
}

// TagAnalytics returns the ten most used tags.
func (s *Service) TagAnalytics(ctx context.Context) ([]TagCount, error) {
	counts, err := s.store.TagCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("tag counts: %w", err)
	}
	out := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > topTagLimit {
		out = out[:topTagLimit]
	}
	return out, nil
}

// TopCampaigns ranks the 50 most recently sent campaigns by delivery rate.
func (s *Service) TopCampaigns(ctx context.Context, limit int) ([]CampaignPerformance, error) {
	if limit <= 0 {
		limit = defaultTopCampaigns
	}
	recent, err := s.store.RecentCampaigns(ctx, domain.CampaignCompleted, recentCampaignWindow)
	if err != nil {
		return nil, fmt.Errorf("recent campaigns: %w", err)
	}
	out := make([]CampaignPerformance, len(recent))
	for i := range recent {
		out[i] = performance(&recent[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DeliveryRate > out[j].DeliveryRate })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// BounceAnalysis groups bounce events by reason, most frequent first.
func (s *Service) BounceAnalysis(ctx context.Context) ([]BounceReason, error) {
	events, err := s.events.Query(ctx, ledger.Filter{EventTypes: []domain.EventType{domain.EventBounced}})
	if err != nil {
		return nil, fmt.Errorf("query bounces: %w", err)
	}
	counts := make(map[string]int)
	for _, e := range events {
		reason := e.BounceReason
		if reason == "" {
			reason = unknownBounceReason
		}
		counts[reason]++
	}
	out := make([]BounceReason, 0, len(counts))
	for reason, n := range counts {
		out = append(out, BounceReason{Reason: reason, Count: n, Percentage: round2(domain.Percent(n, len(events)))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	return out, nil
}

// CompareCampaigns scores the given campaigns side by side, in the order
// requested. Unknown ids are skipped.
func (s *Service) CompareCampaigns(ctx context.Context, ids []string) ([]CampaignPerformance, error) {
	seen := make(map[string]bool, len(ids))
	var wanted []string
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			wanted = append(wanted, id)
		}
	}
	if len(wanted) == 0 {
		return nil, fmt.Errorf("%w: at least one campaign id is required", ErrValidation)
	}

	found, err := s.store.CampaignsByID(ctx, wanted)
	if err != nil {
		return nil, fmt.Errorf("load campaigns: %w", err)
	}
	byID := make(map[string]*domain.Campaign, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}

	out := make([]CampaignPerformance, 0, len(wanted))
	for _, id := range wanted {
		c, ok := byID[id]
		if !ok {
			continue
		}
		p := performance(c)
		p.SuccessScore = SuccessScore(p.DeliveryRate, p.BounceRate, p.UnsubscribeRate)
		out = append(out, p)
	}
	return out, nil
}

// SuccessScore weighs delivery, bounce and unsubscribe rates into one
// number out of 100.
func SuccessScore(deliveryRate, bounceRate, unsubscribeRate float64) float64 {
	return round2(deliveryRate*deliveryWeight +
		(100-bounceRate)*bounceWeight +
		(100-unsubscribeRate)*unsubscribeWeight)
}

func performance(c *domain.Campaign) CampaignPerformance {
	return CampaignPerformance{
		ID:                c.ID,
		Name:              c.Name,
		Subject:           c.Subject,
		SentAt:            c.SentAt,
		TotalRecipients:   c.TotalRecipients,
		TotalSent:         c.TotalSent,
		TotalBounced:      c.TotalBounced,
		TotalUnsubscribed: c.TotalUnsubscribed,
		DeliveryRate:      round2(c.DeliveryRate()),
		BounceRate:        round2(c.BounceRate()),
		UnsubscribeRate:   round2(c.UnsubscribeRate()),
	}
}

func summarize(t CampaignTotals) Summary {
	return Summary{
		CampaignTotals:  t,
		Delivered:       t.Sent - t.Bounced,
		DeliveryRate:    round2(domain.Percent(t.Sent-t.Bounced, t.Sent)),
		BounceRate:      round2(domain.Percent(t.Bounced, t.Sent)),
		UnsubscribeRate: round2(domain.Percent(t.Unsubscribed, t.Sent)),
	}
}

func pctChange(prev, cur int) float64 {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return 100
	}
	return round2(float64(cur-prev) / float64(prev) * 100)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
