// Package memory is a process-local implementation of every repository
// port. It backs local development (no DATABASE_URL) and service tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/audience"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/ledger"
	"github.com/ignite/campaign-engine/internal/service/metrics"
	"github.com/ignite/campaign-engine/internal/service/unsubscribe"
)

// Store holds campaigns, contacts, checkpoints, ledger rows and opt-outs.
// All methods are safe for concurrent use and return copies.
type Store struct {
	mu          sync.RWMutex
	campaigns   map[string]*domain.Campaign
	contacts    []domain.Contact
	checkpoints map[string]domain.DispatchCheckpoint
	events      []domain.CampaignEvent
	eventIDs    map[string]bool
	unsubs      map[string]domain.Unsubscribe // keyed by "campaignID:email"
	writes      map[string]int
	now         func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		campaigns:   make(map[string]*domain.Campaign),
		checkpoints: make(map[string]domain.DispatchCheckpoint),
		eventIDs:    make(map[string]bool),
		unsubs:      make(map[string]domain.Unsubscribe),
		writes:      make(map[string]int),
		now:         time.Now,
	}
}

var (
	_ campaign.Repository      = (*Store)(nil)
	_ campaign.CheckpointStore = (*Store)(nil)
	_ audience.Directory       = (*Store)(nil)
	_ ledger.Store             = (*Store)(nil)
	_ metrics.Store            = (*Store)(nil)
	_ unsubscribe.Repository   = (*Store)(nil)
)

// --- campaigns ---

func (s *Store) Get(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	total := len(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, total, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (s *Store) Create(_ context.Context, c *domain.Campaign) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if _, exists := s.campaigns[cp.ID]; exists {
		return "", errors.New("campaign id already exists")
	}
	if cp.Status == "" {
		cp.Status = domain.CampaignDraft
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
		cp.UpdatedAt = cp.CreatedAt
	}
	s.campaigns[cp.ID] = &cp
	return cp.ID, nil
}

func (s *Store) Update(_ context.Context, id string, u campaign.UpdateFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft {
		return campaign.ErrNotEditable
	}
	campaign.ApplyUpdate(c, u)
	c.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) BeginSending(_ context.Context, id string, totalRecipients int, sentBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft {
		return campaign.ErrInvalidTransition
	}
	c.Status = domain.CampaignSending
	c.TotalRecipients = totalRecipients
	c.SentBy = sentBy
	c.UpdatedAt = s.now().UTC()
	s.writes[id]++
	return nil
}

func (s *Store) Finalize(_ context.Context, id string, f campaign.Finalization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != domain.CampaignSending {
		return campaign.ErrInvalidTransition
	}
	sentAt := f.SentAt
	c.Status = f.Status
	c.TotalSent = f.TotalSent
	c.TotalBounced = f.TotalBounced
	c.SentAt = &sentAt
	c.UpdatedAt = s.now().UTC()
	s.writes[id]++
	return nil
}

func (s *Store) RecordTestSend(_ context.Context, id, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.TestSentTo = email
	c.TestSentAt = &at
	return nil
}

// Writes returns how many status/counter writes a campaign has received.
func (s *Store) Writes(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[id]
}

// --- checkpoints ---

func (s *Store) SaveCheckpoint(_ context.Context, cp *domain.DispatchCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := *cp
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = s.now().UTC()
	}
	s.checkpoints[cp.CampaignID] = v
	return nil
}

func (s *Store) GetCheckpoint(_ context.Context, campaignID string) (*domain.DispatchCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[campaignID]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (s *Store) ListStuck(_ context.Context, staleBefore time.Time) ([]domain.StuckDispatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.StuckDispatch
	for id, c := range s.campaigns {
		if c.Status != domain.CampaignSending {
			continue
		}
		last := c.UpdatedAt
		var cpp *domain.DispatchCheckpoint
		if cp, ok := s.checkpoints[id]; ok {
			cp := cp
			cpp = &cp
			last = cp.UpdatedAt
		}
		if last.Before(staleBefore) {
			out = append(out, domain.StuckDispatch{CampaignID: id, Checkpoint: cpp})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CampaignID < out[j].CampaignID })
	return out, nil
}

// --- contacts ---

// AddContact inserts a contact, assigning an id and creation time when
// missing.
func (s *Store) AddContact(c domain.Contact) domain.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	c.Tags = append([]string(nil), c.Tags...)
	s.contacts = append(s.contacts, c)
	return c
}

func (s *Store) ListContacts(_ context.Context, q audience.ContactQuery) ([]domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Contact
	for i := range s.contacts {
		c := s.contacts[i]
		if q.Tag != "" && !c.HasTag(q.Tag) {
			continue
		}
		c.Tags = append([]string(nil), c.Tags...)
		out = append(out, c)
	}
	return out, nil
}

// --- ledger ---

func (s *Store) Append(_ context.Context, e *domain.CampaignEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventIDs[e.ID] {
		return errors.New("event already recorded")
	}
	s.eventIDs[e.ID] = true
	s.events = append(s.events, *e)
	return nil
}

func (s *Store) Query(_ context.Context, f ledger.Filter) ([]domain.CampaignEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CampaignEvent
	for i := range s.events {
		if !f.Matches(&s.events[i]) {
			continue
		}
		out = append(out, s.events[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EventTimestamp.Before(out[j].EventTimestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Events returns every ledger row in append order.
func (s *Store) Events() []domain.CampaignEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.CampaignEvent(nil), s.events...)
}

// --- unsubscribes ---

func (s *Store) Record(_ context.Context, u *domain.Unsubscribe) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[u.CampaignID]
	if !ok {
		return 0, unsubscribe.ErrUnknownCampaign
	}
	k := u.CampaignID + ":" + u.Email
	if _, exists := s.unsubs[k]; exists {
		return 0, unsubscribe.ErrAlreadyUnsubscribed
	}
	s.unsubs[k] = *u
	c.TotalUnsubscribed++
	return s.revokeLocked(u.Email), nil
}

func (s *Store) RevokeConsent(_ context.Context, email string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeLocked(email), nil
}

func (s *Store) revokeLocked(email string) int {
	n := 0
	for i := range s.contacts {
		if s.contacts[i].EmailConsent && strings.EqualFold(s.contacts[i].Email, email) {
			s.contacts[i].EmailConsent = false
			n++
		}
	}
	return n
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.unsubs), nil
}

// --- metrics ---

func (s *Store) SumCampaigns(_ context.Context, status domain.CampaignStatus, from, to time.Time) (metrics.CampaignTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t metrics.CampaignTotals
	for _, c := range s.campaigns {
		if c.Status != status || c.SentAt == nil || c.SentAt.Before(from) || !c.SentAt.Before(to) {
			continue
		}
		t.Campaigns++
		t.Recipients += c.TotalRecipients
		t.Sent += c.TotalSent
		t.Bounced += c.TotalBounced
		t.Unsubscribed += c.TotalUnsubscribed
	}
	return t, nil
}

func (s *Store) RecentCampaigns(_ context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status == status && c.SentAt != nil {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(*out[j].SentAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CampaignsByID(_ context.Context, ids []string) ([]domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Campaign
	for _, id := range ids {
		if c, ok := s.campaigns[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *Store) CountContactsCreated(_ context.Context, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.contacts {
		if (from.IsZero() || !c.CreatedAt.Before(from)) && c.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ContactBreakdown(context.Context) (metrics.ContactBreakdown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b metrics.ContactBreakdown
	for i := range s.contacts {
		switch c := &s.contacts[i]; {
		case c.Reachable():
			b.ActiveConsented++
		case c.IsActive:
			b.ActiveNotConsented++
		default:
			b.Inactive++
		}
	}
	return b, nil
}

func (s *Store) TagCounts(context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, c := range s.contacts {
		for _, t := range c.Tags {
			out[t]++
		}
	}
	return out, nil
}

func (s *Store) CountUnsubscribes(ctx context.Context) (int, error) {
	return s.Count(ctx)
}
