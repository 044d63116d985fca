package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/ledger"
)

type sliceStore struct {
	mu     sync.Mutex
	events []domain.CampaignEvent
}

func (s *sliceStore) Append(_ context.Context, e *domain.CampaignEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

func (s *sliceStore) Query(_ context.Context, f ledger.Filter) ([]domain.CampaignEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CampaignEvent
	for i := range s.events {
		if f.Matches(&s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func TestRecord_StampsIDAndTimestamp(t *testing.T) {
	store := &sliceStore{}
	l := ledger.New(store)

	e := &domain.CampaignEvent{CampaignID: "c1", ContactID: strPtr("k1"), ContactEmail: "a@example.com", EventType: domain.EventSent}
	require.NoError(t, l.Record(context.Background(), e))

	require.Len(t, store.events, 1)
	assert.NotEmpty(t, store.events[0].ID)
	assert.False(t, store.events[0].EventTimestamp.IsZero())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		e    *domain.CampaignEvent
		ok   bool
	}{
		{"sent", &domain.CampaignEvent{CampaignID: "c", ContactEmail: "a@x.io", EventType: domain.EventSent}, true},
		{"bounced with details", &domain.CampaignEvent{CampaignID: "c", ContactEmail: "a@x.io", EventType: domain.EventBounced, BounceType: domain.BounceHard, BounceReason: "550"}, true},
		{"test send without contact", &domain.CampaignEvent{CampaignID: "c", ContactEmail: "a@x.io", EventType: domain.EventTestSent}, true},
		{"nil", nil, false},
		{"missing campaign", &domain.CampaignEvent{ContactEmail: "a@x.io", EventType: domain.EventSent}, false},
		{"missing email", &domain.CampaignEvent{CampaignID: "c", EventType: domain.EventSent}, false},
		{"unknown type", &domain.CampaignEvent{CampaignID: "c", ContactEmail: "a@x.io", EventType: "opened"}, false},
		{"bounce fields on failed", &domain.CampaignEvent{CampaignID: "c", ContactEmail: "a@x.io", EventType: domain.EventFailed, BounceReason: "x"}, false},
		{"test send with contact", &domain.CampaignEvent{CampaignID: "c", ContactID: strPtr("k"), ContactEmail: "a@x.io", EventType: domain.EventTestSent}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ledger.Validate(tt.e)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ledger.ErrInvalidEvent)
			}
		})
	}
}

func TestFilterMatches(t *testing.T) {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	e := &domain.CampaignEvent{CampaignID: "c1", EventType: domain.EventBounced, EventTimestamp: base}

	since := base.Add(-time.Hour)
	until := base
	assert.True(t, ledger.Filter{CampaignID: "c1", EventTypes: []domain.EventType{domain.EventBounced}, Since: &since}.Matches(e))
	assert.False(t, ledger.Filter{CampaignID: "c2"}.Matches(e))
	assert.False(t, ledger.Filter{EventTypes: []domain.EventType{domain.EventSent}}.Matches(e))
	assert.False(t, ledger.Filter{Until: &until}.Matches(e), "until is exclusive")
}

func TestRecord_RejectsInvalid(t *testing.T) {
	store := &sliceStore{}
	err := ledger.New(store).Record(context.Background(), &domain.CampaignEvent{EventType: domain.EventSent})
	assert.ErrorIs(t, err, ledger.ErrInvalidEvent)
	assert.Empty(t, store.events)
}
