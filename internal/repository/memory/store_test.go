package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/unsubscribe"
)

func TestStore_BeginSendingIsCompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.Create(ctx, &domain.Campaign{Name: "a", Subject: "s", MessageBody: "b", AudienceFilter: domain.AudienceAll})
	require.NoError(t, err)

	require.NoError(t, s.BeginSending(ctx, id, 10, "me"))
	assert.ErrorIs(t, s.BeginSending(ctx, id, 10, "you"), campaign.ErrInvalidTransition)
	assert.ErrorIs(t, s.Update(ctx, id, campaign.UpdateFields{}), campaign.ErrNotEditable)

	require.NoError(t, s.Finalize(ctx, id, campaign.Finalization{Status: domain.CampaignCompleted, TotalSent: 9, TotalBounced: 1, SentAt: time.Now()}))
	assert.ErrorIs(t, s.Finalize(ctx, id, campaign.Finalization{Status: domain.CampaignFailed}), campaign.ErrInvalidTransition)

	c, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCompleted, c.Status)
	assert.Equal(t, 9, c.TotalSent)
	assert.Equal(t, 2, s.Writes(id))
}

func TestStore_ListStuck(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	fresh, _ := s.Create(ctx, &domain.Campaign{Name: "fresh"})
	stale, _ := s.Create(ctx, &domain.Campaign{Name: "stale"})
	idle, _ := s.Create(ctx, &domain.Campaign{Name: "draft"})
	require.NoError(t, s.BeginSending(ctx, fresh, 1, "x"))
	require.NoError(t, s.BeginSending(ctx, stale, 1, "x"))
	require.NoError(t, s.SaveCheckpoint(ctx, &domain.DispatchCheckpoint{CampaignID: fresh, UpdatedAt: base.Add(10 * time.Minute)}))
	_ = idle

	out, err := s.ListStuck(ctx, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, stale, out[0].CampaignID)
	assert.Nil(t, out[0].Checkpoint)
}

func TestStore_UnsubscribeUniquePerCampaign(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.AddContact(domain.Contact{Email: "Jane@Example.com", IsActive: true, EmailConsent: true})
	c1, err := s.Create(ctx, &domain.Campaign{Name: "a", Subject: "s", MessageBody: "b", AudienceFilter: domain.AudienceAll})
	require.NoError(t, err)
	c2, err := s.Create(ctx, &domain.Campaign{Name: "b", Subject: "s", MessageBody: "b", AudienceFilter: domain.AudienceAll})
	require.NoError(t, err)

	revoked, err := s.Record(ctx, &domain.Unsubscribe{CampaignID: c1, Email: "jane@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)

	_, err = s.Record(ctx, &domain.Unsubscribe{CampaignID: c1, Email: "jane@example.com"})
	assert.ErrorIs(t, err, unsubscribe.ErrAlreadyUnsubscribed)

	revoked, err = s.Record(ctx, &domain.Unsubscribe{CampaignID: c2, Email: "jane@example.com"})
	require.NoError(t, err)
	assert.Zero(t, revoked)

	_, err = s.Record(ctx, &domain.Unsubscribe{CampaignID: "missing", Email: "jane@example.com"})
	assert.ErrorIs(t, err, unsubscribe.ErrInvalidRequest)

	got, err := s.Get(ctx, c1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalUnsubscribed)

	b, err := s.ContactBreakdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ActiveNotConsented)

	count, err := s.CountUnsubscribes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
