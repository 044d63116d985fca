package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/unsubtoken"
	"github.com/ignite/campaign-engine/internal/repository/memory"
	"github.com/ignite/campaign-engine/internal/service/audience"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/ledger"
	"github.com/ignite/campaign-engine/internal/service/sending"
)

// fakeProvider answers every send with respond, or Sent when respond is nil.
type fakeProvider struct {
	mu           sync.Mutex
	respond      func(ctx context.Context, msg *domain.EmailMessage) sending.Outcome
	unconfigured bool
	sent         []*domain.EmailMessage
}

func (p *fakeProvider) Send(ctx context.Context, msg *domain.EmailMessage) sending.Outcome {
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	respond := p.respond
	p.mu.Unlock()
	if respond != nil {
		return respond(ctx, msg)
	}
	return sending.Sent("msg-" + msg.Email)
}

func (p *fakeProvider) Type() domain.ESPType { return domain.ESPLog }
func (p *fakeProvider) Configured() bool     { return !p.unconfigured }

func (p *fakeProvider) calls(email string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.sent {
		if m.Email == email {
			n++
		}
	}
	return n
}

func (p *fakeProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type harness struct {
	store     *memory.Store
	campaigns *campaign.Service
	provider  *fakeProvider
	locks     *distlock.Factory
	sched     *Scheduler

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		provider: &fakeProvider{},
		locks:    distlock.NewFactory(nil, nil, time.Minute),
	}
	h.campaigns = campaign.NewService(h.store)
	h.sched = NewScheduler(Deps{
		Campaigns:   h.campaigns,
		Checkpoints: h.store,
		Audience:    audience.NewResolver(h.store),
		Provider:    h.provider,
		Events:      ledger.New(h.store),
		Locks:       h.locks,
	}, cfg)
	h.sched.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	return h
}

func (h *harness) addContacts(n int) {
	for i := 0; i < n; i++ {
		h.store.AddContact(domain.Contact{
			ID:           fmt.Sprintf("c%03d", i),
			Email:        fmt.Sprintf("user%03d@example.com", i),
			FirstName:    fmt.Sprintf("User%d", i),
			IsActive:     true,
			EmailConsent: true,
		})
	}
}

func (h *harness) newCampaign(t *testing.T, in campaign.CreateInput) *domain.Campaign {
	t.Helper()
	if in.Subject == "" {
		in.Subject = "Hello {{ first_name }}"
	}
	if in.MessageBody == "" {
		in.MessageBody = "<p>Spring sale</p>"
	}
	c, err := h.campaigns.Create(context.Background(), in)
	require.NoError(t, err)
	return c
}

func (h *harness) get(t *testing.T, id string) *domain.Campaign {
	t.Helper()
	c, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (h *harness) eventsOf(typ domain.EventType) []domain.CampaignEvent {
	var out []domain.CampaignEvent
	for _, e := range h.store.Events() {
		if e.EventType == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestDispatch_LiveRunTalliesEveryRecipient(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2, BatchDelay: -1})
	h.addContacts(5)
	h.provider.respond = func(_ context.Context, msg *domain.EmailMessage) sending.Outcome {
		switch msg.Email {
		case "user001@example.com":
			return sending.ClassifyError(&sending.ProviderError{Message: "Mailbox unavailable", StatusCode: 550})
		case "user002@example.com":
			return sending.Transient("connection reset")
		}
		return sending.Sent("id")
	}
	c := h.newCampaign(t, campaign.CreateInput{Name: "spring"})

	res, err := h.sched.Dispatch(WithActor(context.Background(), "ops@example.com"), c.ID, domain.Live())
	require.NoError(t, err)

	assert.Equal(t, 5, res.TotalRecipients)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 1, res.Bounced)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, res.TotalRecipients, res.Sent+res.Failed+res.Bounced)
	assert.True(t, res.Success)
	assert.True(t, res.Partial)
	assert.Len(t, res.Errors, 2)

	got := h.get(t, c.ID)
	assert.Equal(t, domain.CampaignCompleted, got.Status)
	assert.Equal(t, 5, got.TotalRecipients)
	assert.Equal(t, 3, got.TotalSent)
	assert.Equal(t, 1, got.TotalBounced)
	assert.Equal(t, "ops@example.com", got.SentBy)
	assert.NotNil(t, got.SentAt)
	assert.Equal(t, 2, h.store.Writes(c.ID), "campaign row is written once to start and once to finish")

	bounced := h.eventsOf(domain.EventBounced)
	require.Len(t, bounced, 1)
	assert.Equal(t, domain.BounceHard, bounced[0].BounceType)
	assert.Equal(t, "Mailbox unavailable", bounced[0].BounceReason)
	require.NotNil(t, bounced[0].ContactID)
	assert.Equal(t, "c001", *bounced[0].ContactID)
	assert.Contains(t, string(bounced[0].ProviderResponse), `"status_code":550`)

	assert.Len(t, h.eventsOf(domain.EventSent), 3)
	assert.Len(t, h.eventsOf(domain.EventFailed), 1)
}

func TestDispatch_PersonalizesSubject(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	h.addContacts(1)
	c := h.newCampaign(t, campaign.CreateInput{Name: "hello"})

	_, err := h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	require.NoError(t, err)
	require.Equal(t, 1, h.provider.total())
	assert.Equal(t, "Hello User0", h.provider.sent[0].Subject)
}

func TestDispatch_AllFailuresMarkCampaignFailed(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	h.addContacts(3)
	h.provider.respond = func(context.Context, *domain.EmailMessage) sending.Outcome {
		return sending.Transient("upstream unavailable")
	}
	c := h.newCampaign(t, campaign.CreateInput{Name: "doomed"})

	res, err := h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.False(t, res.Partial)
	assert.Equal(t, 3, res.Failed)
	got := h.get(t, c.ID)
	assert.Equal(t, domain.CampaignFailed, got.Status)
	assert.Zero(t, got.TotalSent)
}

func TestDispatch_TestModeSendsOnceWithoutStateChange(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	h.addContacts(10)
	c := h.newCampaign(t, campaign.CreateInput{Name: "preview"})

	res, err := h.sched.Dispatch(context.Background(), c.ID, domain.Test(" qa@example.com "))
	require.NoError(t, err)

	assert.True(t, res.TestMode)
	assert.Equal(t, 1, res.TotalRecipients)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, h.provider.total())
	assert.Equal(t, 1, h.provider.calls("qa@example.com"))

	events := h.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTestSent, events[0].EventType)
	assert.Nil(t, events[0].ContactID)

	got := h.get(t, c.ID)
	assert.Equal(t, domain.CampaignDraft, got.Status)
	assert.Equal(t, "qa@example.com", got.TestSentTo)
	assert.NotNil(t, got.TestSentAt)
	assert.Zero(t, got.TotalSent)
	assert.Zero(t, h.store.Writes(c.ID))

	cp, err := h.store.GetCheckpoint(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestDispatch_TestModeAllowedAfterCompletion(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	h.addContacts(1)
	c := h.newCampaign(t, campaign.CreateInput{Name: "again"})

	_, err := h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	require.NoError(t, err)
	res, err := h.sched.Dispatch(context.Background(), c.ID, domain.Test("qa@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, domain.CampaignCompleted, h.get(t, c.ID).Status)
}

func TestDispatch_NoRecipientsIsNoop(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	h.store.AddContact(domain.Contact{ID: "x", Email: "off@example.com", IsActive: true})
	c := h.newCampaign(t, campaign.CreateInput{Name: "empty"})

	res, err := h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Zero(t, res.TotalRecipients)
	assert.Zero(t, h.provider.total())
	got := h.get(t, c.ID)
	assert.Equal(t, domain.CampaignDraft, got.Status)
	assert.Zero(t, got.TotalRecipients)
	assert.Zero(t, h.store.Writes(c.ID))
}

func TestDispatch_TagAudience(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	h.store.AddContact(domain.Contact{ID: "a", Email: "a@example.com", IsActive: true, EmailConsent: true, Tags: []string{"VIP"}})
	h.store.AddContact(domain.Contact{ID: "b", Email: "b@example.com", IsActive: true, EmailConsent: true, Tags: []string{"vip"}})
	h.store.AddContact(domain.Contact{ID: "c", Email: "c@example.com", IsActive: false, EmailConsent: true, Tags: []string{"VIP"}})
	c := h.newCampaign(t, campaign.CreateInput{Name: "vips", AudienceFilter: domain.AudienceTags, TargetTag: "VIP"})

	res, err := h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalRecipients)
	assert.Equal(t, 1, h.provider.calls("a@example.com"))
}

func TestDispatch_ProviderNotConfigured(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	h.addContacts(2)
	h.provider.unconfigured = true
	c := h.newCampaign(t, campaign.CreateInput{Name: "nokeys"})

	_, err := h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
	assert.Equal(t, domain.CampaignDraft, h.get(t, c.ID).Status)
	assert.Zero(t, h.provider.total())
}

func TestDispatch_Validation(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	ctx := context.Background()

	_, err := h.sched.Dispatch(ctx, "  ", domain.Live())
	assert.ErrorIs(t, err, ErrValidation)

	c := h.newCampaign(t, campaign.CreateInput{Name: "v"})
	_, err = h.sched.Dispatch(ctx, c.ID, domain.Test(""))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.sched.Dispatch(ctx, "does-not-exist", domain.Live())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDispatch_SecondLiveDispatchRejected(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	h.addContacts(2)
	c := h.newCampaign(t, campaign.CreateInput{Name: "once"})

	_, err := h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	require.NoError(t, err)
	_, err = h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	assert.ErrorIs(t, err, ErrAlreadyDispatched)
	assert.Equal(t, 2, h.provider.total())
}

func TestDispatch_LockHeldElsewhere(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	h.addContacts(2)
	c := h.newCampaign(t, campaign.CreateInput{Name: "locked"})

	other := h.locks.Lock("dispatch:" + c.ID)
	ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer other.Release(context.Background())

	_, err = h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	assert.ErrorIs(t, err, ErrAlreadyDispatched)
	assert.Equal(t, domain.CampaignDraft, h.get(t, c.ID).Status)
	assert.Zero(t, h.provider.total())
}

// staleCampaigns serves a draft snapshot even after another process has
// moved the campaign on, as a reader racing a concurrent dispatch would.
type staleCampaigns struct {
	*campaign.Service
	snapshot *domain.Campaign
}

func (s staleCampaigns) Get(context.Context, string) (*domain.Campaign, error) {
	cp := *s.snapshot
	return &cp, nil
}

func TestDispatch_LosesStatusRace(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	h.addContacts(2)
	c := h.newCampaign(t, campaign.CreateInput{Name: "race"})
	require.NoError(t, h.campaigns.BeginDispatch(context.Background(), c.ID, 2, "other-node"))

	h.sched.Campaigns = staleCampaigns{Service: h.campaigns, snapshot: c}
	_, err := h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	assert.ErrorIs(t, err, ErrAlreadyDispatched)
	assert.Zero(t, h.provider.total())
	assert.Equal(t, "other-node", h.get(t, c.ID).SentBy)
}

func TestDispatch_RateLimitedRetriesThenFails(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1, Workers: 1, MaxRateLimitRetries: 2})
	h.addContacts(2)
	var mu sync.Mutex
	seen := map[string]int{}
	h.provider.respond = func(_ context.Context, msg *domain.EmailMessage) sending.Outcome {
		mu.Lock()
		defer mu.Unlock()
		seen[msg.Email]++
		if msg.Email == "user000@example.com" && seen[msg.Email] == 1 {
			return sending.RateLimited(2 * time.Second)
		}
		if msg.Email == "user001@example.com" {
			return sending.RateLimited(time.Second)
		}
		return sending.Sent("ok")
	}
	c := h.newCampaign(t, campaign.CreateInput{Name: "throttled"})

	res, err := h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, h.provider.calls("user000@example.com"))
	assert.Equal(t, 3, h.provider.calls("user001@example.com"), "one attempt plus two retries")
	assert.NotEmpty(t, h.sleeps, "workers pause after a rate limit")

	failed := h.eventsOf(domain.EventFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, string(failed[0].ProviderResponse), `"attempts":3`)
}

func TestDispatch_BatchesWithDelayAndCheckpoints(t *testing.T) {
	h := newHarness(t, Config{})
	h.addContacts(120)
	c := h.newCampaign(t, campaign.CreateInput{Name: "big"})

	res, err := h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	require.NoError(t, err)
	assert.Equal(t, 120, res.Sent)

	assert.Equal(t, []time.Duration{DefaultBatchDelay, DefaultBatchDelay}, h.sleeps, "no pause after the last batch")

	cp, err := h.store.GetCheckpoint(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.BatchIndex)
	assert.Equal(t, 120, cp.Sent)
}

func TestDispatch_CancelledRunResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2, Workers: 1, BatchDelay: -1})
	h.addContacts(6)
	c := h.newCampaign(t, campaign.CreateInput{Name: "crashy"})

	ctx, cancel := context.WithCancel(context.Background())
	h.provider.respond = func(_ context.Context, msg *domain.EmailMessage) sending.Outcome {
		if msg.Email == "user002@example.com" {
			cancel()
		}
		return sending.Sent("ok")
	}

	res, err := h.sched.Dispatch(ctx, c.ID, domain.Live())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, domain.CampaignSending, h.get(t, c.ID).Status)

	cp, err := h.store.GetCheckpoint(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 0, cp.BatchIndex)
	assert.Equal(t, 2, cp.Sent)

	h.provider.respond = nil
	res, err = h.sched.Resume(context.Background(), c.ID)
	require.NoError(t, err)

	assert.Equal(t, 6, res.TotalRecipients)
	assert.Equal(t, 6, res.Sent)
	got := h.get(t, c.ID)
	assert.Equal(t, domain.CampaignCompleted, got.Status)
	assert.Equal(t, 6, got.TotalSent)

	// user002 was sent before the interruption and is not sent again.
	for i := 0; i < 6; i++ {
		assert.Equal(t, 1, h.provider.calls(fmt.Sprintf("user%03d@example.com", i)), "user%03d", i)
	}
	assert.Len(t, h.eventsOf(domain.EventSent), 6)
}

func TestResume_CountsEarlierOutcomesOfInterruptedBatch(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2, Workers: 1, BatchDelay: -1})
	h.addContacts(4)
	c := h.newCampaign(t, campaign.CreateInput{Name: "bouncy"})

	ctx, cancel := context.WithCancel(context.Background())
	h.provider.respond = func(_ context.Context, msg *domain.EmailMessage) sending.Outcome {
		if msg.Email == "user002@example.com" {
			cancel()
			return sending.Bounced("mailbox unavailable")
		}
		return sending.Sent("ok")
	}
	_, err := h.sched.Dispatch(ctx, c.ID, domain.Live())
	require.Error(t, err)

	h.provider.respond = nil
	res, err := h.sched.Resume(context.Background(), c.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 1, res.Bounced)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "user002@example.com", res.Errors[0].Email)
	assert.Contains(t, res.Errors[0].Error, "mailbox unavailable")
	assert.Equal(t, 1, h.provider.calls("user002@example.com"))
	assert.Len(t, h.eventsOf(domain.EventBounced), 1)
	assert.Equal(t, 1, h.get(t, c.ID).TotalBounced)
}

func TestResume_RequiresSendingCampaign(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1})
	c := h.newCampaign(t, campaign.CreateInput{Name: "idle"})

	_, err := h.sched.Resume(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestDispatch_UnsubscribeLinkAndHeaders(t *testing.T) {
	h := newHarness(t, Config{BatchDelay: -1, UnsubscribeBaseURL: "https://mail.example.com/", FromEmail: "news@example.com"})
	codec, err := unsubtoken.NewCodec("k", 0)
	require.NoError(t, err)
	h.sched.Tokens = codec
	h.addContacts(1)
	c := h.newCampaign(t, campaign.CreateInput{Name: "optout", UnsubscribeLinkIncluded: true, FooterIncluded: true})

	_, err = h.sched.Dispatch(context.Background(), c.ID, domain.Live())
	require.NoError(t, err)
	require.Equal(t, 1, h.provider.total())

	msg := h.provider.sent[0]
	assert.Equal(t, "news@example.com", msg.FromEmail)
	header := msg.Headers["List-Unsubscribe"]
	require.True(t, strings.HasPrefix(header, "<https://mail.example.com/unsubscribe/"), header)
	assert.Contains(t, msg.HTMLContent, strings.Trim(header, "<>"))

	token := strings.TrimPrefix(strings.Trim(header, "<>"), "https://mail.example.com/unsubscribe/")
	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, c.ID, claims.CampaignID)
	assert.Equal(t, "user000@example.com", claims.Email)
}

func TestChunk(t *testing.T) {
	rs := make([]domain.Recipient, 5)
	got := chunk(rs, 2)
	require.Len(t, got, 3)
	assert.Len(t, got[2], 1)
	assert.Empty(t, chunk(nil, 2))
}
