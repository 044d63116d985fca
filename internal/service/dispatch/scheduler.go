package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/audience"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/ledger"
	"github.com/ignite/campaign-engine/internal/service/sending"
)

// Campaigns is the slice of the campaign service the scheduler drives.
type Campaigns interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	BeginDispatch(ctx context.Context, id string, totalRecipients int, sentBy string) error
	CompleteDispatch(ctx context.Context, id string, sent, bounced int) (domain.CampaignStatus, error)
	RecordTestSend(ctx context.Context, id, email string) error
}

// Audience resolves the contacts a campaign targets.
type Audience interface {
	Resolve(ctx context.Context, filter domain.AudienceFilter, targetTag string) ([]domain.Contact, error)
}

// EventRecorder appends outcomes to the ledger. Resume queries it for
// recipients an interrupted run already reached.
type EventRecorder interface {
	Record(ctx context.Context, e *domain.CampaignEvent) error
	Query(ctx context.Context, f ledger.Filter) ([]domain.CampaignEvent, error)
}

// Limiter is a token bucket shared by every worker. *rate.Limiter and the
// Redis-backed bucket in internal/worker both satisfy it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Locker hands out per-key distributed locks.
type Locker interface {
	Lock(key string) distlock.DistLock
}

// TokenEncoder builds unsubscribe tokens.
type TokenEncoder interface {
	Encode(campaignID, email string, issuedAt time.Time) string
}

// Deps are the collaborators of a Scheduler. Checkpoints, Limiter, Locks
// and Tokens are optional.
type Deps struct {
	Campaigns   Campaigns
	Checkpoints campaign.CheckpointStore
	Audience    Audience
	Provider    sending.Provider
	Events      EventRecorder
	Renderer    *sending.Renderer
	Tokens      TokenEncoder
	Limiter     Limiter
	Locks       Locker
}

// Scheduler runs campaign dispatches.
type Scheduler struct {
	Deps
	cfg   Config
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a scheduler.
func NewScheduler(deps Deps, cfg Config) *Scheduler {
	if deps.Renderer == nil {
		deps.Renderer = sending.NewRenderer("")
	}
	return &Scheduler{
		Deps:  deps,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

type actorKey struct{}

// WithActor records who requested a dispatch; it is stored as sent_by.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "system"
}

// Dispatch sends campaignID in the given mode and returns the tallied
// result. Per-recipient failures are part of the result, not the error.
func (s *Scheduler) Dispatch(ctx context.Context, campaignID string, mode domain.DispatchMode) (*domain.DispatchResult, error) {
	if strings.TrimSpace(campaignID) == "" {
		return nil, fmt.Errorf("%w: campaignId is required", ErrValidation)
	}
	mode.TestEmail = strings.TrimSpace(mode.TestEmail)
	if mode.Test && mode.TestEmail == "" {
		return nil, fmt.Errorf("%w: testEmail is required in test mode", ErrValidation)
	}

	c, err := s.loadCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	var recipients []domain.Recipient
	if mode.Test {
		recipients = []domain.Recipient{{Email: mode.TestEmail}}
	} else {
		if c.Status != domain.CampaignDraft {
			return nil, fmt.Errorf("%w: status is %s", ErrAlreadyDispatched, c.Status)
		}
		if recipients, err = s.resolve(ctx, c); err != nil {
			return nil, err
		}
	}

	result := &domain.DispatchResult{
		CampaignID:      c.ID,
		TestMode:        mode.Test,
		TotalRecipients: len(recipients),
	}
	if len(recipients) == 0 {
		logger.Info("[dispatch] no eligible recipients", "campaign_id", c.ID)
		result.Settle()
		return result, nil
	}
	if !sending.IsConfigured(s.Provider) {
		return nil, ErrProviderNotConfigured
	}

	r := &run{campaign: c, mode: mode, recipients: recipients, result: result}

	if mode.Test {
		if err := s.execute(ctx, r); err != nil {
			return result, err
		}
		if err := s.Campaigns.RecordTestSend(ctx, c.ID, mode.TestEmail); err != nil {
			return result, fmt.Errorf("record test send: %w", err)
		}
		result.Settle()
		logger.Info("[dispatch] test send done", "campaign_id", c.ID, "email", mode.TestEmail, "sent", result.Sent)
		return result, nil
	}

	lock, release, err := s.claim(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	defer release()
	r.lock = lock

	if err := s.Campaigns.BeginDispatch(ctx, c.ID, len(recipients), actorFrom(ctx)); err != nil {
		if errors.Is(err, campaign.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %v", ErrAlreadyDispatched, err)
		}
		return nil, err
	}
	return s.finish(ctx, r)
}

// Resume continues a live dispatch left in sending by a crashed or
// cancelled run, starting after its last checkpointed batch.
func (s *Scheduler) Resume(ctx context.Context, campaignID string) (*domain.DispatchResult, error) {
	if strings.TrimSpace(campaignID) == "" {
		return nil, fmt.Errorf("%w: campaignId is required", ErrValidation)
	}
	c, err := s.loadCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignSending {
		return nil, fmt.Errorf("%w: status is %s", ErrNotResumable, c.Status)
	}
	if !sending.IsConfigured(s.Provider) {
		return nil, ErrProviderNotConfigured
	}

	lock, release, err := s.claim(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	recipients, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}
	r := &run{
		campaign:   c,
		mode:       domain.Live(),
		recipients: recipients,
		result:     &domain.DispatchResult{CampaignID: c.ID, TotalRecipients: c.TotalRecipients},
		lock:       lock,
	}
	if s.Checkpoints != nil {
		cp, err := s.Checkpoints.GetCheckpoint(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		if cp != nil {
			r.startBatch = cp.BatchIndex + 1
			r.result.Sent, r.result.Failed, r.result.Bounced = cp.Sent, cp.Failed, cp.Bounced
		}
	}
	if r.reached, err = s.reached(ctx, c.ID); err != nil {
		return nil, err
	}
	logger.Info("[dispatch] resuming", "campaign_id", c.ID, "from_batch", r.startBatch, "already_reached", len(r.reached))
	return s.finish(ctx, r)
}

// reached returns the last ledger outcome per recipient of campaignID's
// live run, keyed by lowercased email. A campaign is live-dispatched at most
// once, so every sent, bounced or failed row belongs to the run being
// resumed.
func (s *Scheduler) reached(ctx context.Context, campaignID string) (map[string]domain.CampaignEvent, error) {
	if s.Events == nil {
		return nil, nil
	}
	events, err := s.Events.Query(ctx, ledger.Filter{
		CampaignID: campaignID,
		EventTypes: []domain.EventType{domain.EventSent, domain.EventBounced, domain.EventFailed},
	})
	if err != nil {
		return nil, fmt.Errorf("load delivered recipients: %w", err)
	}
	out := make(map[string]domain.CampaignEvent, len(events))
	for _, e := range events {
		out[strings.ToLower(e.ContactEmail)] = e
	}
	return out, nil
}

// finish executes the batches of a claimed live run and finalizes it.
func (s *Scheduler) finish(ctx context.Context, r *run) (*domain.DispatchResult, error) {
	if err := s.execute(ctx, r); err != nil {
		r.result.Settle()
		logger.Warn("[dispatch] run interrupted", "campaign_id", r.campaign.ID, "error", err)
		return r.result, err
	}
	status, err := s.Campaigns.CompleteDispatch(ctx, r.campaign.ID, r.result.Sent, r.result.Bounced)
	if err != nil {
		return r.result, err
	}
	r.result.Settle()
	logger.Info("[dispatch] completed",
		"campaign_id", r.campaign.ID, "status", status,
		"sent", r.result.Sent, "failed", r.result.Failed, "bounced", r.result.Bounced)
	return r.result, nil
}

func (s *Scheduler) loadCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.Campaigns.Get(ctx, id)
	if errors.Is(err, campaign.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	return c, nil
}

func (s *Scheduler) resolve(ctx context.Context, c *domain.Campaign) ([]domain.Recipient, error) {
	contacts, err := s.Audience.Resolve(ctx, c.AudienceFilter, c.TargetTag)
	if errors.Is(err, audience.ErrConfiguration) {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	out := make([]domain.Recipient, len(contacts))
	for i, ct := range contacts {
		out[i] = domain.RecipientFromContact(ct)
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
