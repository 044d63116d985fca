package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/sending"
)

// run is the state of one dispatch. Only the driving goroutine touches
// result.
type run struct {
	campaign   *domain.Campaign
	mode       domain.DispatchMode
	recipients []domain.Recipient
	result     *domain.DispatchResult
	startBatch int
	lock       distlock.DistLock
	pause      *throttle
	// reached holds recipients a previous attempt already has a ledger
	// outcome for; set only on resume.
	reached map[string]domain.CampaignEvent
}

// delivery is what a worker reports back for one recipient.
type delivery struct {
	recipient domain.Recipient
	outcome   sending.Outcome
	attempts  int
	aborted   bool // never attempted because the run was cancelled
}

type lockExtender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

func (s *Scheduler) claim(ctx context.Context, campaignID string) (distlock.DistLock, func(), error) {
	if s.Locks == nil {
		return nil, func() {}, nil
	}
	l := s.Locks.Lock("dispatch:" + campaignID)
	ok, err := l.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: another dispatch holds the lock", ErrAlreadyDispatched)
	}
	release := func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("[dispatch] lock release failed", "campaign_id", campaignID, "error", err)
		}
	}
	return l, release, nil
}

// execute sends every batch from r.startBatch on, in order.
func (s *Scheduler) execute(ctx context.Context, r *run) error {
	r.pause = &throttle{now: s.now, sleep: s.sleep}
	batches := chunk(r.recipients, s.cfg.BatchSize)

	for i := r.startBatch; i < len(batches); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.runBatch(ctx, r, batches[i]); err != nil {
			return err
		}
		if !r.mode.Test {
			s.checkpoint(ctx, r, i)
			s.extendLock(ctx, r)
		}
		if i < len(batches)-1 && s.cfg.BatchDelay > 0 {
			if err := s.sleep(ctx, s.cfg.BatchDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// runBatch fans batch out to a bounded worker pool and folds the results
// into r.result once every worker has finished.
func (s *Scheduler) runBatch(ctx context.Context, r *run, batch []domain.Recipient) error {
	batch = r.skipReached(batch)
	if len(batch) == 0 {
		return nil
	}
	jobs := make(chan domain.Recipient)
	results := make(chan delivery, len(batch))

	workers := s.cfg.Workers
	if workers > len(batch) {
		workers = len(batch)
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rcpt := range jobs {
				results <- s.deliver(ctx, r, rcpt)
			}
		}()
	}

	incomplete := false
feed:
	for _, rcpt := range batch {
		select {
		case jobs <- rcpt:
		case <-ctx.Done():
			incomplete = true
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	for d := range results {
		if d.aborted {
			incomplete = true
			continue
		}
		r.tally(d)
	}
	if incomplete {
		return fmt.Errorf("batch interrupted: %w", context.Cause(ctx))
	}
	return nil
}

// skipReached folds recipients with an earlier outcome into the result and
// returns the ones still to send.
func (r *run) skipReached(batch []domain.Recipient) []domain.Recipient {
	if len(r.reached) == 0 {
		return batch
	}
	pending := make([]domain.Recipient, 0, len(batch))
	for _, rcpt := range batch {
		e, ok := r.reached[strings.ToLower(rcpt.Email)]
		if !ok {
			pending = append(pending, rcpt)
			continue
		}
		r.tally(replayed(rcpt, e))
	}
	return pending
}

// replayed rebuilds the delivery a ledger row describes.
func replayed(rcpt domain.Recipient, e domain.CampaignEvent) delivery {
	var diag domain.SendResult
	if len(e.ProviderResponse) > 0 {
		_ = json.Unmarshal(e.ProviderResponse, &diag)
	}
	d := delivery{recipient: rcpt, attempts: diag.Attempts}
	switch e.EventType {
	case domain.EventSent:
		d.outcome = sending.Sent(diag.MessageID)
	case domain.EventBounced:
		reason := e.BounceReason
		if reason == "" {
			reason = diag.Error
		}
		d.outcome = sending.Bounced(reason)
	default:
		d.outcome = sending.Transient(diag.Error)
	}
	return d
}

func (r *run) tally(d delivery) {
	switch {
	case d.outcome.Kind == sending.KindSent:
		r.result.Sent++
		return
	case d.outcome.IsBounce():
		r.result.Bounced++
	default:
		r.result.Failed++
	}
	r.result.Errors = append(r.result.Errors, domain.RecipientError{
		Email: d.recipient.Email,
		Error: d.outcome.Error(),
	})
}

// deliver renders and sends one message, retrying only on rate limits.
func (s *Scheduler) deliver(ctx context.Context, r *run, rcpt domain.Recipient) delivery {
	d := delivery{recipient: rcpt}

	msg, err := s.compose(r.campaign, rcpt)
	if err != nil {
		d.outcome = sending.Transient(err.Error())
		s.record(ctx, r, d)
		return d
	}

	for {
		if err := r.pause.wait(ctx); err != nil {
			return delivery{recipient: rcpt, aborted: true}
		}
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return delivery{recipient: rcpt, aborted: true}
				}
				// A broken limiter backend must not stall the run.
				logger.Warn("[dispatch] limiter unavailable", "error", err)
			}
		}
		d.attempts++
		d.outcome = s.Provider.Send(ctx, msg)
		if d.outcome.Kind != sending.KindRateLimited {
			break
		}
		r.pause.hold(d.outcome.RetryAfter)
		if d.attempts > s.cfg.MaxRateLimitRetries {
			break
		}
	}

	s.record(ctx, r, d)
	return d
}

// record appends the ledger row for d. It runs even when ctx is cancelled
// because the send it describes already happened.
func (s *Scheduler) record(ctx context.Context, r *run, d delivery) {
	if s.Events == nil {
		return
	}
	e := &domain.CampaignEvent{
		CampaignID:     r.campaign.ID,
		ContactEmail:   d.recipient.Email,
		EventTimestamp: s.now().UTC(),
	}
	if d.recipient.ContactID != "" {
		id := d.recipient.ContactID
		e.ContactID = &id
	}
	switch {
	case d.outcome.Kind == sending.KindSent && r.mode.Test:
		e.EventType = domain.EventTestSent
	case d.outcome.Kind == sending.KindSent:
		e.EventType = domain.EventSent
	case d.outcome.IsBounce():
		e.EventType = domain.EventBounced
		e.BounceType = domain.BounceHard
		e.BounceReason = d.outcome.Reason
	default:
		e.EventType = domain.EventFailed
	}

	diag := domain.SendResult{
		MessageID:  d.outcome.MessageID,
		StatusCode: d.outcome.StatusCode,
		Code:       d.outcome.Code,
		Error:      d.outcome.Error(),
		Attempts:   d.attempts,
		SentAt:     e.EventTimestamp,
	}
	if s.Provider != nil {
		diag.ESPType = s.Provider.Type()
	}
	if raw, err := json.Marshal(diag); err == nil {
		e.ProviderResponse = raw
	}

	if err := s.Events.Record(context.WithoutCancel(ctx), e); err != nil {
		logger.Error("[dispatch] ledger write failed",
			"campaign_id", r.campaign.ID, "email", d.recipient.Email, "event_type", e.EventType, "error", err)
	}
}

func (s *Scheduler) compose(c *domain.Campaign, rcpt domain.Recipient) (*domain.EmailMessage, error) {
	var unsubscribeURL string
	if s.Tokens != nil && s.cfg.UnsubscribeBaseURL != "" {
		unsubscribeURL = strings.TrimRight(s.cfg.UnsubscribeBaseURL, "/") +
			"/unsubscribe/" + s.Tokens.Encode(c.ID, rcpt.Email, s.now())
	}
	rendered, err := s.Renderer.Render(c, rcpt, unsubscribeURL)
	if err != nil {
		return nil, err
	}
	msg := &domain.EmailMessage{
		CampaignID:  c.ID,
		ContactID:   rcpt.ContactID,
		Email:       rcpt.Email,
		FromName:    s.cfg.FromName,
		FromEmail:   s.cfg.FromEmail,
		ReplyTo:     s.cfg.ReplyTo,
		Subject:     rendered.Subject,
		HTMLContent: rendered.HTML,
	}
	if c.UnsubscribeLinkIncluded && unsubscribeURL != "" {
		msg.Headers = map[string]string{
			"List-Unsubscribe":      "<" + unsubscribeURL + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		}
	}
	return msg, nil
}

func (s *Scheduler) checkpoint(ctx context.Context, r *run, batchIndex int) {
	if s.Checkpoints == nil {
		return
	}
	cp := &domain.DispatchCheckpoint{
		CampaignID: r.campaign.ID,
		BatchIndex: batchIndex,
		Sent:       r.result.Sent,
		Failed:     r.result.Failed,
		Bounced:    r.result.Bounced,
		UpdatedAt:  s.now().UTC(),
	}
	if err := s.Checkpoints.SaveCheckpoint(context.WithoutCancel(ctx), cp); err != nil {
		logger.Warn("[dispatch] checkpoint write failed", "campaign_id", r.campaign.ID, "batch", batchIndex, "error", err)
	}
}

func (s *Scheduler) extendLock(ctx context.Context, r *run) {
	ext, ok := r.lock.(lockExtender)
	if !ok {
		return
	}
	if err := ext.Extend(ctx, s.cfg.LockTTL); err != nil {
		logger.Warn("[dispatch] lock extend failed", "campaign_id", r.campaign.ID, "error", err)
	}
}

func chunk(rs []domain.Recipient, size int) [][]domain.Recipient {
	var out [][]domain.Recipient
	for start := 0; start < len(rs); start += size {
		end := start + size
		if end > len(rs) {
			end = len(rs)
		}
		out = append(out, rs[start:end])
	}
	return out
}

// throttle is a pool-wide pause. When any worker sees a rate limit every
// worker waits until the pause elapses.
type throttle struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func (t *throttle) hold(d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if until := t.now().Add(d); until.After(t.until) {
		t.until = until
	}
}

func (t *throttle) wait(ctx context.Context) error {
	t.mu.Lock()
	d := t.until.Sub(t.now())
	t.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	return t.sleep(ctx, d)
}
