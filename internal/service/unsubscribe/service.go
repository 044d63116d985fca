package unsubscribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/pkg/unsubtoken"
	"github.com/ignite/campaign-engine/internal/service/ledger"
)

// TokenDecoder verifies unsubscribe tokens.
type TokenDecoder interface {
	Decode(token string) (unsubtoken.Claims, error)
}

// Result reports what an unsubscribe call did.
type Result struct {
	CampaignID string `json:"campaign_id"`
	Email      string `json:"email"`
	// Duplicate is true when the opt-out had already been recorded.
	Duplicate bool `json:"duplicate"`
}

// Service implements unsubscribe processing. It is safe for concurrent use.
type Service struct {
	repo   Repository
	tokens TokenDecoder
	events EventLedger
	now    func() time.Time
}

// NewService wires the unsubscribe service.
func NewService(repo Repository, tokens TokenDecoder, events EventLedger) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
		events: events,
		now:    time.Now,
	}
}

// Decode verifies token and returns its claims without recording anything.
// The tracking edge uses it before publishing to the queue.
func (s *Service) Decode(token string) (unsubtoken.Claims, error) {
	return s.tokens.Decode(token)
}

// Unsubscribe verifies token and applies the opt-out it carries.
func (s *Service) Unsubscribe(ctx context.Context, token string) (*Result, error) {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		return nil, err
	}
	return s.Apply(ctx, claims.CampaignID, claims.Email)
}

// Apply records an opt-out for an already verified (campaign, email) pair.
// It is idempotent and safe to retry after a partial failure: the opt-out
// row, consent and counter are written together by the repository, and a
// missing ledger row is appended on the next attempt.
func (s *Service) Apply(ctx context.Context, campaignID, email string) (*Result, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if campaignID == "" || email == "" {
		return nil, fmt.Errorf("%w: campaign id and email are required", ErrInvalidRequest)
	}
	res := &Result{CampaignID: campaignID, Email: email}
	now := s.now().UTC()

	revoked, err := s.repo.Record(ctx, &domain.Unsubscribe{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		Email:      email,
		CreatedAt:  now,
	})
	switch {
	case errors.Is(err, ErrAlreadyUnsubscribed):
		res.Duplicate = true
		// A contact re-imported with consent after opting out loses it again.
		if revoked, err = s.repo.RevokeConsent(ctx, email); err != nil {
			return nil, fmt.Errorf("revoke consent: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("record unsubscribe: %w", err)
	}

	if err := s.ensureEvent(ctx, campaignID, email, now, res.Duplicate); err != nil {
		return nil, err
	}

	if res.Duplicate {
		logger.Debug("[unsubscribe] duplicate opt-out", "campaign_id", campaignID, "email", email, "contacts_revoked", revoked)
	} else {
		logger.Info("[unsubscribe] opt-out recorded", "campaign_id", campaignID, "email", email, "contacts_revoked", revoked)
	}
	return res, nil
}

// ensureEvent appends the unsubscribed ledger row. For a repeated opt-out it
// first checks whether an earlier attempt already wrote one.
func (s *Service) ensureEvent(ctx context.Context, campaignID, email string, at time.Time, repeated bool) error {
	if repeated {
		existing, err := s.events.Query(ctx, ledger.Filter{
			CampaignID: campaignID,
			EventTypes: []domain.EventType{domain.EventUnsubscribed},
		})
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		for _, e := range existing {
			if strings.EqualFold(e.ContactEmail, email) {
				return nil
			}
		}
	}
	if err := s.events.Record(ctx, &domain.CampaignEvent{
		CampaignID:     campaignID,
		ContactEmail:   email,
		EventType:      domain.EventUnsubscribed,
		EventTimestamp: at,
	}); err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Count returns the total number of recorded opt-outs.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
