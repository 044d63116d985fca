package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, f)
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	filter := input.AudienceFilter
	if filter == "" {
		filter = domain.AudienceAll
	}
	now := s.now().UTC()
	c := &domain.Campaign{
		ID:                      uuid.New().String(),
		Name:                    input.Name,
		Subject:                 input.Subject,
		MessageBody:             input.MessageBody,
		AudienceFilter:          filter,
		TargetTag:               input.TargetTag,
		FooterIncluded:          input.FooterIncluded,
		UnsubscribeLinkIncluded: input.UnsubscribeLinkIncluded,
		Status:                  domain.CampaignDraft,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCampaign, err)
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// Update modifies a draft. The merged campaign must still validate.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft {
		return nil, ErrNotEditable
	}

	merged := *c
	ApplyUpdate(&merged, u)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCampaign, err)
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// BeginDispatch moves a draft into sending. Losing a concurrent race
// surfaces as ErrInvalidTransition.
func (s *Service) BeginDispatch(ctx context.Context, id string, totalRecipients int, sentBy string) error {
	if err := s.repo.BeginSending(ctx, id, totalRecipients, sentBy); err != nil {
		return fmt.Errorf("begin dispatch: %w", err)
	}
	logger.Info("[campaign] dispatch started", "campaign_id", id, "total_recipients", totalRecipients)
	return nil
}

// CompleteDispatch writes the final counters and terminal status of a live
// run in one repository call and returns the status written.
func (s *Service) CompleteDispatch(ctx context.Context, id string, sent, bounced int) (domain.CampaignStatus, error) {
	status := FinalStatus(sent)
	if err := CheckTransition(domain.CampaignSending, status); err != nil {
		return "", err
	}
	err := s.repo.Finalize(ctx, id, Finalization{
		Status:       status,
		TotalSent:    sent,
		TotalBounced: bounced,
		SentAt:       s.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("finalize dispatch: %w", err)
	}
	logger.Info("[campaign] dispatch finalized", "campaign_id", id, "status", status, "sent", sent, "bounced", bounced)
	return status, nil
}

// AbandonDispatch closes a run that cannot be resumed. The campaign is
// marked failed with whatever progress the checkpoint recorded.
func (s *Service) AbandonDispatch(ctx context.Context, id string, cp *domain.DispatchCheckpoint) error {
	f := Finalization{Status: domain.CampaignFailed, SentAt: s.now().UTC()}
	if cp != nil {
		f.TotalSent = cp.Sent
		f.TotalBounced = cp.Bounced
	}
	if err := s.repo.Finalize(ctx, id, f); err != nil {
		return fmt.Errorf("abandon dispatch: %w", err)
	}
	logger.Warn("[campaign] dispatch abandoned", "campaign_id", id, "sent", f.TotalSent)
	return nil
}

// RecordTestSend stamps the test recipient and time. Status and counters
// are untouched.
func (s *Service) RecordTestSend(ctx context.Context, id, email string) error {
	return s.repo.RecordTestSend(ctx, id, email, s.now().UTC())
}

// ApplyUpdate merges the non-nil fields of u into c.
func ApplyUpdate(c *domain.Campaign, u UpdateFields) {
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Subject != nil {
		c.Subject = *u.Subject
	}
	if u.MessageBody != nil {
		c.MessageBody = *u.MessageBody
	}
	if u.AudienceFilter != nil {
		c.AudienceFilter = *u.AudienceFilter
	}
	if u.TargetTag != nil {
		c.TargetTag = *u.TargetTag
	}
	if u.FooterIncluded != nil {
		c.FooterIncluded = *u.FooterIncluded
	}
	if u.UnsubscribeLinkIncluded != nil {
		c.UnsubscribeLinkIncluded = *u.UnsubscribeLinkIncluded
	}
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name                    string                `json:"name"`
	Subject                 string                `json:"subject"`
	MessageBody             string                `json:"message_body"`
	AudienceFilter          domain.AudienceFilter `json:"audience_filter"`
	TargetTag               string                `json:"target_tag"`
	FooterIncluded          bool                  `json:"footer_included"`
	UnsubscribeLinkIncluded bool                  `json:"unsubscribe_link_included"`
}
