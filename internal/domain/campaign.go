package domain

import (
	"errors"
	"strings"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignSending, CampaignCompleted, CampaignFailed:
		return true
	}
	return false
}

// AudienceFilter selects which contacts a campaign targets.
type AudienceFilter string

const (
	AudienceAll  AudienceFilter = "all"
	AudienceTags AudienceFilter = "tags"
)

// Campaign is a bulk email definition together with its dispatch summary.
//
// The Total* counters are written once, when a live dispatch finalizes.
// TotalUnsubscribed is the only counter that moves afterwards.
type Campaign struct {
	ID                      string         `json:"id" db:"id"`
	Name                    string         `json:"name" db:"name"`
	Subject                 string         `json:"subject" db:"subject"`
	MessageBody             string         `json:"message_body" db:"message_body"`
	AudienceFilter          AudienceFilter `json:"audience_filter" db:"audience_filter"`
	TargetTag               string         `json:"target_tag,omitempty" db:"target_tag"`
	FooterIncluded          bool           `json:"footer_included" db:"footer_included"`
	UnsubscribeLinkIncluded bool           `json:"unsubscribe_link_included" db:"unsubscribe_link_included"`
	Status                  CampaignStatus `json:"status" db:"status"`

	TotalRecipients   int `json:"total_recipients" db:"total_recipients"`
	TotalSent         int `json:"total_sent" db:"total_sent"`
	TotalBounced      int `json:"total_bounced" db:"total_bounced"`
	TotalUnsubscribed int `json:"total_unsubscribed" db:"total_unsubscribed"`

	SentAt     *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	SentBy     string     `json:"sent_by,omitempty" db:"sent_by"`
	TestSentTo string     `json:"test_sent_to,omitempty" db:"test_sent_to"`
	TestSentAt *time.Time `json:"test_sent_at,omitempty" db:"test_sent_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed
}

// Validate checks the content and audience fields of a campaign.
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("subject is required")
	}
	if strings.TrimSpace(c.MessageBody) == "" {
		return errors.New("message body is required")
	}
	switch c.AudienceFilter {
	case AudienceAll:
	case AudienceTags:
		if c.TargetTag == "" {
			return errors.New("target tag is required when audience filter is tags")
		}
	default:
		return errors.New("audience filter must be all or tags")
	}
	return nil
}

// DeliveryRate is the percentage of sent messages that did not bounce.
func (c *Campaign) DeliveryRate() float64 {
	return Percent(c.TotalSent-c.TotalBounced, c.TotalSent)
}

// BounceRate is the percentage of sent messages that bounced.
func (c *Campaign) BounceRate() float64 {
	return Percent(c.TotalBounced, c.TotalSent)
}

// UnsubscribeRate is the percentage of sent messages that led to an unsubscribe.
func (c *Campaign) UnsubscribeRate() float64 {
	return Percent(c.TotalUnsubscribed, c.TotalSent)
}

// Percent returns part/whole*100, or 0 when whole is zero.
func Percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
