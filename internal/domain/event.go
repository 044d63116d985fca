package domain

import (
	"encoding/json"
	"time"
)

// EventType enumerates the per-recipient outcomes recorded in the ledger.
type EventType string

const (
	EventSent         EventType = "sent"
	EventTestSent     EventType = "test_sent"
	EventBounced      EventType = "bounced"
	EventFailed       EventType = "failed"
	EventUnsubscribed EventType = "unsubscribed"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventSent, EventTestSent, EventBounced, EventFailed, EventUnsubscribed:
		return true
	}
	return false
}

// BounceHard is the only bounce type the engine currently assigns.
const BounceHard = "hard"

// CampaignEvent is one append-only ledger row. ContactID is nil for the
// synthetic recipient of a test dispatch.
type CampaignEvent struct {
	ID               string          `json:"id" db:"id" dynamodbav:"id"`
	CampaignID       string          `json:"campaign_id" db:"campaign_id" dynamodbav:"campaign_id"`
	ContactID        *string         `json:"contact_id" db:"contact_id" dynamodbav:"contact_id,omitempty"`
	ContactEmail     string          `json:"contact_email" db:"contact_email" dynamodbav:"contact_email"`
	EventType        EventType       `json:"event_type" db:"event_type" dynamodbav:"event_type"`
	EventTimestamp   time.Time       `json:"event_timestamp" db:"event_timestamp" dynamodbav:"event_timestamp"`
	BounceType       string          `json:"bounce_type,omitempty" db:"bounce_type" dynamodbav:"bounce_type,omitempty"`
	BounceReason     string          `json:"bounce_reason,omitempty" db:"bounce_reason" dynamodbav:"bounce_reason,omitempty"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty" db:"provider_response" dynamodbav:"provider_response,omitempty"`
}
