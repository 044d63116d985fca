package domain

import "time"

// ESPType identifies the email service provider used for sending.
type ESPType string

const (
	ESPSES ESPType = "ses"
	ESPLog ESPType = "log"
)

// EmailMessage is the fully-resolved message ready for a provider.
// By the time a message reaches this struct, all template substitution
// and header generation is complete.
type EmailMessage struct {
	CampaignID  string            `json:"campaign_id"`
	ContactID   string            `json:"contact_id,omitempty"`
	Email       string            `json:"email"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// SendResult is the diagnostic record of one provider call. It is stored
// as the opaque provider_response of ledger events.
type SendResult struct {
	ESPType    ESPType   `json:"esp_type"`
	MessageID  string    `json:"message_id,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Code       string    `json:"code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
	SentAt     time.Time `json:"sent_at"`
}
