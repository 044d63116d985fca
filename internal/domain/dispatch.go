package domain

import "time"

// DispatchMode selects between a live send to the resolved audience and a
// single test send to an operator-supplied address.
type DispatchMode struct {
	Test      bool
	TestEmail string
}

// Live returns the mode for a real audience dispatch.
func Live() DispatchMode { return DispatchMode{} }

// Test returns the mode for a single test send to email.
func Test(email string) DispatchMode { return DispatchMode{Test: true, TestEmail: email} }

// Recipient is one resolved destination for a dispatch. ContactID is empty
// for the synthetic test recipient.
type Recipient struct {
	ContactID string
	Email     string
	FirstName string
	LastName  string
}

// RecipientFromContact converts a contact into a dispatch recipient.
func RecipientFromContact(c Contact) Recipient {
	return Recipient{ContactID: c.ID, Email: c.Email, FirstName: c.FirstName, LastName: c.LastName}
}

// RecipientError pairs a recipient address with the reason its send failed.
type RecipientError struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// DispatchResult summarizes one dispatch run.
type DispatchResult struct {
	Success         bool             `json:"success"`
	Partial         bool             `json:"partial"`
	CampaignID      string           `json:"campaign_id"`
	TestMode        bool             `json:"test_mode"`
	TotalRecipients int              `json:"total_recipients"`
	Sent            int              `json:"sent"`
	Failed          int              `json:"failed"`
	Bounced         int              `json:"bounced"`
	Errors          []RecipientError `json:"errors,omitempty"`
}

// Settle fills the derived Success and Partial flags from the counters.
func (r *DispatchResult) Settle() {
	r.Success = r.Sent > 0
	r.Partial = r.Sent > 0 && r.Failed+r.Bounced > 0
}

// DispatchCheckpoint records progress of a live dispatch after each
// completed batch. BatchIndex is the zero-based index of the last batch
// whose outcomes are fully reflected in the counters.
type DispatchCheckpoint struct {
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	BatchIndex int       `json:"batch_index" db:"batch_index"`
	Sent       int       `json:"sent" db:"sent"`
	Failed     int       `json:"failed" db:"failed"`
	Bounced    int       `json:"bounced" db:"bounced"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// StuckDispatch is a campaign left in sending with no progress since a
// cutoff. Checkpoint is nil when the run died before its first batch.
type StuckDispatch struct {
	CampaignID string
	Checkpoint *DispatchCheckpoint
}

// Unsubscribe records a recipient opting out through a campaign link.
type Unsubscribe struct {
	ID         string    `json:"id" db:"id"`
	CampaignID string    `json:"campaign_id" db:"campaign_id"`
	Email      string    `json:"email" db:"email"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
