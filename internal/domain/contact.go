package domain

import "time"

// Contact is a potential recipient. Email addresses are not unique.
type Contact struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	FirstName    string    `json:"first_name" db:"first_name"`
	LastName     string    `json:"last_name" db:"last_name"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	EmailConsent bool      `json:"email_consent" db:"email_consent"`
	Tags         []string  `json:"tags" db:"tags"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Reachable reports whether the contact may receive campaign mail.
func (c *Contact) Reachable() bool {
	return c.IsActive && c.EmailConsent
}

// HasTag reports exact, case-sensitive membership of tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
