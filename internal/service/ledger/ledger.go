// Package ledger is the append-only record of per-recipient dispatch
// outcomes. Rows are never updated or deleted; aggregates elsewhere are
// derived from them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ErrInvalidEvent is returned for an event that may not be appended.
var ErrInvalidEvent = errors.New("invalid campaign event")

// Filter selects ledger rows. Zero fields do not filter.
type Filter struct {
	CampaignID string
	EventTypes []domain.EventType
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// Matches reports whether e satisfies the filter. Stores that cannot push
// every condition down use it to post-filter.
func (f Filter) Matches(e *domain.CampaignEvent) bool {
	if f.CampaignID != "" && e.CampaignID != f.CampaignID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && e.EventTimestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !e.EventTimestamp.Before(*f.Until) {
		return false
	}
	return true
}

// Store persists events. Append must never overwrite an existing row.
type Store interface {
	Append(ctx context.Context, e *domain.CampaignEvent) error
	Query(ctx context.Context, f Filter) ([]domain.CampaignEvent, error)
}

// Ledger validates events before handing them to a Store.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New wraps store.
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Record validates e, stamps its id and timestamp when missing, and appends
// it.
func (l *Ledger) Record(ctx context.Context, e *domain.CampaignEvent) error {
	if err := Validate(e); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.EventTimestamp.IsZero() {
		e.EventTimestamp = l.now().UTC()
	}
	if err := l.store.Append(ctx, e); err != nil {
		return fmt.Errorf("append %s event: %w", e.EventType, err)
	}
	return nil
}

// Query returns events matching f, oldest first.
func (l *Ledger) Query(ctx context.Context, f Filter) ([]domain.CampaignEvent, error) {
	return l.store.Query(ctx, f)
}

// Validate checks the structural rules of a ledger row.
func Validate(e *domain.CampaignEvent) error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	case e.CampaignID == "":
		return fmt.Errorf("%w: campaign id is required", ErrInvalidEvent)
	case e.ContactEmail == "":
		return fmt.Errorf("%w: contact email is required", ErrInvalidEvent)
	case !e.EventType.Valid():
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.EventType)
	case e.EventType != domain.EventBounced && (e.BounceType != "" || e.BounceReason != ""):
		return fmt.Errorf("%w: bounce details on %s event", ErrInvalidEvent, e.EventType)
	case e.EventType == domain.EventTestSent && e.ContactID != nil:
		return fmt.Errorf("%w: test sends have no contact", ErrInvalidEvent)
	}
	return nil
}
