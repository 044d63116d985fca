package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/ledger"
)

// EventRepo implements ledger.Store against PostgreSQL. The
// campaign_events table rejects UPDATE and DELETE with a trigger.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event ledger.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Append(ctx context.Context, e *domain.CampaignEvent) error {
	var resp interface{}
	if len(e.ProviderResponse) > 0 {
		resp = []byte(e.ProviderResponse)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_events
			(id, campaign_id, contact_id, contact_email, event_type, event_timestamp,
			 bounce_type, bounce_reason, provider_response)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,''), NULLIF($8,''), $9)
	`, e.ID, e.CampaignID, e.ContactID, e.ContactEmail, e.EventType, e.EventTimestamp,
		e.BounceType, e.BounceReason, resp)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *EventRepo) Query(ctx context.Context, f ledger.Filter) ([]domain.CampaignEvent, error) {
	conds := []string{}
	args := []interface{}{}
	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.CampaignID != "" {
		add("campaign_id = $%d", f.CampaignID)
	}
	if len(f.EventTypes) > 0 {
		types := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			types[i] = string(t)
		}
		add("event_type = ANY($%d)", pq.Array(types))
	}
	if f.Since != nil {
		add("event_timestamp >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("event_timestamp < $%d", *f.Until)
	}

	q := `SELECT id, campaign_id, contact_id, contact_email, event_type, event_timestamp,
	             COALESCE(bounce_type,''), COALESCE(bounce_reason,''), provider_response
	      FROM campaign_events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY event_timestamp, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignEvent
	for rows.Next() {
		var (
			e         domain.CampaignEvent
			contactID sql.NullString
			resp      []byte
		)
		if err := rows.Scan(&e.ID, &e.CampaignID, &contactID, &e.ContactEmail, &e.EventType,
			&e.EventTimestamp, &e.BounceType, &e.BounceReason, &resp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if contactID.Valid {
			e.ContactID = &contactID.String
		}
		if len(resp) > 0 {
			e.ProviderResponse = resp
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
