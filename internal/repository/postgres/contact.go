package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/audience"
)

// ContactRepo implements audience.Directory against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact directory.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

// ListContacts pushes the reachability and tag predicates down to SQL. The
// resolver re-checks them, so a looser query here would still be correct.
func (r *ContactRepo) ListContacts(ctx context.Context, q audience.ContactQuery) ([]domain.Contact, error) {
	query := `
		SELECT id, email, COALESCE(first_name,''), COALESCE(last_name,''),
		       is_active, email_consent, tags, created_at
		FROM contacts
		WHERE is_active = true AND email_consent = true`
	args := []interface{}{}
	if q.Tag != "" {
		query += ` AND $1 = ANY(tags)`
		args = append(args, q.Tag)
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName,
			&c.IsActive, &c.EmailConsent, pq.Array(&c.Tags), &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
