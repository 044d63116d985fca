package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/unsubscribe"
)

// UnsubscribeRepo implements unsubscribe.Repository against PostgreSQL.
type UnsubscribeRepo struct{ db *sql.DB }

// NewUnsubscribeRepo creates a Postgres-backed unsubscribe repository.
func NewUnsubscribeRepo(db *sql.DB) *UnsubscribeRepo { return &UnsubscribeRepo{db: db} }

// Record bumps the campaign counter, inserts the opt-out row and clears
// consent in one transaction. A conflict on (campaign_id, email) rolls the
// counter back.
func (r *UnsubscribeRepo) Record(ctx context.Context, u *domain.Unsubscribe) (int, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET total_unsubscribed = total_unsubscribed + 1 WHERE id = $1`, u.CampaignID)
	if err != nil {
		return 0, fmt.Errorf("count unsubscribe: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, unsubscribe.ErrUnknownCampaign
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO campaign_unsubscribes (id, campaign_id, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (campaign_id, email) DO NOTHING
	`, u.ID, u.CampaignID, u.Email, u.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("record unsubscribe: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, unsubscribe.ErrAlreadyUnsubscribed
	}

	revoked, err := revokeConsent(ctx, tx, u.Email)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit unsubscribe: %w", err)
	}
	return revoked, nil
}

func (r *UnsubscribeRepo) RevokeConsent(ctx context.Context, email string) (int, error) {
	return revokeConsent(ctx, r.db, email)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func revokeConsent(ctx context.Context, db execer, email string) (int, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE contacts SET email_consent = false
		WHERE LOWER(email) = LOWER($1) AND email_consent = true
	`, email)
	if err != nil {
		return 0, fmt.Errorf("revoke consent: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *UnsubscribeRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_unsubscribes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unsubscribes: %w", err)
	}
	return n, nil
}
