package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/metrics"
)

// MetricsRepo implements metrics.Store with SQL aggregates.
type MetricsRepo struct{ db *sql.DB }

// NewMetricsRepo creates a Postgres-backed analytics read model.
func NewMetricsRepo(db *sql.DB) *MetricsRepo { return &MetricsRepo{db: db} }

func (r *MetricsRepo) SumCampaigns(ctx context.Context, status domain.CampaignStatus, from, to time.Time) (metrics.CampaignTotals, error) {
	var t metrics.CampaignTotals
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(total_recipients),0), COALESCE(SUM(total_sent),0),
		       COALESCE(SUM(total_bounced),0), COALESCE(SUM(total_unsubscribed),0)
		FROM campaigns
		WHERE status = $1 AND sent_at >= $2 AND sent_at < $3
	`, status, from, to).Scan(&t.Campaigns, &t.Recipients, &t.Sent, &t.Bounced, &t.Unsubscribed)
	if err != nil {
		return t, fmt.Errorf("sum campaigns: %w", err)
	}
	return t, nil
}

func (r *MetricsRepo) RecentCampaigns(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error) {
	return r.queryCampaigns(ctx, `SELECT `+campaignColumns+`
		FROM campaigns WHERE status = $1 AND sent_at IS NOT NULL
		ORDER BY sent_at DESC LIMIT $2`, status, limit)
}

func (r *MetricsRepo) CampaignsByID(ctx context.Context, ids []string) ([]domain.Campaign, error) {
	return r.queryCampaigns(ctx, `SELECT `+campaignColumns+`
		FROM campaigns WHERE id = ANY($1)`, pq.Array(ids))
}

func (r *MetricsRepo) queryCampaigns(ctx context.Context, q string, args ...interface{}) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()
	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *MetricsRepo) CountContactsCreated(ctx context.Context, from, to time.Time) (int, error) {
	var (
		n   int
		err error
	)
	if from.IsZero() {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM contacts WHERE created_at < $1`, to).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM contacts WHERE created_at >= $1 AND created_at < $2`, from, to).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count contacts: %w", err)
	}
	return n, nil
}

func (r *MetricsRepo) ContactBreakdown(ctx context.Context) (metrics.ContactBreakdown, error) {
	var b metrics.ContactBreakdown
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE is_active AND email_consent),
		       COUNT(*) FILTER (WHERE is_active AND NOT email_consent),
		       COUNT(*) FILTER (WHERE NOT is_active)
		FROM contacts
	`).Scan(&b.ActiveConsented, &b.ActiveNotConsented, &b.Inactive)
	if err != nil {
		return b, fmt.Errorf("contact breakdown: %w", err)
	}
	return b, nil
}

func (r *MetricsRepo) TagCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tag, COUNT(*) FROM contacts, UNNEST(tags) AS tag GROUP BY tag`)
	if err != nil {
		return nil, fmt.Errorf("tag counts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var (
			tag string
			n   int
		)
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, fmt.Errorf("scan tag count: %w", err)
		}
		out[tag] = n
	}
	return out, rows.Err()
}

func (r *MetricsRepo) CountUnsubscribes(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_unsubscribes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unsubscribes: %w", err)
	}
	return n, nil
}
