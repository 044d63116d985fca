package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository and campaign.CheckpointStore
// against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	id, name, subject, message_body, audience_filter, COALESCE(target_tag,''),
	footer_included, unsubscribe_link_included, status,
	total_recipients, total_sent, total_bounced, total_unsubscribed,
	sent_at, COALESCE(sent_by,''), COALESCE(test_sent_to,''), test_sent_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c                  domain.Campaign
		sentAt, testSentAt sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.MessageBody, &c.AudienceFilter, &c.TargetTag,
		&c.FooterIncluded, &c.UnsubscribeLinkIncluded, &c.Status,
		&c.TotalRecipients, &c.TotalSent, &c.TotalBounced, &c.TotalUnsubscribed,
		&sentAt, &c.SentBy, &c.TestSentTo, &testSentAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	if testSentAt.Valid {
		c.TestSentAt = &testSentAt.Time
	}
	return &c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ""
	args := []interface{}{}
	if f.Status != "" {
		where = " WHERE status = $1"
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM campaigns%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		campaignColumns, where, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, name, subject, message_body, audience_filter, target_tag,
			 footer_included, unsubscribe_link_included, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, $8, 'draft', NOW(), NOW())
	`, c.ID, c.Name, c.Subject, c.MessageBody, c.AudienceFilter, c.TargetTag,
		c.FooterIncluded, c.UnsubscribeLinkIncluded)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Subject != nil {
		add("subject", *u.Subject)
	}
	if u.MessageBody != nil {
		add("message_body", *u.MessageBody)
	}
	if u.AudienceFilter != nil {
		add("audience_filter", *u.AudienceFilter)
	}
	if u.TargetTag != nil {
		add("target_tag", *u.TargetTag)
	}
	if u.FooterIncluded != nil {
		add("footer_included", *u.FooterIncluded)
	}
	if u.UnsubscribeLinkIncluded != nil {
		add("unsubscribe_link_included", *u.UnsubscribeLinkIncluded)
	}
	if len(sets) == 0 {
		return nil
	}

	q := fmt.Sprintf("UPDATE campaigns SET %s, updated_at = NOW() WHERE id = $%d AND status = 'draft'",
		strings.Join(sets, ", "), len(args)+1)
	res, err := r.db.ExecContext(ctx, q, append(args, id)...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	return r.explainMiss(ctx, res, id, campaign.ErrNotEditable)
}

// BeginSending is the draft -> sending compare-and-swap.
func (r *CampaignRepo) BeginSending(ctx context.Context, id string, totalRecipients int, sentBy string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'sending', total_recipients = $2, sent_by = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
	`, id, totalRecipients, sentBy)
	if err != nil {
		return fmt.Errorf("begin sending: %w", err)
	}
	return r.explainMiss(ctx, res, id, campaign.ErrInvalidTransition)
}

func (r *CampaignRepo) Finalize(ctx context.Context, id string, f campaign.Finalization) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, total_sent = $3, total_bounced = $4, sent_at = $5, updated_at = NOW()
		WHERE id = $1 AND status = 'sending'
	`, id, f.Status, f.TotalSent, f.TotalBounced, f.SentAt)
	if err != nil {
		return fmt.Errorf("finalize campaign: %w", err)
	}
	return r.explainMiss(ctx, res, id, campaign.ErrInvalidTransition)
}

func (r *CampaignRepo) RecordTestSend(ctx context.Context, id, email string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET test_sent_to = $2, test_sent_at = $3 WHERE id = $1`,
		id, email, at)
	if err != nil {
		return fmt.Errorf("record test send: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// explainMiss turns a conditional update that touched no rows into
// ErrNotFound or the given conflict error.
func (r *CampaignRepo) explainMiss(ctx context.Context, res sql.Result, id string, conflict error) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return campaign.ErrNotFound
	}
	return conflict
}

// --- checkpoints ---

func (r *CampaignRepo) SaveCheckpoint(ctx context.Context, cp *domain.DispatchCheckpoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_dispatch_checkpoints
			(campaign_id, batch_index, sent, failed, bounced, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (campaign_id) DO UPDATE SET
			batch_index = EXCLUDED.batch_index,
			sent = EXCLUDED.sent,
			failed = EXCLUDED.failed,
			bounced = EXCLUDED.bounced,
			updated_at = EXCLUDED.updated_at
	`, cp.CampaignID, cp.BatchIndex, cp.Sent, cp.Failed, cp.Bounced, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (r *CampaignRepo) GetCheckpoint(ctx context.Context, campaignID string) (*domain.DispatchCheckpoint, error) {
	cp := &domain.DispatchCheckpoint{CampaignID: campaignID}
	err := r.db.QueryRowContext(ctx, `
		SELECT batch_index, sent, failed, bounced, updated_at
		FROM campaign_dispatch_checkpoints WHERE campaign_id = $1
	`, campaignID).Scan(&cp.BatchIndex, &cp.Sent, &cp.Failed, &cp.Bounced, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}

func (r *CampaignRepo) ListStuck(ctx context.Context, staleBefore time.Time) ([]domain.StuckDispatch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, k.batch_index, k.sent, k.failed, k.bounced, k.updated_at
		FROM campaigns c
		LEFT JOIN campaign_dispatch_checkpoints k ON k.campaign_id = c.id
		WHERE c.status = 'sending'
		  AND COALESCE(k.updated_at, c.updated_at) < $1
		ORDER BY c.id
	`, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("list stuck dispatches: %w", err)
	}
	defer rows.Close()

	var out []domain.StuckDispatch
	for rows.Next() {
		var (
			id                     string
			batch, sent, fail, bnc sql.NullInt64
			updated                sql.NullTime
		)
		if err := rows.Scan(&id, &batch, &sent, &fail, &bnc, &updated); err != nil {
			return nil, fmt.Errorf("scan stuck dispatch: %w", err)
		}
		sd := domain.StuckDispatch{CampaignID: id}
		if batch.Valid {
			sd.Checkpoint = &domain.DispatchCheckpoint{
				CampaignID: id,
				BatchIndex: int(batch.Int64),
				Sent:       int(sent.Int64),
				Failed:     int(fail.Int64),
				Bounced:    int(bnc.Int64),
				UpdatedAt:  updated.Time,
			}
		}
		out = append(out, sd)
	}
	return out, rows.Err()
}
