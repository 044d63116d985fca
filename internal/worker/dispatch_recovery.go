package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/dispatch"
)

// =============================================================================
// DISPATCH RECOVERY WORKER: Finishes or Fails Crashed Dispatches
// =============================================================================
// A live dispatch that dies mid-run leaves its campaign in 'sending' with a
// checkpoint of the last completed batch. This worker periodically lists
// such campaigns whose progress has gone stale and either resumes them from
// the checkpoint or marks them failed with the checkpointed counters.

const (
	DefaultDispatchRecoveryInterval = 2 * time.Minute
	DefaultDispatchStaleAfter       = 10 * time.Minute
)

// RecoveryPolicy chooses what happens to a stuck dispatch.
type RecoveryPolicy string

const (
	RecoverResume RecoveryPolicy = "resume"
	RecoverFail   RecoveryPolicy = "fail"
)

// StuckLister finds sending campaigns without recent progress.
type StuckLister interface {
	ListStuck(ctx context.Context, staleBefore time.Time) ([]domain.StuckDispatch, error)
}

// Resumer continues a dispatch from its checkpoint.
type Resumer interface {
	Resume(ctx context.Context, campaignID string) (*domain.DispatchResult, error)
}

// Abandoner closes a dispatch as failed.
type Abandoner interface {
	AbandonDispatch(ctx context.Context, id string, cp *domain.DispatchCheckpoint) error
}

// DispatchRecoveryConfig tunes DispatchRecovery.
type DispatchRecoveryConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Policy     RecoveryPolicy
}

// DispatchRecovery is the recovery loop.
type DispatchRecovery struct {
	stuck     StuckLister
	resumer   Resumer
	abandoner Abandoner
	cfg       DispatchRecoveryConfig
	now       func() time.Time
}

// NewDispatchRecovery creates the worker with defaults for zero config
// fields. An unknown policy is treated as resume.
func NewDispatchRecovery(stuck StuckLister, resumer Resumer, abandoner Abandoner, cfg DispatchRecoveryConfig) *DispatchRecovery {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultDispatchRecoveryInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultDispatchStaleAfter
	}
	if cfg.Policy != RecoverFail {
		cfg.Policy = RecoverResume
	}
	return &DispatchRecovery{stuck: stuck, resumer: resumer, abandoner: abandoner, cfg: cfg, now: time.Now}
}

// Start runs the recovery loop until ctx is cancelled.
func (w *DispatchRecovery) Start(ctx context.Context) error {
	logger.Info("[recovery] starting", "interval", w.cfg.Interval.String(), "stale_after", w.cfg.StaleAfter.String(), "policy", w.cfg.Policy)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[recovery] stopping")
			return nil
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce handles every currently stuck dispatch and reports how many were
// resumed and failed.
func (w *DispatchRecovery) RunOnce(ctx context.Context) (resumed, failed int) {
	listCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	stuck, err := w.stuck.ListStuck(listCtx, w.now().Add(-w.cfg.StaleAfter))
	cancel()
	if err != nil {
		logger.Error("[recovery] list stuck dispatches failed", "error", err)
		return 0, 0
	}

	for _, sd := range stuck {
		if ctx.Err() != nil {
			return resumed, failed
		}
		switch w.cfg.Policy {
		case RecoverFail:
			if err := w.abandoner.AbandonDispatch(ctx, sd.CampaignID, sd.Checkpoint); err != nil {
				logger.Error("[recovery] abandon failed", "campaign_id", sd.CampaignID, "error", err)
				continue
			}
			failed++
		default:
			res, err := w.resumer.Resume(ctx, sd.CampaignID)
			if errors.Is(err, dispatch.ErrAlreadyDispatched) {
				// Another process holds the dispatch lock and is still working.
				logger.Debug("[recovery] dispatch is live elsewhere", "campaign_id", sd.CampaignID)
				continue
			}
			if err != nil {
				logger.Error("[recovery] resume failed", "campaign_id", sd.CampaignID, "error", err)
				continue
			}
			logger.Info("[recovery] dispatch resumed", "campaign_id", sd.CampaignID, "sent", res.Sent, "failed", res.Failed, "bounced", res.Bounced)
			resumed++
		}
	}
	return resumed, failed
}
