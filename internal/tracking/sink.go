package tracking

import (
	"context"

	"github.com/ignite/campaign-engine/internal/service/unsubscribe"
)

// Applier records an opt-out. unsubscribe.Service satisfies it.
type Applier interface {
	Apply(ctx context.Context, campaignID, email string) (*unsubscribe.Result, error)
}

// DirectSink applies opt-outs inline. The API server uses it when no
// queue is configured.
type DirectSink struct {
	svc Applier
}

func NewDirectSink(svc Applier) *DirectSink { return &DirectSink{svc: svc} }

func (s *DirectSink) Accept(ctx context.Context, evt UnsubscribeEvent) error {
	_, err := s.svc.Apply(ctx, evt.CampaignID, evt.Email)
	return err
}
