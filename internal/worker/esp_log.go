package worker

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/sending"
)

// Simulator mailboxes understood by LogProvider, named after the SES
// mailbox simulator.
const (
	SimulatorBounce     = "bounce@simulator.amazonses.com"
	SimulatorSuppressed = "suppressionlist@simulator.amazonses.com"
)

// LogProvider is the development provider. It never talks to a network;
// each send is logged and answered according to the recipient address.
type LogProvider struct {
	sent atomic.Int64
}

// NewLogProvider creates a LogProvider.
func NewLogProvider() *LogProvider { return &LogProvider{} }

func (p *LogProvider) Type() domain.ESPType { return domain.ESPLog }

// Sent returns how many messages were accepted.
func (p *LogProvider) Sent() int64 { return p.sent.Load() }

func (p *LogProvider) Send(_ context.Context, msg *domain.EmailMessage) sending.Outcome {
	addr := strings.ToLower(msg.Email)
	switch {
	case addr == SimulatorBounce:
		return sending.Bounced("simulated hard bounce").WithStatus(550, "MessageRejected")
	case addr == SimulatorSuppressed:
		return sending.InvalidRecipient("address is on the suppression list")
	case strings.Contains(addr, "+fail@"):
		return sending.Transient("simulated transient failure")
	}
	p.sent.Add(1)
	id := uuid.New().String()
	logger.Info("[log-esp] message accepted", "email", msg.Email, "campaign_id", msg.CampaignID, "subject", msg.Subject, "message_id", id)
	return sending.Sent(id)
}
