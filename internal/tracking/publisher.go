// Package tracking is the public unsubscribe edge. It verifies the token in
// an unsubscribe link and hands the opt-out to a Sink: either an SQS queue
// drained by the worker's Consumer, or the unsubscribe service directly.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

const publishTimeout = 5 * time.Second

// SQSAPI is the subset of the SQS client used by Publisher and Consumer.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// UnsubscribeEvent is a verified opt-out request as it travels on the queue.
type UnsubscribeEvent struct {
	CampaignID string    `json:"campaign_id"`
	Email      string    `json:"email"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink accepts verified opt-outs.
type Sink interface {
	Accept(ctx context.Context, evt UnsubscribeEvent) error
}

// Publisher is the queue-backed Sink.
type Publisher struct {
	client   SQSAPI
	queueURL string
}

func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// Accept publishes evt and waits for SQS to acknowledge it, so the
// recipient only sees a confirmation once the opt-out is durable.
func (p *Publisher) Accept(ctx context.Context, evt UnsubscribeEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal unsubscribe event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("publish unsubscribe event: %w", err)
	}
	logger.Debug("[tracking] unsubscribe queued", "campaign_id", evt.CampaignID, "message_id", aws.ToString(out.MessageId))
	return nil
}
