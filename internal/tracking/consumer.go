package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/unsubscribe"
)

const (
	receiveBatch   = 10
	receiveWait    = 20 // seconds, SQS long polling
	receiveBackoff = 5 * time.Second
)

// Consumer drains the unsubscribe queue into the unsubscribe service.
// A message is deleted once applied, or when it can never be applied;
// anything else is left for SQS to redeliver.
type Consumer struct {
	client   SQSAPI
	queueURL string
	svc      Applier
	sleep    func(ctx context.Context, d time.Duration)
}

func NewConsumer(client SQSAPI, queueURL string, svc Applier) *Consumer {
	return &Consumer{client: client, queueURL: queueURL, svc: svc, sleep: sleepCtx}
}

// Start polls until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	logger.Info("[tracking] unsubscribe consumer started", "queue", c.queueURL)
	for ctx.Err() == nil {
		c.PollOnce(ctx)
	}
	logger.Info("[tracking] unsubscribe consumer stopped")
	return nil
}

// PollOnce receives one batch and returns how many messages were applied.
func (c *Consumer) PollOnce(ctx context.Context) int {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: receiveBatch,
		WaitTimeSeconds:     receiveWait,
	})
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("[tracking] SQS receive failed", "error", err)
			c.sleep(ctx, receiveBackoff)
		}
		return 0
	}

	applied := 0
	for _, msg := range out.Messages {
		if c.handle(ctx, msg) {
			applied++
		}
	}
	return applied
}

func (c *Consumer) handle(ctx context.Context, msg types.Message) bool {
	var evt UnsubscribeEvent
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &evt); err != nil {
		logger.Warn("[tracking] dropping malformed message", "message_id", aws.ToString(msg.MessageId), "error", err)
		c.delete(ctx, msg.ReceiptHandle)
		return false
	}

	res, err := c.svc.Apply(ctx, evt.CampaignID, evt.Email)
	if errors.Is(err, unsubscribe.ErrInvalidRequest) {
		logger.Warn("[tracking] dropping invalid unsubscribe", "message_id", aws.ToString(msg.MessageId), "error", err)
		c.delete(ctx, msg.ReceiptHandle)
		return false
	}
	if err != nil {
		logger.Error("[tracking] apply unsubscribe failed", "campaign_id", evt.CampaignID, "error", err)
		return false
	}

	c.delete(ctx, msg.ReceiptHandle)
	return !res.Duplicate
}

func (c *Consumer) delete(ctx context.Context, handle *string) {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	}); err != nil {
		logger.Error("[tracking] SQS delete failed", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
