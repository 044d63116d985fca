package worker

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/sending"
)

type fakeSES struct {
	err  error
	last *sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

func withStatus(status int, err error) error {
	return &awshttp.ResponseError{ResponseError: &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
		Err:      err,
	}}
}

func testMessage() *domain.EmailMessage {
	return &domain.EmailMessage{
		CampaignID:  "camp-1",
		ContactID:   "c-1",
		Email:       "jane@example.com",
		FromName:    "News",
		FromEmail:   "news@example.com",
		ReplyTo:     "reply@example.com",
		Subject:     "Hi",
		HTMLContent: "<p>x</p>",
		Headers:     map[string]string{"List-Unsubscribe": "<https://x/unsubscribe/t>"},
	}
}

func TestSESProvider_Send(t *testing.T) {
	api := &fakeSES{}
	p := &SESProvider{client: api, configSet: "campaigns"}

	o := p.Send(context.Background(), testMessage())
	require.Equal(t, sending.KindSent, o.Kind)
	assert.Equal(t, "ses-123", o.MessageID)

	in := api.last
	assert.Equal(t, "News <news@example.com>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"jane@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, []string{"reply@example.com"}, in.ReplyToAddresses)
	assert.Equal(t, "campaigns", aws.ToString(in.ConfigurationSetName))
	require.Len(t, in.Content.Simple.Headers, 1)
	assert.Equal(t, "List-Unsubscribe", aws.ToString(in.Content.Simple.Headers[0].Name))
	assert.Len(t, in.EmailTags, 2)
}

func TestSESProvider_NotConfigured(t *testing.T) {
	p := &SESProvider{}
	assert.False(t, p.Configured())
	assert.False(t, sending.IsConfigured(p))
	assert.Equal(t, sending.KindTransient, p.Send(context.Background(), testMessage()).Kind)
}

func TestClassifySESError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   sending.OutcomeKind
		status int
	}{
		{"throttled", withStatus(429, &smithy.GenericAPIError{Code: "TooManyRequestsException", Message: "slow down"}), sending.KindRateLimited, 429},
		{"rejected", withStatus(400, &smithy.GenericAPIError{Code: "MessageRejected", Message: "Address blacklisted"}), sending.KindBounced, 400},
		{"bad address", &smithy.GenericAPIError{Code: "BadRequestException", Message: "Illegal address"}, sending.KindInvalidRecipient, 0},
		{"bad request", &smithy.GenericAPIError{Code: "BadRequestException", Message: "Missing subject"}, sending.KindTransient, 0},
		{"paused", &smithy.GenericAPIError{Code: "SendingPausedException", Message: "paused"}, sending.KindTransient, 0},
		{"unknown with bounce text", &smithy.GenericAPIError{Code: "Weird", Message: "hard bounce"}, sending.KindBounced, 0},
		{"network", errors.New("dial tcp: connection refused"), sending.KindTransient, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := classifySESError(tt.err)
			assert.Equal(t, tt.kind, o.Kind)
			assert.Equal(t, tt.status, o.StatusCode)
		})
	}
}

func TestSESProvider_SendMapsErrors(t *testing.T) {
	p := &SESProvider{client: &fakeSES{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "rate exceeded"}}}
	o := p.Send(context.Background(), testMessage())
	assert.Equal(t, sending.KindRateLimited, o.Kind)
	assert.Equal(t, "ThrottlingException", o.Code)
	assert.Equal(t, sesThrottleBackoff, o.RetryAfter)
}

func TestLogProvider(t *testing.T) {
	p := NewLogProvider()
	ctx := context.Background()

	assert.Equal(t, sending.KindSent, p.Send(ctx, &domain.EmailMessage{Email: "a@example.com"}).Kind)
	assert.True(t, p.Send(ctx, &domain.EmailMessage{Email: SimulatorBounce}).IsBounce())
	assert.Equal(t, sending.KindInvalidRecipient, p.Send(ctx, &domain.EmailMessage{Email: SimulatorSuppressed}).Kind)
	assert.Equal(t, sending.KindTransient, p.Send(ctx, &domain.EmailMessage{Email: "x+fail@example.com"}).Kind)
	assert.EqualValues(t, 1, p.Sent())
}
