package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/service/sending"
)

// sesThrottleBackoff is used when SES throttles without a hint.
const sesThrottleBackoff = time.Second

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig holds SES credentials. Empty keys fall back to the default AWS
// credential chain only when UseDefaultCredentials is set.
type SESConfig struct {
	AccessKey             string
	SecretKey             string
	Region                string
	ConfigurationSet      string
	UseDefaultCredentials bool
}

// SESProvider sends campaign mail through AWS SES v2.
type SESProvider struct {
	client    sesAPI
	configSet string
}

// NewSESProvider creates an SES provider. The provider reports itself as
// not configured when no credentials could be loaded.
func NewSESProvider(ctx context.Context, cfg SESConfig) *SESProvider {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	p := &SESProvider{configSet: cfg.ConfigurationSet}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	switch {
	case cfg.AccessKey != "" && cfg.SecretKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	case !cfg.UseDefaultCredentials:
		logger.Warn("[ses] no credentials configured")
		return p
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Warn("[ses] failed to initialize AWS config", "error", err)
		return p
	}
	p.client = sesv2.NewFromConfig(awsCfg)
	return p
}

// Configured reports whether an SES client exists.
func (p *SESProvider) Configured() bool { return p.client != nil }

// Type identifies the provider in diagnostics.
func (p *SESProvider) Type() domain.ESPType { return domain.ESPSES }

// Send delivers one message. Errors are mapped to outcomes by SES error
// code, falling back to sending.ClassifyError for anything unrecognised.
func (p *SESProvider) Send(ctx context.Context, msg *domain.EmailMessage) sending.Outcome {
	if p.client == nil {
		return sending.Transient("SES client not initialized - check credentials")
	}

	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
				Headers: sesHeaders(msg.Headers),
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
		},
	}
	if msg.ContactID != "" {
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String("contact_id"), Value: aws.String(msg.ContactID)})
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if p.configSet != "" {
		input.ConfigurationSetName = aws.String(p.configSet)
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		o := classifySESError(err)
		logger.Warn("[ses] send failed", "email", msg.Email, "outcome", o.Kind, "code", o.Code, "error", err)
		return o
	}
	return sending.Sent(aws.ToString(out.MessageId))
}

func sesHeaders(h map[string]string) []types.MessageHeader {
	if len(h) == 0 {
		return nil
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]types.MessageHeader, len(names))
	for i, name := range names {
		out[i] = types.MessageHeader{Name: aws.String(name), Value: aws.String(h[name])}
	}
	return out
}

// classifySESError maps SES v2 error codes onto outcomes.
func classifySESError(err error) sending.Outcome {
	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return sending.ClassifyError(&sending.ProviderError{Message: err.Error(), StatusCode: status})
	}
	code, msg := apiErr.ErrorCode(), apiErr.ErrorMessage()

	var o sending.Outcome
	switch code {
	case "TooManyRequestsException", "Throttling", "ThrottlingException", "LimitExceededException":
		o = sending.RateLimited(sesThrottleBackoff)
	case "MessageRejected":
		o = sending.Bounced(msg)
	case "BadRequestException":
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "address") || strings.Contains(lower, "recipient") {
			o = sending.InvalidRecipient(msg)
		} else {
			o = sending.Transient(msg)
		}
	case "AccountSuspendedException", "SendingPausedException", "MailFromDomainNotVerifiedException", "NotFoundException":
		o = sending.Transient(msg)
	default:
		o = sending.ClassifyError(&sending.ProviderError{Message: msg, StatusCode: status})
	}
	return o.WithStatus(status, code)
}
