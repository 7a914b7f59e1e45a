package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
)

// SESAPI is the subset of the SES v2 client used by SESTransport.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures an SESTransport. Empty keys fall back to the
// default AWS credential chain.
type SESConfig struct {
	Name             string
	Region           string
	AccessKey        string
	SecretKey        string
	ConfigurationSet string
}

// SESTransport sends through Amazon SES v2.
type SESTransport struct {
	name      string
	client    SESAPI
	configSet string
}

// NewSESTransport builds an SES client from cfg.
func NewSESTransport(ctx context.Context, cfg SESConfig) (*SESTransport, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSESTransportWithClient(cfg.Name, sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet), nil
}

// NewSESTransportWithClient wraps an existing client. name defaults to
// "ses".
func NewSESTransportWithClient(name string, client SESAPI, configSet string) *SESTransport {
	if name == "" {
		name = "ses"
	}
	return &SESTransport{name: name, client: client, configSet: configSet}
}

// Name implements Transport.
func (t *SESTransport) Name() string { return t.name }

// Send implements Transport.
func (t *SESTransport) Send(ctx context.Context, p domain.MessagePayload) (string, error) {
	if len(p.To) == 0 {
		return "", errors.New("ses: no recipients")
	}

	body := &types.Body{}
	if p.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(p.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if p.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(p.TextBody), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.From),
		Destination:      &types.Destination{ToAddresses: p.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(p.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if p.ReplyTo != "" {
		input.ReplyToAddresses = []string{p.ReplyTo}
	}
	if t.configSet != "" {
		input.ConfigurationSetName = aws.String(t.configSet)
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	logger.Info("ses: message sent", "recipient", p.To[0], "message_id", messageID)
	return messageID, nil
}
