package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"bract/internal/domain/notification"
)

const charset = "UTF-8"

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends reminder emails through Amazon SES v2.
type SES struct {
	client sesAPI
	from   string
	log    *zap.Logger
}

var _ notification.EmailTransport = (*SES)(nil)

// NewSES builds a transport from the default AWS credential chain.
func NewSES(ctx context.Context, region, from string, log *zap.Logger) (*SES, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SES{
		client: sesv2.NewFromConfig(cfg),
		from:   from,
		log:    log.With(zap.String("component", "ses")),
	}, nil
}

func (s *SES) Send(ctx context.Context, email notification.Email) error {
	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{email.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(email.Subject), Charset: aws.String(charset)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(email.HTMLBody), Charset: aws.String(charset)},
				},
			},
		},
	})
	if err != nil {
		return classify(err)
	}

	s.log.Debug("email accepted", zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// classify maps SES failures onto delivery error kinds. Rejections of the
// message or sender identity are permanent; throttling, outages and
// anything unrecognized are transient.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "MessageRejected", "MailFromDomainNotVerifiedException", "BadRequestException", "NotFoundException", "AccountSuspendedException":
			return notification.PermanentError("ses rejected email: "+apiErr.ErrorCode(), err)
		}
		return notification.TransientError("ses error: "+apiErr.ErrorCode(), err)
	}
	return notification.TransientError("ses request failed", err)
}
