package email

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"bract/internal/domain/notification"
)

type MockSES struct {
	Input         *sesv2.SendEmailInput
	SendEmailFunc func() (*sesv2.SendEmailOutput, error)
}

func (m *MockSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.Input = params
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc()
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSES_Send(t *testing.T) {
	client := &MockSES{}
	s := &SES{client: client, from: "reminders@bract.app", log: zap.NewNop()}

	err := s.Send(context.Background(), notification.Email{
		To:       "ana@example.com",
		Subject:  "Subscription Reminder: Netflix due 2024-06-10",
		HTMLBody: "<p>hi</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "reminders@bract.app", aws.ToString(client.Input.FromEmailAddress))
	assert.Equal(t, []string{"ana@example.com"}, client.Input.Destination.ToAddresses)
	assert.Equal(t, "Subscription Reminder: Netflix due 2024-06-10", aws.ToString(client.Input.Content.Simple.Subject.Data))
	assert.Equal(t, "<p>hi</p>", aws.ToString(client.Input.Content.Simple.Body.Html.Data))
}

func TestSES_Classify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantPermanent bool
	}{
		{name: "message rejected", err: &smithy.GenericAPIError{Code: "MessageRejected"}, wantPermanent: true},
		{name: "sender not verified", err: &smithy.GenericAPIError{Code: "MailFromDomainNotVerifiedException"}, wantPermanent: true},
		{name: "bad request", err: &smithy.GenericAPIError{Code: "BadRequestException"}, wantPermanent: true},
		{name: "throttled", err: &smithy.GenericAPIError{Code: "TooManyRequestsException"}},
		{name: "network", err: errors.New("dial tcp: i/o timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &SES{
				client: &MockSES{SendEmailFunc: func() (*sesv2.SendEmailOutput, error) { return nil, tt.err }},
				log:    zap.NewNop(),
			}
			err := s.Send(context.Background(), notification.Email{To: "ana@example.com"})

			var de *notification.DeliveryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.wantPermanent, notification.IsPermanent(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestLog_Send(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := NewLog(zap.New(core))

	require.NoError(t, l.Send(context.Background(), notification.Email{To: "ana@example.com", Subject: "hello", HTMLBody: "<p>secret</p>"}))
	require.Equal(t, 1, logs.Len())

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "a***@example.com", fields["to"])
	assert.Equal(t, "hello", fields["subject"])

	err := l.Send(context.Background(), notification.Email{})
	assert.True(t, notification.IsPermanent(err))
}

func TestMaskAddress(t *testing.T) {
	assert.Equal(t, "a***@example.com", maskAddress("ana@example.com"))
	assert.Equal(t, "***", maskAddress("not-an-address"))
	assert.Equal(t, "***", maskAddress("@example.com"))
}
