package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/pellmont/signet/pkg/logger"
)

// SESEmailSender delivers email through AWS SES.
type SESEmailSender struct {
	client      *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewSESEmailSender creates an SES-backed EmailSender.
func NewSESEmailSender(region, fromAddress string, logger *slog.Logger) (*SESEmailSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SESEmailSender{
		client:      ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

func (s *SESEmailSender) SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("to", pkglogger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("to", pkglogger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogSMSSender writes the message to the log instead of dispatching it.
// Used in development and as the default until an SMS gateway is wired.
type LogSMSSender struct {
	logger *slog.Logger
}

// NewLogSMSSender creates a LogSMSSender.
func NewLogSMSSender(logger *slog.Logger) *LogSMSSender {
	return &LogSMSSender{logger: logger}
}

func (s *LogSMSSender) SendSMS(_ context.Context, phoneNumber, message string) error {
	s.logger.Info("SMS dispatch",
		slog.String("phone", pkglogger.SanitizedPhone(phoneNumber)),
		slog.String("message", message))
	return nil
}
