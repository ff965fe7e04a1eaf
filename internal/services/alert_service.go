package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/otpdesk/pkg/logger"
)

// CredentialAlert describes a credential the messaging service rejected
type CredentialAlert struct {
	PhoneNumber string
	Source      string // "otp_monitor" or "device_manager"
	ObservedAt  time.Time
	Reason      string
}

// AlertNotifier tells operators that a credential must be re-issued
type AlertNotifier interface {
	NotifyCredentialInvalid(ctx context.Context, alert CredentialAlert) error
}

// LogAlertNotifier only writes a warning; used when SES is not configured
type LogAlertNotifier struct {
	logger *slog.Logger
}

// NewLogAlertNotifier creates a LogAlertNotifier
func NewLogAlertNotifier(logger *slog.Logger) *LogAlertNotifier {
	return &LogAlertNotifier{logger: logger}
}

func (n *LogAlertNotifier) NotifyCredentialInvalid(ctx context.Context, alert CredentialAlert) error {
	n.logger.WarnContext(ctx, "credential rejected by messaging service",
		slog.String("phone", logger.MaskPhone(alert.PhoneNumber)),
		slog.String("source", alert.Source),
		slog.String("reason", alert.Reason),
	)
	return nil
}

// SESAPI is the subset of the SES client used for alerts
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlertNotifier emails operators using AWS SES
type SESAlertNotifier struct {
	sesClient   SESAPI
	fromAddress string
	toAddress   string
	logger      *slog.Logger
}

// NewSESAlertNotifier loads the default AWS config for region
func NewSESAlertNotifier(ctx context.Context, region, fromAddress, toAddress string, logger *slog.Logger) (*SESAlertNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESAlertNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, toAddress, logger), nil
}

// NewSESAlertNotifierWithClient creates a notifier around an existing client
func NewSESAlertNotifierWithClient(client SESAPI, fromAddress, toAddress string, logger *slog.Logger) *SESAlertNotifier {
	return &SESAlertNotifier{
		sesClient:   client,
		fromAddress: fromAddress,
		toAddress:   toAddress,
		logger:      logger,
	}
}

// NotifyCredentialInvalid sends one plain-text email. The body carries the masked phone only.
func (n *SESAlertNotifier) NotifyCredentialInvalid(ctx context.Context, alert CredentialAlert) error {
	masked := logger.MaskPhone(alert.PhoneNumber)

	textBody := fmt.Sprintf(`A stored session credential was rejected by the messaging service.

Account: %s
Detected by: %s
Observed at: %s
Reason: %s

The credential must be re-issued through a fresh login before it can be used again.
`, masked, alert.Source, alert.ObservedAt.UTC().Format(time.RFC3339), alert.Reason)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{n.toAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Credential invalid: " + masked),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send credential alert via SES",
			slog.String("phone", masked),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert: %w", err)
	}

	n.logger.Info("credential alert sent",
		slog.String("phone", masked),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// notifyCredentialInvalid delivers an alert and logs, never returns, its failure
func notifyCredentialInvalid(ctx context.Context, n AlertNotifier, log *slog.Logger, alert CredentialAlert) {
	if n == nil {
		return
	}
	if err := n.NotifyCredentialInvalid(ctx, alert); err != nil && log != nil {
		log.ErrorContext(ctx, "credential alert failed", slog.Any("error", err))
	}
}
