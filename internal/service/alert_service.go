package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// emailSender is the part of the SES v2 client used for alerts
type emailSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// PersistenceAlert carries everything an operator needs to reconcile a
// provider call whose record could not be written.
type PersistenceAlert struct {
	UserID     int64
	Day        string
	Subject    string
	TokensUsed int
	CostMicros int64
	Provider   string
	Model      string
	Err        error
	At         time.Time
}

// AlertService sends operator alerts via Amazon SES
type AlertService struct {
	client    emailSender
	fromEmail string
	toEmails  []string
	enabled   bool
	logger    *slog.Logger
}

// NewAlertService creates an alert service. An empty from or to address
// yields a disabled service that only logs.
func NewAlertService(ctx context.Context, awsRegion, fromEmail, toEmails string, logger *slog.Logger) (*AlertService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	recipients := splitAddresses(toEmails)
	if fromEmail == "" || len(recipients) == 0 {
		logger.Info("alert email disabled: ALERT_EMAIL_FROM or ALERT_EMAIL_TO not configured")
		return &AlertService{logger: logger}, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(awsRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("alert email enabled", "from", fromEmail, "region", awsRegion)
	return newAlertService(sesv2.NewFromConfig(cfg), fromEmail, recipients, logger), nil
}

func newAlertService(client emailSender, fromEmail string, toEmails []string, logger *slog.Logger) *AlertService {
	return &AlertService{
		client:    client,
		fromEmail: fromEmail,
		toEmails:  toEmails,
		enabled:   true,
		logger:    logger,
	}
}

// IsEnabled returns whether alerts are delivered by email
func (s *AlertService) IsEnabled() bool {
	return s != nil && s.enabled
}

// PersistenceFailure reports a completed but unrecorded provider call
func (s *AlertService) PersistenceFailure(ctx context.Context, a PersistenceAlert) error {
	if !s.IsEnabled() {
		return nil
	}

	subject := fmt.Sprintf("[solvegate] request record not persisted for user %d", a.UserID)
	body := fmt.Sprintf(`A provider call completed but its request record could not be written.
The user was not charged against the usage aggregate for this call.

time:        %s
user_id:     %d
quota day:   %s
subject:     %s
provider:    %s
model:       %s
tokens_used: %d
cost_micros: %d
error:       %v
`, a.At.UTC().Format(time.RFC3339), a.UserID, a.Day, a.Subject, a.Provider, a.Model, a.TokensUsed, a.CostMicros, a.Err)

	return s.send(ctx, subject, body)
}

func (s *AlertService) send(ctx context.Context, subject, textBody string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.fromEmail),
		Destination: &types.Destination{
			ToAddresses: s.toEmails,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(textBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}

	s.logger.Info("alert sent", "subject", subject, "message_id", aws.ToString(result.MessageId))
	return nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
