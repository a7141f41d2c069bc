package notifier

import (
	"context"
	"fmt"

	"tavolino/pkg/logger"
)

// Notification channels.
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
	ChannelPush  = "push"
)

type SMSProvider interface {
	SendSMS(ctx context.Context, phone, body string) error
}

type EmailProvider interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type PushProvider interface {
	SendPush(ctx context.Context, deviceToken, title, body string) error
}

// LogProviders write every message to the structured log instead of an
// external gateway. Swapped out for real providers via configuration.
type LogProviders struct {
	logger *logger.Logger
}

func NewLogProviders(log *logger.Logger) *LogProviders {
	return &LogProviders{logger: log}
}

func (p *LogProviders) SendSMS(_ context.Context, phone, body string) error {
	p.logger.Info("", "sms_sent", fmt.Sprintf("SMS to %s: %s", phone, body))
	return nil
}

func (p *LogProviders) SendEmail(_ context.Context, to, subject, body string) error {
	p.logger.Info("", "email_sent", fmt.Sprintf("Email to %s [%s]: %s", to, subject, body))
	return nil
}

func (p *LogProviders) SendPush(_ context.Context, deviceToken, title, body string) error {
	p.logger.Info("", "push_sent", fmt.Sprintf("Push to %s [%s]: %s", deviceToken, title, body))
	return nil
}
