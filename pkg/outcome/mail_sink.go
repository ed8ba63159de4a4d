/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package outcome

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/alarm-escalator/pkg/metrics"
)

// MailConfig configures the SMTP notifier used for failed escalations.
type MailConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	InsecureSkipVerify bool
	SenderAddress      string
	SenderName         string
	Receivers          []string
	RetryCount         int
	RetryBackoff       time.Duration
}

// Sender delivers a plain-text mail.
type Sender interface {
	Send(ctx context.Context, receivers []string, subject, body string) error
	GetHost() string
}

type smtpSender struct {
	dialer        *gomail.Dialer
	senderAddress string
	senderName    string
	retryCount    int
	retryBackoff  time.Duration
	logger        *zap.Logger
}

// NewSMTPSender creates a gomail backed Sender.
func NewSMTPSender(cfg MailConfig, logger *zap.Logger) Sender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		logger.Warn("InsecureSkipVerify is enabled for mail TLS connection", zap.String("host", cfg.Host))
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // Configurable for internal relays
	}

	senderAddr := cfg.SenderAddress
	if senderAddr == "" {
		senderAddr = "noreply@alarm-escalator.local"
	}
	senderName := cfg.SenderName
	if senderName == "" {
		senderName = "Alarm Escalator"
	}
	retryCount := cfg.RetryCount
	if retryCount <= 0 {
		retryCount = 2
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 100 * time.Millisecond
	}

	return &smtpSender{
		dialer:        d,
		senderAddress: senderAddr,
		senderName:    senderName,
		retryCount:    retryCount,
		retryBackoff:  retryBackoff,
		logger:        logger.Named("mail"),
	}
}

func (s *smtpSender) Send(ctx context.Context, receivers []string, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.senderAddress, s.senderName)
	msg.SetHeader("To", receivers...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	var lastErr error
	backoff := s.retryBackoff
	for attempt := 0; attempt <= s.retryCount; attempt++ {
		err := s.dialer.DialAndSend(msg)
		if err == nil {
			metrics.MailSendSuccess.WithLabelValues(s.GetHost()).Inc()
			return nil
		}
		lastErr = err
		if attempt == s.retryCount {
			break
		}
		s.logger.Debug("mail send attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.String("error", err.Error()))
		select {
		case <-ctx.Done():
			metrics.MailSendFailure.WithLabelValues(s.GetHost()).Inc()
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	metrics.MailSendFailure.WithLabelValues(s.GetHost()).Inc()
	return fmt.Errorf("failed to send mail after %d attempts: %w", s.retryCount+1, lastErr)
}

func (s *smtpSender) GetHost() string {
	return s.dialer.Host
}

// MailSink notifies an operator mailbox about failed escalations. INFO records
// are ignored.
type MailSink struct {
	sender    Sender
	receivers []string
	logger    *zap.Logger
}

// NewMailSink creates a MailSink delivering through sender.
func NewMailSink(sender Sender, receivers []string, logger *zap.Logger) (*MailSink, error) {
	if len(receivers) == 0 {
		return nil, fmt.Errorf("at least one mail receiver is required")
	}
	return &MailSink{
		sender:    sender,
		receivers: receivers,
		logger:    logger.Named("mail-outcome"),
	}, nil
}

// Write sends a notification for ERROR records.
func (s *MailSink) Write(ctx context.Context, record *Record) error {
	if record.Level != LevelError {
		return nil
	}
	subject, body := mailContent(record)
	if err := s.sender.Send(ctx, s.receivers, subject, body); err != nil {
		return fmt.Errorf("mail notification for %q: %w", record.AlarmName, err)
	}
	s.logger.Debug("failure notification sent",
		zap.String("alarm_name", record.AlarmName),
		zap.Int("receivers", len(s.receivers)))
	return nil
}

// Close is a no-op; connections are opened per message.
func (s *MailSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *MailSink) Name() string {
	return "mail"
}

func mailContent(record *Record) (string, string) {
	subject := fmt.Sprintf("[alarm-escalator] escalation failed for %s", record.AlarmName)

	var b strings.Builder
	fmt.Fprintf(&b, "Alarm:     %s\n", record.AlarmName)
	fmt.Fprintf(&b, "Stage:     %s\n", record.Stage)
	fmt.Fprintf(&b, "Kind:      %s\n", record.Result.Kind)
	fmt.Fprintf(&b, "Message:   %s\n", record.Result.Message)
	fmt.Fprintf(&b, "Attempts:  %d\n", record.AttemptCount)
	if record.Result.HTTPStatus != 0 {
		fmt.Fprintf(&b, "HTTP:      %d\n", record.Result.HTTPStatus)
	}
	if record.RequestID != "" {
		fmt.Fprintf(&b, "Request:   %s\n", record.RequestID)
	}
	fmt.Fprintf(&b, "Timestamp: %s\n", record.Timestamp.Format(time.RFC3339))
	return subject, b.String()
}
