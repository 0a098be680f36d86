// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Config configures the SMTP sender.
type Config struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	User               string   `yaml:"user"`
	Password           string   `yaml:"password"`
	InsecureSkipVerify bool     `yaml:"insecureSkipVerify"`
	SenderAddress      string   `yaml:"senderAddress"`
	SenderName         string   `yaml:"senderName"`
	Receivers          []string `yaml:"receivers"`
	// RetryCount is the number of retries after the first attempt. Zero
	// selects the default of 3; a negative value disables retries.
	RetryCount   int           `yaml:"retryCount"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
}

// Enabled reports whether a host and at least one receiver are configured.
func (c Config) Enabled() bool {
	return c.Host != "" && len(c.Receivers) > 0
}

type Sender interface {
	Send(ctx context.Context, receivers []string, subject, body string) error
	Host() string
}

type sender struct {
	dialer        *gomail.Dialer
	senderAddress string
	senderName    string
	retryCount    int
	retryBackoff  time.Duration
	log           *zap.SugaredLogger
}

const maxBackoff = 32 * time.Second

func NewSender(cfg Config, log *zap.SugaredLogger) Sender {
	log = log.Named("mail")
	log.Infow("Initializing mail sender", "host", cfg.Host, "port", cfg.Port, "user", cfg.User)
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		log.Warn("InsecureSkipVerify is enabled for mail TLS connection")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test relays
	}

	senderAddr := cfg.SenderAddress
	if senderAddr == "" {
		senderAddr = "noreply@localhost"
	}
	senderName := cfg.SenderName
	if senderName == "" {
		senderName = "Portfolio Gateway"
	}

	retryCount := cfg.RetryCount
	if retryCount < 0 {
		retryCount = 0
	} else if retryCount == 0 {
		retryCount = 3
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 100 * time.Millisecond
	}

	return &sender{
		dialer:        d,
		senderAddress: senderAddr,
		senderName:    senderName,
		retryCount:    retryCount,
		retryBackoff:  retryBackoff,
		log:           log,
	}
}

func (s *sender) Send(ctx context.Context, receivers []string, subject, body string) error {
	if len(receivers) == 0 {
		return errors.New("no mail receivers")
	}
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.senderAddress, s.senderName)
	msg.SetHeader("Bcc", receivers...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	var lastErr error
	backoff := s.retryBackoff
	for attempt := 0; attempt <= s.retryCount; attempt++ {
		err := s.dialer.DialAndSend(msg)
		if err == nil {
			s.log.Debugw("Mail sent", "receivers", len(receivers), "attempt", attempt+1)
			return nil
		}
		lastErr = err
		if attempt == s.retryCount {
			break
		}

		s.log.Debugw("Mail send attempt failed, retrying", "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}

	s.log.Warnw("Failed to send mail", "attempts", s.retryCount+1, "error", lastErr)
	return lastErr
}

func (s *sender) Host() string {
	return s.dialer.Host
}
