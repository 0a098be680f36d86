// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/mail"
	"github.com/Kalypss/PortFolio/pkg/version"
)

// Notifier delivers an alert to one destination.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
	Name() string
}

// Payload is the JSON document sent by the webhook and Kafka notifiers.
type Payload struct {
	ID            string                 `json:"id"`
	Kind          string                 `json:"kind"`
	Count         int                    `json:"count"`
	WindowSeconds int64                  `json:"windowSeconds"`
	FiredAt       time.Time              `json:"firedAt"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// NewPayload converts a into its wire form.
func NewPayload(a Alert) Payload {
	return Payload{
		ID:            a.ID,
		Kind:          a.Kind.String(),
		Count:         a.Count,
		WindowSeconds: int64(a.Window / time.Second),
		FiredAt:       a.FiredAt,
		Details:       a.Details,
	}
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log.Named("alert-log")}
}

func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	n.log.Warnw("SECURITY ALERT",
		"alertId", a.ID,
		"kind", a.Kind.String(),
		"count", a.Count,
		"window", a.Window.String(),
		"firedAt", a.FiredAt,
		"details", a.Details)
	return nil
}

func (n *LogNotifier) Name() string { return "log" }

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL        string            `yaml:"url"`
	Headers    map[string]string `yaml:"headers"`
	Timeout    time.Duration     `yaml:"timeout"`
	RetryCount int               `yaml:"retryCount"`
}

// WebhookNotifier POSTs the alert payload as JSON.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", version.UserAgent()).
		SetHeaders(cfg.Headers).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &WebhookNotifier{client: client, url: cfg.URL}, nil
}

func (n *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(NewPayload(a)).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("posting alert webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode())
	}
	return nil
}

func (n *WebhookNotifier) Name() string { return "webhook" }

// MailNotifier sends alerts as HTML mails.
type MailNotifier struct {
	sender    mail.Sender
	receivers []string
}

func NewMailNotifier(sender mail.Sender, receivers []string) *MailNotifier {
	return &MailNotifier{sender: sender, receivers: receivers}
}

func (n *MailNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := mail.RenderAlert(mail.AlertMailParams{
		Kind:    a.Kind.String(),
		Count:   a.Count,
		Window:  a.Window.String(),
		FiredAt: a.FiredAt.Format(time.RFC3339),
		AlertID: a.ID,
		Details: a.Details,
	})
	if err != nil {
		return fmt.Errorf("rendering alert mail: %w", err)
	}
	subject := fmt.Sprintf("[Security alert] %s (%d events)", a.Kind, a.Count)
	return n.sender.Send(ctx, n.receivers, subject, body)
}

func (n *MailNotifier) Name() string { return "mail" }

// messageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts to a Kafka topic keyed by kind.
type KafkaNotifier struct {
	writer messageWriter
}

func NewKafkaNotifier(cfg audit.KafkaConfig) (*KafkaNotifier, error) {
	w, err := audit.NewKafkaWriter(cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaNotifier{writer: w}, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, a Alert) error {
	value, err := json.Marshal(NewPayload(a))
	if err != nil {
		return fmt.Errorf("marshalling alert: %w", err)
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.Kind.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "alert-id", Value: []byte(a.ID)},
			{Key: "count", Value: []byte(strconv.Itoa(a.Count))},
		},
	})
}

func (n *KafkaNotifier) Name() string { return "kafka" }

// Close closes the underlying writer.
func (n *KafkaNotifier) Close() error { return n.writer.Close() }

// MultiNotifier fans an alert out to several notifiers. Every notifier is
// tried; the errors are joined.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m MultiNotifier) Name() string { return "multi" }
