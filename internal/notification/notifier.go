// Package notification delivers operator alerts (feed outages, store
// failures) to external channels.
package notification

import (
	"context"
	"errors"
	"log"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent. Symbol, Token and Attempts
// describe the relay's active instrument and are empty for alerts that are
// not about the feed.
type Alert struct {
	Level    AlertLevel `json:"level"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	Symbol   string     `json:"symbol,omitempty"`
	Token    string     `json:"token,omitempty"`
	Attempts int        `json:"attempts,omitempty"`
	At       time.Time  `json:"at"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends every alert to all of its backends. One failing backend does
// not stop delivery to the others.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options selects the optional backends. Empty fields disable a backend.
type Options struct {
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Build returns a Multi that always logs and adds each configured backend.
func Build(opts Options) Multi {
	m := Multi{NewLogNotifier()}
	if opts.WebhookURL != "" {
		m = append(m, NewWebhookNotifier(opts.WebhookURL))
	}
	if opts.TelegramBotToken != "" && opts.TelegramChatID != "" {
		m = append(m, NewTelegramNotifier(opts.TelegramBotToken, opts.TelegramChatID))
	}
	return m
}
