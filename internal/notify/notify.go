// Package notify delivers pipeline and operator events to chat platforms.
// Delivery is best-effort: failures are logged and never block the caller's
// own outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zulandar/switchyard/internal/config"
)

// Severity levels for events.
const (
	SeveritySuccess = "success"
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Event is one notification.
type Event struct {
	Title    string
	Body     string
	Severity string
	Fields   []Field
}

// Field is a key-value pair rendered alongside an event.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Color returns the sidebar color for the event's severity.
func (e Event) Color() string {
	switch e.Severity {
	case SeveritySuccess:
		return ColorSuccess
	case SeverityWarning:
		return ColorWarning
	case SeverityError:
		return ColorError
	default:
		return ColorInfo
	}
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// Notifier fans an event out to every sink.
type Notifier struct {
	sinks []Sink
}

// New returns a Notifier over sinks. A Notifier with no sinks drops events.
func New(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks}
}

// FromConfig builds a Notifier with a sink for every configured platform.
func FromConfig(cfg config.NotifyConfig) (*Notifier, error) {
	var sinks []Sink
	if cfg.Slack.Configured() {
		s, err := NewSlack(SlackOpts{Token: cfg.Slack.Token, Channel: cfg.Slack.Channel})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Discord.Configured() {
		d, err := NewDiscord(DiscordOpts{Token: cfg.Discord.Token, Channel: cfg.Discord.Channel})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	return New(sinks...), nil
}

// Sinks returns the names of the configured sinks.
func (n *Notifier) Sinks() []string {
	if n == nil {
		return nil
	}
	names := make([]string, len(n.sinks))
	for i, s := range n.sinks {
		names[i] = s.Name()
	}
	return names
}

// Notify sends ev to every sink. Each failure is logged; the joined errors
// are returned for callers that care.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	if n == nil {
		return nil
	}
	var errs []error
	for _, s := range n.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			log.Printf("notify: %s: %v", s.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
