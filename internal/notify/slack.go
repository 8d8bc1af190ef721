package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods used, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackOpts holds parameters for a Slack sink.
type SlackOpts struct {
	Token   string // xoxb-... bot token
	Channel string
	APIURL  string // override for tests
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// Slack posts events as message attachments.
type Slack struct {
	client      slackClient
	channel     string
	baseBackoff time.Duration
}

// NewSlack creates a Slack sink.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("notify: slack bot token is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("notify: slack channel is required")
	}
	client := opts.Client
	if client == nil {
		var options []slackapi.Option
		if opts.APIURL != "" {
			options = append(options, slackapi.OptionAPIURL(opts.APIURL))
		}
		client = slackapi.New(opts.Token, options...)
	}
	return &Slack{client: client, channel: opts.Channel, baseBackoff: baseBackoff}, nil
}

// Name implements Sink.
func (s *Slack) Name() string { return "slack" }

// Notify implements Sink.
func (s *Slack) Notify(ctx context.Context, ev Event) error {
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(ev.Title, false),
		slackapi.MsgOptionAttachments(eventToAttachment(ev)),
	}
	err := retryOnRateLimit(s.baseBackoff, isSlackRateLimited, func() error {
		_, _, err := s.client.PostMessageContext(ctx, s.channel, options...)
		return err
	})
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}

func isSlackRateLimited(err error) bool {
	var rle *slackapi.RateLimitedError
	return errors.As(err, &rle)
}

// eventToAttachment converts an Event to a Slack Attachment.
func eventToAttachment(ev Event) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    ev.Title,
		Text:     ev.Body,
		Color:    ev.Color(),
		Fallback: ev.Title,
	}
	for _, f := range ev.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}
