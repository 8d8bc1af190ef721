package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo.Session methods used, enabling test mocks.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordOpts holds parameters for a Discord sink.
type DiscordOpts struct {
	Token   string // bot token, without the "Bot " prefix
	Channel string
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// Discord posts events as channel embeds over the REST API.
type Discord struct {
	session     discordSession
	channel     string
	baseBackoff time.Duration
}

// NewDiscord creates a Discord sink.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.Token == "" {
		return nil, fmt.Errorf("notify: discord bot token is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("notify: discord channel is required")
	}
	sess := opts.Session
	if sess == nil {
		s, err := discordgo.New("Bot " + opts.Token)
		if err != nil {
			return nil, fmt.Errorf("notify: discord session: %w", err)
		}
		sess = s
	}
	return &Discord{session: sess, channel: opts.Channel, baseBackoff: baseBackoff}, nil
}

// Name implements Sink.
func (d *Discord) Name() string { return "discord" }

// Notify implements Sink.
func (d *Discord) Notify(ctx context.Context, ev Event) error {
	embed := eventToEmbed(ev)
	err := retryOnRateLimit(d.baseBackoff, isDiscordRateLimited, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := d.session.ChannelMessageSendEmbed(d.channel, embed, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("notify: discord send: %w", err)
	}
	return nil
}

func isDiscordRateLimited(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusTooManyRequests
}

// eventToEmbed converts an Event to a Discord embed.
func eventToEmbed(ev Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       ev.Title,
		Description: ev.Body,
		Color:       parseHexColor(ev.Color()),
	}
	for _, f := range ev.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts "#36a64f" to its integer value; invalid input is 0.
func parseHexColor(hex string) int {
	v, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
