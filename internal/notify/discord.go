package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

// embedColor is the accent used for notification embeds.
const embedColor = 0x00A8E8

// ChannelSender is the subset of [discordgo.Session] used to post
// notifications.
type ChannelSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts notifications as embeds into a single text channel.
type Discord struct {
	sender    ChannelSender
	channelID string
	now       func() time.Time
}

var _ Notifier = (*Discord)(nil)

// NewDiscord creates a bot-token session and returns a notifier posting to
// channelID. The REST client is used directly, so no gateway connection is
// opened.
func NewDiscord(token, channelID string) (*Discord, error) {
	if token == "" {
		return nil, errors.New("notify: discord: token is required")
	}
	if channelID == "" {
		return nil, errors.New("notify: discord: channel_id is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord: create session: %w", err)
	}
	return NewDiscordWithSender(s, channelID), nil
}

// NewDiscordWithSender returns a notifier over an existing sender.
func NewDiscordWithSender(sender ChannelSender, channelID string) *Discord {
	return &Discord{sender: sender, channelID: channelID, now: time.Now}
}

// Permission implements [Notifier]. Delivery is allowed whenever a channel is
// configured.
func (d *Discord) Permission(context.Context) bool {
	return d.sender != nil && d.channelID != ""
}

// Notify implements [Notifier].
func (d *Discord) Notify(ctx context.Context, n Notification) error {
	if !d.Permission(ctx) {
		return ErrPermissionDenied
	}
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		Color:       embedColor,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "jarvis"},
	}
	if _, err := d.sender.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("notify: discord: send: %w", err)
	}
	slog.InfoContext(ctx, "notification delivered", "backend", "discord", "channel", d.channelID)
	return nil
}
