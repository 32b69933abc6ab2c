// Package discord owns the Discord gateway session and exposes the narrow
// message operations the announce job needs: send, edit, delete, and owner
// lookup. Missing-message failures are mapped to ErrMessageNotFound so callers
// can treat them non-fatally.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// ErrMessageNotFound marks edit/delete/fetch targets that no longer exist
// (deleted manually or channel purged).
var ErrMessageNotFound = errors.New("discord message not found")

// Bot wraps a discordgo session with a readiness gate. The announce job must
// not start ticking until the gateway handshake completes, otherwise channel
// and user lookups fail spuriously on the first pass.
type Bot struct {
	Session *discordgo.Session

	readyOnce sync.Once
	ready     chan struct{}
}

// New creates a Bot for the given bot token. The session is not opened yet.
func New(token string) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	b := &Bot{Session: session, ready: make(chan struct{})}
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		b.readyOnce.Do(func() { close(b.ready) })
	})
	return b, nil
}

// Open connects the gateway session.
func (b *Bot) Open() error {
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

// Close shuts the gateway session down.
func (b *Bot) Close() error { return b.Session.Close() }

// WaitReady blocks until the gateway reports ready or ctx is done.
func (b *Bot) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendMessage posts content plus an embed to a channel and returns the new message id.
func (b *Bot) SendMessage(ctx context.Context, channelID, content string, embed *discordgo.MessageEmbed) (string, error) {
	msg, err := b.Session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		Embed:   embed,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message to %s: %w", channelID, err)
	}
	return msg.ID, nil
}

// EditMessage replaces the content and embed of an existing message in place.
func (b *Bot) EditMessage(ctx context.Context, channelID, messageID, content string, embed *discordgo.MessageEmbed) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(content).SetEmbed(embed)
	if _, err := b.Session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		if isUnknownMessage(err) {
			return fmt.Errorf("edit message %s: %w", messageID, ErrMessageNotFound)
		}
		return fmt.Errorf("edit message %s: %w", messageID, err)
	}
	return nil
}

// DeleteMessage removes a message by id.
func (b *Bot) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := b.Session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		if isUnknownMessage(err) {
			return fmt.Errorf("delete message %s: %w", messageID, ErrMessageNotFound)
		}
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

// FetchUser resolves a Discord user id to username and avatar URL for
// announcement attribution.
func (b *Bot) FetchUser(ctx context.Context, userID string) (username, avatarURL string, err error) {
	user, err := b.Session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", "", fmt.Errorf("fetch user %s: %w", userID, err)
	}
	return user.Username, user.AvatarURL("128"), nil
}

// GrantRole adds a guild role to a member (streamer registration).
func (b *Bot) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := b.Session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("grant role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

// isUnknownMessage reports whether err is Discord's "Unknown Message" REST
// error (or a plain 404 on the message route).
func isUnknownMessage(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
