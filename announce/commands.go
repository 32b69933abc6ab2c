package announce

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Registrar writes streamer identity fields. It is deliberately separate from
// Store: registration never touches announcement state, so a re-registered
// streamer keeps any live announcement.
type Registrar interface {
	UpsertStreamer(ctx context.Context, username, discordUserID string) error
}

// RoleGranter adds the streamer role to a guild member.
type RoleGranter interface {
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
}

// Commands handles the chat command surface: !streamer and !raid.
type Commands struct {
	Registrar      Registrar
	Roles          RoleGranter
	StreamerRoleID string
	AdminRoleID    string
}

// Attach registers the message-create handler on a session.
func (c *Commands) Attach(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		reply := func(msg string) {
			if _, err := s.ChannelMessageSend(m.ChannelID, msg); err != nil {
				slog.Warn("command reply failed", slog.Any("err", err))
			}
		}
		c.dispatch(context.Background(), m, reply)
	})
}

// dispatch parses and executes a command message. Session-free so tests can
// drive it directly.
func (c *Commands) dispatch(ctx context.Context, m *discordgo.MessageCreate, reply func(string)) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, "!") {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(content, "!"))
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "streamer":
		c.handleStreamer(ctx, m, fields[1:], reply)
	case "raid":
		c.handleRaid(m, fields[1:], reply)
	}
}

// handleStreamer grants the streamer role and registers the Twitch username
// for live announcements. Defaults to the author; an explicit mention
// registers that member instead.
func (c *Commands) handleStreamer(ctx context.Context, m *discordgo.MessageCreate, args []string, reply func(string)) {
	if !c.isAdmin(m) {
		reply(mention(m.Author.ID) + ", this command can only be used by admins")
		return
	}
	if len(args) < 1 {
		reply(mention(m.Author.ID) + ", please specify a twitch username.")
		return
	}
	target := m.Author
	if len(m.Mentions) > 0 {
		target = m.Mentions[0]
	}
	// Helix logins are lowercase; normalize so lookups match.
	username := strings.ToLower(args[0])

	if c.StreamerRoleID != "" {
		if err := c.Roles.GrantRole(ctx, m.GuildID, target.ID, c.StreamerRoleID); err != nil {
			slog.Warn("streamer role grant failed", slog.String("user", target.ID), slog.Any("err", err))
			reply(fmt.Sprintf("%s, encountered unexpected error granting the streamer role", mention(m.Author.ID)))
			return
		}
	}
	if err := c.Registrar.UpsertStreamer(ctx, username, target.ID); err != nil {
		slog.Error("streamer registration failed", slog.String("username", username), slog.Any("err", err))
		reply(fmt.Sprintf("%s, encountered unexpected error registering the streamer", mention(m.Author.ID)))
		return
	}
	slog.Info("streamer registered", slog.String("username", username), slog.String("discord_user", target.ID))
	reply(fmt.Sprintf("%s, %s has made you a streamer!", mention(target.ID), mention(m.Author.ID)))
}

// handleRaid posts a manual shout-out linking another channel.
func (c *Commands) handleRaid(m *discordgo.MessageCreate, args []string, reply func(string)) {
	if !c.isAdmin(m) {
		reply(mention(m.Author.ID) + ", this command can only be used by admins")
		return
	}
	if len(args) < 1 {
		reply(mention(m.Author.ID) + ", please specify a channel name.")
		return
	}
	reply("@everyone we're raiding https://twitch.tv/" + args[0])
}

func (c *Commands) isAdmin(m *discordgo.MessageCreate) bool {
	if m.Member == nil {
		return false
	}
	if m.Member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return c.AdminRoleID != "" && slices.Contains(m.Member.Roles, c.AdminRoleID)
}

func mention(userID string) string { return "<@" + userID + ">" }
