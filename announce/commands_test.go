package announce

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

type fakeRegistrar struct {
	usernames []string
	owners    []string
	err       error
}

func (f *fakeRegistrar) UpsertStreamer(ctx context.Context, username, discordUserID string) error {
	if f.err != nil {
		return f.err
	}
	f.usernames = append(f.usernames, username)
	f.owners = append(f.owners, discordUserID)
	return nil
}

type fakeRoles struct {
	grants []string
	err    error
}

func (f *fakeRoles) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	if f.err != nil {
		return f.err
	}
	f.grants = append(f.grants, userID+":"+roleID)
	return nil
}

func adminMessage(content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		Content:   content,
		GuildID:   "guild-1",
		ChannelID: "chan-1",
		Author:    &discordgo.User{ID: "admin-1"},
		Member:    &discordgo.Member{Roles: []string{"role-admin"}},
	}}
}

func newCommands() (*Commands, *fakeRegistrar, *fakeRoles) {
	reg := &fakeRegistrar{}
	roles := &fakeRoles{}
	return &Commands{
		Registrar:      reg,
		Roles:          roles,
		StreamerRoleID: "role-streamer",
		AdminRoleID:    "role-admin",
	}, reg, roles
}

func TestStreamerCommandRegistersAuthor(t *testing.T) {
	c, reg, roles := newCommands()
	var replies []string
	c.dispatch(context.Background(), adminMessage("!streamer AliceTV"), func(s string) { replies = append(replies, s) })

	if len(reg.usernames) != 1 || reg.usernames[0] != "alicetv" {
		t.Fatalf("registered usernames = %v, want [alicetv] (lowercased)", reg.usernames)
	}
	if reg.owners[0] != "admin-1" {
		t.Errorf("owner = %q, want author", reg.owners[0])
	}
	if len(roles.grants) != 1 || roles.grants[0] != "admin-1:role-streamer" {
		t.Errorf("grants = %v", roles.grants)
	}
	if len(replies) != 1 || !strings.Contains(replies[0], "streamer") {
		t.Errorf("replies = %v", replies)
	}
}

func TestStreamerCommandRegistersMentionedUser(t *testing.T) {
	c, reg, _ := newCommands()
	m := adminMessage("!streamer alicetv <@target-9>")
	m.Mentions = []*discordgo.User{{ID: "target-9"}}
	c.dispatch(context.Background(), m, func(string) {})

	if len(reg.owners) != 1 || reg.owners[0] != "target-9" {
		t.Errorf("owner = %v, want mentioned user", reg.owners)
	}
}

func TestStreamerCommandMissingArgs(t *testing.T) {
	c, reg, _ := newCommands()
	var replies []string
	c.dispatch(context.Background(), adminMessage("!streamer"), func(s string) { replies = append(replies, s) })

	if len(reg.usernames) != 0 {
		t.Errorf("missing args must not register")
	}
	if len(replies) != 1 || !strings.Contains(replies[0], "specify") {
		t.Errorf("expected usage reply, got %v", replies)
	}
}

func TestCommandsRequireAdmin(t *testing.T) {
	c, reg, _ := newCommands()
	m := adminMessage("!streamer alicetv")
	m.Member = &discordgo.Member{Roles: []string{"role-pleb"}}
	var replies []string
	c.dispatch(context.Background(), m, func(s string) { replies = append(replies, s) })

	if len(reg.usernames) != 0 {
		t.Errorf("non-admin must not register streamers")
	}
	if len(replies) != 1 || !strings.Contains(replies[0], "admins") {
		t.Errorf("expected permission reply, got %v", replies)
	}
}

func TestRaidCommand(t *testing.T) {
	c, _, _ := newCommands()
	var replies []string
	c.dispatch(context.Background(), adminMessage("!raid somechannel"), func(s string) { replies = append(replies, s) })

	if len(replies) != 1 || !strings.Contains(replies[0], "https://twitch.tv/somechannel") {
		t.Errorf("replies = %v", replies)
	}

	replies = nil
	c.dispatch(context.Background(), adminMessage("!raid"), func(s string) { replies = append(replies, s) })
	if len(replies) != 1 || !strings.Contains(replies[0], "specify") {
		t.Errorf("expected usage reply, got %v", replies)
	}
}

func TestDispatchIgnoresNonCommands(t *testing.T) {
	c, reg, _ := newCommands()
	called := false
	c.dispatch(context.Background(), adminMessage("hello there"), func(string) { called = true })
	if called || len(reg.usernames) != 0 {
		t.Errorf("plain messages must be ignored")
	}

	bot := adminMessage("!streamer alicetv")
	bot.Author.Bot = true
	c.dispatch(context.Background(), bot, func(string) { called = true })
	if called || len(reg.usernames) != 0 {
		t.Errorf("bot messages must be ignored")
	}
}
