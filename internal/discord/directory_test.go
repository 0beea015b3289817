package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func newTestState(t *testing.T) *discordgo.State {
	t.Helper()
	st := discordgo.NewState()
	err := st.GuildAdd(&discordgo.Guild{
		ID:   "g1",
		Name: "Testers",
		Channels: []*discordgo.Channel{
			{ID: "v1", GuildID: "g1", Name: "General", Type: discordgo.ChannelTypeGuildVoice, Position: 1},
			{ID: "v2", GuildID: "g1", Name: "AFK", Type: discordgo.ChannelTypeGuildVoice, Position: 2},
			{ID: "t1", GuildID: "g1", Name: "chat", Type: discordgo.ChannelTypeGuildText, Position: 0},
			{ID: "s1", GuildID: "g1", Name: "Stage", Type: discordgo.ChannelTypeGuildStageVoice, Position: 3},
		},
		VoiceStates: []*discordgo.VoiceState{
			{UserID: "u1", ChannelID: "v1", GuildID: "g1"},
		},
	})
	if err != nil {
		t.Fatalf("GuildAdd: %v", err)
	}
	if err := st.GuildAdd(&discordgo.Guild{ID: "g2", Name: "Others"}); err != nil {
		t.Fatalf("GuildAdd: %v", err)
	}
	return st
}

func TestGuildKnown(t *testing.T) {
	st := newTestState(t)

	open := NewGuildDirectory(st, nil)
	if !open.GuildKnown("g1") || !open.GuildKnown("g2") {
		t.Error("cached guilds not known without allow-list")
	}
	if open.GuildKnown("g3") {
		t.Error("uncached guild reported known")
	}

	restricted := NewGuildDirectory(st, []string{"g1"})
	if !restricted.GuildKnown("g1") {
		t.Error("allow-listed guild not known")
	}
	if restricted.GuildKnown("g2") {
		t.Error("guild outside the allow-list reported known")
	}
}

func TestIsVoiceChannel(t *testing.T) {
	d := NewGuildDirectory(newTestState(t), nil)

	tests := []struct {
		guild, channel string
		want           bool
	}{
		{"g1", "v1", true},
		{"g1", "s1", true}, // stage channels count
		{"g1", "t1", false},
		{"g1", "missing", false},
		{"g2", "v1", false}, // wrong guild
	}
	for _, tt := range tests {
		if got := d.IsVoiceChannel(tt.guild, tt.channel); got != tt.want {
			t.Errorf("IsVoiceChannel(%s, %s) = %v, want %v", tt.guild, tt.channel, got, tt.want)
		}
	}
}

func TestVoiceChannelsOrdering(t *testing.T) {
	d := NewGuildDirectory(newTestState(t), nil)

	got := d.VoiceChannels("g1")
	if len(got) != 3 {
		t.Fatalf("channels = %d, want 3", len(got))
	}
	wantOrder := []string{"General", "AFK", "Stage"}
	for i, name := range wantOrder {
		if got[i].Name != name {
			t.Errorf("channel[%d] = %q, want %q", i, got[i].Name, name)
		}
	}

	if d.VoiceChannels("missing") != nil {
		t.Error("unknown guild should list no channels")
	}
}

func TestGuildsRespectsAllowList(t *testing.T) {
	st := newTestState(t)

	all := NewGuildDirectory(st, nil).Guilds()
	if len(all) != 2 {
		t.Fatalf("guilds = %d, want 2", len(all))
	}

	one := NewGuildDirectory(st, []string{"g2"}).Guilds()
	if len(one) != 1 || one[0].ID != "g2" {
		t.Errorf("restricted guilds = %v, want only g2", one)
	}
}

func TestMemberChannel(t *testing.T) {
	d := NewGuildDirectory(newTestState(t), nil)
	if got := d.MemberChannel("g1", "u1"); got != "v1" {
		t.Errorf("MemberChannel = %q, want v1", got)
	}
	if got := d.MemberChannel("g1", "ghost"); got != "" {
		t.Errorf("MemberChannel for absent user = %q, want empty", got)
	}
}
