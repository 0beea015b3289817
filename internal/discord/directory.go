package discord

import (
	"sort"

	"github.com/bwmarrin/discordgo"
)

// ChannelInfo is one voice-capable channel exposed to the HTTP API.
type ChannelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GuildID  string `json:"guildId"`
	Position int    `json:"position"`
}

// GuildInfo is one served guild exposed to the HTTP API.
type GuildInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GuildDirectory answers guild and channel questions from the gateway state
// cache. It implements the playback core's Directory contract.
type GuildDirectory struct {
	state   *discordgo.State
	allowed map[string]bool
}

// NewGuildDirectory creates a directory over st, optionally restricted to the
// given guild IDs.
func NewGuildDirectory(st *discordgo.State, allowedGuilds []string) *GuildDirectory {
	var allowed map[string]bool
	if len(allowedGuilds) > 0 {
		allowed = make(map[string]bool, len(allowedGuilds))
		for _, id := range allowedGuilds {
			allowed[id] = true
		}
	}
	return &GuildDirectory{state: st, allowed: allowed}
}

// GuildKnown reports whether the bot serves guildID: the guild must be in the
// state cache and, when an allow-list is configured, on it.
func (d *GuildDirectory) GuildKnown(guildID string) bool {
	if d.allowed != nil && !d.allowed[guildID] {
		return false
	}
	_, err := d.state.Guild(guildID)
	return err == nil
}

// IsVoiceChannel reports whether channelID is a voice-capable channel of
// guildID.
func (d *GuildDirectory) IsVoiceChannel(guildID, channelID string) bool {
	ch, err := d.state.Channel(channelID)
	if err != nil || ch.GuildID != guildID {
		return false
	}
	return ch.Type == discordgo.ChannelTypeGuildVoice ||
		ch.Type == discordgo.ChannelTypeGuildStageVoice
}

// Guilds lists the served guilds sorted by name.
func (d *GuildDirectory) Guilds() []GuildInfo {
	d.state.RLock()
	guilds := make([]*discordgo.Guild, len(d.state.Guilds))
	copy(guilds, d.state.Guilds)
	d.state.RUnlock()

	out := make([]GuildInfo, 0, len(guilds))
	for _, g := range guilds {
		if d.allowed != nil && !d.allowed[g.ID] {
			continue
		}
		out = append(out, GuildInfo{ID: g.ID, Name: g.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// VoiceChannels lists the voice-capable channels of guildID in Discord's
// display order.
func (d *GuildDirectory) VoiceChannels(guildID string) []ChannelInfo {
	g, err := d.state.Guild(guildID)
	if err != nil {
		return nil
	}

	d.state.RLock()
	channels := make([]*discordgo.Channel, len(g.Channels))
	copy(channels, g.Channels)
	d.state.RUnlock()

	var out []ChannelInfo
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildVoice &&
			ch.Type != discordgo.ChannelTypeGuildStageVoice {
			continue
		}
		out = append(out, ChannelInfo{
			ID:       ch.ID,
			Name:     ch.Name,
			GuildID:  guildID,
			Position: ch.Position,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// MemberChannel returns the voice channel userID is currently in within
// guildID, or "".
func (d *GuildDirectory) MemberChannel(guildID, userID string) string {
	vs, err := d.state.VoiceState(guildID, userID)
	if err != nil {
		return ""
	}
	return vs.ChannelID
}
