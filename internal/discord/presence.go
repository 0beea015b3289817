package discord

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/blare-bot/blare/internal/catalog"
	"github.com/blare-bot/blare/internal/playback"
	"github.com/blare-bot/blare/internal/state"
)

// PresenceWatcher plays a user's configured entrance sound when they join a
// voice channel and their exit sound when they leave one. Moving between
// channels of the same guild counts as a join of the new channel.
type PresenceWatcher struct {
	store     *state.Store
	lib       *catalog.Catalog
	directory *GuildDirectory
	player    Player
}

// NewPresenceWatcher creates the voice-state watcher.
func NewPresenceWatcher(store *state.Store, lib *catalog.Catalog, directory *GuildDirectory, player Player) *PresenceWatcher {
	return &PresenceWatcher{store: store, lib: lib, directory: directory, player: player}
}

// Handle reacts to one voice-state update. Failures are logged, never
// escalated: a broken entrance sound must not affect anything else.
func (p *PresenceWatcher) Handle(ctx context.Context, v *discordgo.VoiceStateUpdate) {
	if v == nil || v.UserID == "" {
		return
	}
	if v.Member != nil && v.Member.User != nil && v.Member.User.Bot {
		return
	}
	if !p.directory.GuildKnown(v.GuildID) {
		return
	}

	before := ""
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}

	switch {
	case v.ChannelID != "" && v.ChannelID != before:
		p.play(ctx, v.GuildID, v.ChannelID, p.store.EntranceSound(v.UserID), "entrance", v.UserID)

	case v.ChannelID == "" && before != "":
		p.play(ctx, v.GuildID, before, p.store.ExitSound(v.UserID), "exit", v.UserID)
	}
}

func (p *PresenceWatcher) play(ctx context.Context, guildID, channelID, key, trigger, userID string) {
	if key == "" {
		return
	}
	if !p.lib.Exists(key) {
		slog.Warn("configured presence sound is missing",
			"user_id", userID, "trigger", trigger, "clip", key)
		return
	}

	err := p.player.Play(ctx, playback.PlayRequest{
		GuildID:   guildID,
		ChannelID: channelID,
		Path:      p.lib.AbsPath(key),
		CountKey:  key,
		Trigger:   trigger,
	})
	if err != nil {
		slog.Warn("presence sound failed",
			"user_id", userID, "trigger", trigger, "clip", key, "err", err)
	}
}
