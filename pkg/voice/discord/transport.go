// Package discord provides a [voice.Transport] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges the
// playback core's PCM resources with Discord's Opus voice transport.
//
// The transport requires an active *discordgo.Session (owned by the bot
// layer). Each call to [Transport.Join] joins the requested voice channel and
// returns a [Connection] that tracks the discordgo voice handle through the
// [voice.State] machine.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/blare-bot/blare/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Transport = (*Transport)(nil)

// Transport implements [voice.Transport] using a discordgo session.
//
// Transport is safe for concurrent use.
type Transport struct {
	session *discordgo.Session
}

// New creates a Transport for the given session.
func New(session *discordgo.Session) *Transport {
	return &Transport{session: session}
}

// Join connects to the given voice channel and returns an active
// [voice.Connection]. mute=false (we send audio), deaf=true (we never
// consume incoming audio; this is a playback-only service).
func (t *Transport) Join(ctx context.Context, guildID, channelID string) (voice.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	return newConnection(t.session, vc, guildID, channelID), nil
}
