// Package discord provides the Discord bot layer for blare. It owns the
// discordgo.Session lifecycle, answers guild and channel lookups for the
// playback core, handles prefix chat commands and direct-message clip
// uploads, and plays entrance/exit sounds on voice-state changes.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/blare-bot/blare/internal/catalog"
	"github.com/blare-bot/blare/internal/playback"
	"github.com/blare-bot/blare/internal/state"
)

// Player is the slice of the playback core the bot layer drives.
type Player interface {
	Play(ctx context.Context, req playback.PlayRequest) error
}

// Recorder receives bot metrics. May be nil.
type Recorder interface {
	RecordCommand(name string)
	RecordUpload(status string)
}

// Config holds Discord bot configuration.
type Config struct {
	// Token is the raw bot token (without the "Bot " prefix).
	Token string

	// AllowedGuilds restricts served guilds. Empty serves every guild.
	AllowedGuilds []string

	// CommandPrefix is the chat-command prefix, e.g. "?".
	CommandPrefix string

	// AllowUploads enables adding clips via DM attachments.
	AllowUploads bool
}

// Bot owns the Discord gateway connection.
type Bot struct {
	cfg       Config
	session   *discordgo.Session
	directory *GuildDirectory
	commands  *CommandHandler
	uploads   *UploadHandler
	presence  *PresenceWatcher

	closeOnce sync.Once
}

// New creates a Bot wired to the given catalog, store, and playback core.
// The gateway connection is not opened until [Bot.Run].
func New(cfg Config, lib *catalog.Catalog, store *state.Store, player Player, metrics Recorder) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	directory := NewGuildDirectory(session.State, cfg.AllowedGuilds)

	b := &Bot{
		cfg:       cfg,
		session:   session,
		directory: directory,
		commands:  NewCommandHandler(cfg.CommandPrefix, lib, store, metrics),
		uploads:   NewUploadHandler(lib, metrics),
		presence:  NewPresenceWatcher(store, lib, directory, player),
	}

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.onMessage(s, m)
	})
	session.AddHandler(func(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		b.presence.Handle(context.Background(), v)
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord gateway ready",
			"user", r.User.Username, "guilds", len(r.Guilds))
	})

	return b, nil
}

// Directory returns the guild/channel lookup backed by the gateway state.
func (b *Bot) Directory() *GuildDirectory {
	return b.directory
}

// Session returns the underlying discordgo session for the voice transport.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Connected reports whether the gateway websocket currently has a live,
// identified session. Used by the readiness probe.
func (b *Bot) Connected() bool {
	return b.session.DataReady
}

// Run opens the gateway connection and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	slog.Info("discord session opened")

	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from the gateway. Safe to call more than once.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

// onMessage routes incoming messages: DM attachments go to the upload
// handler, prefixed messages to the command handler, everything else is
// ignored.
func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.Author.ID == s.State.User.ID {
		return
	}

	isDM := m.GuildID == ""
	if isDM && len(m.Attachments) > 0 {
		if !b.cfg.AllowUploads {
			_, _ = s.ChannelMessageSend(m.ChannelID, "Uploads are disabled on this server.")
			return
		}
		b.uploads.Handle(s, m)
		return
	}

	b.commands.Handle(s, m)
}
