package discord

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/blare-bot/blare/internal/catalog"
	"github.com/blare-bot/blare/internal/state"
)

// messenger is the slice of discordgo.Session the text handlers need,
// extracted so tests can capture replies.
type messenger interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// listLimit caps how many clip names a ?list reply shows.
const listLimit = 50

// CommandHandler answers prefix chat commands: help, list, entrance, exit.
type CommandHandler struct {
	prefix  string
	lib     *catalog.Catalog
	store   *state.Store
	metrics Recorder
}

// NewCommandHandler creates the chat-command handler.
func NewCommandHandler(prefix string, lib *catalog.Catalog, store *state.Store, metrics Recorder) *CommandHandler {
	return &CommandHandler{prefix: prefix, lib: lib, store: store, metrics: metrics}
}

// Handle parses m and executes the command, replying in the same channel.
// Non-command messages are ignored.
func (h *CommandHandler) Handle(s messenger, m *discordgo.MessageCreate) {
	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, h.prefix) {
		return
	}

	rest := strings.TrimPrefix(content, h.prefix)
	name, args, _ := strings.Cut(rest, " ")
	name = strings.ToLower(strings.TrimSpace(name))
	args = strings.TrimSpace(args)
	if name == "" {
		return
	}

	var reply string
	switch name {
	case "help":
		reply = h.helpText()
	case "list":
		reply = h.listText(args)
	case "entrance":
		reply = h.presenceSound(m.Author.ID, args, true)
	case "exit":
		reply = h.presenceSound(m.Author.ID, args, false)
	default:
		// Unknown prefixed message; stay silent so other bots can share the
		// prefix.
		return
	}

	if h.metrics != nil {
		h.metrics.RecordCommand(name)
	}
	slog.Debug("chat command handled", "command", name, "user_id", m.Author.ID)
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		slog.Warn("chat command reply failed", "command", name, "err", err)
	}
}

func (h *CommandHandler) helpText() string {
	p := h.prefix
	return "**blare commands**\n" +
		p + "help - this message\n" +
		p + "list [query] - list clips, optionally filtered\n" +
		p + "entrance <clip|off> - set or clear your entrance sound\n" +
		p + "exit <clip|off> - set or clear your exit sound\n" +
		"Send me an audio file in a DM to add it to the board."
}

func (h *CommandHandler) listText(query string) string {
	items, _, err := h.lib.Items()
	if err != nil {
		slog.Error("list command: read catalog", "err", err)
		return "Could not read the sound library."
	}
	if query != "" {
		items = catalog.Filter(items, query, true)
	}
	if len(items) == 0 {
		if query != "" {
			return fmt.Sprintf("No clips matching %q.", query)
		}
		return "The sound library is empty."
	}

	names := make([]string, 0, len(items))
	for i, it := range items {
		if i == listLimit {
			names = append(names, fmt.Sprintf("… and %d more", len(items)-listLimit))
			break
		}
		names = append(names, it.Name)
	}
	return fmt.Sprintf("%d clips: %s", len(items), strings.Join(names, ", "))
}

// presenceSound implements ?entrance and ?exit: no argument reports the
// current setting, "off"/"none" clears it, anything else fuzzy-resolves a
// clip and stores its key.
func (h *CommandHandler) presenceSound(userID, arg string, entrance bool) string {
	kind := "exit"
	current := h.store.ExitSound(userID)
	if entrance {
		kind = "entrance"
		current = h.store.EntranceSound(userID)
	}

	switch strings.ToLower(arg) {
	case "":
		if current == "" {
			return fmt.Sprintf("You have no %s sound set. Use %s%s <clip> to set one.", kind, h.prefix, kind)
		}
		return fmt.Sprintf("Your %s sound is **%s**.", kind, current)

	case "off", "none":
		h.setPresenceSound(userID, "", entrance)
		return fmt.Sprintf("Your %s sound is cleared.", kind)
	}

	items, _, err := h.lib.Items()
	if err != nil {
		slog.Error("presence command: read catalog", "err", err)
		return "Could not read the sound library."
	}
	matches := catalog.Filter(items, arg, true)
	if len(matches) == 0 {
		return fmt.Sprintf("No clip matching %q.", arg)
	}

	best := matches[0]
	h.setPresenceSound(userID, best.RelativePath, entrance)
	return fmt.Sprintf("Your %s sound is now **%s**.", kind, best.Name)
}

func (h *CommandHandler) setPresenceSound(userID, key string, entrance bool) {
	if entrance {
		h.store.SetEntranceSound(userID, key)
	} else {
		h.store.SetExitSound(userID, key)
	}
}
