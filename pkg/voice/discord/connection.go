package discord

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/blare-bot/blare/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Connection = (*Connection)(nil)

// monitorInterval is how often the connection polls the discordgo voice
// handle's readiness flag. discordgo does not expose a state-change stream,
// so the [voice.State] machine is synthesised from that flag.
const monitorInterval = 250 * time.Millisecond

// Connection adapts a *discordgo.VoiceConnection to the [voice.Connection]
// interface. State transitions are delivered to registered observers from a
// single monitor goroutine.
//
// Connection is safe for concurrent use.
type Connection struct {
	session *discordgo.Session
	guildID string

	mu        sync.Mutex
	vc        *discordgo.VoiceConnection
	channelID string
	state     voice.State
	observers map[chan<- voice.Transition]struct{}
	player    *Player

	done      chan struct{}
	closeOnce sync.Once
}

// newConnection wraps an already-joined discordgo voice handle and starts the
// state monitor goroutine.
func newConnection(session *discordgo.Session, vc *discordgo.VoiceConnection, guildID, channelID string) *Connection {
	c := &Connection{
		session:   session,
		guildID:   guildID,
		vc:        vc,
		channelID: channelID,
		state:     voice.StateSignalling,
		observers: make(map[chan<- voice.Transition]struct{}),
		done:      make(chan struct{}),
	}
	go c.monitor()
	return c
}

// GuildID returns the guild this connection belongs to.
func (c *Connection) GuildID() string { return c.guildID }

// ChannelID returns the channel the connection was last joined to.
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// State returns the current lifecycle state.
func (c *Connection) State() voice.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Notify registers ch for future state transitions.
func (c *Connection) Notify(ch chan<- voice.Transition) (remove func()) {
	c.mu.Lock()
	c.observers[ch] = struct{}{}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, ch)
		c.mu.Unlock()
	}
}

// Rejoin re-negotiates the voice session in place, moving to channelID if it
// differs from the current channel.
func (c *Connection) Rejoin(channelID string) error {
	c.mu.Lock()
	vc := c.vc
	c.channelID = channelID
	c.mu.Unlock()

	c.transition(voice.StateSignalling)

	if err := vc.ChangeChannel(channelID, false, true); err != nil {
		return fmt.Errorf("discord: rejoin channel %q: %w", channelID, err)
	}
	return nil
}

// Subscribe attaches p as the audio source for this connection. Only the
// package's own [Player] can feed Opus frames into discordgo; any other
// implementation is rejected with a log line.
func (c *Connection) Subscribe(p voice.Player) {
	dp, ok := p.(*Player)
	if !ok {
		slog.Warn("discord: subscribe requires a discord player", "got", fmt.Sprintf("%T", p))
		return
	}

	c.mu.Lock()
	c.player = dp
	vc := c.vc
	c.mu.Unlock()

	dp.attach(vc)
}

// Destroy tears the connection down and delivers a final Destroyed
// transition. Safe to call more than once.
func (c *Connection) Destroy() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		vc := c.vc
		player := c.player
		c.mu.Unlock()

		// Detach the player first so it stops writing into a dying handle.
		if player != nil {
			player.attach(nil)
		}

		if vc != nil {
			if dErr := vc.Disconnect(); dErr != nil {
				err = fmt.Errorf("discord: disconnect: %w", dErr)
			}
		}

		c.transition(voice.StateDestroyed)
	})
	return err
}

// monitor synthesises state transitions from the discordgo readiness flag.
func (c *Connection) monitor() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			vc := c.vc
			cur := c.state
			c.mu.Unlock()

			ready := vc != nil && vc.Ready

			switch {
			case ready && cur != voice.StateReady:
				if cur == voice.StateSignalling {
					// Surface the intermediate hop so observers waiting on
					// Connecting see it.
					c.transition(voice.StateConnecting)
				}
				c.transition(voice.StateReady)
			case !ready && cur == voice.StateReady:
				c.transition(voice.StateDisconnected)
			}
		}
	}
}

// transition moves to next and fans the change out to all observers.
// Sends are non-blocking; slow observers miss transitions.
func (c *Connection) transition(next voice.State) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	tr := voice.Transition{From: c.state, To: next}
	c.state = next
	obs := make([]chan<- voice.Transition, 0, len(c.observers))
	for ch := range c.observers {
		obs = append(obs, ch)
	}
	c.mu.Unlock()

	slog.Debug("discord: voice connection state",
		"guild_id", c.guildID, "from", tr.From, "to", tr.To)

	for _, ch := range obs {
		select {
		case ch <- tr:
		default:
		}
	}
}
