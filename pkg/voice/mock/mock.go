// Package mock provides in-memory mock implementations of the
// [voice.Transport], [voice.Connection], and [voice.Player] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values. State
// transitions are driven by the test via [Connection.SetState].
//
// Typical usage:
//
//	tr := mock.NewTransport()
//	conn, _ := tr.Join(ctx, "guild-1", "chan-1")
//	conn.(*mock.Connection).SetState(voice.StateReady)
package mock

import (
	"context"
	"sync"

	"github.com/blare-bot/blare/pkg/voice"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Compile-time interface assertions.
var (
	_ voice.Connection = (*Connection)(nil)
	_ voice.Transport  = (*Transport)(nil)
	_ voice.Player     = (*Player)(nil)
)

// Connection is a mock implementation of [voice.Connection]. Drive the state
// machine from tests via [Connection.SetState]; inspect the Call* fields and
// recorded arguments afterwards.
type Connection struct {
	mu sync.Mutex

	// Guild and Channel identify the connection. Join sets them; Rejoin
	// updates Channel.
	Guild   string
	Channel string

	// RejoinError is returned by [Connection.Rejoin].
	RejoinError error

	// DestroyError is returned by [Connection.Destroy].
	DestroyError error

	// CallCountRejoin records how many times Rejoin was called.
	CallCountRejoin int

	// CallCountDestroy records how many times Destroy was called.
	CallCountDestroy int

	// CallCountSubscribe records how many times Subscribe was called.
	CallCountSubscribe int

	// Subscribed holds the players passed to Subscribe, in order.
	Subscribed []voice.Player

	state     voice.State
	observers map[chan<- voice.Transition]struct{}
}

// NewConnection creates a mock connection in the Signalling state.
func NewConnection(guildID, channelID string) *Connection {
	return &Connection{
		Guild:     guildID,
		Channel:   channelID,
		state:     voice.StateSignalling,
		observers: make(map[chan<- voice.Transition]struct{}),
	}
}

// GuildID implements [voice.Connection].
func (c *Connection) GuildID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Guild
}

// ChannelID implements [voice.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Channel
}

// State implements [voice.Connection].
func (c *Connection) State() voice.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState moves the mock to next and delivers the transition to all
// registered observers. No-op when the state is unchanged.
func (c *Connection) SetState(next voice.State) {
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

	for _, ch := range obs {
		select {
		case ch <- tr:
		default:
		}
	}
}

// Notify implements [voice.Connection].
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

// Rejoin implements [voice.Connection]. It records the call, updates the
// channel, and returns RejoinError. The state is not changed automatically;
// tests script recovery via [Connection.SetState].
func (c *Connection) Rejoin(channelID string) error {
	c.mu.Lock()
	c.CallCountRejoin++
	c.Channel = channelID
	err := c.RejoinError
	c.mu.Unlock()
	return err
}

// Rejoins returns CallCountRejoin under the lock, for assertions that race
// a running watcher.
func (c *Connection) Rejoins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountRejoin
}

// Subscribe implements [voice.Connection].
func (c *Connection) Subscribe(p voice.Player) {
	c.mu.Lock()
	c.CallCountSubscribe++
	c.Subscribed = append(c.Subscribed, p)
	c.mu.Unlock()
}

// Destroy implements [voice.Connection]. It records the call, moves the mock
// to Destroyed, and returns DestroyError.
func (c *Connection) Destroy() error {
	c.mu.Lock()
	c.CallCountDestroy++
	err := c.DestroyError
	c.mu.Unlock()
	c.SetState(voice.StateDestroyed)
	return err
}

// ─── Transport ────────────────────────────────────────────────────────────────

// Transport is a mock implementation of [voice.Transport]. Every Join creates
// a fresh [Connection] (optionally pre-moved to ReadyOnJoin) and records it
// in Joined.
type Transport struct {
	mu sync.Mutex

	// JoinError, when non-nil, is returned by Join instead of a connection.
	JoinError error

	// ReadyOnJoin moves every new connection straight to Ready. This is the
	// common case for tests that are not exercising the supervisor.
	ReadyOnJoin bool

	// Joined holds every connection handed out, in order.
	Joined []*Connection
}

// NewTransport creates a mock transport whose connections start Ready.
func NewTransport() *Transport {
	return &Transport{ReadyOnJoin: true}
}

// Join implements [voice.Transport].
func (t *Transport) Join(_ context.Context, guildID, channelID string) (voice.Connection, error) {
	t.mu.Lock()
	if t.JoinError != nil {
		err := t.JoinError
		t.mu.Unlock()
		return nil, err
	}
	conn := NewConnection(guildID, channelID)
	t.Joined = append(t.Joined, conn)
	ready := t.ReadyOnJoin
	t.mu.Unlock()

	if ready {
		conn.SetState(voice.StateReady)
	}
	return conn, nil
}

// JoinCount returns how many connections the transport has handed out.
func (t *Transport) JoinCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Joined)
}

// LastJoined returns the most recently created connection, or nil.
func (t *Transport) LastJoined() *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Joined) == 0 {
		return nil
	}
	return t.Joined[len(t.Joined)-1]
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [voice.Player]. It records every played
// resource and closes displaced ones, mirroring the real player's
// stop-then-start contract.
type Player struct {
	mu sync.Mutex

	// Played holds every resource passed to Play, in order.
	Played []*voice.Resource

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	current *voice.Resource
}

// Play implements [voice.Player].
func (p *Player) Play(r *voice.Resource) {
	p.mu.Lock()
	if p.current != nil {
		_ = p.current.Close()
	}
	p.current = r
	p.Played = append(p.Played, r)
	p.mu.Unlock()
}

// Stop implements [voice.Player].
func (p *Player) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStop++
	if p.current == nil {
		return false
	}
	_ = p.current.Close()
	p.current = nil
	return true
}

// Current returns the resource currently "playing", or nil.
func (p *Player) Current() *voice.Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}
