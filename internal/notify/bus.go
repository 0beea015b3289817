// Package notify fans soundboard state changes out to connected observers:
// volume changes, party mode status, pinned-channel selection, and captured
// background errors. The HTTP layer bridges the bus onto SSE and WebSocket
// feeds; new subscribers receive a snapshot event first.
package notify

import (
	"sync"
)

// Event types carried on the bus. The wire format is shared with the SSE and
// WebSocket feeds, so the names are part of the public API surface.
const (
	TypeSnapshot = "snapshot"
	TypeVolume   = "volume"
	TypeParty    = "party"
	TypeChannel  = "channel"
	TypeError    = "error"
)

// Event is a single state-change notification.
type Event struct {
	Type    string `json:"type"`
	GuildID string `json:"guildId,omitempty"`

	// Volume payload.
	Volume *float64 `json:"volume,omitempty"`

	// Party payload.
	Active *bool `json:"active,omitempty"`

	// Channel payload (also set on party start).
	ChannelID string `json:"channelId,omitempty"`

	// Error payload: a background failure captured for observers.
	Message string `json:"message,omitempty"`

	// Snapshot payload.
	Party    []string           `json:"party,omitempty"`
	Selected map[string]string  `json:"selected,omitempty"`
	Volumes  map[string]float64 `json:"volumes,omitempty"`
}

// subscriberBuffer is the per-subscriber event buffer. A subscriber that
// falls further behind than this loses events rather than stalling the bus.
const subscriberBuffer = 16

// Bus is a fan-out broadcaster. The zero value is not usable; create one
// with [New]. All methods are safe for concurrent use.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new observer. The returned channel delivers every
// event published after the call; cancel removes the subscription and closes
// the channel.
func (b *Bus) Subscribe() (events <-chan Event, cancel func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every subscriber. Sends are non-blocking; a full
// subscriber buffer drops the event for that subscriber only. Sending happens
// under the lock so a concurrent cancel can never close a channel between the
// membership check and the send.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// VolumeEvent builds a volume-change event.
func VolumeEvent(guildID string, volume float64) Event {
	return Event{Type: TypeVolume, GuildID: guildID, Volume: &volume}
}

// PartyEvent builds a party-status event. channelID is only set when the
// party is being armed.
func PartyEvent(guildID string, active bool, channelID string) Event {
	return Event{Type: TypeParty, GuildID: guildID, Active: &active, ChannelID: channelID}
}

// ChannelEvent builds a pinned-channel selection event.
func ChannelEvent(guildID, channelID string) Event {
	return Event{Type: TypeChannel, GuildID: guildID, ChannelID: channelID}
}

// ErrorEvent builds a background-error event.
func ErrorEvent(guildID, message string) Event {
	return Event{Type: TypeError, GuildID: guildID, Message: message}
}
