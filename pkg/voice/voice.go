// Package voice defines the interfaces and types for voice-channel
// connectivity and audio playback within blare.
//
// The three primary abstractions are:
//
//   - [Transport]: joins a voice channel of a guild and returns a [Connection].
//   - [Connection]: a live voice link that moves through the [State] machine
//     and carries the audio of at most one subscribed [Player].
//   - [Player]: plays one [Resource] at a time; starting a new resource
//     always stops the previous one.
//
// Implementations are provided by platform-specific adapter packages
// (e.g., voice/discord). The interfaces are intentionally narrow so the
// playback core stays decoupled from transport details.
//
// This package lives under pkg/ because external code (alternative transport
// adapters, tests) is expected to implement [Transport] and [Connection].
package voice

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State describes the lifecycle phase of a [Connection].
//
// The transport drives transitions:
//
//	Signalling → Connecting → Ready
//	Ready ⇄ Disconnected
//	any → Destroyed
//
// Destroyed is terminal for the handle; a fresh Join is required afterwards.
type State int

const (
	// StateSignalling means the transport is negotiating the voice session.
	StateSignalling State = iota

	// StateConnecting means the UDP/websocket voice plumbing is being set up.
	StateConnecting

	// StateReady means the connection can carry audio.
	StateReady

	// StateDisconnected means the connection dropped and may self-recover.
	StateDisconnected

	// StateDestroyed means the handle was torn down and will never recover.
	StateDestroyed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateSignalling:
		return "signalling"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Transition is a single state change observed on a [Connection].
type Transition struct {
	From State
	To   State
}

// Connection represents a live voice link to one channel of one guild.
//
// A Connection is obtained from [Transport.Join] and remains valid until
// [Connection.Destroy] is called or the transport destroys it (in which case
// a StateDestroyed transition is delivered to all observers).
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// GuildID returns the guild this connection belongs to.
	GuildID() string

	// ChannelID returns the channel the connection was last joined to.
	ChannelID() string

	// State returns the current lifecycle state.
	State() State

	// Notify registers ch to receive every future state transition.
	// Sends are non-blocking; a slow receiver misses transitions rather than
	// stalling the transport. The returned func removes the registration.
	Notify(ch chan<- Transition) (remove func())

	// Rejoin re-negotiates the voice session in place, optionally moving to
	// a different channel. The handle stays valid either way.
	Rejoin(channelID string) error

	// Subscribe attaches p as the audio source for this connection.
	// At most one player is attached at a time; subscribing replaces the
	// previous attachment.
	Subscribe(p Player)

	// Destroy tears the connection down. Safe to call more than once.
	Destroy() error
}

// Transport is the entry point for a voice-channel provider.
// Implementations wrap provider-specific SDKs and expose the uniform
// [Connection] abstraction.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Join connects to the given voice channel and returns an active
	// [Connection]. The supplied ctx governs the join attempt only; once
	// returned, the Connection lives until destroyed.
	Join(ctx context.Context, guildID, channelID string) (Connection, error)
}

// Player plays one [Resource] at a time into whatever connection it is
// subscribed to. A player with no subscription keeps consuming its resource
// (audio is dropped, not paused) so that a transiently detached listener does
// not stall playback.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Play stops the current resource, if any, and starts r immediately.
	Play(r *Resource)

	// Stop force-stops the current resource mid-frame. It reports whether a
	// resource was actually playing.
	Stop() bool
}

// ErrWaitTimeout is returned by [WaitFor] when the connection does not reach
// the requested state within the timeout.
var ErrWaitTimeout = errors.New("voice: timed out waiting for connection state")

// WaitFor blocks until conn reaches the target state, the timeout elapses, or
// ctx is cancelled. It returns nil immediately if the connection is already
// in the target state.
func WaitFor(ctx context.Context, conn Connection, target State, timeout time.Duration) error {
	return WaitForAny(ctx, conn, timeout, target)
}

// WaitForAny blocks until conn reaches any of the target states, the timeout
// elapses, or ctx is cancelled.
func WaitForAny(ctx context.Context, conn Connection, timeout time.Duration, targets ...State) error {
	matches := func(s State) bool {
		for _, t := range targets {
			if s == t {
				return true
			}
		}
		return false
	}

	if matches(conn.State()) {
		return nil
	}

	ch := make(chan Transition, 16)
	remove := conn.Notify(ch)
	defer remove()

	// Re-check after registering so a transition between the first check and
	// Notify cannot be lost.
	if matches(conn.State()) {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case tr := <-ch:
			if matches(tr.To) {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("%w: want %v, still %s after %s",
				ErrWaitTimeout, targets, conn.State(), timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
