package playback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blare-bot/blare/internal/notify"
	"github.com/blare-bot/blare/pkg/voice"
)

// Default supervisor timeouts. ReadyTimeout bounds each step of the
// EnsureReady escalation; RecoverTimeout bounds the wait for a dropped
// connection to start renegotiating on its own.
const (
	defaultReadyTimeout   = 15 * time.Second
	defaultRecoverTimeout = 5 * time.Second
)

// Supervisor keeps a guild's voice connection usable. It owns the bounded
// readiness escalation used when a connection is first set up, and the
// per-session lifecycle watcher that reacts to transitions for the rest of
// the session's life.
//
// Readiness failures never escalate to callers: the underlying transport may
// still self-heal asynchronously, so the supervisor hands back a best-effort
// handle, logs the failure, and surfaces it on the notification bus.
type Supervisor struct {
	transport voice.Transport
	bus       *notify.Bus

	// ReadyTimeout bounds each wait for StateReady. Default 15 s.
	ReadyTimeout time.Duration

	// RecoverTimeout bounds the self-recovery wait after a disconnect.
	// Default 5 s.
	RecoverTimeout time.Duration
}

// NewSupervisor creates a Supervisor with the default timeouts.
func NewSupervisor(transport voice.Transport, bus *notify.Bus) *Supervisor {
	return &Supervisor{
		transport:      transport,
		bus:            bus,
		ReadyTimeout:   defaultReadyTimeout,
		RecoverTimeout: defaultRecoverTimeout,
	}
}

// EnsureReady waits for conn to become usable, escalating through a bounded
// sequence: wait → in-place rejoin and wait → destroy, fresh join and a final
// best-effort wait. The returned handle is usable in the happy path and
// best-effort otherwise; the caller proceeds either way, because subsequent
// lifecycle handling may still recover the connection.
func (s *Supervisor) EnsureReady(ctx context.Context, conn voice.Connection, guildID, channelID string) voice.Connection {
	// Step 1: soft wait.
	err := voice.WaitFor(ctx, conn, voice.StateReady, s.ReadyTimeout)
	if err == nil {
		slog.Debug("voice connection ready", "guild_id", guildID, "channel_id", channelID)
		return conn
	}
	slog.Warn("voice connection not ready, trying rejoin", "guild_id", guildID, "err", err)

	// Step 2: in-place rejoin.
	if rErr := conn.Rejoin(channelID); rErr != nil {
		slog.Warn("voice rejoin failed", "guild_id", guildID, "err", rErr)
	} else if err = voice.WaitFor(ctx, conn, voice.StateReady, s.ReadyTimeout); err == nil {
		slog.Info("voice connection ready after rejoin", "guild_id", guildID)
		return conn
	}
	slog.Warn("voice connection still not ready after rejoin", "guild_id", guildID, "err", err)

	// Step 3: full re-create. The old handle is abandoned regardless of the
	// destroy outcome.
	if dErr := conn.Destroy(); dErr != nil {
		slog.Debug("destroy of stale voice connection", "guild_id", guildID, "err", dErr)
	}
	fresh, jErr := s.transport.Join(ctx, guildID, channelID)
	if jErr != nil {
		slog.Error("voice fresh join failed, keeping stale handle", "guild_id", guildID, "err", jErr)
		s.reportError(guildID, fmt.Errorf("fresh join: %w", jErr))
		return conn
	}
	if wErr := voice.WaitFor(ctx, fresh, voice.StateReady, s.ReadyTimeout); wErr != nil {
		// Best effort: hand the new connection back anyway.
		slog.Error("voice connection not ready after fresh join", "guild_id", guildID, "err", wErr)
		s.reportError(guildID, fmt.Errorf("fresh join not ready: %w", wErr))
	}
	return fresh
}

// Watch runs the lifecycle watcher for sess until ctx is cancelled. It is a
// single long-lived loop consuming the connection's transition stream; when
// the handle is destroyed and rebuilt, the same loop re-registers on the new
// handle, so the watcher is never lost on replacement.
//
// All recovery branches are best-effort: failures are logged, recorded on the
// session, and published on the bus, but never escalate; one guild's voice
// plumbing must not affect others.
func (s *Supervisor) Watch(ctx context.Context, sess *session) {
	ch := make(chan voice.Transition, 16)
	conn := sess.connection()
	remove := conn.Notify(ch)
	defer func() { remove() }()

	// A transition can fire between the caller handing over the session and
	// the observer registration above. Acting once on the current state closes
	// that window.
	if st := conn.State(); st != voice.StateReady {
		replacement, stop := s.react(ctx, sess, conn, st)
		if stop {
			return
		}
		if replacement != nil {
			remove()
			conn = replacement
			remove = conn.Notify(ch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-ch:
			replacement, stop := s.react(ctx, sess, conn, tr.To)
			if stop {
				return
			}
			if replacement != nil {
				// Re-register on the fresh handle; the loop carries on.
				remove()
				conn = replacement
				remove = conn.Notify(ch)
			}
		}
	}
}

// react handles one observed state. It returns the fresh handle when the
// connection was rebuilt, and reports whether the watcher should stop. The
// startup check and a buffered transition can both observe the same state, so
// the destructive branches re-check the live state before acting.
func (s *Supervisor) react(ctx context.Context, sess *session, conn voice.Connection, to voice.State) (replacement voice.Connection, stop bool) {
	switch to {
	case voice.StateDisconnected:
		if conn.State() == voice.StateDisconnected {
			s.handleDisconnected(ctx, sess, conn)
		}

	case voice.StateDestroyed:
		if conn.State() != voice.StateDestroyed {
			return nil, false
		}
		fresh := s.rebuild(ctx, sess)
		if fresh == nil {
			return nil, true
		}
		return fresh, false

	case voice.StateConnecting, voice.StateSignalling:
		if err := voice.WaitFor(ctx, conn, voice.StateReady, s.ReadyTimeout); err != nil {
			slog.Warn("voice not ready after renegotiation, forcing rejoin",
				"guild_id", sess.guildID, "from", to, "err", err)
			if rErr := conn.Rejoin(sess.channel()); rErr != nil {
				s.reportSessionError(sess, fmt.Errorf("rejoin after %s: %w", to, rErr))
			}
		}
	}
	return nil, false
}

// handleDisconnected races two short waits for the transport to start
// self-recovering (back into Signalling or Connecting); if neither fires in
// time, it forces a rejoin to the session's last known channel.
func (s *Supervisor) handleDisconnected(ctx context.Context, sess *session, conn voice.Connection) {
	err := voice.WaitForAny(ctx, conn, s.RecoverTimeout,
		voice.StateSignalling, voice.StateConnecting)
	if err == nil {
		return
	}
	slog.Warn("voice connection did not self-recover, forcing rejoin",
		"guild_id", sess.guildID, "channel_id", sess.channel())
	if rErr := conn.Rejoin(sess.channel()); rErr != nil {
		s.reportSessionError(sess, fmt.Errorf("rejoin after disconnect: %w", rErr))
	}
}

// rebuild replaces a destroyed handle with a freshly joined one, re-subscribes
// the session's existing player, and swaps the session's connection. Returns
// nil when the rebuild fails or the watcher should stop (session superseded).
func (s *Supervisor) rebuild(ctx context.Context, sess *session) voice.Connection {
	slog.Info("voice connection destroyed, rebuilding",
		"guild_id", sess.guildID, "channel_id", sess.channel())

	fresh, err := s.transport.Join(ctx, sess.guildID, sess.channel())
	if err != nil {
		s.reportSessionError(sess, fmt.Errorf("rebuild join: %w", err))
		return nil
	}
	fresh.Subscribe(sess.playerHandle())
	sess.replaceConnection(fresh)

	if wErr := voice.WaitFor(ctx, fresh, voice.StateReady, s.ReadyTimeout); wErr != nil {
		slog.Warn("rebuilt voice connection not ready yet", "guild_id", sess.guildID, "err", wErr)
	}
	return fresh
}

// reportSessionError records err as the session's last error and publishes it.
func (s *Supervisor) reportSessionError(sess *session, err error) {
	sess.setLastError(err)
	s.reportError(sess.guildID, err)
}

// reportError logs err and surfaces it on the notification bus so observers
// can see background voice failures deterministically.
func (s *Supervisor) reportError(guildID string, err error) {
	slog.Error("voice lifecycle error", "guild_id", guildID, "err", err)
	if s.bus != nil {
		s.bus.Publish(notify.ErrorEvent(guildID, err.Error()))
	}
}
