// Package playback is the authoritative mutator of "what is audible right
// now" for every guild the bot serves. It owns the per-guild session map
// (voice connection + player + volume), the connection supervisor, and the
// ambient party-mode scheduler.
//
// Sessions are created lazily on the first play for a guild and live until
// the process exits. At most one resource is audible per guild at any
// instant: starting a new clip immediately stops the previous one; there is
// no queue and no crossfade.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blare-bot/blare/internal/notify"
	"github.com/blare-bot/blare/internal/state"
	"github.com/blare-bot/blare/pkg/voice"
)

// Decoder turns a clip file path into the PCM stream a [voice.Resource]
// wraps. Implemented by the ffmpeg pipeline.
type Decoder interface {
	Open(path string) (io.ReadCloser, error)
}

// Directory answers whether a guild is known and whether a channel is a
// voice-capable channel of that guild. Implemented by the Discord bot layer.
type Directory interface {
	GuildKnown(guildID string) bool
	IsVoiceChannel(guildID, channelID string) bool
}

// Recorder receives playback metrics. Implemented by the observe package;
// a nil Recorder disables recording.
type Recorder interface {
	PlayStarted(guildID, trigger string)
	PlayFailed(guildID, kind string)
	SessionOpened()
	SessionClosed()
}

// PlayRequest describes one play operation.
type PlayRequest struct {
	GuildID   string
	ChannelID string

	// Path is the absolute path of the clip file.
	Path string

	// Volume optionally overrides the session volume for this play and
	// becomes the new session volume. Clamped to [0, 1].
	Volume *float64

	// CountKey, when set, is the clip identity whose play counter is
	// incremented (a forward-slash relative path).
	CountKey string

	// Trigger labels the origin of the request for logs and metrics:
	// "api", "party", "entrance", "exit", "url".
	Trigger string
}

// session is the per-guild playback state. Field access is guarded by mu;
// whole operations (play, volume, stop) are serialized by opMu so that a
// channel switch can never interleave with another play for the same guild.
type session struct {
	guildID string

	opMu sync.Mutex

	mu          sync.Mutex
	conn        voice.Connection
	player      voice.Player
	channelID   string
	volume      float64
	resource    *voice.Resource
	lastErr     error
	watchCancel context.CancelFunc
}

func (s *session) connection() voice.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *session) channel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

func (s *session) playerHandle() voice.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

func (s *session) replaceConnection(conn voice.Connection) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *session) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// LastError returns the most recent background voice failure for the guild,
// or nil. Exposed for the notification feed and tests.
func (s *session) lastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Manager owns all per-guild sessions. All exported methods are safe for
// concurrent use; operations on the same guild are serialized, different
// guilds are fully independent.
type Manager struct {
	transport  voice.Transport
	newPlayer  func() voice.Player
	decoder    Decoder
	store      *state.Store
	bus        *notify.Bus
	directory  Directory
	supervisor *Supervisor
	metrics    Recorder

	mu       sync.Mutex
	sessions map[string]*session

	hookMu   sync.Mutex
	stopHook func(guildID string)

	rootCtx context.Context
	cancel  context.CancelFunc
}

// ManagerConfig holds the dependencies for a [Manager].
type ManagerConfig struct {
	Transport voice.Transport
	NewPlayer func() voice.Player
	Decoder   Decoder
	Store     *state.Store
	Bus       *notify.Bus

	// Directory validates guilds and channels. When nil, validation is
	// skipped (tests).
	Directory Directory

	// Supervisor overrides the default supervisor (tests shrink timeouts).
	Supervisor *Supervisor

	// Metrics receives playback counters. May be nil.
	Metrics Recorder
}

// NewManager creates a Manager. The manager runs background lifecycle
// watchers; call [Manager.Close] to stop them.
func NewManager(cfg ManagerConfig) *Manager {
	sup := cfg.Supervisor
	if sup == nil {
		sup = NewSupervisor(cfg.Transport, cfg.Bus)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport:  cfg.Transport,
		newPlayer:  cfg.NewPlayer,
		decoder:    cfg.Decoder,
		store:      cfg.Store,
		bus:        cfg.Bus,
		directory:  cfg.Directory,
		supervisor: sup,
		metrics:    cfg.Metrics,
		sessions:   make(map[string]*session),
		rootCtx:    ctx,
		cancel:     cancel,
	}
}

// RegisterStopHook sets fn to be invoked on every panic stop. The party
// scheduler registers its disarm here so a stop always silences ambient
// playback too.
func (m *Manager) RegisterStopHook(fn func(guildID string)) {
	m.hookMu.Lock()
	m.stopHook = fn
	m.hookMu.Unlock()
}

// Close stops all lifecycle watchers and destroys every live connection.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if conn := s.connection(); conn != nil {
			_ = conn.Destroy()
		}
	}
}

// Play resolves a ready session for the requested guild and channel (joining
// or migrating as needed), builds a gain-controlled resource from the clip,
// and swaps it in: stop-then-start, newest wins.
//
// Connection-readiness failures do not abort playback: the best-effort handle
// from the supervisor is used regardless, because the transport may catch up
// while the clip is playing.
func (m *Manager) Play(ctx context.Context, req PlayRequest) error {
	if err := m.validate(req); err != nil {
		m.recordFailure(req, err)
		return err
	}

	sess := m.getOrCreate(req.GuildID)
	sess.opMu.Lock()
	defer sess.opMu.Unlock()

	if err := m.ensureSession(ctx, sess, req.ChannelID); err != nil {
		m.recordFailure(req, err)
		return err
	}

	sess.mu.Lock()
	volume := sess.volume
	player := sess.player
	sess.mu.Unlock()
	if req.Volume != nil {
		volume = clamp01(*req.Volume)
	}

	pcm, err := m.decoder.Open(req.Path)
	if err != nil {
		m.recordFailure(req, err)
		return fmt.Errorf("playback: open clip %q: %w", req.Path, err)
	}

	name := req.CountKey
	if name == "" {
		name = filepath.Base(req.Path)
	}
	res := voice.NewResource(name, pcm)
	res.SetVolume(volume)

	player.Play(res)

	sess.mu.Lock()
	sess.resource = res
	sess.volume = volume
	sess.mu.Unlock()

	m.store.SetVolume(req.GuildID, volume)
	if req.CountKey != "" {
		m.store.IncrementPlays(req.CountKey)
	}

	if m.metrics != nil {
		m.metrics.PlayStarted(req.GuildID, req.Trigger)
	}
	slog.Info("playing clip",
		"guild_id", req.GuildID,
		"channel_id", req.ChannelID,
		"clip", name,
		"volume", volume,
		"trigger", req.Trigger,
	)
	return nil
}

// SetVolume clamps v to [0, 1], applies it to the live resource when a
// session exists, persists it as the guild default either way, and broadcasts
// the new value. It returns the applied volume.
func (m *Manager) SetVolume(guildID string, v float64) float64 {
	applied := clamp01(v)

	if sess := m.lookup(guildID); sess != nil {
		sess.mu.Lock()
		sess.volume = applied
		if sess.resource != nil {
			sess.resource.SetVolume(applied)
		}
		sess.mu.Unlock()
	}

	m.store.SetVolume(guildID, applied)
	m.bus.Publish(notify.VolumeEvent(guildID, applied))
	return applied
}

// GetVolume returns the live session volume, falling back to the persisted
// guild default (1 when nothing is stored).
func (m *Manager) GetVolume(guildID string) float64 {
	if sess := m.lookup(guildID); sess != nil {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.conn != nil {
			return sess.volume
		}
	}
	return m.store.Volume(guildID)
}

// Stop force-stops the guild's player immediately, mid-frame. The registered
// stop hook (party disarm) runs regardless of whether a session exists, so a
// panic stop always silences ambient playback; ErrNoActiveSession is returned
// when there was no player to stop.
func (m *Manager) Stop(guildID string) error {
	m.hookMu.Lock()
	hook := m.stopHook
	m.hookMu.Unlock()
	if hook != nil {
		hook(guildID)
	}

	sess := m.lookup(guildID)
	if sess == nil {
		return fmt.Errorf("%w: guild %s", ErrNoActiveSession, guildID)
	}

	sess.mu.Lock()
	player := sess.player
	sess.resource = nil
	sess.mu.Unlock()

	if player == nil {
		return fmt.Errorf("%w: guild %s", ErrNoActiveSession, guildID)
	}
	player.Stop()
	slog.Info("playback stopped", "guild_id", guildID)
	return nil
}

// LastError returns the guild session's captured background error, or nil.
func (m *Manager) LastError(guildID string) error {
	if sess := m.lookup(guildID); sess != nil {
		return sess.lastError()
	}
	return nil
}

// ChannelID returns the channel the guild's session is joined to, or "".
func (m *Manager) ChannelID(guildID string) string {
	if sess := m.lookup(guildID); sess != nil {
		return sess.channel()
	}
	return ""
}

// ─── internals ────────────────────────────────────────────────────────────────

func (m *Manager) validate(req PlayRequest) error {
	if m.directory != nil {
		if !m.directory.GuildKnown(req.GuildID) {
			return fmt.Errorf("%w: guild %s", ErrServerNotFound, req.GuildID)
		}
		if !m.directory.IsVoiceChannel(req.GuildID, req.ChannelID) {
			return fmt.Errorf("%w: channel %s in guild %s", ErrInvalidChannel, req.ChannelID, req.GuildID)
		}
	}
	if fi, err := os.Stat(req.Path); err != nil || !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrClipNotFound, req.Path)
	}
	return nil
}

func (m *Manager) lookup(guildID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[guildID]
}

func (m *Manager) getOrCreate(guildID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[guildID]; ok {
		return sess
	}
	sess := &session{guildID: guildID}
	m.sessions[guildID] = sess
	return sess
}

// ensureSession makes sess usable for channelID: first use joins and sets up
// the player and lifecycle watcher; a differing channel destroys the old
// connection and joins the new one, reusing the existing player. Callers hold
// sess.opMu.
func (m *Manager) ensureSession(ctx context.Context, sess *session, channelID string) error {
	sess.mu.Lock()
	conn := sess.conn
	current := sess.channelID
	sess.mu.Unlock()

	switch {
	case conn == nil:
		return m.openSession(ctx, sess, channelID)

	case current != channelID:
		slog.Info("switching voice channel",
			"guild_id", sess.guildID, "from", current, "to", channelID)
		// Stop the watcher first so the deliberate destroy does not trigger
		// a rebuild of the old channel's connection.
		sess.mu.Lock()
		if sess.watchCancel != nil {
			sess.watchCancel()
			sess.watchCancel = nil
		}
		sess.mu.Unlock()
		if err := conn.Destroy(); err != nil {
			slog.Debug("destroy on channel switch", "guild_id", sess.guildID, "err", err)
		}
		return m.openSession(ctx, sess, channelID)
	}
	return nil
}

// openSession joins channelID, wires the player, runs the readiness
// escalation, and starts the lifecycle watcher. The player is created once
// per guild and survives channel switches and connection rebuilds.
func (m *Manager) openSession(ctx context.Context, sess *session, channelID string) error {
	conn, err := m.transport.Join(ctx, sess.guildID, channelID)
	if err != nil {
		return fmt.Errorf("playback: join channel %q: %w", channelID, err)
	}

	sess.mu.Lock()
	player := sess.player
	firstOpen := player == nil
	sess.mu.Unlock()
	if player == nil {
		player = m.newPlayer()
	}
	conn.Subscribe(player)

	conn = m.supervisor.EnsureReady(ctx, conn, sess.guildID, channelID)

	watchCtx, watchCancel := context.WithCancel(m.rootCtx)

	sess.mu.Lock()
	sess.conn = conn
	sess.player = player
	sess.channelID = channelID
	if sess.volume == 0 && sess.resource == nil {
		sess.volume = m.store.Volume(sess.guildID)
	}
	sess.watchCancel = watchCancel
	sess.mu.Unlock()

	go m.supervisor.Watch(watchCtx, sess)

	if firstOpen && m.metrics != nil {
		m.metrics.SessionOpened()
	}
	return nil
}

func (m *Manager) recordFailure(req PlayRequest, err error) {
	if m.metrics == nil {
		return
	}
	kind := "internal"
	switch {
	case errors.Is(err, ErrServerNotFound):
		kind = "server_not_found"
	case errors.Is(err, ErrInvalidChannel):
		kind = "invalid_channel"
	case errors.Is(err, ErrClipNotFound):
		kind = "clip_not_found"
	}
	m.metrics.PlayFailed(req.GuildID, kind)
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
