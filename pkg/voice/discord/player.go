package discord

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/blare-bot/blare/pkg/voice"
)

// Compile-time interface assertion.
var _ voice.Player = (*Player)(nil)

// Player implements [voice.Player] on top of a discordgo voice connection.
// It reads gain-adjusted PCM frames from the current [voice.Resource], paces
// them at 20 ms, encodes them to Opus, and writes them to the attached
// connection's OpusSend channel.
//
// A player without an attached connection keeps consuming its resource at
// real-time pace and drops the frames, so playback survives a transient
// re-subscription without stalling or queueing stale audio.
//
// Player is safe for concurrent use.
type Player struct {
	mu      sync.Mutex
	vc      *discordgo.VoiceConnection
	current *playback
}

// playback is one in-flight resource run.
type playback struct {
	resource *voice.Resource
	stop     chan struct{}
	stopOnce sync.Once
}

func (p *playback) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// NewPlayer creates an idle Player. Attach it to a connection via
// [Connection.Subscribe].
func NewPlayer() *Player {
	return &Player{}
}

// Play stops the current resource, if any, and starts r immediately.
func (p *Player) Play(r *voice.Resource) {
	p.mu.Lock()
	if prev := p.current; prev != nil {
		prev.halt()
	}
	run := &playback{resource: r, stop: make(chan struct{})}
	p.current = run
	p.mu.Unlock()

	go p.loop(run)
}

// Stop force-stops the current resource mid-frame. It reports whether a
// resource was actually playing.
func (p *Player) Stop() bool {
	p.mu.Lock()
	run := p.current
	p.current = nil
	p.mu.Unlock()

	if run == nil {
		return false
	}
	run.halt()
	return true
}

// attach points the player's output at vc. A nil vc detaches the player;
// frames are then dropped until a new connection is attached.
func (p *Player) attach(vc *discordgo.VoiceConnection) {
	p.mu.Lock()
	p.vc = vc
	p.mu.Unlock()
}

// sink returns the current output connection, which may be nil.
func (p *Player) sink() *discordgo.VoiceConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vc
}

// clearIfCurrent forgets run if it is still the active playback. Called when
// a run finishes on its own rather than being displaced.
func (p *Player) clearIfCurrent(run *playback) {
	p.mu.Lock()
	if p.current == run {
		p.current = nil
	}
	p.mu.Unlock()
}

// loop drives one resource to completion (or until halted).
func (p *Player) loop(run *playback) {
	defer func() {
		if err := run.resource.Close(); err != nil {
			slog.Debug("discord: close resource", "clip", run.resource.Name(), "err", err)
		}
		p.clearIfCurrent(run)
		if vc := p.sink(); vc != nil {
			p.setSpeaking(vc, false)
		}
	}()

	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: create opus encoder", "err", err)
		return
	}

	if vc := p.sink(); vc != nil {
		p.setSpeaking(vc, true)
	}

	ticker := time.NewTicker(opusFrameSizeMs * time.Millisecond)
	defer ticker.Stop()

	buf := make([]byte, opusFrameBytes)
	for {
		select {
		case <-run.stop:
			return
		case <-ticker.C:
		}

		n, rErr := run.resource.ReadPCM(buf)
		if n > 0 {
			// Zero-pad a trailing partial frame; Opus needs exact frame sizes.
			for i := n; i < opusFrameBytes; i++ {
				buf[i] = 0
			}
			pkt, eErr := enc.encode(buf)
			if eErr != nil {
				slog.Warn("discord: opus encode", "clip", run.resource.Name(), "err", eErr)
				continue
			}
			if vc := p.sink(); vc != nil && vc.Ready {
				select {
				case vc.OpusSend <- pkt:
				case <-run.stop:
					return
				}
			}
		}
		if rErr != nil {
			if !errors.Is(rErr, io.EOF) {
				slog.Warn("discord: read pcm", "clip", run.resource.Name(), "err", rErr)
			}
			return
		}
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (p *Player) setSpeaking(vc *discordgo.VoiceConnection, b bool) {
	if err := vc.Speaking(b); err != nil {
		slog.Debug("discord: speaking notification", "speaking", b, "err", err)
	}
}
