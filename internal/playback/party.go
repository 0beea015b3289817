package playback

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/blare-bot/blare/internal/notify"
)

// Default ambient-mode pacing: a fixed floor plus a uniformly random jitter
// between consecutive clips.
const (
	defaultPartyDelay  = 30 * time.Second
	defaultPartyJitter = 60 * time.Second
)

// ClipPicker selects a random clip from the catalog. It returns the absolute
// file path and the play-counter key of the chosen clip.
type ClipPicker interface {
	RandomClip() (path, countKey string, err error)
}

// Party is the per-guild ambient scheduler ("party mode"). While armed for a
// guild it plays a random catalog clip immediately and then keeps playing
// random clips at randomized intervals until disarmed.
//
// Arming is idempotent-by-replacement: re-arming (possibly to a different
// channel) cancels the previous cycle and starts a new one. Disarming is
// idempotent. The armed flag is checked again at the top of every cycle so a
// disarm that races a firing timer still wins.
type Party struct {
	manager *Manager
	picker  ClipPicker

	// Delay is the fixed floor between clips; Jitter is the upper bound of the
	// random extra wait added on top.
	Delay  time.Duration
	Jitter time.Duration

	// Recorder, when set, tracks the armed-guild gauge.
	Recorder PartyRecorder

	mu    sync.Mutex
	armed map[string]*partyCycle
	rng   *rand.Rand

	// schedule defers f by d and returns a cancel func. Tests replace it to
	// fire cycles deterministically.
	schedule func(d time.Duration, f func()) (cancel func())
}

// PartyRecorder receives armed/disarmed transitions for metrics.
type PartyRecorder interface {
	PartyArmed()
	PartyDisarmed()
}

type partyCycle struct {
	channelID string
	cancel    func()
}

// NewParty creates the scheduler with default pacing and registers its disarm
// as the manager's stop hook, so a panic stop always ends ambient playback.
func NewParty(manager *Manager, picker ClipPicker) *Party {
	p := &Party{
		manager: manager,
		picker:  picker,
		Delay:   defaultPartyDelay,
		Jitter:  defaultPartyJitter,
		armed:   make(map[string]*partyCycle),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		schedule: func(d time.Duration, f func()) func() {
			t := time.AfterFunc(d, f)
			return func() { t.Stop() }
		},
	}
	manager.RegisterStopHook(func(guildID string) { p.disarm(guildID) })
	return p
}

// Start arms party mode for the guild on the given channel and plays the
// first random clip immediately. The guild stays armed even when the first
// clip fails; the failure is logged and the next cycle is scheduled anyway.
func (p *Party) Start(ctx context.Context, guildID, channelID string) error {
	p.mu.Lock()
	prev, rearm := p.armed[guildID]
	if rearm {
		prev.cancel()
	}
	cycle := &partyCycle{channelID: channelID, cancel: func() {}}
	p.armed[guildID] = cycle
	p.mu.Unlock()

	if !rearm && p.Recorder != nil {
		p.Recorder.PartyArmed()
	}

	if err := p.playRandom(ctx, guildID, channelID); err != nil {
		slog.Warn("party first clip failed", "guild_id", guildID, "err", err)
	}

	p.manager.bus.Publish(notify.PartyEvent(guildID, true, channelID))
	slog.Info("party mode armed", "guild_id", guildID, "channel_id", channelID)

	p.scheduleNext(guildID, cycle)
	return nil
}

// Stop disarms party mode for the guild. The clip currently playing is left
// alone; only future cycles are cancelled. Safe to call when not armed.
func (p *Party) Stop(guildID string) {
	if p.disarm(guildID) {
		p.manager.bus.Publish(notify.PartyEvent(guildID, false, ""))
		slog.Info("party mode disarmed", "guild_id", guildID)
	}
}

// Active reports whether party mode is armed for the guild.
func (p *Party) Active(guildID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.armed[guildID]
	return ok
}

// ActiveGuilds returns the guilds currently armed, for feed snapshots.
func (p *Party) ActiveGuilds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	guilds := make([]string, 0, len(p.armed))
	for id := range p.armed {
		guilds = append(guilds, id)
	}
	return guilds
}

// disarm removes the guild's cycle and cancels its pending timer. It reports
// whether the guild was armed.
func (p *Party) disarm(guildID string) bool {
	p.mu.Lock()
	cycle, ok := p.armed[guildID]
	if ok {
		delete(p.armed, guildID)
	}
	p.mu.Unlock()
	if ok {
		cycle.cancel()
		if p.Recorder != nil {
			p.Recorder.PartyDisarmed()
		}
	}
	return ok
}

// scheduleNext arms the timer for the guild's next cycle. The stored cancel
// is swapped under the lock only while cycle is still the live one, so a
// re-arm that happened in between is never clobbered.
func (p *Party) scheduleNext(guildID string, cycle *partyCycle) {
	delay := p.nextDelay()

	p.mu.Lock()
	if p.armed[guildID] != cycle {
		p.mu.Unlock()
		return
	}
	cycle.cancel = p.schedule(delay, func() { p.fire(guildID, cycle) })
	p.mu.Unlock()

	slog.Debug("party next clip scheduled", "guild_id", guildID, "delay", delay)
}

// fire runs one cycle: verify the guild is still armed with this very cycle,
// play a random clip, schedule the next. A failed clip does not disarm the
// guild; the loop carries on to the next cycle.
func (p *Party) fire(guildID string, cycle *partyCycle) {
	p.mu.Lock()
	live := p.armed[guildID] == cycle
	p.mu.Unlock()
	if !live {
		return
	}

	if err := p.playRandom(context.Background(), guildID, cycle.channelID); err != nil {
		slog.Warn("party clip failed", "guild_id", guildID, "err", err)
	}
	p.scheduleNext(guildID, cycle)
}

func (p *Party) playRandom(ctx context.Context, guildID, channelID string) error {
	path, key, err := p.picker.RandomClip()
	if err != nil {
		return fmt.Errorf("pick clip: %w", err)
	}
	return p.manager.Play(ctx, PlayRequest{
		GuildID:   guildID,
		ChannelID: channelID,
		Path:      path,
		CountKey:  key,
		Trigger:   "party",
	})
}

func (p *Party) nextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Jitter <= 0 {
		return p.Delay
	}
	return p.Delay + time.Duration(p.rng.Int63n(int64(p.Jitter)))
}
