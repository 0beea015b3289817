package playback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blare-bot/blare/internal/notify"
	"github.com/blare-bot/blare/internal/state"
	"github.com/blare-bot/blare/pkg/voice"
	"github.com/blare-bot/blare/pkg/voice/mock"
)

type fakeDecoder struct {
	err error
}

func (d fakeDecoder) Open(string) (io.ReadCloser, error) {
	if d.err != nil {
		return nil, d.err
	}
	return io.NopCloser(bytes.NewReader(make([]byte, 7680))), nil
}

type fakeDirectory struct {
	guild    string
	channels []string
}

func (d fakeDirectory) GuildKnown(guildID string) bool {
	return guildID == d.guild
}

func (d fakeDirectory) IsVoiceChannel(guildID, channelID string) bool {
	if guildID != d.guild {
		return false
	}
	for _, ch := range d.channels {
		if ch == channelID {
			return true
		}
	}
	return false
}

type managerFixture struct {
	manager   *Manager
	transport *mock.Transport
	store     *state.Store
	bus       *notify.Bus
	players   []*mock.Player
	clipPath  string
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	dir := t.TempDir()
	clip := filepath.Join(dir, "airhorn.mp3")
	if err := os.WriteFile(clip, []byte("not really audio"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	store, err := state.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	f := &managerFixture{
		transport: mock.NewTransport(),
		store:     store,
		bus:       notify.New(),
		clipPath:  clip,
	}
	f.manager = NewManager(ManagerConfig{
		Transport: f.transport,
		NewPlayer: func() voice.Player {
			p := &mock.Player{}
			f.players = append(f.players, p)
			return p
		},
		Decoder:   fakeDecoder{},
		Store:     store,
		Bus:       f.bus,
		Directory: fakeDirectory{guild: "guild-1", channels: []string{"chan-1", "chan-2"}},
	})
	t.Cleanup(f.manager.Close)
	return f
}

func (f *managerFixture) play(t *testing.T, req PlayRequest) {
	t.Helper()
	if req.GuildID == "" {
		req.GuildID = "guild-1"
	}
	if req.ChannelID == "" {
		req.ChannelID = "chan-1"
	}
	if req.Path == "" {
		req.Path = f.clipPath
	}
	if err := f.manager.Play(context.Background(), req); err != nil {
		t.Fatalf("Play: %v", err)
	}
}

func TestManagerPlayValidation(t *testing.T) {
	f := newManagerFixture(t)

	tests := []struct {
		name    string
		req     PlayRequest
		wantErr error
	}{
		{
			name:    "unknown guild",
			req:     PlayRequest{GuildID: "nope", ChannelID: "chan-1", Path: f.clipPath},
			wantErr: ErrServerNotFound,
		},
		{
			name:    "invalid channel",
			req:     PlayRequest{GuildID: "guild-1", ChannelID: "text-channel", Path: f.clipPath},
			wantErr: ErrInvalidChannel,
		},
		{
			name:    "missing clip",
			req:     PlayRequest{GuildID: "guild-1", ChannelID: "chan-1", Path: f.clipPath + ".gone"},
			wantErr: ErrClipNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.manager.Play(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Play() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if f.transport.JoinCount() != 0 {
		t.Errorf("JoinCount = %d after rejected plays, want 0", f.transport.JoinCount())
	}
}

func TestManagerPlayOpensSession(t *testing.T) {
	f := newManagerFixture(t)

	f.play(t, PlayRequest{CountKey: "airhorn.mp3", Trigger: "api"})

	if got := f.transport.JoinCount(); got != 1 {
		t.Fatalf("JoinCount = %d, want 1", got)
	}
	conn := f.transport.LastJoined()
	if conn.Guild != "guild-1" || conn.Channel != "chan-1" {
		t.Errorf("joined %s/%s, want guild-1/chan-1", conn.Guild, conn.Channel)
	}
	if conn.CallCountSubscribe != 1 {
		t.Errorf("Subscribe calls = %d, want 1", conn.CallCountSubscribe)
	}
	if len(f.players) != 1 {
		t.Fatalf("players created = %d, want 1", len(f.players))
	}
	res := f.players[0].Current()
	if res == nil {
		t.Fatal("no resource playing")
	}
	if res.Name() != "airhorn.mp3" {
		t.Errorf("resource name = %q, want airhorn.mp3", res.Name())
	}
	if v := res.Volume(); v != 1 {
		t.Errorf("default volume = %v, want 1", v)
	}
	if got := f.store.Plays()["airhorn.mp3"]; got != 1 {
		t.Errorf("persisted plays = %d, want 1", got)
	}
}

func TestManagerPlayReplacesCurrentClip(t *testing.T) {
	f := newManagerFixture(t)

	f.play(t, PlayRequest{CountKey: "a"})
	f.play(t, PlayRequest{CountKey: "b"})

	if got := f.transport.JoinCount(); got != 1 {
		t.Errorf("JoinCount = %d, want 1 (same channel reuses the connection)", got)
	}
	if got := len(f.players[0].Played); got != 2 {
		t.Errorf("resources played = %d, want 2", got)
	}
	if name := f.players[0].Current().Name(); name != "b" {
		t.Errorf("current resource = %q, want b", name)
	}
}

func TestManagerPlayVolumeOverride(t *testing.T) {
	f := newManagerFixture(t)

	v := 2.5 // clamped to 1
	f.play(t, PlayRequest{Volume: &v})
	if got := f.players[0].Current().Volume(); got != 1 {
		t.Errorf("volume = %v, want clamp to 1", got)
	}

	v = 0.4
	f.play(t, PlayRequest{Volume: &v})
	if got := f.players[0].Current().Volume(); got != 0.4 {
		t.Errorf("volume = %v, want 0.4", got)
	}
	// The override becomes the new session volume and is persisted.
	if got := f.manager.GetVolume("guild-1"); got != 0.4 {
		t.Errorf("GetVolume = %v, want 0.4", got)
	}
	if got := f.store.Volume("guild-1"); got != 0.4 {
		t.Errorf("stored volume = %v, want 0.4", got)
	}
}

func TestManagerChannelSwitch(t *testing.T) {
	f := newManagerFixture(t)

	f.play(t, PlayRequest{ChannelID: "chan-2"})
	first := f.transport.LastJoined()

	f.play(t, PlayRequest{ChannelID: "chan-1"})

	if first.CallCountDestroy != 1 {
		t.Errorf("old connection Destroy calls = %d, want 1", first.CallCountDestroy)
	}
	if got := f.transport.JoinCount(); got != 2 {
		t.Fatalf("JoinCount = %d, want 2", got)
	}
	second := f.transport.LastJoined()
	if second.Channel != "chan-1" {
		t.Errorf("switched to %q, want chan-1", second.Channel)
	}
	if len(f.players) != 1 {
		t.Errorf("players created = %d, want 1 (player survives the switch)", len(f.players))
	}
	if len(second.Subscribed) != 1 || second.Subscribed[0] != voice.Player(f.players[0]) {
		t.Error("existing player was not re-subscribed on the new connection")
	}
}

func TestManagerSetVolume(t *testing.T) {
	f := newManagerFixture(t)
	f.play(t, PlayRequest{})

	events, cancel := f.bus.Subscribe()
	defer cancel()

	if got := f.manager.SetVolume("guild-1", 0.3); got != 0.3 {
		t.Errorf("SetVolume returned %v, want 0.3", got)
	}
	if got := f.players[0].Current().Volume(); got != 0.3 {
		t.Errorf("live resource volume = %v, want 0.3", got)
	}
	if got := f.store.Volume("guild-1"); got != 0.3 {
		t.Errorf("stored volume = %v, want 0.3", got)
	}

	select {
	case ev := <-events:
		if ev.Type != notify.TypeVolume || ev.GuildID != "guild-1" || ev.Volume == nil || *ev.Volume != 0.3 {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no volume event published")
	}

	if got := f.manager.SetVolume("guild-1", -2); got != 0 {
		t.Errorf("SetVolume(-2) = %v, want clamp to 0", got)
	}
}

func TestManagerGetVolumeFallsBackToStore(t *testing.T) {
	f := newManagerFixture(t)

	if got := f.manager.GetVolume("guild-1"); got != 1 {
		t.Errorf("GetVolume with nothing stored = %v, want 1", got)
	}
	f.store.SetVolume("guild-1", 0.6)
	if got := f.manager.GetVolume("guild-1"); got != 0.6 {
		t.Errorf("GetVolume = %v, want stored 0.6", got)
	}
}

func TestManagerStop(t *testing.T) {
	f := newManagerFixture(t)

	var hookCalls []string
	f.manager.RegisterStopHook(func(guildID string) {
		hookCalls = append(hookCalls, guildID)
	})

	if err := f.manager.Stop("guild-1"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Stop without session = %v, want ErrNoActiveSession", err)
	}
	if len(hookCalls) != 1 {
		t.Errorf("stop hook calls = %d, want 1 even without a session", len(hookCalls))
	}

	f.play(t, PlayRequest{})
	if err := f.manager.Stop("guild-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.players[0].CallCountStop != 1 {
		t.Errorf("player Stop calls = %d, want 1", f.players[0].CallCountStop)
	}
	if f.players[0].Current() != nil {
		t.Error("resource still playing after Stop")
	}
}

func TestManagerDecoderFailure(t *testing.T) {
	f := newManagerFixture(t)
	f.manager.decoder = fakeDecoder{err: errors.New("boom")}

	err := f.manager.Play(context.Background(), PlayRequest{
		GuildID: "guild-1", ChannelID: "chan-1", Path: f.clipPath,
	})
	if err == nil || errors.Is(err, ErrClipNotFound) {
		t.Errorf("Play with broken decoder = %v, want wrapped internal error", err)
	}
}
