package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blare-bot/blare/internal/catalog"
	"github.com/blare-bot/blare/internal/discord"
	"github.com/blare-bot/blare/internal/notify"
	"github.com/blare-bot/blare/internal/playback"
	"github.com/blare-bot/blare/internal/state"
)

type fakeBoard struct {
	requests []playback.PlayRequest
	playErr  error
	stopErr  error
	volumes  map[string]float64
}

func (f *fakeBoard) Play(_ context.Context, req playback.PlayRequest) error {
	if f.playErr != nil {
		return f.playErr
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeBoard) SetVolume(guildID string, v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	f.volumes[guildID] = v
	return v
}

func (f *fakeBoard) GetVolume(guildID string) float64 { return f.volumes[guildID] }

func (f *fakeBoard) Stop(string) error { return f.stopErr }

type fakeParty struct {
	active   map[string]bool
	started  []string
	startErr error
}

func (f *fakeParty) Start(_ context.Context, guildID, channelID string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.active[guildID] = true
	f.started = append(f.started, guildID+"/"+channelID)
	return nil
}

func (f *fakeParty) Stop(guildID string)        { delete(f.active, guildID) }
func (f *fakeParty) Active(guildID string) bool { return f.active[guildID] }

func (f *fakeParty) ActiveGuilds() []string {
	out := make([]string, 0, len(f.active))
	for g := range f.active {
		out = append(out, g)
	}
	return out
}

type fakeChannels struct{}

func (fakeChannels) Guilds() []discord.GuildInfo {
	return []discord.GuildInfo{{ID: "g1", Name: "Testers"}}
}

func (fakeChannels) VoiceChannels(guildID string) []discord.ChannelInfo {
	if guildID != "g1" {
		return nil
	}
	return []discord.ChannelInfo{
		{ID: "v1", Name: "General", GuildID: "g1", Position: 1},
		{ID: "v2", Name: "AFK", GuildID: "g1", Position: 2},
	}
}

func (fakeChannels) IsVoiceChannel(guildID, channelID string) bool {
	return guildID == "g1" && (channelID == "v1" || channelID == "v2")
}

type fixture struct {
	srv     *Server
	handler http.Handler
	board   *fakeBoard
	party   *fakeParty
	store   *state.Store
	lib     *catalog.Catalog
	bus     *notify.Bus
}

func newFixture(t *testing.T, clips ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	for _, c := range clips {
		full := filepath.Join(dir, filepath.FromSlash(c))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	lib, err := catalog.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	store, err := state.Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		board: &fakeBoard{volumes: map[string]float64{}},
		party: &fakeParty{active: map[string]bool{}},
		store: store,
		lib:   lib,
		bus:   notify.New(),
	}
	f.srv = NewServer(Options{
		Library:  lib,
		Store:    store,
		Board:    f.board,
		Party:    f.party,
		Bus:      f.bus,
		Channels: fakeChannels{},
	})
	f.handler = f.srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAPIHealth(t *testing.T) {
	f := newFixture(t, "airhorn.mp3")
	f.store.IncrementPlays("airhorn.mp3")
	f.store.IncrementPlays("airhorn.mp3")

	rec := f.do(t, "GET", "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["ok"] != true || got["totalPlays"] != float64(2) {
		t.Errorf("health = %v", got)
	}
}

type soundsResponse struct {
	Sounds  []soundView  `json:"sounds"`
	Folders []folderView `json:"folders"`
}

func TestSoundsListing(t *testing.T) {
	f := newFixture(t, "airhorn.mp3", "drums/snare.wav")
	f.store.IncrementPlays("drums/snare.wav")

	rec := f.do(t, "GET", "/api/sounds", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[soundsResponse](t, rec)

	if len(got.Sounds) != 2 {
		t.Fatalf("sounds = %d, want 2", len(got.Sounds))
	}
	byKey := map[string]soundView{}
	for _, sv := range got.Sounds {
		byKey[sv.RelativePath] = sv
	}
	// Both clips were just written, so both carry the "new" badge.
	if !containsString(byKey["airhorn.mp3"].Badges, "new") {
		t.Errorf("airhorn badges = %v, want new", byKey["airhorn.mp3"].Badges)
	}
	if !containsString(byKey["drums/snare.wav"].Badges, "rocket") {
		t.Errorf("snare badges = %v, want rocket", byKey["drums/snare.wav"].Badges)
	}
	if byKey["drums/snare.wav"].Plays != 1 {
		t.Errorf("snare plays = %d, want 1", byKey["drums/snare.wav"].Plays)
	}

	var keys []string
	for _, fd := range got.Folders {
		keys = append(keys, fd.Key)
	}
	for _, want := range []string{folderAll, folderRecent, folderTop, "drums"} {
		if !containsString(keys, want) {
			t.Errorf("folders %v missing %q", keys, want)
		}
	}
}

func TestSoundsFilters(t *testing.T) {
	f := newFixture(t, "airhorn.mp3", "tada.mp3", "drums/snare.wav")
	f.store.IncrementPlays("tada.mp3")

	tests := []struct {
		target string
		want   []string
	}{
		{"/api/sounds?folder=drums", []string{"drums/snare.wav"}},
		{"/api/sounds?folder=__top3__", []string{"tada.mp3"}},
		{"/api/sounds?q=airhrn", []string{"airhorn.mp3"}},
	}
	for _, tt := range tests {
		rec := f.do(t, "GET", tt.target, nil)
		got := decode[soundsResponse](t, rec)
		if len(got.Sounds) != len(tt.want) {
			t.Errorf("%s: sounds = %d, want %d", tt.target, len(got.Sounds), len(tt.want))
			continue
		}
		for i, want := range tt.want {
			if got.Sounds[i].RelativePath != want {
				t.Errorf("%s: sound[%d] = %q, want %q", tt.target, i, got.Sounds[i].RelativePath, want)
			}
		}
	}
}

func TestSoundsCategoryFilter(t *testing.T) {
	f := newFixture(t, "airhorn.mp3", "tada.mp3")
	f.store.AddCategory(state.Category{ID: "cat-1", Name: "Horns"})
	f.store.AssignCategories([]string{"airhorn.mp3"}, []string{"cat-1"}, nil)

	rec := f.do(t, "GET", "/api/sounds?category=cat-1", nil)
	got := decode[soundsResponse](t, rec)
	if len(got.Sounds) != 1 || got.Sounds[0].RelativePath != "airhorn.mp3" {
		t.Errorf("filtered sounds = %+v", got.Sounds)
	}
}

func TestPlayByName(t *testing.T) {
	f := newFixture(t, "airhorn.mp3")

	rec := f.do(t, "POST", "/api/play", map[string]any{
		"guildId": "g1", "channelId": "v1", "soundName": "airhorn",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.board.requests) != 1 {
		t.Fatalf("plays = %d, want 1", len(f.board.requests))
	}
	req := f.board.requests[0]
	if req.CountKey != "airhorn.mp3" || req.Trigger != "api" || req.ChannelID != "v1" {
		t.Errorf("request = %+v", req)
	}
}

func TestPlayUsesSelectedChannel(t *testing.T) {
	f := newFixture(t, "airhorn.mp3")
	f.store.SetSelectedChannel("g1", "v2")

	rec := f.do(t, "POST", "/api/play", map[string]any{
		"guildId": "g1", "relativePath": "airhorn.mp3",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if f.board.requests[0].ChannelID != "v2" {
		t.Errorf("channel = %q, want v2", f.board.requests[0].ChannelID)
	}
}

func TestPlayValidation(t *testing.T) {
	f := newFixture(t, "airhorn.mp3")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing guild", map[string]any{"soundName": "airhorn"}, http.StatusBadRequest},
		{"no channel selected", map[string]any{"guildId": "g1", "soundName": "airhorn"}, http.StatusBadRequest},
		{"unknown clip", map[string]any{"guildId": "g1", "channelId": "v1", "soundName": "nope"}, http.StatusNotFound},
		{"missing clip reference", map[string]any{"guildId": "g1", "channelId": "v1"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "POST", "/api/play", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestPlayErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{playback.ErrServerNotFound, http.StatusNotFound},
		{playback.ErrInvalidChannel, http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		f := newFixture(t, "airhorn.mp3")
		f.board.playErr = tt.err
		rec := f.do(t, "POST", "/api/play", map[string]any{
			"guildId": "g1", "channelId": "v1", "relativePath": "airhorn.mp3",
		})
		if rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestPlayURLDownloadsAndPlays(t *testing.T) {
	f := newFixture(t)
	f.srv.fetch = func(string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("audio bytes")), nil
	}

	rec := f.do(t, "POST", "/api/play-url", map[string]any{
		"guildId": "g1", "channelId": "v1", "url": "http://cdn.example/horn.mp3",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !f.lib.Exists("horn.mp3") {
		t.Error("downloaded clip not stored")
	}
	if len(f.board.requests) != 1 || f.board.requests[0].CountKey != "horn.mp3" {
		t.Errorf("requests = %+v", f.board.requests)
	}
}

func TestPlayURLRejectsNonAudio(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "POST", "/api/play-url", map[string]any{
		"guildId": "g1", "channelId": "v1", "url": "http://cdn.example/script.sh",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestVolumeRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/volume", map[string]any{"guildId": "g1", "volume": 2.0})
	got := decode[map[string]float64](t, rec)
	if got["volume"] != 1 {
		t.Errorf("applied volume = %v, want clamp to 1", got["volume"])
	}

	rec = f.do(t, "GET", "/api/volume?guildId=g1", nil)
	got = decode[map[string]float64](t, rec)
	if got["volume"] != 1 {
		t.Errorf("volume = %v, want 1", got["volume"])
	}

	if rec := f.do(t, "GET", "/api/volume", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing guild status = %d, want 400", rec.Code)
	}
}

func TestStop(t *testing.T) {
	f := newFixture(t)
	f.board.stopErr = playback.ErrNoActiveSession
	if rec := f.do(t, "POST", "/api/stop", map[string]any{"guildId": "g1"}); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	f.board.stopErr = nil
	if rec := f.do(t, "POST", "/api/stop", map[string]any{"guildId": "g1"}); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestStopDisarmsParty(t *testing.T) {
	f := newFixture(t)
	f.party.active["g1"] = true
	f.board.stopErr = playback.ErrNoActiveSession

	// Nothing playing, but party was armed: still a successful stop.
	if rec := f.do(t, "POST", "/api/stop", map[string]any{"guildId": "g1"}); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if f.party.Active("g1") {
		t.Error("party still armed after stop")
	}
}

func TestPartyStartStop(t *testing.T) {
	f := newFixture(t, "airhorn.mp3")
	f.store.SetSelectedChannel("g1", "v1")

	rec := f.do(t, "POST", "/api/party/start", map[string]any{"guildId": "g1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	if !f.party.Active("g1") {
		t.Error("party not armed")
	}
	if len(f.party.started) != 1 || f.party.started[0] != "g1/v1" {
		t.Errorf("started = %v, want g1/v1", f.party.started)
	}

	rec = f.do(t, "POST", "/api/party/stop", map[string]any{"guildId": "g1"})
	if rec.Code != http.StatusOK || f.party.Active("g1") {
		t.Errorf("stop status = %d, active = %v", rec.Code, f.party.Active("g1"))
	}
}

func TestPartyStartNeedsChannel(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "POST", "/api/party/start", map[string]any{"guildId": "g1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChannelsListing(t *testing.T) {
	f := newFixture(t)
	f.store.SetSelectedChannel("g1", "v2")

	rec := f.do(t, "GET", "/api/channels", nil)
	got := decode[map[string][]guildView](t, rec)
	guilds := got["guilds"]
	if len(guilds) != 1 || len(guilds[0].Channels) != 2 {
		t.Fatalf("guilds = %+v", guilds)
	}
	for _, c := range guilds[0].Channels {
		if want := c.ID == "v2"; c.Selected != want {
			t.Errorf("channel %s selected = %v, want %v", c.ID, c.Selected, want)
		}
	}
}

func TestSelectChannel(t *testing.T) {
	f := newFixture(t)
	events, cancel := f.bus.Subscribe()
	defer cancel()

	rec := f.do(t, "POST", "/api/selected-channel", map[string]any{"guildId": "g1", "channelId": "v1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.store.SelectedChannel("g1"); got != "v1" {
		t.Errorf("selected = %q, want v1", got)
	}
	ev := <-events
	if ev.Type != notify.TypeChannel || ev.ChannelID != "v1" {
		t.Errorf("event = %+v", ev)
	}

	rec = f.do(t, "POST", "/api/selected-channel", map[string]any{"guildId": "g1", "channelId": "t1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-voice status = %d, want 400", rec.Code)
	}
}
