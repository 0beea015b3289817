package web

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/blare-bot/blare/internal/catalog"
	"github.com/blare-bot/blare/internal/discord"
	"github.com/blare-bot/blare/internal/notify"
	"github.com/blare-bot/blare/internal/playback"
)

// Virtual folder keys understood by the sounds listing.
const (
	folderAll    = "__all__"
	folderRecent = "__recent__"
	folderTop    = "__top3__"
)

// newBadgeCount is how many of the newest clips get the "new" badge.
const newBadgeCount = 5

// topBadgeCount is how many of the most-played clips get the "rocket" badge.
const topBadgeCount = 3

// maxDownloadSize caps clips fetched via /api/play-url.
const maxDownloadSize = 25 << 20

type soundView struct {
	catalog.Item
	Plays      int      `json:"plays"`
	Badges     []string `json:"badges,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

type folderView struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Count   int    `json:"count"`
	Virtual bool   `json:"virtual,omitempty"`
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"totalPlays": s.store.TotalPlays(),
		"categories": len(s.store.Categories()),
	})
}

// handleSounds lists the catalog with play counts, badges, and categories.
// Query parameters: folder (named or virtual), category (id), q (search).
func (s *Server) handleSounds(w http.ResponseWriter, r *http.Request) {
	items, folders, err := s.lib.Items()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	recent, err := s.lib.Recent(newBadgeCount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	recentKeys := make(map[string]bool, len(recent))
	for _, it := range recent {
		recentKeys[it.RelativePath] = true
	}

	plays := s.store.Plays()
	top := topPlayed(items, plays, topBadgeCount)
	topKeys := make(map[string]bool, len(top))
	for _, it := range top {
		topKeys[it.RelativePath] = true
	}
	total := len(items)

	switch folder := r.URL.Query().Get("folder"); folder {
	case "", folderAll:
	case folderRecent:
		items = recent
	case folderTop:
		items = top
	default:
		items = keepItems(items, func(it catalog.Item) bool { return it.Folder == folder })
	}

	if cat := r.URL.Query().Get("category"); cat != "" {
		fc := s.store.FileCategories()
		items = keepItems(items, func(it catalog.Item) bool {
			return containsString(fc[it.RelativePath], cat)
		})
	}

	if q := r.URL.Query().Get("q"); q != "" {
		items = catalog.Filter(items, q, true)
	}

	badges := s.store.FileBadges()
	fileCats := s.store.FileCategories()
	sounds := make([]soundView, 0, len(items))
	for _, it := range items {
		v := soundView{
			Item:       it,
			Plays:      plays[it.RelativePath],
			Badges:     append([]string(nil), badges[it.RelativePath]...),
			Categories: fileCats[it.RelativePath],
		}
		if recentKeys[it.RelativePath] {
			v.Badges = append(v.Badges, "new")
		}
		if topKeys[it.RelativePath] {
			v.Badges = append(v.Badges, "rocket")
		}
		sounds = append(sounds, v)
	}

	views := []folderView{
		{Key: folderAll, Name: "All", Count: total, Virtual: true},
		{Key: folderRecent, Name: "Recent", Count: len(recent), Virtual: true},
		{Key: folderTop, Name: "Top 3", Count: len(top), Virtual: true},
	}
	for _, f := range folders {
		views = append(views, folderView{Key: f.Key, Name: f.Name, Count: f.Count})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sounds":  sounds,
		"folders": views,
	})
}

type playRequest struct {
	GuildID      string   `json:"guildId"`
	ChannelID    string   `json:"channelId"`
	SoundName    string   `json:"soundName"`
	Folder       string   `json:"folder"`
	RelativePath string   `json:"relativePath"`
	Volume       *float64 `json:"volume"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var body playRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.GuildID == "" {
		writeError(w, http.StatusBadRequest, "guildId is required")
		return
	}

	rel, err := s.resolveClip(body)
	if err != nil {
		writePlaybackError(w, err)
		return
	}
	body.RelativePath = rel
	s.handlePlayResolved(w, r, body)
}

// resolveClip turns the request's clip reference into a relative path,
// preferring an explicit relativePath over name+folder resolution.
func (s *Server) resolveClip(body playRequest) (string, error) {
	if body.RelativePath != "" {
		if !s.lib.Exists(body.RelativePath) {
			return "", fmt.Errorf("%w: %q", catalog.ErrClipNotFound, body.RelativePath)
		}
		return body.RelativePath, nil
	}
	if body.SoundName == "" {
		return "", fmt.Errorf("%w: soundName or relativePath required", playback.ErrClipNotFound)
	}
	return s.lib.ResolveSound(body.SoundName, body.Folder)
}

func (s *Server) handlePlayURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL       string   `json:"url"`
		GuildID   string   `json:"guildId"`
		ChannelID string   `json:"channelId"`
		Volume    *float64 `json:"volume"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.GuildID == "" {
		writeError(w, http.StatusBadRequest, "guildId is required")
		return
	}

	rel, err := s.downloadClip(body.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.handlePlayResolved(w, r, playRequest{
		GuildID:      body.GuildID,
		ChannelID:    body.ChannelID,
		RelativePath: rel,
		Volume:       body.Volume,
	})
}

// handlePlayResolved plays an already-resolved relative path.
func (s *Server) handlePlayResolved(w http.ResponseWriter, r *http.Request, body playRequest) {
	channelID := body.ChannelID
	if channelID == "" {
		channelID = s.store.SelectedChannel(body.GuildID)
	}
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "no channel selected for guild")
		return
	}

	err := s.board.Play(r.Context(), playback.PlayRequest{
		GuildID:   body.GuildID,
		ChannelID: channelID,
		Path:      s.lib.AbsPath(body.RelativePath),
		Volume:    body.Volume,
		CountKey:  body.RelativePath,
		Trigger:   "api",
	})
	if err != nil {
		writePlaybackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"playing": body.RelativePath})
}

// downloadClip fetches a direct mp3/wav URL into the catalog root and returns
// the stored clip's relative path.
func (s *Server) downloadClip(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("web: not a valid http(s) url")
	}
	name := discord.SanitizeFileName(path.Base(u.Path))
	if !catalog.IsAllowed(name) {
		return "", fmt.Errorf("web: url must point to an mp3 or wav file")
	}

	src, err := s.fetch(rawURL)
	if err != nil {
		return "", fmt.Errorf("web: download clip: %w", err)
	}
	defer src.Close()

	dest, rel := uniquePath(s.lib, name)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("web: store clip: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(src, maxDownloadSize+1))
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = closeErr
	}
	if err == nil && n > maxDownloadSize {
		err = fmt.Errorf("web: clip exceeds the %d MB limit", maxDownloadSize>>20)
	}
	if err != nil {
		os.Remove(dest)
		return "", err
	}

	slog.Info("clip downloaded via api", "clip", rel, "bytes", n)
	return rel, nil
}

func (s *Server) handleVolumeGet(w http.ResponseWriter, r *http.Request) {
	guildID := r.URL.Query().Get("guildId")
	if guildID == "" {
		writeError(w, http.StatusBadRequest, "guildId is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"volume": s.board.GetVolume(guildID)})
}

func (s *Server) handleVolumeSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GuildID string  `json:"guildId"`
		Volume  float64 `json:"volume"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.GuildID == "" {
		writeError(w, http.StatusBadRequest, "guildId is required")
		return
	}
	applied := s.board.SetVolume(body.GuildID, body.Volume)
	writeJSON(w, http.StatusOK, map[string]float64{"volume": applied})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GuildID string `json:"guildId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.GuildID == "" {
		writeError(w, http.StatusBadRequest, "guildId is required")
		return
	}
	// The stop button is the panic button: ambient party mode goes too.
	partyWasActive := s.party.Active(body.GuildID)
	s.party.Stop(body.GuildID)
	if err := s.board.Stop(body.GuildID); err != nil && !partyWasActive {
		writeError(w, http.StatusNotFound, "nothing is playing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *Server) handlePartyStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GuildID   string `json:"guildId"`
		ChannelID string `json:"channelId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.GuildID == "" {
		writeError(w, http.StatusBadRequest, "guildId is required")
		return
	}
	channelID := body.ChannelID
	if channelID == "" {
		channelID = s.store.SelectedChannel(body.GuildID)
	}
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "no channel selected for guild")
		return
	}
	if err := s.party.Start(r.Context(), body.GuildID, channelID); err != nil {
		writePlaybackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"party": true})
}

func (s *Server) handlePartyStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GuildID string `json:"guildId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.GuildID == "" {
		writeError(w, http.StatusBadRequest, "guildId is required")
		return
	}
	s.party.Stop(body.GuildID)
	writeJSON(w, http.StatusOK, map[string]bool{"party": false})
}

type channelView struct {
	discord.ChannelInfo
	Selected bool `json:"selected"`
}

type guildView struct {
	discord.GuildInfo
	Channels []channelView `json:"channels"`
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	selected := s.store.SelectedChannels()
	guilds := s.channels.Guilds()
	out := make([]guildView, 0, len(guilds))
	for _, g := range guilds {
		gv := guildView{GuildInfo: g}
		for _, c := range s.channels.VoiceChannels(g.ID) {
			gv.Channels = append(gv.Channels, channelView{
				ChannelInfo: c,
				Selected:    selected[g.ID] == c.ID,
			})
		}
		out = append(out, gv)
	}
	writeJSON(w, http.StatusOK, map[string]any{"guilds": out})
}

func (s *Server) handleSelectedChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"selected": s.store.SelectedChannels()})
}

func (s *Server) handleSelectChannel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GuildID   string `json:"guildId"`
		ChannelID string `json:"channelId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.GuildID == "" || body.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "guildId and channelId are required")
		return
	}
	if !s.channels.IsVoiceChannel(body.GuildID, body.ChannelID) {
		writeError(w, http.StatusBadRequest, "not a voice channel")
		return
	}
	s.store.SetSelectedChannel(body.GuildID, body.ChannelID)
	s.bus.Publish(notify.ChannelEvent(body.GuildID, body.ChannelID))
	writeJSON(w, http.StatusOK, map[string]string{"guildId": body.GuildID, "channelId": body.ChannelID})
}

// topPlayed returns up to n items ordered by play count descending, counting
// only clips that have been played at least once.
func topPlayed(items []catalog.Item, plays map[string]int, n int) []catalog.Item {
	played := keepItems(items, func(it catalog.Item) bool { return plays[it.RelativePath] > 0 })
	for i := 1; i < len(played); i++ {
		for j := i; j > 0 && plays[played[j].RelativePath] > plays[played[j-1].RelativePath]; j-- {
			played[j], played[j-1] = played[j-1], played[j]
		}
	}
	if n > len(played) {
		n = len(played)
	}
	return played[:n]
}

func keepItems(items []catalog.Item, keep func(catalog.Item) bool) []catalog.Item {
	out := make([]catalog.Item, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// uniquePath finds a free file name in the catalog root, appending -1, -2 …
// before the extension on collision. Returns the absolute path and the
// relative clip key.
func uniquePath(lib *catalog.Catalog, name string) (abs, rel string) {
	ext := path.Ext(name)
	base := name[:len(name)-len(ext)]
	rel = name
	for i := 1; lib.Exists(rel); i++ {
		rel = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
	return lib.AbsPath(rel), rel
}

func fetchURL(rawURL string) (io.ReadCloser, error) {
	resp, err := http.Get(rawURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}
