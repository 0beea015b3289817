// Package state persists the soundboard's mutable record: per-guild volumes,
// play counters, category/badge tagging, pinned channels, and per-user
// entrance/exit sound mappings.
//
// The whole record is a single JSON document living inside the sounds
// directory (state.json) so it travels with the sound volume. It is loaded
// once at startup and rewritten after every mutation; last writer wins; the
// process is assumed to be single-instance. Write failures are logged and
// swallowed: the in-memory record stays authoritative for the life of the
// process and must never abort the operation that triggered the write.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// stateFileName is the document's file name inside the sounds directory.
const stateFileName = "state.json"

// Category is a user-defined tag for grouping clips in the web UI.
type Category struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Color string  `json:"color,omitempty"`
	Sort  float64 `json:"sort,omitempty"`
}

// record is the persisted document. Field names match the wire format of the
// state file so existing deployments keep their data.
type record struct {
	Volumes          map[string]float64  `json:"volumes"`
	Plays            map[string]int      `json:"plays"`
	TotalPlays       int                 `json:"totalPlays"`
	Categories       []Category          `json:"categories,omitempty"`
	FileCategories   map[string][]string `json:"fileCategories,omitempty"`
	FileBadges       map[string][]string `json:"fileBadges,omitempty"`
	SelectedChannels map[string]string   `json:"selectedChannels,omitempty"`
	EntranceSounds   map[string]string   `json:"entranceSounds,omitempty"`
	ExitSounds       map[string]string   `json:"exitSounds,omitempty"`
}

func emptyRecord() record {
	return record{
		Volumes:          map[string]float64{},
		Plays:            map[string]int{},
		FileCategories:   map[string][]string{},
		FileBadges:       map[string][]string{},
		SelectedChannels: map[string]string{},
		EntranceSounds:   map[string]string{},
		ExitSounds:       map[string]string{},
	}
}

// Store is the process-wide persisted state record.
// All exported methods are safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	data record
}

// Open loads the state document from soundsDir. A document at the legacy
// location (one level above soundsDir) is migrated into soundsDir on first
// load. A missing document yields an empty record.
func Open(soundsDir string) (*Store, error) {
	s := &Store{
		path: filepath.Join(soundsDir, stateFileName),
		data: emptyRecord(),
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		// Legacy location: sibling of the sounds directory.
		legacy := filepath.Join(filepath.Dir(filepath.Clean(soundsDir)), stateFileName)
		raw, err = os.ReadFile(legacy)
		if err == nil {
			slog.Info("state: migrating legacy state file", "from", legacy, "to", s.path)
		}
	}
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %q: %w", s.path, err)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("state: parse %q: %w", s.path, err)
	}
	s.normalize()
	// Rewrite immediately so a legacy document lands at the new location.
	s.persistLocked()
	return s, nil
}

// normalize replaces nil maps left behind by older documents.
func (s *Store) normalize() {
	if s.data.Volumes == nil {
		s.data.Volumes = map[string]float64{}
	}
	if s.data.Plays == nil {
		s.data.Plays = map[string]int{}
	}
	if s.data.FileCategories == nil {
		s.data.FileCategories = map[string][]string{}
	}
	if s.data.FileBadges == nil {
		s.data.FileBadges = map[string][]string{}
	}
	if s.data.SelectedChannels == nil {
		s.data.SelectedChannels = map[string]string{}
	}
	if s.data.EntranceSounds == nil {
		s.data.EntranceSounds = map[string]string{}
	}
	if s.data.ExitSounds == nil {
		s.data.ExitSounds = map[string]string{}
	}
}

// persistLocked rewrites the document. Callers must hold s.mu.
// Failures are logged, never returned: a failed write must not abort the
// mutation that triggered it.
func (s *Store) persistLocked() {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		slog.Warn("state: marshal", "err", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		slog.Warn("state: write", "path", s.path, "err", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		slog.Warn("state: rename", "path", s.path, "err", err)
	}
}

// Flush rewrites the document unconditionally. Called during shutdown.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}

// ─── Volumes ──────────────────────────────────────────────────────────────────

// Volume returns the persisted volume for guildID, clamped to [0, 1].
// Guilds without a stored value default to 1.
func (s *Store) Volume(guildID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.Volumes[guildID]
	if !ok {
		return 1
	}
	return clamp01(v)
}

// SetVolume stores v (clamped to [0, 1]) as guildID's default volume.
func (s *Store) SetVolume(guildID string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Volumes[guildID] = clamp01(v)
	s.persistLocked()
}

// Volumes returns a copy of the full guild → volume map.
func (s *Store) Volumes() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.data.Volumes))
	for k, v := range s.data.Volumes {
		out[k] = v
	}
	return out
}

// ─── Play counters ────────────────────────────────────────────────────────────

// IncrementPlays bumps the play counter for the clip key (a forward-slash
// relative path) and the global total. Counters only ever go up.
func (s *Store) IncrementPlays(key string) {
	key = NormalizeKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Plays[key]++
	s.data.TotalPlays++
	s.persistLocked()
}

// Plays returns a copy of the clip → count map.
func (s *Store) Plays() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.data.Plays))
	for k, v := range s.data.Plays {
		out[k] = v
	}
	return out
}

// TotalPlays returns the global play counter.
func (s *Store) TotalPlays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.TotalPlays
}

// ─── Pinned channels ──────────────────────────────────────────────────────────

// SelectedChannel returns guildID's pinned default channel, or "".
func (s *Store) SelectedChannel(guildID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SelectedChannels[guildID]
}

// SetSelectedChannel pins channelID as guildID's default channel.
func (s *Store) SetSelectedChannel(guildID, channelID string) {
	if guildID == "" || channelID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.SelectedChannels[guildID] = channelID
	s.persistLocked()
}

// SelectedChannels returns a copy of the full guild → channel map.
func (s *Store) SelectedChannels() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data.SelectedChannels))
	for k, v := range s.data.SelectedChannels {
		out[k] = v
	}
	return out
}

// ─── Entrance / exit sounds ───────────────────────────────────────────────────

// EntranceSound returns userID's configured entrance clip key, or "".
func (s *Store) EntranceSound(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.EntranceSounds[userID]
}

// SetEntranceSound maps userID to the clip key.
func (s *Store) SetEntranceSound(userID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.EntranceSounds[userID] = NormalizeKey(key)
	s.persistLocked()
}

// ExitSound returns userID's configured exit clip key, or "".
func (s *Store) ExitSound(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ExitSounds[userID]
}

// SetExitSound maps userID to the clip key.
func (s *Store) SetExitSound(userID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.ExitSounds[userID] = NormalizeKey(key)
	s.persistLocked()
}

// ─── Categories ───────────────────────────────────────────────────────────────

// Categories returns a copy of the category list.
func (s *Store) Categories() []Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Category, len(s.data.Categories))
	copy(out, s.data.Categories)
	return out
}

// AddCategory appends c to the category list.
func (s *Store) AddCategory(c Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Categories = append(s.data.Categories, c)
	s.persistLocked()
}

// UpdateCategory applies fn to the category with the given id and reports
// whether it was found.
func (s *Store) UpdateCategory(id string, fn func(*Category)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.data.Categories {
		if s.data.Categories[i].ID == id {
			fn(&s.data.Categories[i])
			s.persistLocked()
			return true
		}
	}
	return false
}

// DeleteCategory removes the category and strips its id from every file
// assignment. It reports whether the category existed.
func (s *Store) DeleteCategory(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i := range s.data.Categories {
		if s.data.Categories[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	s.data.Categories = append(s.data.Categories[:idx], s.data.Categories[idx+1:]...)
	for key, ids := range s.data.FileCategories {
		kept := ids[:0]
		for _, c := range ids {
			if c != id {
				kept = append(kept, c)
			}
		}
		s.data.FileCategories[key] = kept
	}
	s.persistLocked()
	return true
}

// AssignCategories adds and removes category ids on each of the given file
// keys. Unknown category ids are ignored.
func (s *Store) AssignCategories(files, add, remove []string) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := make(map[string]bool, len(s.data.Categories))
	for _, c := range s.data.Categories {
		valid[c.ID] = true
	}

	for _, f := range files {
		set := toSet(s.data.FileCategories[f])
		for _, id := range add {
			if valid[id] {
				set[id] = true
			}
		}
		for _, id := range remove {
			delete(set, id)
		}
		s.data.FileCategories[f] = fromSet(set)
	}
	s.persistLocked()
	return s.fileCategoriesLocked()
}

// FileCategories returns a copy of the file → category-ids map.
func (s *Store) FileCategories() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileCategoriesLocked()
}

func (s *Store) fileCategoriesLocked() map[string][]string {
	out := make(map[string][]string, len(s.data.FileCategories))
	for k, v := range s.data.FileCategories {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// ─── Badges ───────────────────────────────────────────────────────────────────

// AssignBadges adds and removes custom badge strings on each file key.
func (s *Store) AssignBadges(files, add, remove []string) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		set := toSet(s.data.FileBadges[f])
		for _, b := range add {
			set[b] = true
		}
		for _, b := range remove {
			delete(set, b)
		}
		s.data.FileBadges[f] = fromSet(set)
	}
	s.persistLocked()
	return s.fileBadgesLocked()
}

// ClearBadges removes all custom badges from the given file keys.
func (s *Store) ClearBadges(files []string) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		delete(s.data.FileBadges, f)
	}
	s.persistLocked()
	return s.fileBadgesLocked()
}

// FileBadges returns a copy of the file → custom badges map.
func (s *Store) FileBadges() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileBadgesLocked()
}

func (s *Store) fileBadgesLocked() map[string][]string {
	out := make(map[string][]string, len(s.data.FileBadges))
	for k, v := range s.data.FileBadges {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// NormalizeKey converts a clip path to the canonical forward-slash form used
// as a map key throughout the persisted record.
func NormalizeKey(key string) string {
	return strings.ReplaceAll(key, `\`, "/")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func fromSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	return out
}
