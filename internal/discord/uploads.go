package discord

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/blare-bot/blare/internal/catalog"
	"github.com/blare-bot/blare/internal/resilience"
)

// maxUploadSize caps a single uploaded clip at 25 MiB, Discord's own
// attachment ceiling for regular servers.
const maxUploadSize = 25 << 20

// UploadHandler saves audio attachments from direct messages into the
// catalog root.
type UploadHandler struct {
	lib     *catalog.Catalog
	metrics Recorder

	// fetch downloads an attachment by URL. Swapped in tests.
	fetch func(url string) (io.ReadCloser, error)
}

// NewUploadHandler creates the DM upload handler. Attachment downloads run
// behind a circuit breaker so a broken CDN route does not get hammered.
func NewUploadHandler(lib *catalog.Catalog, metrics Recorder) *UploadHandler {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "attachment-downloads"})
	return &UploadHandler{
		lib:     lib,
		metrics: metrics,
		fetch: resilience.GuardFetch(breaker, func(url string) (io.ReadCloser, error) {
			resp, err := http.Get(url)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, fmt.Errorf("download: unexpected status %s", resp.Status)
			}
			return resp.Body, nil
		}),
	}
}

// Handle saves every audio attachment on m and reports the outcome back to
// the sender. Non-audio attachments are rejected individually so a mixed
// message still adds its clips.
func (u *UploadHandler) Handle(s messenger, m *discordgo.MessageCreate) {
	var lines []string
	for _, att := range m.Attachments {
		name, err := u.save(att)
		if err != nil {
			slog.Warn("clip upload rejected",
				"user_id", m.Author.ID, "file", att.Filename, "err", err)
			u.record("rejected")
			lines = append(lines, fmt.Sprintf("✗ %s: %v", att.Filename, err))
			continue
		}
		slog.Info("clip uploaded", "user_id", m.Author.ID, "file", name)
		u.record("accepted")
		lines = append(lines, fmt.Sprintf("✓ added **%s**", name))
	}
	if len(lines) == 0 {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, strings.Join(lines, "\n")); err != nil {
		slog.Warn("upload reply failed", "err", err)
	}
}

// save downloads att into the catalog root and returns the stored file name.
func (u *UploadHandler) save(att *discordgo.MessageAttachment) (string, error) {
	name := SanitizeFileName(att.Filename)
	if !catalog.IsAllowed(name) {
		return "", fmt.Errorf("only .mp3 and .wav files are accepted")
	}
	if att.Size > maxUploadSize {
		return "", fmt.Errorf("file exceeds the %d MiB limit", maxUploadSize>>20)
	}

	body, err := u.fetch(att.URL)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer body.Close()

	dest, name := u.availablePath(name)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("store clip: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(body, maxUploadSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxUploadSize {
		err = fmt.Errorf("file exceeds the %d MiB limit", maxUploadSize>>20)
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", err
	}
	return name, nil
}

// availablePath picks a non-colliding destination for name in the catalog
// root, appending -1, -2, … before the extension as needed.
func (u *UploadHandler) availablePath(name string) (path, finalName string) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	finalName = name
	path = filepath.Join(u.lib.Dir(), finalName)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, finalName
		}
		finalName = fmt.Sprintf("%s-%d%s", stem, i, ext)
		path = filepath.Join(u.lib.Dir(), finalName)
	}
}

func (u *UploadHandler) record(status string) {
	if u.metrics != nil {
		u.metrics.RecordUpload(status)
	}
}

// SanitizeFileName strips any path components from name and replaces
// characters outside a conservative allow-list so an attachment name can
// never escape the sounds directory.
func SanitizeFileName(name string) string {
	name = filepath.Base(filepath.Clean(name))
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_' || r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		out = "clip"
	}
	return out
}
