// Package web serves the soundboard HTTP API: catalog listing, playback and
// party control, channel selection, category and badge management, admin
// session auth, and the SSE/WebSocket event feeds. The static web UI is served
// from a configured dist directory when one is present.
package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/blare-bot/blare/internal/catalog"
	"github.com/blare-bot/blare/internal/config"
	"github.com/blare-bot/blare/internal/discord"
	"github.com/blare-bot/blare/internal/health"
	"github.com/blare-bot/blare/internal/notify"
	"github.com/blare-bot/blare/internal/observe"
	"github.com/blare-bot/blare/internal/playback"
	"github.com/blare-bot/blare/internal/resilience"
	"github.com/blare-bot/blare/internal/state"
)

// Soundboard is the playback surface the API drives.
type Soundboard interface {
	Play(ctx context.Context, req playback.PlayRequest) error
	SetVolume(guildID string, v float64) float64
	GetVolume(guildID string) float64
	Stop(guildID string) error
}

// PartyControl arms and disarms ambient party mode.
type PartyControl interface {
	Start(ctx context.Context, guildID, channelID string) error
	Stop(guildID string)
	Active(guildID string) bool
	ActiveGuilds() []string
}

// ChannelDirectory lists the voice channels the board can play into.
type ChannelDirectory interface {
	Guilds() []discord.GuildInfo
	VoiceChannels(guildID string) []discord.ChannelInfo
	IsVoiceChannel(guildID, channelID string) bool
}

// Options wires the server's collaborators. Library, Store, Board, Party,
// Bus, and Channels are required; the rest are optional.
type Options struct {
	Library  *catalog.Catalog
	Store    *state.Store
	Board    Soundboard
	Party    PartyControl
	Bus      *notify.Bus
	Channels ChannelDirectory

	Auth    *Auth
	Metrics *observe.Metrics
	Health  *health.Handler

	// WebDir serves a built frontend at / when non-empty.
	WebDir string

	// AllowedOrigins enables CORS for the listed origins.
	AllowedOrigins []string
}

// Server handles the soundboard HTTP API.
type Server struct {
	lib      *catalog.Catalog
	store    *state.Store
	board    Soundboard
	party    PartyControl
	bus      *notify.Bus
	channels ChannelDirectory
	auth     *Auth
	metrics  *observe.Metrics
	health   *health.Handler
	webDir   string
	origins  []string

	// fetch downloads a URL for /api/play-url. Tests replace it.
	fetch func(url string) (io.ReadCloser, error)
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	auth := opts.Auth
	if auth == nil {
		auth = NewAuth(config.AdminConfig{})
	}
	return &Server{
		lib:      opts.Library,
		store:    opts.Store,
		board:    opts.Board,
		party:    opts.Party,
		bus:      opts.Bus,
		channels: opts.Channels,
		auth:     auth,
		metrics:  opts.Metrics,
		health:   opts.Health,
		webDir:   opts.WebDir,
		origins:  opts.AllowedOrigins,
		fetch: resilience.GuardFetch(
			resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "url-downloads"}),
			fetchURL,
		),
	}
}

// Handler builds the full route table wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/health", s.handleAPIHealth)

	mux.HandleFunc("POST /api/admin/login", s.auth.Login)
	mux.HandleFunc("POST /api/admin/logout", s.auth.Logout)
	mux.HandleFunc("GET /api/admin/status", s.auth.Status)

	mux.HandleFunc("GET /api/sounds", s.handleSounds)
	mux.HandleFunc("POST /api/play", s.handlePlay)
	mux.HandleFunc("POST /api/play-url", s.handlePlayURL)
	mux.HandleFunc("GET /api/volume", s.handleVolumeGet)
	mux.HandleFunc("POST /api/volume", s.handleVolumeSet)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/party/start", s.handlePartyStart)
	mux.HandleFunc("POST /api/party/stop", s.handlePartyStop)

	mux.HandleFunc("GET /api/channels", s.handleChannels)
	mux.HandleFunc("GET /api/selected-channels", s.handleSelectedChannels)
	mux.HandleFunc("POST /api/selected-channel", s.handleSelectChannel)

	mux.HandleFunc("GET /api/categories", s.handleCategoriesList)
	admin := s.auth.Require
	mux.Handle("POST /api/categories", admin(http.HandlerFunc(s.handleCategoryCreate)))
	mux.Handle("PATCH /api/categories/{id}", admin(http.HandlerFunc(s.handleCategoryUpdate)))
	mux.Handle("DELETE /api/categories/{id}", admin(http.HandlerFunc(s.handleCategoryDelete)))
	mux.Handle("POST /api/categories/assign", admin(http.HandlerFunc(s.handleCategoriesAssign)))
	mux.Handle("POST /api/badges/assign", admin(http.HandlerFunc(s.handleBadgesAssign)))
	mux.Handle("POST /api/badges/clear", admin(http.HandlerFunc(s.handleBadgesClear)))
	mux.Handle("POST /api/admin/sounds/delete", admin(http.HandlerFunc(s.handleSoundsDelete)))
	mux.Handle("POST /api/admin/sounds/rename", admin(http.HandlerFunc(s.handleSoundsRename)))

	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/ws", s.handleWS)

	if s.webDir != "" {
		mux.Handle("/", spaHandler(s.webDir))
	}

	var h http.Handler = mux
	if s.metrics != nil {
		h = observe.Middleware(s.metrics)(h)
	}
	if len(s.origins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
		}).Handler(h)
	}
	return h
}

// Run serves the API on addr until ctx is cancelled, then shuts down
// gracefully with a short drain window.
func (s *Server) Run(ctx context.Context, addr string, tlsCfg *config.TLSConfig) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if tlsCfg != nil {
			errCh <- srv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// spaHandler serves files from dir, falling back to index.html for paths the
// client-side router owns.
func spaHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			fs.ServeHTTP(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	})
}
