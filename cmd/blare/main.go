// Command blare is the self-hosted Discord soundboard server: a web UI and
// HTTP API on one side, a Discord bot with voice playback on the other.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/blare-bot/blare/internal/catalog"
	"github.com/blare-bot/blare/internal/config"
	discordbot "github.com/blare-bot/blare/internal/discord"
	"github.com/blare-bot/blare/internal/health"
	"github.com/blare-bot/blare/internal/notify"
	"github.com/blare-bot/blare/internal/observe"
	"github.com/blare-bot/blare/internal/pipeline"
	"github.com/blare-bot/blare/internal/playback"
	"github.com/blare-bot/blare/internal/state"
	"github.com/blare-bot/blare/internal/web"
	"github.com/blare-bot/blare/pkg/voice"
	voicediscord "github.com/blare-bot/blare/pkg/voice/discord"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; real deployments usually pass env directly.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "blare: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("blare starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"sounds_dir", cfg.Library.SoundsDir,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	obsShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Library + persisted state ─────────────────────────────────────────────
	lib, err := catalog.New(cfg.Library.SoundsDir)
	if err != nil {
		slog.Error("failed to open sound library", "err", err)
		return 1
	}
	store, err := state.Open(cfg.Library.SoundsDir)
	if err != nil {
		slog.Error("failed to open state store", "err", err)
		return 1
	}

	bus := notify.New()
	decoder := &swappableDecoder{d: newDecoder(cfg.Audio)}

	// ── Discord bot ───────────────────────────────────────────────────────────
	// The bot and the playback core reference each other: the bot's voice
	// state feeds the core, the core plays the bot's entrance sounds. The
	// deferred player breaks the construction cycle.
	player := &deferredPlayer{}
	bot, err := discordbot.New(discordbot.Config{
		Token:         cfg.Discord.Token,
		AllowedGuilds: cfg.Discord.AllowedGuilds,
		CommandPrefix: cfg.Discord.CommandPrefix,
		AllowUploads:  cfg.Discord.AllowUploads,
	}, lib, store, player, metrics)
	if err != nil {
		slog.Error("failed to create discord bot", "err", err)
		return 1
	}

	// ── Playback core ─────────────────────────────────────────────────────────
	manager := playback.NewManager(playback.ManagerConfig{
		Transport: voicediscord.New(bot.Session()),
		NewPlayer: func() voice.Player { return voicediscord.NewPlayer() },
		Decoder:   decoder,
		Store:     store,
		Bus:       bus,
		Directory: bot.Directory(),
		Metrics:   metrics,
	})
	player.set(manager)

	party := playback.NewParty(manager, &catalogPicker{lib: lib})
	if cfg.Party.Delay > 0 {
		party.Delay = cfg.Party.Delay
	}
	if cfg.Party.Jitter > 0 {
		party.Jitter = cfg.Party.Jitter
	}
	party.Recorder = metrics

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := health.New(
		health.DirChecker("sounds", cfg.Library.SoundsDir),
		health.GatewayChecker(bot.Connected),
		health.BinaryChecker("ffmpeg", ffmpegBinary(cfg.Audio)),
	)
	server := web.NewServer(web.Options{
		Library:        lib,
		Store:          store,
		Board:          manager,
		Party:          party,
		Bus:            bus,
		Channels:       bot.Directory(),
		Auth:           web.NewAuth(cfg.Admin),
		Metrics:        metrics,
		Health:         checks,
		WebDir:         cfg.Library.WebDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(d.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.PartyChanged {
			if d.NewParty.Delay > 0 {
				party.Delay = d.NewParty.Delay
			}
			if d.NewParty.Jitter > 0 {
				party.Jitter = d.NewParty.Jitter
			}
			slog.Info("party pacing changed", "delay", party.Delay, "jitter", party.Jitter)
		}
		if d.AudioChanged {
			decoder.swap(newDecoder(d.NewAudio))
			slog.Info("audio pipeline reconfigured")
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := bot.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return server.Run(runCtx, cfg.Server.ListenAddr, cfg.Server.TLS)
	})

	slog.Info("blare ready", "listen_addr", cfg.Server.ListenAddr)
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	if err := bot.Close(); err != nil {
		slog.Warn("discord close error", "err", err)
	}
	manager.Close()
	store.Flush()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := obsShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	if runErr != nil {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newDecoder builds the ffmpeg decoder from the audio config section.
func newDecoder(cfg config.AudioConfig) *pipeline.Decoder {
	return pipeline.NewDecoder(pipeline.Config{
		Normalize:          cfg.NormalizeEnabled(),
		IntegratedLoudness: cfg.IntegratedLoudness,
		LoudnessRange:      cfg.LoudnessRange,
		TruePeak:           cfg.TruePeak,
		FFmpegPath:         cfg.FFmpegPath,
	})
}

func ffmpegBinary(cfg config.AudioConfig) string {
	if cfg.FFmpegPath != "" {
		return cfg.FFmpegPath
	}
	return "ffmpeg"
}

// swappableDecoder lets the config watcher replace the ffmpeg decoder while
// playback keeps a stable handle.
type swappableDecoder struct {
	mu sync.Mutex
	d  *pipeline.Decoder
}

func (s *swappableDecoder) Open(path string) (io.ReadCloser, error) {
	s.mu.Lock()
	d := s.d
	s.mu.Unlock()
	return d.Open(path)
}

func (s *swappableDecoder) swap(d *pipeline.Decoder) {
	s.mu.Lock()
	s.d = d
	s.mu.Unlock()
}

// deferredPlayer delays binding the playback manager so the bot can be
// constructed first.
type deferredPlayer struct {
	mu sync.Mutex
	m  *playback.Manager
}

func (p *deferredPlayer) set(m *playback.Manager) {
	p.mu.Lock()
	p.m = m
	p.mu.Unlock()
}

func (p *deferredPlayer) Play(ctx context.Context, req playback.PlayRequest) error {
	p.mu.Lock()
	m := p.m
	p.mu.Unlock()
	if m == nil {
		return playback.ErrNoActiveSession
	}
	return m.Play(ctx, req)
}

// catalogPicker adapts the catalog's random pick to the party scheduler.
type catalogPicker struct {
	mu  sync.Mutex
	lib *catalog.Catalog
	rng *rand.Rand
}

func (c *catalogPicker) RandomClip() (path, countKey string, err error) {
	c.mu.Lock()
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	item, err := c.lib.Random(c.rng)
	c.mu.Unlock()
	if err != nil {
		return "", "", err
	}
	return c.lib.AbsPath(item.RelativePath), item.RelativePath, nil
}
