package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] for unset values.
const (
	DefaultListenAddr    = ":3000"
	DefaultSoundsDir     = "./sounds"
	DefaultCommandPrefix = "?"
	DefaultSessionTTL    = 7 * 24 * time.Hour
	DefaultPartyDelay    = 30 * time.Second
	DefaultPartyJitter   = 60 * time.Second
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config]. A missing file is not an
// error: the defaults plus environment variables form a runnable config.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("config file not found, using defaults", "path", path)
		cfg := &Config{}
		ApplyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays secret-bearing settings from the environment so they can
// be kept out of the config file: DISCORD_TOKEN, ADMIN_PASSWORD,
// BLARE_SIGNING_SECRET.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Password = v
	}
	if v := os.Getenv("BLARE_SIGNING_SECRET"); v != "" {
		cfg.Admin.SigningSecret = v
	}
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults. It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (or set DISCORD_TOKEN)"))
	}
	if cfg.Discord.CommandPrefix == "" {
		cfg.Discord.CommandPrefix = DefaultCommandPrefix
	}

	if cfg.Library.SoundsDir == "" {
		cfg.Library.SoundsDir = DefaultSoundsDir
	}

	if cfg.Audio.IntegratedLoudness > 0 {
		errs = append(errs, fmt.Errorf("audio.integrated_loudness %.1f must be negative LUFS", cfg.Audio.IntegratedLoudness))
	}
	if cfg.Audio.LoudnessRange < 0 {
		errs = append(errs, fmt.Errorf("audio.loudness_range %.1f must not be negative", cfg.Audio.LoudnessRange))
	}

	if cfg.Admin.SessionTTL == 0 {
		cfg.Admin.SessionTTL = DefaultSessionTTL
	} else if cfg.Admin.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("admin.session_ttl %s must be positive", cfg.Admin.SessionTTL))
	}
	if cfg.Admin.Password == "" {
		slog.Warn("admin.password is empty; admin endpoints are disabled")
	}

	if cfg.Party.Delay == 0 {
		cfg.Party.Delay = DefaultPartyDelay
	} else if cfg.Party.Delay < 0 {
		errs = append(errs, fmt.Errorf("party.delay %s must be positive", cfg.Party.Delay))
	}
	if cfg.Party.Jitter == 0 {
		cfg.Party.Jitter = DefaultPartyJitter
	} else if cfg.Party.Jitter < 0 {
		errs = append(errs, fmt.Errorf("party.jitter %s must not be negative", cfg.Party.Jitter))
	}

	return errors.Join(errs...)
}

// SlogLevel maps the configured log level onto slog's scale (default Info).
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
