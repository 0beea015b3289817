package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
server:
  listen_addr: ":4000"
  log_level: debug
discord:
  token: "bot-token"
  allowed_guilds: ["123", "456"]
  allow_uploads: true
library:
  sounds_dir: /srv/sounds
  web_dir: /srv/web
audio:
  normalize: false
  integrated_loudness: -14
admin:
  password: hunter2
  session_ttl: 24h
party:
  delay: 10s
  jitter: 20s
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":4000" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("LogLevel = %q", cfg.Server.LogLevel)
	}
	if cfg.Discord.Token != "bot-token" {
		t.Errorf("Token = %q", cfg.Discord.Token)
	}
	if len(cfg.Discord.AllowedGuilds) != 2 {
		t.Errorf("AllowedGuilds = %v", cfg.Discord.AllowedGuilds)
	}
	if !cfg.Discord.AllowUploads {
		t.Error("AllowUploads not set")
	}
	if cfg.Audio.NormalizeEnabled() {
		t.Error("normalize=false not honoured")
	}
	if cfg.Audio.IntegratedLoudness != -14 {
		t.Errorf("IntegratedLoudness = %v", cfg.Audio.IntegratedLoudness)
	}
	if cfg.Admin.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.Admin.SessionTTL)
	}
	if cfg.Party.Delay != 10*time.Second || cfg.Party.Jitter != 20*time.Second {
		t.Errorf("party = %v/%v", cfg.Party.Delay, cfg.Party.Jitter)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("discord:\n  token: x\n  shard_count: 4\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "env-token" {
		t.Errorf("Token = %q, want env override", cfg.Discord.Token)
	}
	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want default", cfg.Server.ListenAddr)
	}
}

func TestLoadMissingFileWithoutToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil || !strings.Contains(err.Error(), "discord.token") {
		t.Errorf("Load without token = %v, want token error", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blare.yml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Library.SoundsDir != "/srv/sounds" {
		t.Errorf("SoundsDir = %q", cfg.Library.SoundsDir)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "tok-env")
	t.Setenv("ADMIN_PASSWORD", "pw-env")
	t.Setenv("BLARE_SIGNING_SECRET", "sec-env")

	cfg, err := LoadFromReader(strings.NewReader("discord:\n  token: tok-file\nadmin:\n  password: pw-file\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Discord.Token != "tok-env" {
		t.Errorf("Token = %q, want env to win", cfg.Discord.Token)
	}
	if cfg.Admin.Password != "pw-env" {
		t.Errorf("Password = %q, want env to win", cfg.Admin.Password)
	}
	if cfg.Admin.SigningSecret != "sec-env" {
		t.Errorf("SigningSecret = %q", cfg.Admin.SigningSecret)
	}
}

func TestLoadFromReaderBadYAML(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader(":\n  - [")); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

func TestSlogLevel(t *testing.T) {
	if LogDebug.SlogLevel().String() != "DEBUG" {
		t.Error("debug mapping wrong")
	}
	if LogLevel("").SlogLevel().String() != "INFO" {
		t.Error("empty level should default to info")
	}
}
