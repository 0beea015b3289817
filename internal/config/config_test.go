package config

import (
	"strings"
	"testing"
	"time"
)

func TestLogLevelIsValid(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  bool
	}{
		{LogDebug, true},
		{LogInfo, true},
		{LogWarn, true},
		{LogError, true},
		{LogLevel("verbose"), false},
		{LogLevel(""), false},
	}
	for _, tt := range tests {
		if got := tt.level.IsValid(); got != tt.want {
			t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNormalizeEnabledDefaultsTrue(t *testing.T) {
	var a AudioConfig
	if !a.NormalizeEnabled() {
		t.Error("unset normalize should default to enabled")
	}
	off := false
	a.Normalize = &off
	if a.NormalizeEnabled() {
		t.Error("normalize=false not honoured")
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{Discord: DiscordConfig{Token: "tok"}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Library.SoundsDir != DefaultSoundsDir {
		t.Errorf("SoundsDir = %q, want %q", cfg.Library.SoundsDir, DefaultSoundsDir)
	}
	if cfg.Discord.CommandPrefix != DefaultCommandPrefix {
		t.Errorf("CommandPrefix = %q, want %q", cfg.Discord.CommandPrefix, DefaultCommandPrefix)
	}
	if cfg.Admin.SessionTTL != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v, want %v", cfg.Admin.SessionTTL, DefaultSessionTTL)
	}
	if cfg.Party.Delay != DefaultPartyDelay || cfg.Party.Jitter != DefaultPartyJitter {
		t.Errorf("party pacing = %v/%v, want defaults", cfg.Party.Delay, cfg.Party.Jitter)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Discord.Token = "" },
			wantSub: "discord.token",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "loud" },
			wantSub: "server.log_level",
		},
		{
			name:    "tls missing key",
			mutate:  func(c *Config) { c.Server.TLS = &TLSConfig{CertFile: "cert.pem"} },
			wantSub: "server.tls",
		},
		{
			name:    "positive loudness target",
			mutate:  func(c *Config) { c.Audio.IntegratedLoudness = 3 },
			wantSub: "integrated_loudness",
		},
		{
			name:    "negative party delay",
			mutate:  func(c *Config) { c.Party.Delay = -time.Second },
			wantSub: "party.delay",
		},
		{
			name:    "negative session ttl",
			mutate:  func(c *Config) { c.Admin.SessionTTL = -time.Hour },
			wantSub: "admin.session_ttl",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Discord: DiscordConfig{Token: "tok"}}
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}
