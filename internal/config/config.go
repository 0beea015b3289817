// Package config provides the configuration schema and loader for the blare
// soundboard server.
package config

import "time"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for blare.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// secrets can be supplied via environment variables instead (see [ApplyEnv]).
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Discord DiscordConfig `yaml:"discord"`
	Library LibraryConfig `yaml:"library"`
	Audio   AudioConfig   `yaml:"audio"`
	Admin   AdminConfig   `yaml:"admin"`
	Party   PartyConfig   `yaml:"party"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":3000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists origins allowed to call the API cross-origin.
	// Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DiscordConfig holds the bot credentials and guild scoping.
type DiscordConfig struct {
	// Token is the Discord bot token. Overridable via DISCORD_TOKEN.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guilds the bot serves. Empty means every
	// guild the bot is a member of.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// CommandPrefix is the chat-command prefix. Default: "?".
	CommandPrefix string `yaml:"command_prefix"`

	// AllowUploads enables adding clips by direct-message attachment.
	AllowUploads bool `yaml:"allow_uploads"`
}

// LibraryConfig holds the clip catalog locations.
type LibraryConfig struct {
	// SoundsDir is the directory holding the clip files and the persisted
	// state file. Default: "./sounds".
	SoundsDir string `yaml:"sounds_dir"`

	// WebDir is the directory holding the built web UI to serve at /.
	// Empty disables static serving.
	WebDir string `yaml:"web_dir"`
}

// AudioConfig holds the decode/normalization settings.
type AudioConfig struct {
	// Normalize toggles EBU R128 loudness normalization. Default: true
	// (set NormalizeSet when decoding by hand).
	Normalize *bool `yaml:"normalize"`

	// IntegratedLoudness is the loudnorm I target in LUFS. Default: -16.
	IntegratedLoudness float64 `yaml:"integrated_loudness"`

	// LoudnessRange is the loudnorm LRA target in LU. Default: 11.
	LoudnessRange float64 `yaml:"loudness_range"`

	// TruePeak is the loudnorm TP ceiling in dBTP. Default: -1.5.
	TruePeak float64 `yaml:"true_peak"`

	// FFmpegPath overrides the ffmpeg binary path. Default: "ffmpeg" on $PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// AdminConfig guards the mutating admin endpoints (categories, badges,
// channel pinning).
type AdminConfig struct {
	// Password is the shared admin password. Overridable via ADMIN_PASSWORD.
	// Empty disables admin login entirely.
	Password string `yaml:"password"`

	// SessionTTL is how long an admin login stays valid. Default: 168h (7 days).
	SessionTTL time.Duration `yaml:"session_ttl"`

	// SigningSecret signs admin session tokens. Empty generates an ephemeral
	// secret at startup (logins do not survive a restart).
	SigningSecret string `yaml:"signing_secret"`
}

// PartyConfig paces ambient party mode.
type PartyConfig struct {
	// Delay is the fixed floor between party clips. Default: 30s.
	Delay time.Duration `yaml:"delay"`

	// Jitter is the upper bound of the random extra wait. Default: 60s.
	Jitter time.Duration `yaml:"jitter"`
}

// Normalize reports the effective normalization toggle (default true).
func (a AudioConfig) NormalizeEnabled() bool {
	return a.Normalize == nil || *a.Normalize
}
