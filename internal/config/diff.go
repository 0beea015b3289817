package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (listen address, token, directories) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PartyChanged means the party pacing changed; applies to the next cycle.
	PartyChanged bool
	NewParty     PartyConfig

	// AudioChanged means the normalization targets changed; applies to the
	// next decode.
	AudioChanged bool
	NewAudio     AudioConfig
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.PartyChanged || d.AudioChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Party != new.Party {
		d.PartyChanged = true
		d.NewParty = new.Party
	}

	if !audioEqual(old.Audio, new.Audio) {
		d.AudioChanged = true
		d.NewAudio = new.Audio
	}

	return d
}

func audioEqual(a, b AudioConfig) bool {
	return a.NormalizeEnabled() == b.NormalizeEnabled() &&
		a.IntegratedLoudness == b.IntegratedLoudness &&
		a.LoudnessRange == b.LoudnessRange &&
		a.TruePeak == b.TruePeak &&
		a.FFmpegPath == b.FFmpegPath
}
