package playback

import "errors"

// The closed set of caller-error kinds the core can fail with. The HTTP layer
// maps these 1:1 to status codes; anything else is an internal error.
var (
	// ErrServerNotFound means the guild is not known to the bot.
	ErrServerNotFound = errors.New("playback: server not found")

	// ErrInvalidChannel means the target channel is missing or not
	// voice-capable.
	ErrInvalidChannel = errors.New("playback: invalid voice channel")

	// ErrClipNotFound means the requested clip file does not exist.
	ErrClipNotFound = errors.New("playback: clip not found")

	// ErrNoActiveSession means a stop was requested for a guild with no
	// live session.
	ErrNoActiveSession = errors.New("playback: no active session")
)
