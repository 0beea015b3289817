package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/blare-bot/blare/internal/catalog"
	"github.com/blare-bot/blare/internal/playback"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writePlaybackError maps the core error kinds onto HTTP status codes:
// unknown guild or clip is 404, a non-voice channel is 400, everything else
// is an internal error.
func writePlaybackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playback.ErrServerNotFound):
		writeError(w, http.StatusNotFound, "unknown guild")
	case errors.Is(err, playback.ErrClipNotFound), errors.Is(err, catalog.ErrClipNotFound):
		writeError(w, http.StatusNotFound, "clip not found")
	case errors.Is(err, playback.ErrInvalidChannel):
		writeError(w, http.StatusBadRequest, "not a voice channel")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
