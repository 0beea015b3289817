package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/blare-bot/blare/internal/notify"
)

// feedPingInterval is how often idle feed connections get a keep-alive.
const feedPingInterval = 15 * time.Second

// snapshot builds the initial state event every new feed client receives.
func (s *Server) snapshot() notify.Event {
	return notify.Event{
		Type:     notify.TypeSnapshot,
		Party:    s.party.ActiveGuilds(),
		Selected: s.store.SelectedChannels(),
		Volumes:  s.store.Volumes(),
	}
}

// handleEvents streams bus events as server-sent events. The first event is
// always a snapshot; idle connections get a comment ping to defeat proxies.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, cancel := s.bus.Subscribe()
	defer cancel()
	if s.metrics != nil {
		s.metrics.FeedOpened()
		defer s.metrics.FeedClosed()
	}

	writeSSE(w, s.snapshot())
	fl.Flush()

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, ev)
			fl.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			fl.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev notify.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

// handleWS bridges the bus onto a WebSocket. The connection is write-only
// from the server's side; client frames only serve to detect the close.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Debug("websocket accept failed", "err", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "feed closed")

	ctx := c.CloseRead(r.Context())

	events, cancel := s.bus.Subscribe()
	defer cancel()
	if s.metrics != nil {
		s.metrics.FeedOpened()
		defer s.metrics.FeedClosed()
	}

	write := func(ev notify.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return c.Write(ctx, websocket.MessageText, data)
	}

	if err := write(s.snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := write(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Ping(ctx); err != nil {
				return
			}
		}
	}
}
