package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/blare-bot/blare/internal/notify"
)

// readSSEEvent reads one "event:"/"data:" pair from the stream.
func readSSEEvent(t *testing.T, rd *bufio.Reader) (name string, ev notify.Event) {
	t.Helper()
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("decode sse data: %v", err)
			}
			return name, ev
		}
	}
}

func TestSSEFeed(t *testing.T) {
	f := newFixture(t)
	f.party.active["g1"] = true
	f.store.SetVolume("g1", 0.5)

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	name, ev := readSSEEvent(t, rd)
	if name != notify.TypeSnapshot {
		t.Fatalf("first event = %q, want snapshot", name)
	}
	if len(ev.Party) != 1 || ev.Party[0] != "g1" || ev.Volumes["g1"] != 0.5 {
		t.Errorf("snapshot = %+v", ev)
	}

	f.bus.Publish(notify.VolumeEvent("g1", 0.8))
	name, ev = readSSEEvent(t, rd)
	if name != notify.TypeVolume || ev.Volume == nil || *ev.Volume != 0.8 {
		t.Errorf("event = %q %+v", name, ev)
	}
}

func TestWebSocketFeed(t *testing.T) {
	f := newFixture(t)
	f.store.SetSelectedChannel("g1", "v1")

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "done")

	readEvent := func() notify.Event {
		t.Helper()
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev notify.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return ev
	}

	ev := readEvent()
	if ev.Type != notify.TypeSnapshot || ev.Selected["g1"] != "v1" {
		t.Fatalf("snapshot = %+v", ev)
	}

	f.bus.Publish(notify.PartyEvent("g1", true, "v1"))
	ev = readEvent()
	if ev.Type != notify.TypeParty || ev.Active == nil || !*ev.Active {
		t.Errorf("event = %+v", ev)
	}
}
