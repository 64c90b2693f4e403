package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/QuantForge/internal/domain/session"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })

	waitFor(t, func() bool { return hub.ConnectionCount() == 1 })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestHubBroadcastsToClient(t *testing.T) {
	hub := NewHub()
	c := dialHub(t, hub)

	ev := session.TransitionEvent{
		SessionID: "sess-1",
		Phase:     session.PhasePlanning,
		Timestamp: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	hub.BroadcastEvent(context.Background(), "session.transition", ev)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	kind, raw, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.MessageText {
		t.Fatalf("message kind = %v, want text", kind)
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Type != "session.transition" {
		t.Fatalf("type = %q", msg.Type)
	}
	var got session.TransitionEvent
	if err := json.Unmarshal(msg.Payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.SessionID != ev.SessionID || got.Phase != ev.Phase {
		t.Fatalf("event = %+v, want %+v", got, ev)
	}
}

func TestHubRemovesDisconnectedClient(t *testing.T) {
	hub := NewHub()
	c := dialHub(t, hub)

	if err := c.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitFor(t, func() bool { return hub.ConnectionCount() == 0 })

	// Broadcasting with no clients is a no-op.
	hub.BroadcastEvent(context.Background(), "session.transition", session.TransitionEvent{SessionID: "s"})
}

func TestHubSupportsMultipleClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		conns[i] = c
	}
	waitFor(t, func() bool { return hub.ConnectionCount() == 3 })

	hub.BroadcastEvent(context.Background(), "session.transition", session.TransitionEvent{SessionID: "s"})
	for i, c := range conns {
		if _, _, err := c.Read(ctx); err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
	}
}
