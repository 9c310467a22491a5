package statushub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BTreeMap/ChatWarden/internal/models"
	"github.com/BTreeMap/ChatWarden/internal/session"
)

func dial(t *testing.T, srvURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srvURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("invalid frame %q: %v", data, err)
	}
	return env
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	a := dial(t, srv.URL)
	defer a.Close()
	b := dial(t, srv.URL)
	defer b.Close()
	waitForClients(t, h, 2)

	h.PublishGreeting(GreetingStatus{Kind: "morning", GroupID: "1@g.us", Status: "voice_sent", Language: "id"})

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		if env.Event != EventGreetingStatus {
			t.Errorf("unexpected event %s", env.Event)
		}
		var gs GreetingStatus
		if err := json.Unmarshal(env.Data, &gs); err != nil || gs.GroupID != "1@g.us" {
			t.Errorf("unexpected payload %s", env.Data)
		}
	}
}

func TestHubReplaysStatusToNewSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub()
	go h.Run(ctx)

	state := session.New()
	state.Subscribe(h.SessionListener())
	state.Transition(&models.SessionEvent{Type: models.SessionQR, QRCode: "2@qr"})

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()
	conn := dial(t, srv.URL)
	defer conn.Close()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[readEnvelope(t, conn).Event] = true
	}
	if !seen[EventConnectionStatus] || !seen[EventQRUpdate] {
		t.Errorf("expected status and QR replay, got %v", seen)
	}
}

func TestHubDropsQRAfterConnect(t *testing.T) {
	h := NewHub()
	state := session.New()
	state.Subscribe(h.SessionListener())
	state.Transition(&models.SessionEvent{Type: models.SessionQR, QRCode: "2@qr"})
	state.Transition(&models.SessionEvent{Type: models.SessionReady})

	h.mu.RLock()
	_, hasQR := h.retained[EventQRUpdate]
	h.mu.RUnlock()
	if hasQR {
		t.Error("QR frame should not be replayed once connected")
	}
}
