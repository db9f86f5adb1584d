package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"zonealert/internal/domain"
	"zonealert/internal/notify"
	wsHub "zonealert/internal/ws"
)

// --- helpers ----------------------------------------------------------------

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
// Returns the ws:// URL, the hub, and a cancel function.
func startHub(t *testing.T) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one text message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return msg
}

// waitCount polls until the hub reports n connected clients.
func waitCount(t *testing.T, hub *wsHub.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.Count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func alertPayload(id string) notify.Payload {
	return notify.BuildPayload(domain.Alert{
		ID:          id,
		RuleID:      "temp_high",
		RuleName:    "Temperature high",
		Priority:    domain.PriorityHigh,
		State:       domain.AlertStateCreated,
		WarehouseID: "wh-1",
		ZoneID:      "cold-1",
		Title:       "Temperature high",
		Message:     "temperature_c > 30 (observed 32)",
		TriggeredAt: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
	}, "created")
}

// --- tests ------------------------------------------------------------------

func TestHubBroadcastReachesClient(t *testing.T) {
	t.Parallel()

	wsURL, hub, _ := startHub(t)
	conn := dial(t, wsURL)
	waitCount(t, hub, 1)

	hub.BroadcastAlert(alertPayload("alert-001"), "cold-chain")

	var message wsHub.Message
	if err := json.Unmarshal(readMessage(t, conn), &message); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if message.Event != "alert" || message.Topic != "cold-chain" {
		t.Fatalf("envelope = %+v", message)
	}
	if message.Data.AlertID != "alert-001" || message.Data.ZoneID != "cold-1" {
		t.Fatalf("payload = %+v", message.Data)
	}
}

func TestHubBroadcastFansOut(t *testing.T) {
	t.Parallel()

	wsURL, hub, _ := startHub(t)
	first := dial(t, wsURL)
	second := dial(t, wsURL)
	waitCount(t, hub, 2)

	hub.BroadcastAlert(alertPayload("alert-002"), "")

	for _, conn := range []*websocket.Conn{first, second} {
		var message wsHub.Message
		if err := json.Unmarshal(readMessage(t, conn), &message); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if message.Data.AlertID != "alert-002" {
			t.Fatalf("payload = %+v", message.Data)
		}
	}
}

func TestHubCountTracksDisconnect(t *testing.T) {
	t.Parallel()

	wsURL, hub, _ := startHub(t)
	conn := dial(t, wsURL)
	waitCount(t, hub, 1)

	conn.Close()
	waitCount(t, hub, 0)
}

func TestHubShutdownClosesClients(t *testing.T) {
	t.Parallel()

	wsURL, hub, cancel := startHub(t)
	conn := dial(t, wsURL)
	waitCount(t, hub, 1)

	cancel()
	waitCount(t, hub, 0)

	// The client observes the close frame as a read error.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestHubBroadcastWithoutClients(t *testing.T) {
	t.Parallel()

	_, hub, _ := startHub(t)
	// Must not panic or block.
	hub.BroadcastAlert(alertPayload("alert-003"), "")
	if hub.Count() != 0 {
		t.Fatalf("count = %d, want 0", hub.Count())
	}
}
