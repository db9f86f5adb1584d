package ws

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"zonealert/internal/domain"
	"zonealert/internal/notify"
)

// TestBroadcastDuringClientChurn hammers the hub with concurrent broadcasters
// while clients register and unregister, including full-buffer drops that make
// the broadcasters unregister clients themselves. Sending to a client that was
// closed mid-broadcast must not panic.
func TestBroadcastDuringClientChurn(t *testing.T) {
	t.Parallel()

	hub := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	payload := notify.BuildPayload(domain.Alert{
		ID:     "alert-churn",
		RuleID: "temp_high",
		State:  domain.AlertStateCreated,
	}, "created")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.BroadcastAlert(payload, "churn")
				}
			}
		}()
	}

	// A one-slot buffer fills immediately under the broadcast storm, so the
	// broadcasters race unregister against this loop's own unregister.
	for i := 0; i < 500; i++ {
		c := &client{send: make(chan []byte, 1)}
		hub.register(c)
		hub.unregister(c)
	}

	close(stop)
	wg.Wait()

	if got := hub.Count(); got != 0 {
		t.Fatalf("expected no clients after churn, got %d", got)
	}
}

func TestCloseSendIdempotent(t *testing.T) {
	t.Parallel()

	c := &client{send: make(chan []byte, 1)}
	c.closeSend()
	c.closeSend()

	if c.trySend([]byte("x")) {
		t.Fatal("trySend succeeded on a closed client")
	}
	if _, ok := <-c.send; ok {
		t.Fatal("send channel was not closed")
	}
}
