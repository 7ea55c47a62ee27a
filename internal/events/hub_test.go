package events_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/npsg-lab/simq/internal/events"
)

func dialHub(t *testing.T, hub *events.Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// Wait for the server side to finish registering the subscriber.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

// TestBroadcastDelivers verifies a subscriber receives broadcast lifecycle
// events in order.
func TestBroadcastDelivers(t *testing.T) {
	hub := events.NewHub(zerolog.Nop())
	conn := dialHub(t, hub)

	sent := []events.Event{
		{Type: events.EventTaskSubmitted, TaskID: "task-1", Model: "abmb_c"},
		{Type: events.EventTaskConfirmed, TaskID: "task-1", Model: "abmb_c"},
		{Type: events.EventTaskDone, TaskID: "task-1", Model: "abmb_c"},
	}
	for _, e := range sent {
		hub.Broadcast(e)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range sent {
		var got events.Event
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read %s: %v", want.Type, err)
		}
		if got.Type != want.Type || got.TaskID != want.TaskID {
			t.Errorf("got %+v, want %+v", got, want)
		}
	}
}

// TestBroadcastNeverBlocks verifies broadcasting with no subscribers, and far
// past a slow subscriber's buffer, returns promptly.
func TestBroadcastNeverBlocks(t *testing.T) {
	hub := events.NewHub(zerolog.Nop())
	hub.Broadcast(events.Event{Type: events.EventTaskSubmitted, TaskID: "none"})

	// A subscriber that never reads: its buffer fills and overflow is dropped.
	dialHub(t, hub)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Broadcast(events.Event{Type: events.EventTaskAssigned, TaskID: "task-1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
}

// TestSubscriberDetachesOnClose verifies a closed peer is dropped from the
// subscriber set.
func TestSubscriberDetachesOnClose(t *testing.T) {
	hub := events.NewHub(zerolog.Nop())
	conn := dialHub(t, hub)

	_ = conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed subscriber never detached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
