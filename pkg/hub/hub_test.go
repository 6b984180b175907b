package hub

import (
	"testing"
	"time"
)

// register a bare client without a websocket connection; only the send
// channel matters for broadcast behavior.
func addTestClient(h *Hub, buffer int) *Client {
	c := &Client{hub: h, send: make(chan Message, buffer)}
	h.register <- c
	return c
}

func waitForClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, h.ClientCount())
}

func TestHub_IsRunning(t *testing.T) {
	h := New("test")
	if h.IsRunning() {
		t.Error("hub must not report running before Run")
	}

	go h.Run()

	deadline := time.Now().Add(time.Second)
	for !h.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("hub never reported running")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	h := New("test")
	go h.Run()

	c1 := addTestClient(h, 4)
	c2 := addTestClient(h, 4)
	waitForClients(t, h, 2)

	if err := h.BroadcastJSON(map[string]string{"status": "searching"}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}

	for i, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.send:
			if msg.Type != JSONMessage {
				t.Errorf("client %d: expected JSON message, got %v", i, msg.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d never received broadcast", i)
		}
	}
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	h := New("test")
	go h.Run()

	addTestClient(h, 1)
	waitForClients(t, h, 1)

	// First fills the buffer, second forces the drop
	h.BroadcastBinary([]byte{1})
	h.BroadcastBinary([]byte{2})

	waitForClients(t, h, 0)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	h := New("test")
	go h.Run()

	c := addTestClient(h, 1)
	waitForClients(t, h, 1)

	h.unregister <- c
	waitForClients(t, h, 0)

	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected send channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
}
