package status

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quicklens/snapmark/internal/log"
)

// RemoteReporter forwards status lines to an operations websocket endpoint.
// Delivery is fire-and-forget: messages are queued on a bounded channel and
// dropped when the queue is full or the endpoint is unreachable. The
// connection is dialed lazily and redialed after a failure.
type RemoteReporter struct {
	url   string
	queue chan Update

	mu   sync.Mutex
	conn *websocket.Conn

	stop chan struct{}
	done chan struct{}
}

// NewRemoteReporter starts the sender goroutine for the given endpoint.
func NewRemoteReporter(url string) *RemoteReporter {
	r := &RemoteReporter{
		url:   url,
		queue: make(chan Update, 64),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.sendLoop()
	return r
}

// Report queues the status line, dropping it if the queue is full.
func (r *RemoteReporter) Report(msg string) {
	select {
	case r.queue <- Update{Status: msg, Time: time.Now().Format(time.RFC3339)}:
	default:
		// Remote reporting must never back-pressure the pipeline.
	}
}

// Close stops the sender and closes the connection.
func (r *RemoteReporter) Close() error {
	close(r.stop)
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *RemoteReporter) sendLoop() {
	defer close(r.done)

	for {
		select {
		case <-r.stop:
			return
		case u := <-r.queue:
			r.send(u)
		}
	}
}

// send writes one update, dialing if needed. Any failure drops the update
// and the connection; the next update redials.
func (r *RemoteReporter) send(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		conn, _, err := dialer.Dial(r.url, nil)
		if err != nil {
			log.Debug("remote status endpoint unreachable", "url", r.url, "error", err)
			return
		}
		r.conn = conn
	}

	data, err := json.Marshal(u)
	if err != nil {
		return
	}

	r.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug("remote status write failed", "error", err)
		r.conn.Close()
		r.conn = nil
	}
}
