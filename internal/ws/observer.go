package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const sendQueueDepth = 64

// Observer is one live subscriber connection. Its send queue is drained by
// a dedicated writePump goroutine that owns all writes to the conn,
// including heartbeat pings. Observers are created by Broadcaster.Register
// and torn down idempotently: close may be called from the broadcast path,
// the read loop, and the write pump concurrently.
type Observer struct {
	conn        *websocket.Conn
	send        chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time
}

func newObserver(conn *websocket.Conn) *Observer {
	return &Observer{
		conn:        conn,
		send:        make(chan []byte, sendQueueDepth),
		closed:      make(chan struct{}),
		connectedAt: time.Now(),
	}
}

// enqueue offers data to the send queue, waiting at most timeout when the
// queue is full. Returns false when the observer should be considered dead.
func (o *Observer) enqueue(data []byte, timeout time.Duration) bool {
	select {
	case o.send <- data:
		return true
	case <-o.closed:
		return false
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case o.send <- data:
		return true
	case <-o.closed:
		return false
	case <-t.C:
		return false
	}
}

// close tears the connection down. Safe to call any number of times from
// any goroutine; the closed channel (not the send channel) signals
// shutdown so concurrent enqueues never panic.
func (o *Observer) close() {
	o.closeOnce.Do(func() {
		close(o.closed)
		o.conn.Close()
	})
}

// writePump serializes all writes to the conn: queued messages and periodic
// pings. A failed or timed-out write means the connection is dead; the pump
// closes it, which unblocks the server's read loop and triggers
// unregistration.
func (o *Observer) writePump(sendTimeout, heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	defer o.close()

	for {
		select {
		case <-o.closed:
			return
		case msg := <-o.send:
			o.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := o.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			o.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
