package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Broadcaster fans messages out to every registered observer. The observer
// set is the one piece of mutable state shared across runs; all access goes
// through the mutex. Delivery to each observer is bounded by sendTimeout so
// one stuck connection cannot stall the rest.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[*Observer]bool

	sendTimeout time.Duration
	heartbeat   time.Duration
	log         *slog.Logger
}

func NewBroadcaster(sendTimeout, heartbeat time.Duration, log *slog.Logger) *Broadcaster {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Broadcaster{
		observers:   make(map[*Observer]bool),
		sendTimeout: sendTimeout,
		heartbeat:   heartbeat,
		log:         log,
	}
}

// Register adds a connection to the active set and starts its write pump.
func (b *Broadcaster) Register(conn *websocket.Conn) *Observer {
	o := newObserver(conn)
	go o.writePump(b.sendTimeout, b.heartbeat)

	b.mu.Lock()
	b.observers[o] = true
	n := len(b.observers)
	b.mu.Unlock()

	b.log.Info("observer connected", "observers", n)
	return o
}

// Unregister removes an observer and closes it. Idempotent: removing an
// observer that is already gone is a no-op.
func (b *Broadcaster) Unregister(o *Observer) {
	b.mu.Lock()
	_, present := b.observers[o]
	if present {
		delete(b.observers, o)
	}
	n := len(b.observers)
	b.mu.Unlock()

	if present {
		o.close()
		b.log.Info("observer disconnected", "observers", n)
	}
}

// Broadcast delivers env to a snapshot of the active set. Observers that
// fail or exceed the per-observer send timeout are removed; delivery to the
// remaining observers is unaffected. Messages enqueued from a single
// goroutine arrive at each observer in call order.
func (b *Broadcaster) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.log.Error("broadcast marshal failed", "type", env.Type, "err", err)
		return
	}

	b.mu.RLock()
	snapshot := make([]*Observer, 0, len(b.observers))
	for o := range b.observers {
		snapshot = append(snapshot, o)
	}
	b.mu.RUnlock()

	for _, o := range snapshot {
		if !o.enqueue(data, b.sendTimeout) {
			b.log.Warn("observer not keeping up, removing", "type", env.Type)
			b.Unregister(o)
		}
	}
}

// Pong acknowledges an observer-originated message on that observer only.
func (b *Broadcaster) Pong(o *Observer) {
	data, err := json.Marshal(Envelope{
		Type: MsgPong,
		Data: PongData{Timestamp: isoStamp(time.Now())},
	})
	if err != nil {
		return
	}
	if !o.enqueue(data, b.sendTimeout) {
		b.Unregister(o)
	}
}

// ObserverCount returns the size of the active set.
func (b *Broadcaster) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// The methods below shape domain events into wire envelopes. They satisfy
// the analysis service's publisher interface.

// AgentLine streams one accepted engine output line to all observers.
func (b *Broadcaster) AgentLine(text, category string, at time.Time) {
	b.Broadcast(Envelope{
		Type: MsgAgentLog,
		Data: AgentLogData{
			Message:     text,
			Category:    category,
			Timestamp:   clockStampMillis(at),
			RawTerminal: true,
		},
	})
}

// Log streams a leveled status line to all observers.
func (b *Broadcaster) Log(level, message string) {
	b.Broadcast(Envelope{
		Type: MsgLog,
		Data: LogData{
			Message:   message,
			Level:     level,
			Timestamp: clockStamp(time.Now()),
		},
	})
}

func (b *Broadcaster) ProcessingStarted(fileID, sessionID string) {
	b.Broadcast(Envelope{
		Type: MsgProcessingStarted,
		Data: ProcessingStartedData{
			FileID:    fileID,
			SessionID: sessionID,
			Message:   "Starting analysis",
			Timestamp: isoStamp(time.Now()),
		},
	})
}

func (b *Broadcaster) ProcessingCompleted(fileID, sessionID string, success bool, message string) {
	b.Broadcast(Envelope{
		Type: MsgProcessingCompleted,
		Data: ProcessingCompletedData{
			FileID:    fileID,
			SessionID: sessionID,
			Success:   success,
			Message:   message,
			Timestamp: isoStamp(time.Now()),
		},
	})
}

func (b *Broadcaster) FileUploaded(fileID, filename string, size int64) {
	b.Broadcast(Envelope{
		Type: MsgFileUploaded,
		Data: FileUploadedData{
			FileID:    fileID,
			Filename:  filename,
			Size:      size,
			Timestamp: isoStamp(time.Now()),
		},
	})
}
