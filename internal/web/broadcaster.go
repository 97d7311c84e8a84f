package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event is a single SSE message. Type discriminates the payload: "state",
// "step", "decision" and "log".
type Event struct {
	Time string          `json:"t"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	// Log fields, set for type "log" only.
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg,omitempty"`
}

// Broadcaster distributes run events to multiple SSE clients.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewBroadcaster creates a broadcaster with no clients.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a
// cleanup function. The caller must call the cleanup when done (e.g. on
// client disconnect).
func (b *Broadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// BroadcastEvent marshals v and sends it to all clients as a typed event.
// Slow clients may miss messages (non-blocking, buffered).
func (b *Broadcaster) BroadcastEvent(eventType string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	b.send(Event{
		Time: time.Now().Format(time.RFC3339),
		Type: eventType,
		Data: data,
	})
}

// BroadcastLog sends a log line to all clients.
func (b *Broadcaster) BroadcastLog(level, msg string) {
	b.send(Event{
		Time:  time.Now().Format(time.RFC3339),
		Type:  "log",
		Level: level,
		Msg:   msg,
	})
}

func (b *Broadcaster) send(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastWriter wraps the broadcaster as io.Writer; each Write becomes a
// log event. Used with debug.SetOutput to mirror the console log to the UI.
func BroadcastWriter(b *Broadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *Broadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastLog("info", msg)
	}
	return len(p), nil
}
