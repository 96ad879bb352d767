package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Turn event types, in the order a streamed turn emits them
const (
	EventPing     = "ping"
	EventMetadata = "metadata"
	EventContent  = "content"
	EventDone     = "done"
	EventError    = "error"
)

// Event represents an SSE event to be sent to clients
type Event struct {
	// Event is the SSE event type (e.g., "content", "done")
	// If empty, no "event:" line will be written
	Event string

	// Data is the payload to send (will be JSON-encoded if not a string)
	Data interface{}
}

// Send writes an SSE event to the given writer and flushes immediately
func Send(w *bufio.Writer, event Event) error {
	if event.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Event); err != nil {
			return fmt.Errorf("failed to write event type: %w", err)
		}
	}

	var dataStr string
	switch v := event.Data.(type) {
	case string:
		dataStr = v
	case []byte:
		dataStr = string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		dataStr = string(data)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", dataStr); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	return w.Flush()
}

// Emitter writes events to one client stream. After the first write failure
// (client gone) every later Emit returns false without touching the writer,
// and nothing is written once a terminal event has been sent.
type Emitter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	broken bool
	closed bool
}

// NewEmitter wraps a flushed stream writer
func NewEmitter(w *bufio.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit sends one event and reports whether the client received it
func (e *Emitter) Emit(event string, payload interface{}) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.broken || e.closed {
		return false
	}

	if err := Send(e.w, Event{Event: event, Data: payload}); err != nil {
		log.Printf("[SSE] Client stream closed on %s event: %v", event, err)
		e.broken = true
		return false
	}

	if event == EventDone || event == EventError {
		e.closed = true
	}
	return true
}

// Broken reports whether a write to the client has failed
func (e *Emitter) Broken() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.broken
}
