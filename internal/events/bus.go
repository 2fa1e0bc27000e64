// Package events is a bounded in-memory buffer of job lifecycle events with
// subscriber fan-out, feeding the operational websocket stream.
package events

import (
	"sync"
	"time"
)

// Type classifies job lifecycle events.
type Type string

const (
	TypeEnqueued   Type = "enqueued"
	TypeProcessing Type = "processing"
	TypeCompleted  Type = "completed"
	TypeFailed     Type = "failed"
	TypeRetrying   Type = "retrying"
)

// Event is a sequenced job lifecycle notification.
type Event struct {
	Seq             int64     `json:"seq"`
	Timestamp       time.Time `json:"timestamp"`
	JobID           string    `json:"job_id"`
	TranscriptionID string    `json:"transcription_id"`
	Type            Type      `json:"type"`
	Message         string    `json:"message,omitempty"`
}

// Bus stores recent events and fans them out to subscribers. Slow
// subscribers drop events rather than block publishers.
type Bus struct {
	mu          sync.Mutex
	nextSeq     int64
	maxEvents   int
	events      []Event
	subscribers map[int]chan Event
	nextSubID   int
}

// NewBus creates a bus retaining up to maxEvents recent events.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Bus{
		maxEvents:   maxEvents,
		events:      make([]Event, 0, maxEvents),
		subscribers: make(map[int]chan Event),
	}
}

// Publish assigns a sequence number and delivers the event.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return event
}

// Subscribe registers a buffered channel receiving future events. The
// returned cancel function must be called to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	ch := make(chan Event, 64)
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Since returns buffered events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
