// Package feed distributes classified events to live subscribers and
// external message sinks.
package feed

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reedfamily/mcbridge/internal/game"
)

// Event is a classified line as published to consumers.
type Event struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
	game.LogLine
}

// NewEvent stamps line with a fresh id and the current time.
func NewEvent(line game.LogLine) Event {
	return Event{ID: uuid.NewString(), Time: time.Now().UTC(), LogLine: line}
}

const defaultSubscriberBuffer = 32

// Hub fans events out to in-process subscribers. A subscriber that falls
// behind loses events rather than slowing the publisher.
type Hub struct {
	buffer int

	mu        sync.RWMutex
	latest    *Event
	listeners map[string]chan Event
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		buffer:    buffer,
		listeners: make(map[string]chan Event),
	}
}

// Publish delivers ev to every subscriber and returns how many were skipped
// because their buffer was full.
func (h *Hub) Publish(ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = &ev
	dropped := 0
	for _, ch := range h.listeners {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

// Latest returns the most recently published event.
func (h *Hub) Latest() (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return Event{}, false
	}
	return *h.latest, true
}

func (h *Hub) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.listeners[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.listeners[id]; ok {
		delete(h.listeners, id)
		close(ch)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.listeners {
		delete(h.listeners, id)
		close(ch)
	}
}
