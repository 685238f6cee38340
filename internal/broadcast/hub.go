package broadcast

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/commentboard/backend/internal/models"
)

// Event is one server-sent event. Data is pre-encoded so a publish pays the
// marshaling cost once, no matter how many viewers are connected.
type Event struct {
	Name string
	Data string
}

const subscriberBuffer = 16

// Hub is the registry of connected viewers. Publishing is fire-and-forget: a
// viewer whose channel is full just misses that event; it never blocks the
// originating request or delivery to anyone else.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Event)}
}

// Subscribe registers a viewer and returns its id and event channel.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe drops a viewer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(ch)
	}
}

// Count reports the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish delivers an event to every subscriber without waiting on any of
// them.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			log.Printf("broadcast: viewer %s is lagging, dropping %s", id, event.Name)
		}
	}
}

// PublishComments pushes the rebuilt tree to all viewers as a
// comments:update event.
func (h *Hub) PublishComments(tree []*models.CommentTree) {
	payload, err := json.Marshal(map[string]any{"comments": tree})
	if err != nil {
		log.Printf("broadcast: encode tree: %v", err)
		return
	}
	h.Publish(Event{Name: "comments:update", Data: string(payload)})
}
