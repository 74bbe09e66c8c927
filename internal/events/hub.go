package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

const DefaultRecentCapacity = 128

// Hub keeps a bounded window of recent events and forwards new ones to live
// subscribers. Slow subscribers miss events rather than block publishers.
type Hub struct {
	mu       sync.Mutex
	capacity int
	recent   []CompletionEvent
	subs     map[int]chan CompletionEvent
	nextSub  int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &Hub{
		capacity: capacity,
		subs:     make(map[int]chan CompletionEvent),
	}
}

func (h *Hub) Publish(_ context.Context, ev CompletionEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, ev)
	if over := len(h.recent) - h.capacity; over > 0 {
		h.recent = append(h.recent[:0:0], h.recent[over:]...)
	}
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Int("subscriber", id).Str("task_id", ev.TaskID).Msg("events: subscriber full, event dropped")
		}
	}
	return nil
}

// Recent returns up to limit events, oldest first. limit <= 0 returns all.
func (h *Hub) Recent(limit int) []CompletionEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := 0
	if limit > 0 && len(h.recent) > limit {
		start = len(h.recent) - limit
	}
	out := make([]CompletionEvent, len(h.recent)-start)
	copy(out, h.recent[start:])
	return out
}

// Subscribe registers a live listener. The returned cancel func closes the
// channel and must be called once the caller stops reading.
func (h *Hub) Subscribe(buffer int) (<-chan CompletionEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan CompletionEvent, buffer)
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
