package orchestrator

import (
	"sort"
	"sync"
	"time"
)

type Kind string

const (
	KindMeasurement Kind = "measurement"
	KindEvaluation  Kind = "evaluation"
)

type State string

const (
	StateReceived   State = "received"
	StateValidating State = "validating"
	StateDispatched State = "dispatched"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// PendingTask is one accepted call whose completion event is not yet out.
type PendingTask struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	StartedAt time.Time `json:"started_at"`
	Arguments any       `json:"arguments,omitempty"`
	State     State     `json:"state"`
}

// taskSet stores in-flight tasks by id, bounded by limit.
type taskSet struct {
	mu    sync.RWMutex
	limit int
	items map[string]PendingTask
}

func newTaskSet(limit int) *taskSet {
	return &taskSet{limit: limit, items: make(map[string]PendingTask)}
}

// add inserts task unless the set is full.
func (s *taskSet) add(task PendingTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(s.items) >= s.limit {
		return false
	}
	s.items[task.ID] = task
	return true
}

func (s *taskSet) setState(id string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[id]; ok {
		item.State = state
		s.items[id] = item
	}
}

// remove deletes id and reports whether it was present.
func (s *taskSet) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

func (s *taskSet) get(id string) (PendingTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

func (s *taskSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *taskSet) list() []PendingTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PendingTask, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
