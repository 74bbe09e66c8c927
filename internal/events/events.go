// Package events carries completion events from finished background tasks to
// their sinks: the in-process hub, NATS, or both.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/holoctl/internal/observability"
	"github.com/rs/zerolog/log"
)

const (
	ResultSuccess = 0
	ResultFailed  = 1
)

// CompletionEvent reports the outcome of one accepted call.
type CompletionEvent struct {
	TaskID                 string    `json:"task_id"`
	Kind                   string    `json:"kind"`
	ServiceExecutionResult int       `json:"service_execution_result"`
	Message                string    `json:"message"`
	ExecutionTimeSeconds   float64   `json:"execution_time_seconds"`
	URI                    string    `json:"uri"`
	FinishedAt             time.Time `json:"finished_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev CompletionEvent) error
}

// Sink is a named publisher inside a Fanout.
type Sink struct {
	Name      string
	Publisher Publisher
}

// Fanout publishes every event to all sinks. A failing sink does not stop
// the others; their errors are joined.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s.Publisher != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out}
}

func (f *Fanout) Publish(ctx context.Context, ev CompletionEvent) error {
	var errs []error
	for _, s := range f.sinks {
		err := s.Publisher.Publish(ctx, ev)
		observability.RecordEventPublished(s.Name, err == nil)
		if err != nil {
			log.Warn().Err(err).Str("sink", s.Name).Str("task_id", ev.TaskID).Msg("events: publish failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Sinks() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name
	}
	return names
}
