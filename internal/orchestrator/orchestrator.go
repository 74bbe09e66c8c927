// Package orchestrator accepts measurement and evaluation calls, acknowledges
// them synchronously, and runs the long work as supervised background tasks
// that each end in exactly one completion event.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/danmuck/holoctl/internal/bridge"
	"github.com/danmuck/holoctl/internal/events"
	"github.com/danmuck/holoctl/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	TriggerRejected = 0
	TriggerAccepted = 1

	ResultCodeOK       = 0
	ResultCodeRejected = 1

	MeasurementEstimateSeconds = 0.25
	DefaultMaxPendingTasks     = 64
)

const (
	msgOK                = "OK"
	msgNeedString        = "Input needs to be a string"
	msgNeedURIList       = "Measurement URIs needs to be list of files"
	msgTooManyTasks      = "Too many pending tasks"
	msgShuttingDown      = "Service is shutting down"
	publishTimeout       = 5 * time.Second
	defaultAcquisitionID = 1
)

var ErrShutdown = errors.New("orchestrator: shut down")

// Ack is the synchronous answer to a call.
type Ack struct {
	TriggerResult            int     `json:"trigger_result"`
	EstimatedDurationSeconds float64 `json:"estimated_duration_seconds"`
	ResultMessage            string  `json:"result_message"`
	ResultCode               int     `json:"result_code"`
}

func (a Ack) Accepted() bool {
	return a.TriggerResult == TriggerAccepted
}

func rejected(msg string) Ack {
	return Ack{TriggerResult: TriggerRejected, ResultMessage: msg, ResultCode: ResultCodeRejected}
}

// Exchanger runs fn with exclusive use of an engine connection.
type Exchanger interface {
	Exchange(ctx context.Context, mode bridge.Mode, fn func(ctx context.Context, s *bridge.Session) error) error
}

type Config struct {
	DefaultMode       bridge.Mode
	OutputDir         string
	MaxPendingTasks   int
	CompletionTimeout time.Duration
	// EvaluationPacing scales the evaluation sleep; 0 disables it.
	EvaluationPacing float64
	FunctionID       int
	OutputMode       string
}

func DefaultConfig() Config {
	return Config{
		DefaultMode:       bridge.ModeSimulated,
		OutputDir:         "output",
		MaxPendingTasks:   DefaultMaxPendingTasks,
		CompletionTimeout: 2 * time.Second,
		EvaluationPacing:  1.0,
		FunctionID:        defaultAcquisitionID,
		OutputMode:        "syn_phases_combined",
	}
}

type Orchestrator struct {
	cfg       Config
	exchanger Exchanger
	publisher events.Publisher
	now       func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	tasks  *taskSet
}

func New(cfg Config, exchanger Exchanger, publisher events.Publisher) *Orchestrator {
	if cfg.MaxPendingTasks <= 0 {
		cfg.MaxPendingTasks = DefaultMaxPendingTasks
	}
	if cfg.DefaultMode == bridge.ModeUnset {
		cfg.DefaultMode = bridge.ModeSimulated
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		exchanger: exchanger,
		publisher: publisher,
		now:       time.Now,
		baseCtx:   ctx,
		cancel:    cancel,
		tasks:     newTaskSet(cfg.MaxPendingTasks),
	}
}

// EvaluationEstimate returns the expected evaluation duration in seconds
// for n resources.
func EvaluationEstimate(n int) float64 {
	return 0.5 + math.Exp(0.1*float64(n-1))
}

// RequestMeasurement accepts a configuration document given as a string.
// An empty string means no configuration.
func (o *Orchestrator) RequestMeasurement(configuration any) Ack {
	cfg, ok := configuration.(string)
	if !ok {
		observability.RecordTaskRejected(string(KindMeasurement), "shape")
		log.Warn().Str("type", fmt.Sprintf("%T", configuration)).Msg("orchestrator: measurement configuration is not a string")
		return rejected(msgNeedString)
	}
	if ack, ok := o.spawn(KindMeasurement, cfg, func(ctx context.Context, task PendingTask) events.CompletionEvent {
		return o.runMeasurement(ctx, task, cfg)
	}); !ok {
		return ack
	}
	return Ack{
		TriggerResult:            TriggerAccepted,
		EstimatedDurationSeconds: MeasurementEstimateSeconds,
		ResultMessage:            msgOK,
		ResultCode:               ResultCodeOK,
	}
}

// RequestEvaluation accepts a list of resource URIs to evaluate.
func (o *Orchestrator) RequestEvaluation(evaluationType any, resourceURIs any) Ack {
	uris, ok := asSequence(resourceURIs)
	if !ok {
		observability.RecordTaskRejected(string(KindEvaluation), "shape")
		log.Warn().Str("type", fmt.Sprintf("%T", resourceURIs)).Msg("orchestrator: resource uris are not a list")
		return rejected(msgNeedURIList)
	}
	estimate := EvaluationEstimate(len(uris))
	args := map[string]any{"evaluation_type": evaluationType, "resource_uris": uris}
	if ack, ok := o.spawn(KindEvaluation, args, func(ctx context.Context, task PendingTask) events.CompletionEvent {
		return o.runEvaluation(ctx, task.ID, estimate, uris)
	}); !ok {
		return ack
	}
	return Ack{
		TriggerResult:            TriggerAccepted,
		EstimatedDurationSeconds: estimate,
		ResultMessage:            msgOK,
		ResultCode:               ResultCodeOK,
	}
}

func asSequence(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

type work func(ctx context.Context, task PendingTask) events.CompletionEvent

// spawn registers a task and starts it. The returned Ack is only meaningful
// when ok is false.
func (o *Orchestrator) spawn(kind Kind, args any, fn work) (Ack, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		observability.RecordTaskRejected(string(kind), "shutdown")
		return rejected(msgShuttingDown), false
	}
	task := PendingTask{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: o.now(),
		Arguments: args,
		State:     StateReceived,
	}
	if !o.tasks.add(task) {
		observability.RecordTaskRejected(string(kind), "capacity")
		log.Warn().Str("kind", string(kind)).Int("limit", o.cfg.MaxPendingTasks).Msg("orchestrator: task set full")
		return rejected(msgTooManyTasks), false
	}
	o.wg.Add(1)
	go o.run(task, fn)
	log.Info().Str("task_id", task.ID).Str("kind", string(kind)).Msg("orchestrator: task accepted")
	return Ack{}, true
}

func (o *Orchestrator) run(task PendingTask, fn work) {
	defer o.wg.Done()
	defer func() {
		if !o.tasks.remove(task.ID) {
			log.Error().Str("task_id", task.ID).Msg("orchestrator: task removed twice")
		}
	}()

	start := time.Now()
	ev := o.execute(task, fn)
	elapsed := time.Since(start)

	ev.TaskID = task.ID
	ev.Kind = string(task.Kind)
	ev.ExecutionTimeSeconds = elapsed.Seconds()
	ev.FinishedAt = o.now()
	if ev.ServiceExecutionResult == events.ResultSuccess {
		o.tasks.setState(task.ID, StateSucceeded)
	} else {
		o.tasks.setState(task.ID, StateFailed)
	}
	observability.RecordTask(ev.Kind, ev.ServiceExecutionResult, elapsed)

	if o.publisher != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(o.baseCtx), publishTimeout)
		if err := o.publisher.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("task_id", task.ID).Msg("orchestrator: completion publish failed")
		}
		cancel()
	}
	log.Info().
		Str("task_id", task.ID).
		Str("kind", ev.Kind).
		Int("result", ev.ServiceExecutionResult).
		Str("message", ev.Message).
		Dur("elapsed", elapsed).
		Msg("orchestrator: task finished")
}

// execute runs fn and turns a panic into a failed event.
func (o *Orchestrator) execute(task PendingTask, fn work) (ev events.CompletionEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task_id", task.ID).Interface("panic", r).Msg("orchestrator: task panicked")
			ev = events.CompletionEvent{
				ServiceExecutionResult: events.ResultFailed,
				Message:                fmt.Sprintf("Error during %s: %v.", task.Kind, r),
			}
		}
	}()
	return fn(o.baseCtx, task)
}

// Pending returns a snapshot of in-flight tasks, oldest first.
func (o *Orchestrator) Pending() []PendingTask {
	return o.tasks.list()
}

// Wait blocks until every task has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown rejects new calls, cancels running tasks, and waits for them.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	if err := o.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrShutdown, err)
	}
	return nil
}
