package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/holoctl/internal/events"
)

func (o *Orchestrator) runEvaluation(ctx context.Context, taskID string, estimate float64, uris []any) events.CompletionEvent {
	o.tasks.setState(taskID, StateValidating)
	o.tasks.setState(taskID, StateDispatched)
	if pace := time.Duration(estimate * o.cfg.EvaluationPacing * float64(time.Second)); pace > 0 {
		timer := time.NewTimer(pace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return events.CompletionEvent{
				ServiceExecutionResult: events.ResultFailed,
				Message:                fmt.Sprintf("Error during evaluation: %v.", ctx.Err()),
			}
		case <-timer.C:
		}
	}
	if err := checkResources(uris); err != nil {
		return events.CompletionEvent{
			ServiceExecutionResult: events.ResultFailed,
			Message:                fmt.Sprintf("Error during evaluation simulation: %v.", err),
		}
	}
	return events.CompletionEvent{
		ServiceExecutionResult: events.ResultSuccess,
		Message:                "Evaluation simulation successful.",
	}
}

// checkResources requires every entry to be a non-empty path to a regular file.
func checkResources(uris []any) error {
	for i, u := range uris {
		path, ok := u.(string)
		if !ok || path == "" {
			return fmt.Errorf("resource %d is not a file path", i)
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("resource %s: %w", path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("resource %s is a directory", path)
		}
	}
	return nil
}
