package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/danmuck/holoctl/internal/bridge"
	"github.com/danmuck/holoctl/internal/configtree"
	"github.com/danmuck/holoctl/internal/events"
	"github.com/danmuck/holoctl/internal/validate"
	"github.com/danmuck/holoctl/internal/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const artifactTimeLayout = "2006-01-02_15_04_05"

// ArtifactPaths returns the result and raw image paths for a measurement.
func ArtifactPaths(dir string, at time.Time, id string) (string, string) {
	base := fmt.Sprintf("OPCUA_%s_%s", at.Format(artifactTimeLayout), id)
	return filepath.Join(dir, base+".tiff"), filepath.Join(dir, base+"_raw.tiff")
}

// SelectMode picks the endpoint from the document's use_holointerface flag,
// falling back to fallback when the flag is absent or not a bool.
func SelectMode(tree *configtree.Tree, fallback bridge.Mode) bridge.Mode {
	id, ok := tree.Lookup(validate.DefaultExemptKey)
	if !ok {
		return fallback
	}
	use, ok := tree.Node(id).SetValue.(bool)
	if !ok {
		return fallback
	}
	if use {
		return bridge.ModeSimulated
	}
	return bridge.ModeReal
}

func (o *Orchestrator) runMeasurement(ctx context.Context, task PendingTask, configuration string) events.CompletionEvent {
	uri, rawURI := ArtifactPaths(o.cfg.OutputDir, task.StartedAt, shortID())
	ev := events.CompletionEvent{URI: uri}

	o.tasks.setState(task.ID, StateValidating)
	tree, err := configtree.Parse([]byte(configuration))
	if err != nil {
		return measurementFailed(ev, err)
	}
	mode := SelectMode(tree, o.cfg.DefaultMode)
	log.Debug().Str("task_id", task.ID).Str("mode", mode.String()).Msg("orchestrator: dispatching measurement")

	o.tasks.setState(task.ID, StateDispatched)
	err = o.exchanger.Exchange(ctx, mode, func(ctx context.Context, s *bridge.Session) error {
		if mode == bridge.ModeSimulated {
			msg, err := o.simulate(ctx, s, task.ID, tree)
			ev.Message = msg
			return err
		}
		msg, result, err := o.acquire(ctx, s, task.ID, tree, uri, rawURI)
		ev.Message = msg
		ev.ServiceExecutionResult = result
		return err
	})
	if err != nil {
		return measurementFailed(ev, err)
	}
	return ev
}

func measurementFailed(ev events.CompletionEvent, err error) events.CompletionEvent {
	ev.ServiceExecutionResult = events.ResultFailed
	ev.Message = fmt.Sprintf("Error during measurement: %v.", err)
	return ev
}

func (o *Orchestrator) simulate(ctx context.Context, s *bridge.Session, requestID string, tree *configtree.Tree) (string, error) {
	doc, err := tree.MarshalJSON()
	if err != nil {
		return "", err
	}
	reply, err := s.Call(ctx, wire.Request{
		Command:       wire.CommandSimulateMeasurement,
		RequestID:     requestID,
		Configuration: json.RawMessage(doc),
	})
	if err != nil {
		return "", err
	}
	if len(reply.Errors) == 0 && reply.Code != wire.CodeOK {
		return "", fmt.Errorf("engine replied code %d: %s", reply.Code, reply.Message)
	}
	if len(reply.Errors) == 0 {
		return "Simulation finished without errors.", nil
	}
	return fmt.Sprintf("Simulation finished with %d errors!", len(reply.Errors)), nil
}

func (o *Orchestrator) acquire(ctx context.Context, s *bridge.Session, requestID string, tree *configtree.Tree, uri, rawURI string) (string, int, error) {
	err := s.SendFrame(ctx, wire.StartAcquisition{
		RequestID:      requestID,
		FunctionID:     o.cfg.FunctionID,
		OutputMode:     o.cfg.OutputMode,
		FileMaskResult: uri,
		FileMaskRaw:    rawURI,
		Extra:          tree,
	})
	if err != nil {
		return "", events.ResultFailed, err
	}
	_, ok, err := s.WaitForCompletionCode(ctx, wire.FunctionMeasurementFinished, o.cfg.CompletionTimeout)
	if err != nil || !ok {
		// Completion frames carry no request id, so a late one would be
		// taken as the next acquisition's result.
		if derr := s.Discard(); derr != nil {
			log.Debug().Err(derr).Str("request_id", requestID).Msg("orchestrator: discard connection")
		}
	}
	if err != nil {
		return "", events.ResultFailed, err
	}
	if !ok {
		return "Real measurement failed.", events.ResultFailed, nil
	}
	return "Real measurement finished successfully.", events.ResultSuccess, nil
}

func shortID() string {
	return uuid.NewString()[:8]
}
