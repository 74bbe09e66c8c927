package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"time"

	"github.com/danmuck/holoctl/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownAction   = errors.New("service: unknown action")
	ErrControlLineSize = errors.New("service: control request too large")
)

const (
	controlReadTimeout  = 30 * time.Second
	maxControlLineBytes = 1 << 20
)

// ControlRequest is one action envelope on the control endpoint.
type ControlRequest struct {
	Action         string `json:"action"`
	Configuration  any    `json:"configuration,omitempty"`
	EvaluationType any    `json:"evaluation_type,omitempty"`
	ResourceURIs   any    `json:"resource_uris,omitempty"`
	Document       string `json:"document,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// ControlResponse is one action result envelope.
type ControlResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type controlAction func(ctx context.Context, req ControlRequest) (any, error)

func (s *Service) controlActions() map[string]controlAction {
	return map[string]controlAction{
		"RequestMeasurement": func(_ context.Context, req ControlRequest) (any, error) {
			return s.RequestMeasurement(req.Configuration), nil
		},
		"RequestEvaluation": func(_ context.Context, req ControlRequest) (any, error) {
			return s.RequestEvaluation(req.EvaluationType, req.ResourceURIs), nil
		},
		"validate": func(_ context.Context, req ControlRequest) (any, error) {
			return s.Validate([]byte(req.Document))
		},
		"status": func(context.Context, ControlRequest) (any, error) {
			return s.Status(), nil
		},
		"recent_events": func(_ context.Context, req ControlRequest) (any, error) {
			return s.RecentEvents(req.Limit), nil
		},
		"pending_tasks": func(context.Context, ControlRequest) (any, error) {
			return s.PendingTasks(), nil
		},
		"reload_schema": func(context.Context, ControlRequest) (any, error) {
			if err := s.source.Reload(); err != nil {
				return nil, err
			}
			return map[string]any{"rows": s.source.RowCount()}, nil
		},
		"list_actions": func(context.Context, ControlRequest) (any, error) {
			return s.ActionNames(), nil
		},
	}
}

// ActionNames lists the registered control actions in sorted order.
func (s *Service) ActionNames() []string {
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleControl dispatches one request to its registered action.
func (s *Service) HandleControl(ctx context.Context, req ControlRequest) ControlResponse {
	action, ok := s.actions[req.Action]
	if !ok {
		observability.RecordControlRequest("unknown", false)
		return ControlResponse{OK: false, Error: fmt.Errorf("%w: %q", ErrUnknownAction, req.Action).Error()}
	}
	data, err := action(ctx, req)
	observability.RecordControlRequest(req.Action, err == nil)
	if err != nil {
		log.Warn().Err(err).Str("action", req.Action).Msg("service: control action failed")
		return ControlResponse{OK: false, Error: err.Error()}
	}
	return ControlResponse{OK: true, Data: data}
}

// serveControl accepts JSON-line control clients until ctx is done.
func (s *Service) serveControl(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	log.Info().Str("addr", ln.Addr().String()).Msg("service: control listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("service: control accept: %w", err)
		}
		go s.handleControlConn(ctx, conn)
	}
}

// handleControlConn decodes one request per line and writes one response per line.
// readControlLine returns the next line, or ErrControlLineSize after skipping
// a line longer than limit.
func readControlLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	oversized := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversized {
			if len(line)+len(chunk) > limit {
				oversized, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if oversized {
			return nil, ErrControlLineSize
		}
		return line, nil
	}
}

func (s *Service) handleControlConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	active := s.controlClients.Add(1)
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("service: control client connected")
	defer func() {
		remaining := s.controlClients.Add(-1)
		log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("service: control client disconnected")
	}()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(controlReadTimeout))
		line, err := readControlLine(reader, maxControlLineBytes)
		if errors.Is(err, ErrControlLineSize) {
			observability.RecordControlRequest("oversized", false)
			if err := writeControlResponse(conn, ControlResponse{OK: false, Error: err.Error()}); err != nil {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn().Err(err).Str("remote", remote).Msg("service: control read failed")
			}
			return
		}
		var req ControlRequest
		if err := json.Unmarshal(line, &req); err != nil {
			observability.RecordControlRequest("malformed", false)
			_ = writeControlResponse(conn, ControlResponse{OK: false, Error: err.Error()})
			continue
		}
		if err := writeControlResponse(conn, s.HandleControl(ctx, req)); err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("service: control write failed")
			return
		}
	}
}

func writeControlResponse(w io.Writer, resp ControlResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
