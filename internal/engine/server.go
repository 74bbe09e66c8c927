// Package engine is a simulated measurement engine. It speaks the same JSON
// frame protocol as the real engine and validates submitted configurations
// against the schema catalog instead of acquiring images.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/holoctl/internal/configtree"
	"github.com/danmuck/holoctl/internal/observability"
	"github.com/danmuck/holoctl/internal/schema"
	"github.com/danmuck/holoctl/internal/validate"
	"github.com/danmuck/holoctl/internal/wire"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr        string
	Name        string
	IdleTimeout time.Duration
	Limits      wire.Limits
	Validation  validate.Options
	// EmulateAcquisition registers start_acquisition and answers it with a
	// finished status frame after AcquisitionDelay.
	EmulateAcquisition bool
	AcquisitionDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.2:1234",
		Name:        "Fraunhofer",
		IdleTimeout: 5 * time.Minute,
		Limits:      wire.DefaultLimits(),
		Validation:  validate.DefaultOptions(),
	}
}

type Server struct {
	cfg      Config
	source   *schema.Source
	registry *Registry

	mu      sync.Mutex
	ln      net.Listener
	clients atomic.Int64
	wg      sync.WaitGroup
}

func NewServer(cfg Config, source *schema.Source) *Server {
	s := &Server{cfg: cfg, source: source, registry: NewRegistry()}
	_ = s.registry.Register(wire.CommandSimulateMeasurement, s.simulateMeasurement)
	_ = s.registry.Register(wire.CommandHelp, s.listFunctions)
	_ = s.registry.Register(wire.CommandListFunctions, s.listFunctions)
	if cfg.EmulateAcquisition {
		_ = s.registry.Register(wire.CommandStartAcquisition, s.startAcquisition)
	}
	return s
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// Listen binds the configured address without serving yet.
func (s *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", strings.TrimSpace(s.cfg.Addr))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return ln.Addr(), nil
}

// Serve accepts connections until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.ln
		s.mu.Unlock()
	}
	defer ln.Close()
	log.Info().Str("addr", ln.Addr().String()).Msg("engine: listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *connWriter) WriteFrame(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(15 * time.Second))
	return wire.WriteFrame(w.conn, v)
}

// handleConn greets the client, then serves one frame at a time.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	active := s.clients.Add(1)
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("engine: client connected")
	defer func() {
		remaining := s.clients.Add(-1)
		log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("engine: client disconnected")
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	w := &connWriter{conn: conn}
	if err := w.WriteFrame(wire.Greeting(s.cfg.Name)); err != nil {
		log.Warn().Err(err).Msg("engine: greeting failed")
		return
	}
	reader := wire.NewReader(conn, s.cfg.Limits)
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		raw, err := reader.Next()
		if errors.Is(err, wire.ErrMalformedFrame) || errors.Is(err, wire.ErrFrameTooLarge) {
			log.Warn().Err(err).Str("remote", remote).Msg("engine: message not in valid json format")
			if werr := w.WriteFrame(wire.MalformedReply()); werr != nil {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn().Err(err).Str("remote", remote).Msg("engine: read failed")
			}
			return
		}
		if err := s.dispatch(ctx, raw, w); err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("engine: write failed")
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, raw []byte, w FrameWriter) error {
	var req wire.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return w.WriteFrame(wire.MalformedReply())
	}
	h, err := s.registry.Lookup(req.Command)
	if err != nil {
		log.Warn().Str("command", req.Command).Msg("engine: invalid function")
		return w.WriteFrame(wire.InvalidFunctionReply(req.Command, req.RequestID))
	}
	return h(ctx, req, w)
}

func (s *Server) listFunctions(_ context.Context, req wire.Request, w FrameWriter) error {
	return w.WriteFrame(wire.Reply{
		Command:   req.Command,
		RequestID: req.RequestID,
		Code:      wire.CodeOK,
		Functions: s.registry.Names(),
	})
}

func (s *Server) simulateMeasurement(_ context.Context, req wire.Request, w FrameWriter) error {
	reply := wire.Reply{Command: req.Command, RequestID: req.RequestID}
	res, err := s.Validate(req.Configuration)
	if err != nil {
		reply.Code = wire.CodeFailed
		reply.Message = err.Error()
		return w.WriteFrame(reply)
	}
	reply.Message = res.Summary()
	reply.Errors = res.Errors
	reply.Warnings = res.Warnings
	if !res.OK() {
		reply.Code = wire.CodeFailed
	}
	log.Info().
		Str("request_id", req.RequestID).
		Int("errors", len(res.Errors)).
		Strs("warnings", res.Warnings).
		Msg("engine: simulation finished")
	return w.WriteFrame(reply)
}

// Validate checks a raw configuration document against a fresh catalog.
func (s *Server) Validate(doc []byte) (validate.Result, error) {
	cat, err := s.source.Build()
	if err != nil {
		return validate.Result{}, err
	}
	tree, err := configtree.Parse(doc)
	if err != nil {
		return validate.Result{}, err
	}
	res := validate.Validate(tree, cat, s.cfg.Validation)
	observability.RecordValidation(len(res.Errors), len(res.Warnings))
	return res, nil
}

func (s *Server) startAcquisition(ctx context.Context, req wire.Request, w FrameWriter) error {
	if err := w.WriteFrame(wire.Reply{Command: req.Command, RequestID: req.RequestID, Code: wire.CodeOK}); err != nil {
		return err
	}
	if s.cfg.AcquisitionDelay > 0 {
		timer := time.NewTimer(s.cfg.AcquisitionDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
	return w.WriteFrame(wire.CompletionStatus{FunctionID: wire.FunctionMeasurementFinished})
}
