// Package service runs the supervisory runtime: it loads the schema, owns the
// engine bridge and the orchestrator, and exposes them over a JSON-line TCP
// control endpoint and an HTTP surface.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/holoctl/internal/bridge"
	"github.com/danmuck/holoctl/internal/configtree"
	"github.com/danmuck/holoctl/internal/events"
	"github.com/danmuck/holoctl/internal/observability"
	"github.com/danmuck/holoctl/internal/orchestrator"
	"github.com/danmuck/holoctl/internal/schema"
	"github.com/danmuck/holoctl/internal/validate"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrNotBootstrapped = errors.New("service: not bootstrapped")

// Service runs the holoctl runtime as a standalone process.
type Service struct {
	cfg     ServiceConfig
	started time.Time

	source *schema.Source
	bridge *bridge.Bridge
	hub    *events.Hub
	nats   *events.NATSPublisher
	fanout *events.Fanout
	orch   *orchestrator.Orchestrator

	actions        map[string]controlAction
	controlClients atomic.Int64

	addrMu      sync.RWMutex
	controlAddr net.Addr
	httpAddr    net.Addr
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	s := &Service{cfg: cfg}
	s.actions = s.controlActions()
	return s
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext bootstraps the runtime and serves until ctx is done.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

func (s *Service) bootstrap() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	source, err := schema.LoadFile(s.cfg.SchemaPath)
	if err != nil {
		return err
	}
	return s.bootstrapWith(source)
}

// bootstrapWith wires the runtime around an already loaded schema.
func (s *Service) bootstrapWith(source *schema.Source) error {
	observability.RegisterMetrics()
	s.started = time.Now()
	s.source = source
	s.bridge = bridge.New(s.cfg.Bridge)
	s.hub = events.NewHub(s.cfg.RecentEvents)

	sinks := []events.Sink{{Name: "hub", Publisher: s.hub}}
	if url := strings.TrimSpace(s.cfg.NATSURL); url != "" {
		natsCfg := events.DefaultNATSConfig(url)
		natsCfg.ClientName = s.cfg.ID
		if s.cfg.NATSSubjectPrefix != "" {
			natsCfg.SubjectPrefix = s.cfg.NATSSubjectPrefix
		}
		pub, err := events.ConnectNATS(natsCfg)
		if err != nil {
			return fmt.Errorf("service: completion events: %w", err)
		}
		s.nats = pub
		sinks = append(sinks, events.Sink{Name: "nats", Publisher: pub})
	}
	s.fanout = events.NewFanout(sinks...)
	s.orch = orchestrator.New(s.cfg.orchestratorConfig(), s.bridge, s.fanout)

	log.Info().
		Str("id", s.cfg.ID).
		Str("schema", source.Path()).
		Int("rows", source.RowCount()).
		Str("default_mode", s.cfg.DefaultMode.String()).
		Strs("sinks", s.fanout.Sinks()).
		Msg("service: bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	if s.orch == nil {
		return ErrNotBootstrapped
	}
	var controlLn, httpLn net.Listener
	var err error
	if addr := strings.TrimSpace(s.cfg.ControlAddr); addr != "" {
		if controlLn, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("service: control listen %s: %w", addr, err)
		}
	}
	if addr := strings.TrimSpace(s.cfg.HTTPAddr); addr != "" {
		if httpLn, err = net.Listen("tcp", addr); err != nil {
			if controlLn != nil {
				_ = controlLn.Close()
			}
			return fmt.Errorf("service: http listen %s: %w", addr, err)
		}
	}
	return s.serveListeners(ctx, controlLn, httpLn)
}

// serveListeners runs the control endpoint, the HTTP surface, and the
// heartbeat until ctx is done or one of them fails. Either listener may be nil.
func (s *Service) serveListeners(ctx context.Context, controlLn, httpLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	if controlLn != nil {
		s.setAddrs(controlLn.Addr(), nil)
		g.Go(func() error { return s.serveControl(gctx, controlLn) })
	}
	if httpLn != nil {
		s.setAddrs(nil, httpLn.Addr())
		srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", httpLn.Addr().String()).Msg("service: http listening")
			if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("service: http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error { return s.heartbeat(gctx) })

	err := g.Wait()
	if shutdownErr := s.Shutdown(context.Background()); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("service: shutdown incomplete")
	}
	return err
}

func (s *Service) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("id", s.cfg.ID).Msg("service: stopping")
			return nil
		case <-ticker.C:
			mode, connected := s.bridge.Connected()
			log.Debug().
				Str("id", s.cfg.ID).
				Int("pending", len(s.orch.Pending())).
				Str("bridge_mode", mode.String()).
				Bool("bridge_connected", connected).
				Int64("control_clients", s.controlClients.Load()).
				Int("subscribers", s.hub.Subscribers()).
				Msg("service: heartbeat")
		}
	}
}

// Shutdown stops accepting calls, cancels running tasks, and releases the
// engine connection and event sinks.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.orch == nil {
		return nil
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := s.orch.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.bridge.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) setAddrs(control, httpAddr net.Addr) {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	if control != nil {
		s.controlAddr = control
	}
	if httpAddr != nil {
		s.httpAddr = httpAddr
	}
}

// Addrs returns the bound listener addresses once serving has started.
func (s *Service) Addrs() (control, httpAddr net.Addr) {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.controlAddr, s.httpAddr
}

// Validate checks doc against a freshly built catalog.
func (s *Service) Validate(doc []byte) (validate.Result, error) {
	if s.source == nil {
		return validate.Result{}, ErrNotBootstrapped
	}
	tree, err := configtree.Parse(doc)
	if err != nil {
		return validate.Result{}, err
	}
	cat, err := s.source.Build()
	if err != nil {
		return validate.Result{}, err
	}
	res := validate.Validate(tree, cat, s.cfg.validationOptions())
	observability.RecordValidation(len(res.Errors), len(res.Warnings))
	return res, nil
}

func (s *Service) RequestMeasurement(configuration any) orchestrator.Ack {
	return s.orch.RequestMeasurement(configuration)
}

func (s *Service) RequestEvaluation(evaluationType, resourceURIs any) orchestrator.Ack {
	return s.orch.RequestEvaluation(evaluationType, resourceURIs)
}

func (s *Service) RecentEvents(limit int) []events.CompletionEvent {
	return s.hub.Recent(limit)
}

func (s *Service) PendingTasks() []orchestrator.PendingTask {
	return s.orch.Pending()
}
