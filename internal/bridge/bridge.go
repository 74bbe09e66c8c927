// Package bridge owns the single logical connection to the measurement
// engine. Two endpoints are known: the simulated engine and the real one.
// Exchange serializes callers so that only one request is outstanding per
// connection and endpoint switches happen atomically.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/holoctl/internal/observability"
	"github.com/danmuck/holoctl/internal/wire"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("bridge: not connected")
	ErrEmptyPayload = errors.New("bridge: empty payload")
	ErrUnknownMode  = errors.New("bridge: unknown endpoint mode")
)

// Mode selects which engine endpoint a connection targets.
type Mode int

const (
	ModeUnset Mode = iota
	ModeSimulated
	ModeReal
)

func (m Mode) String() string {
	switch m {
	case ModeSimulated:
		return "simulated"
	case ModeReal:
		return "real"
	default:
		return "unset"
	}
}

func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "simulated", "sim", "simulation":
		return ModeSimulated, nil
	case "real", "hardware":
		return ModeReal, nil
	default:
		return ModeUnset, fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

type Bridge struct {
	cfg Config

	// slot is held for the duration of one Exchange.
	slot chan struct{}

	mu     sync.Mutex
	conn   net.Conn
	reader *wire.Reader
	addr   string
	mode   Mode

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config) *Bridge {
	if cfg.Limits.MaxFrameBytes == 0 {
		cfg.Limits = wire.DefaultLimits()
	}
	if cfg.MaxConnectAttempts <= 0 {
		cfg.MaxConnectAttempts = 1
	}
	return &Bridge{
		cfg:  cfg,
		slot: make(chan struct{}, 1),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (b *Bridge) Config() Config {
	return b.cfg
}

// Connected reports whether a connection is open and which mode it serves.
func (b *Bridge) Connected() (Mode, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode, b.conn != nil
}

// Connect opens a connection to addr. It is a no-op when already connected.
// On failure the bridge stays disconnected.
func (b *Bridge) Connect(ctx context.Context, addr string) error {
	mode := ModeUnset
	switch addr {
	case b.cfg.SimulatedAddr:
		mode = ModeSimulated
	case b.cfg.RealAddr:
		mode = ModeReal
	}
	return b.connect(ctx, addr, mode)
}

func (b *Bridge) connect(ctx context.Context, addr string, mode Mode) error {
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	dialer := net.Dialer{Timeout: b.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	observability.RecordTransportConnect(mode.String(), err == nil)
	if err != nil {
		log.Warn().Err(err).Str("addr", addr).Str("mode", mode.String()).Msg("bridge: connect failed")
		return fmt.Errorf("bridge: connect %s: %w", addr, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = conn.Close()
		return nil
	}
	b.conn = conn
	b.reader = wire.NewReader(conn, b.cfg.Limits)
	b.addr = addr
	b.mode = mode
	log.Info().Str("addr", addr).Str("mode", mode.String()).Msg("bridge: connected")
	return nil
}

// connectWithBackoff retries connect up to MaxConnectAttempts times.
func (b *Bridge) connectWithBackoff(ctx context.Context, mode Mode) error {
	addr := b.cfg.addrFor(mode)
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxConnectAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepBackoff(ctx, b.backoffDelay(attempt-1)); err != nil {
				return err
			}
		}
		if lastErr = b.connect(ctx, addr, mode); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (b *Bridge) backoffDelay(attempt int) time.Duration {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return NextBackoffDelay(b.cfg.Backoff, attempt, b.rng)
}

// Disconnect closes the current connection, if any.
func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropLocked()
}

func (b *Bridge) dropLocked() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	log.Info().Str("addr", b.addr).Str("mode", b.mode.String()).Msg("bridge: disconnected")
	b.conn = nil
	b.reader = nil
	b.addr = ""
	b.mode = ModeUnset
	return err
}

// drop closes conn if it is still the active connection.
func (b *Bridge) drop(conn net.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == conn {
		_ = b.dropLocked()
	}
}

func (b *Bridge) active() (net.Conn, *wire.Reader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn, b.reader
}

// Send writes one frame. Sending without a connection or with an empty
// payload is logged and reported, never fatal.
func (b *Bridge) Send(ctx context.Context, payload []byte) error {
	if len(strings.TrimSpace(string(payload))) == 0 {
		log.Warn().Msg("bridge: no message to send")
		return ErrEmptyPayload
	}
	conn, _ := b.active()
	if conn == nil {
		log.Warn().Msg("bridge: send without connection")
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetWriteDeadline(time.Now()) })
	defer stop()

	if err := wire.WriteRaw(conn, payload); err != nil {
		b.drop(conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("bridge: send: %w", err)
	}
	log.Debug().Int("bytes", len(payload)).Msg("bridge: frame sent")
	return nil
}

// Receive returns the next frame as trimmed text. Frames that fail to parse
// are logged and skipped.
func (b *Bridge) Receive(ctx context.Context) (string, error) {
	var deadline time.Time
	if b.cfg.ReadTimeout > 0 {
		deadline = time.Now().Add(b.cfg.ReadTimeout)
	}
	raw, err := b.next(ctx, deadline)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// next reads frames until one parses, the deadline passes, or the
// connection fails. A timeout wraps os.ErrDeadlineExceeded.
func (b *Bridge) next(ctx context.Context, deadline time.Time) ([]byte, error) {
	conn, reader := b.active()
	if conn == nil {
		return nil, ErrNotConnected
	}
	_ = conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		raw, err := reader.Next()
		switch {
		case err == nil:
			return raw, nil
		case errors.Is(err, wire.ErrMalformedFrame), errors.Is(err, wire.ErrFrameTooLarge):
			log.Warn().Err(err).Msg("bridge: dropped frame")
			continue
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, os.ErrDeadlineExceeded):
			return nil, fmt.Errorf("bridge: receive: %w", os.ErrDeadlineExceeded)
		default:
			log.Warn().Err(err).Msg("bridge: receive failed")
			b.drop(conn)
			return nil, fmt.Errorf("bridge: receive: %w", err)
		}
	}
}

// WaitForCompletionCode reads frames until one reports function id expected.
// A timeout yields ok=false with a nil error so callers can tell it apart
// from a broken transport.
func (b *Bridge) WaitForCompletionCode(ctx context.Context, expected int, timeout time.Duration) (int, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		raw, err := b.next(ctx, deadline)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			log.Warn().Int("expected", expected).Dur("timeout", timeout).Msg("bridge: timeout waiting for completion")
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		if id, ok := wire.FunctionID(raw); ok && id == expected {
			return id, true, nil
		}
		log.Debug().RawJSON("frame", raw).Msg("bridge: ignoring frame while waiting for completion")
	}
}

// Exchange acquires exclusive use of the bridge, connects to the endpoint
// for mode (switching endpoints if needed), and runs fn.
func (b *Bridge) Exchange(ctx context.Context, mode Mode, fn func(ctx context.Context, s *Session) error) error {
	if mode != ModeSimulated && mode != ModeReal {
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-b.slot }()

	if err := b.ensureMode(ctx, mode); err != nil {
		return err
	}
	return fn(ctx, &Session{bridge: b, mode: mode})
}

func (b *Bridge) ensureMode(ctx context.Context, mode Mode) error {
	b.mu.Lock()
	if b.conn != nil && b.mode == mode {
		b.mu.Unlock()
		return nil
	}
	if b.conn != nil {
		log.Info().Str("from", b.mode.String()).Str("to", mode.String()).Msg("bridge: switching endpoint")
		_ = b.dropLocked()
	}
	b.mu.Unlock()
	return b.connectWithBackoff(ctx, mode)
}

// Close disconnects and waits for any running exchange to finish.
func (b *Bridge) Close(ctx context.Context) error {
	select {
	case b.slot <- struct{}{}:
		defer func() { <-b.slot }()
	case <-ctx.Done():
	}
	return b.Disconnect()
}
