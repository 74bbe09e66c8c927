package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danmuck/holoctl/internal/wire"
	"github.com/rs/zerolog/log"
)

// Session is the handle passed to an Exchange callback. It is only valid
// while the callback runs.
type Session struct {
	bridge *Bridge
	mode   Mode
}

func (s *Session) Mode() Mode {
	return s.mode
}

func (s *Session) Send(ctx context.Context, payload []byte) error {
	return s.bridge.Send(ctx, payload)
}

// SendFrame encodes v and sends it.
func (s *Session) SendFrame(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bridge: encode frame: %w", err)
	}
	return s.bridge.Send(ctx, payload)
}

func (s *Session) Receive(ctx context.Context) (string, error) {
	return s.bridge.Receive(ctx)
}

func (s *Session) WaitForCompletionCode(ctx context.Context, expected int, timeout time.Duration) (int, bool, error) {
	return s.bridge.WaitForCompletionCode(ctx, expected, timeout)
}

// Discard closes the connection so frames still in flight cannot reach a
// later exchange. The next Exchange reconnects.
func (s *Session) Discard() error {
	return s.bridge.Disconnect()
}

// Call sends req and returns the first reply carrying the same request id.
// Frames for other requests, such as the greeting, are skipped.
func (s *Session) Call(ctx context.Context, req wire.Request) (wire.Reply, error) {
	if err := s.SendFrame(ctx, req); err != nil {
		return wire.Reply{}, err
	}
	for {
		text, err := s.bridge.Receive(ctx)
		if err != nil {
			return wire.Reply{}, err
		}
		reply, err := wire.DecodeReply([]byte(text))
		if err != nil {
			log.Warn().Err(err).Msg("bridge: undecodable reply")
			continue
		}
		if reply.RequestID != req.RequestID {
			log.Debug().
				Str("command", reply.Command).
				Str("request_id", reply.RequestID).
				Msg("bridge: skipping uncorrelated frame")
			continue
		}
		return reply, nil
	}
}
