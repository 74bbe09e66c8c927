package bridge

import (
	"time"

	"github.com/danmuck/holoctl/internal/wire"
)

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines engine endpoints and transport timeouts.
type Config struct {
	SimulatedAddr string
	RealAddr      string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// CompletionTimeout bounds the wait for the real engine's finished code.
	CompletionTimeout  time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
	Limits             wire.Limits
}

func DefaultConfig() Config {
	return Config{
		SimulatedAddr:      "127.0.0.2:1234",
		RealAddr:           "127.0.0.2:2025",
		DialTimeout:        5 * time.Second,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		CompletionTimeout:  2 * time.Second,
		MaxConnectAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		Limits: wire.DefaultLimits(),
	}
}

func (c Config) addrFor(mode Mode) string {
	if mode == ModeReal {
		return c.RealAddr
	}
	return c.SimulatedAddr
}
