package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/holoctl/internal/bridge"
	"github.com/danmuck/holoctl/internal/events"
	"github.com/danmuck/holoctl/internal/orchestrator"
	"github.com/danmuck/holoctl/internal/validate"
)

var (
	ErrMissingSchema            = errors.New("service: schema_path is required")
	ErrNoListener               = errors.New("service: control_addr or http_addr is required")
	ErrInvalidHeartbeatInterval = errors.New("service: invalid heartbeat interval")
	ErrInvalidCORSOrigin        = errors.New("service: invalid cors origin")
)

// ServiceConfig configures the supervisory runtime.
type ServiceConfig struct {
	ID          string
	ControlAddr string
	HTTPAddr    string
	CORSOrigins []string
	SchemaPath  string

	Bridge            bridge.Config
	DefaultMode       bridge.Mode
	OutputDir         string
	MaxPendingTasks   int
	CompletionTimeout time.Duration
	EvaluationPacing  float64

	NATSURL           string
	NATSSubjectPrefix string
	RecentEvents      int

	ExemptKeys  []string
	RangePolicy validate.RangePolicy

	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ID:                "holoctl.local",
		ControlAddr:       "127.0.0.1:4840",
		HTTPAddr:          "127.0.0.1:8090",
		CORSOrigins:       []string{"http://localhost:3000"},
		SchemaPath:        "",
		Bridge:            bridge.DefaultConfig(),
		DefaultMode:       bridge.ModeSimulated,
		OutputDir:         "output",
		MaxPendingTasks:   orchestrator.DefaultMaxPendingTasks,
		CompletionTimeout: 2 * time.Second,
		EvaluationPacing:  1.0,
		NATSSubjectPrefix: events.DefaultSubjectPrefix,
		RecentEvents:      events.DefaultRecentCapacity,
		ExemptKeys:        []string{validate.DefaultExemptKey},
		RangePolicy:       validate.RangeCheckBoth,
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Validate reports configuration that cannot start a runtime.
func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.SchemaPath) == "" {
		return ErrMissingSchema
	}
	if strings.TrimSpace(c.ControlAddr) == "" && strings.TrimSpace(c.HTTPAddr) == "" {
		return ErrNoListener
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	for _, origin := range c.CORSOrigins {
		origin = strings.TrimSpace(origin)
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("%w: %q", ErrInvalidCORSOrigin, origin)
		}
	}
	if c.DefaultMode != bridge.ModeSimulated && c.DefaultMode != bridge.ModeReal {
		return fmt.Errorf("%w: %s", bridge.ErrUnknownMode, c.DefaultMode)
	}
	return nil
}

func (c ServiceConfig) validationOptions() validate.Options {
	keys := make([]string, len(c.ExemptKeys))
	copy(keys, c.ExemptKeys)
	return validate.Options{ExemptKeys: keys, RangePolicy: c.RangePolicy}
}

func (c ServiceConfig) orchestratorConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.DefaultMode = c.DefaultMode
	cfg.OutputDir = c.OutputDir
	cfg.MaxPendingTasks = c.MaxPendingTasks
	cfg.CompletionTimeout = c.CompletionTimeout
	cfg.EvaluationPacing = c.EvaluationPacing
	return cfg
}
