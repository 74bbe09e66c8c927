package config

import (
	"github.com/danmuck/holoctl/internal/engine"
	"github.com/danmuck/holoctl/internal/validate"
)

// EngineServerConfig maps a validated file config onto engine.Config.
func EngineServerConfig(cfg EngineConfig) (engine.Config, error) {
	if err := ValidateEngineConfig(cfg); err != nil {
		return engine.Config{}, err
	}
	out := engine.DefaultConfig()
	out.Name = cfg.Name
	out.Addr = cfg.Addr
	out.EmulateAcquisition = cfg.EmulateAcquisition
	if cfg.MaxFrameBytes > 0 {
		out.Limits.MaxFrameBytes = cfg.MaxFrameBytes
	}
	// Durations and policy were checked by ValidateEngineConfig.
	out.IdleTimeout, _ = parseDuration("idle_timeout", cfg.IdleTimeout)
	out.AcquisitionDelay, _ = parseDuration("acquisition_delay", cfg.AcquisitionDelay)
	policy, _ := validate.ParseRangePolicy(cfg.RangePolicy)
	out.Validation = validate.Options{
		ExemptKeys:             append([]string(nil), cfg.ExemptKeys...),
		AllowUnknownContainers: cfg.AllowUnknownGroups,
		RangePolicy:            policy,
	}
	return out, nil
}
