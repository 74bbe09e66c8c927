package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/holoctl/internal/validate"
	"github.com/pelletier/go-toml/v2"
)

// EngineConfig configures a simulated measurement engine node.
type EngineConfig struct {
	Name               string   `toml:"name"`
	Addr               string   `toml:"addr"`
	SchemaPath         string   `toml:"schema_path"`
	IdleTimeout        string   `toml:"idle_timeout"`
	MaxFrameBytes      int      `toml:"max_frame_bytes"`
	EmulateAcquisition bool     `toml:"emulate_acquisition"`
	AcquisitionDelay   string   `toml:"acquisition_delay"`
	ExemptKeys         []string `toml:"exempt_keys"`
	RangePolicy        string   `toml:"range_policy"`
	AllowUnknownGroups bool     `toml:"allow_unknown_groups"`
}

func LoadEngineConfig(path string) (EngineConfig, error) {
	var cfg EngineConfig
	if err := loadToml(path, &cfg); err != nil {
		return EngineConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "Fraunhofer"
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.2:1234"
	}
	if cfg.IdleTimeout == "" {
		cfg.IdleTimeout = "5m"
	}
	if cfg.ExemptKeys == nil {
		cfg.ExemptKeys = []string{validate.DefaultExemptKey}
	}
	if err := ValidateEngineConfig(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateEngineConfig(cfg EngineConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("engine config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("engine config missing addr")
	}
	if strings.TrimSpace(cfg.SchemaPath) == "" {
		return fmt.Errorf("engine config missing schema_path")
	}
	if cfg.MaxFrameBytes < 0 {
		return fmt.Errorf("engine config max_frame_bytes must not be negative")
	}
	if _, err := parseDuration("idle_timeout", cfg.IdleTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("acquisition_delay", cfg.AcquisitionDelay); err != nil {
		return err
	}
	if _, err := validate.ParseRangePolicy(cfg.RangePolicy); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	return nil
}

// parseDuration accepts an empty value as zero.
func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("engine config invalid %s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("engine config %s must not be negative", key)
	}
	return d, nil
}
