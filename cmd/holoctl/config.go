package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/holoctl/internal/bridge"
	"github.com/danmuck/holoctl/internal/service"
	"github.com/danmuck/holoctl/internal/validate"
)

const (
	envOutputDir  = "HOLO_OUTPUT"
	envReleaseDir = "HOLO_RELEASE_DIR"
)

type fileConfig struct {
	ID                string   `toml:"id"`
	ControlAddr       string   `toml:"control_addr"`
	HTTPAddr          string   `toml:"http_addr"`
	CORSOrigins       []string `toml:"cors_origins"`
	SchemaPath        string   `toml:"schema_path"`
	SimulatedAddr     string   `toml:"simulated_addr"`
	RealAddr          string   `toml:"real_addr"`
	DefaultMode       string   `toml:"default_mode"`
	CompletionTimeout string   `toml:"completion_timeout"`
	ConnectAttempts   int      `toml:"connect_attempts"`
	OutputDir         string   `toml:"output_dir"`
	MaxPendingTasks   int      `toml:"max_pending_tasks"`
	EvaluationPacing  float64  `toml:"evaluation_pacing"`
	NATSURL           string   `toml:"nats_url"`
	NATSSubjectPrefix string   `toml:"nats_subject_prefix"`
	RecentEvents      int      `toml:"recent_events"`
	ExemptKeys        []string `toml:"exempt_keys"`
	RangePolicy       string   `toml:"range_policy"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
}

func loadServiceConfig(path string) (service.ServiceConfig, error) {
	cfg := service.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return service.ServiceConfig{}, fmt.Errorf("load holoctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return service.ServiceConfig{}, fmt.Errorf("load holoctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ID = id
		}
	}
	if meta.IsDefined("control_addr") {
		cfg.ControlAddr = strings.TrimSpace(raw.ControlAddr)
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("schema_path") {
		cfg.SchemaPath = resolvePath(path, strings.TrimSpace(raw.SchemaPath))
	}
	if meta.IsDefined("simulated_addr") {
		cfg.Bridge.SimulatedAddr = strings.TrimSpace(raw.SimulatedAddr)
	}
	if meta.IsDefined("real_addr") {
		cfg.Bridge.RealAddr = strings.TrimSpace(raw.RealAddr)
	}
	if meta.IsDefined("default_mode") {
		mode, err := bridge.ParseMode(raw.DefaultMode)
		if err != nil {
			return service.ServiceConfig{}, fmt.Errorf("parse default_mode: %w", err)
		}
		cfg.DefaultMode = mode
	}
	if meta.IsDefined("completion_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CompletionTimeout))
		if err != nil {
			return service.ServiceConfig{}, fmt.Errorf("parse completion_timeout: %w", err)
		}
		cfg.CompletionTimeout = d
		cfg.Bridge.CompletionTimeout = d
	}
	if meta.IsDefined("connect_attempts") {
		cfg.Bridge.MaxConnectAttempts = raw.ConnectAttempts
	}
	if meta.IsDefined("output_dir") {
		cfg.OutputDir = strings.TrimSpace(raw.OutputDir)
	} else if dir := outputDirFromEnv(); dir != "" {
		cfg.OutputDir = dir
	}
	if meta.IsDefined("max_pending_tasks") {
		cfg.MaxPendingTasks = raw.MaxPendingTasks
	}
	if meta.IsDefined("evaluation_pacing") {
		cfg.EvaluationPacing = raw.EvaluationPacing
	}
	if meta.IsDefined("nats_url") {
		cfg.NATSURL = strings.TrimSpace(raw.NATSURL)
	}
	if meta.IsDefined("nats_subject_prefix") {
		cfg.NATSSubjectPrefix = strings.TrimSpace(raw.NATSSubjectPrefix)
	}
	if meta.IsDefined("recent_events") {
		cfg.RecentEvents = raw.RecentEvents
	}
	if meta.IsDefined("exempt_keys") {
		cfg.ExemptKeys = normalizeList(raw.ExemptKeys)
	}
	if meta.IsDefined("range_policy") {
		policy, err := validate.ParseRangePolicy(raw.RangePolicy)
		if err != nil {
			return service.ServiceConfig{}, fmt.Errorf("parse range_policy: %w", err)
		}
		cfg.RangePolicy = policy
	}
	if meta.IsDefined("heartbeat_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatInterval))
		if err != nil {
			return service.ServiceConfig{}, fmt.Errorf("parse heartbeat_interval: %w", err)
		}
		cfg.HeartbeatInterval = d
	}

	return cfg, nil
}

// outputDirFromEnv prefers HOLO_OUTPUT, then HOLO_RELEASE_DIR/output.
func outputDirFromEnv() string {
	if dir := strings.TrimSpace(os.Getenv(envOutputDir)); dir != "" {
		return dir
	}
	if release := strings.TrimSpace(os.Getenv(envReleaseDir)); release != "" {
		return filepath.Join(release, "output")
	}
	return ""
}

// resolvePath interprets a relative path against the config file directory.
func resolvePath(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
