package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/holoctl/internal/bridge"
	"github.com/danmuck/holoctl/internal/testutil/testlog"
	"github.com/danmuck/holoctl/internal/validate"
	"github.com/google/go-cmp/cmp"
)

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	t.Setenv(envOutputDir, "")
	t.Setenv(envReleaseDir, "")
	path := "ex.config.toml"

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ID != "holoctl.local" || cfg.ControlAddr != "127.0.0.1:4840" || cfg.HTTPAddr != "127.0.0.1:8090" {
		t.Fatalf("unexpected identity/listeners: %+v", cfg)
	}
	if diff := cmp.Diff([]string{"http://localhost:3000"}, cfg.CORSOrigins); diff != "" {
		t.Fatalf("cors mismatch (-want +got):\n%s", diff)
	}
	if cfg.SchemaPath != "keylist.csv" {
		t.Fatalf("unexpected schema path: %q", cfg.SchemaPath)
	}
	if cfg.DefaultMode != bridge.ModeReal {
		t.Fatalf("unexpected default mode: %v", cfg.DefaultMode)
	}
	if cfg.CompletionTimeout != 3*time.Second || cfg.Bridge.CompletionTimeout != 3*time.Second {
		t.Fatalf("unexpected completion timeout: %v", cfg.CompletionTimeout)
	}
	if cfg.Bridge.MaxConnectAttempts != 2 || cfg.MaxPendingTasks != 16 {
		t.Fatalf("unexpected limits: attempts=%d pending=%d", cfg.Bridge.MaxConnectAttempts, cfg.MaxPendingTasks)
	}
	if cfg.NATSURL != "" || cfg.NATSSubjectPrefix != "holo.done" {
		t.Fatalf("unexpected nats settings: %q %q", cfg.NATSURL, cfg.NATSSubjectPrefix)
	}
	if cfg.RangePolicy != validate.RangeCheckFirstDeclared {
		t.Fatalf("unexpected range policy: %v", cfg.RangePolicy)
	}
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Fatalf("unexpected heartbeat: %v", cfg.HeartbeatInterval)
	}
	if cfg.OutputDir != "output" {
		t.Fatalf("unexpected output dir: %q", cfg.OutputDir)
	}
	if cfg.EvaluationPacing != 1.0 {
		t.Fatalf("pacing should keep its default: %v", cfg.EvaluationPacing)
	}
}

func TestLoadServiceConfigOutputDirFromEnv(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "holoctl.toml")
	if err := os.WriteFile(path, []byte("schema_path = \"/etc/holo/keylist.csv\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv(envOutputDir, "")
	t.Setenv(envReleaseDir, "/opt/holo")
	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OutputDir != filepath.Join("/opt/holo", "output") {
		t.Fatalf("release dir fallback not applied: %q", cfg.OutputDir)
	}
	if cfg.SchemaPath != "/etc/holo/keylist.csv" {
		t.Fatalf("absolute schema path should be kept: %q", cfg.SchemaPath)
	}

	t.Setenv(envOutputDir, "/data/out")
	if cfg, err = loadServiceConfig(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OutputDir != "/data/out" {
		t.Fatalf("HOLO_OUTPUT should win: %q", cfg.OutputDir)
	}
}

func TestLoadServiceConfigRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"mode":    `default_mode = "warp"`,
		"timeout": `completion_timeout = "soon"`,
		"policy":  `range_policy = "neither"`,
		"unknown": `sensor = "x"`,
	}
	dir := t.TempDir()
	for name, body := range cases {
		path := filepath.Join(dir, name+".toml")
		if err := os.WriteFile(path, []byte(body+"\n"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := loadServiceConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
