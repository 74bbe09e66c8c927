package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "holoctl", "service":
		return serviceTemplate, nil
	case "engine", "holosim":
		return engineTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serviceTemplate = `id = "holoctl.local"
control_addr = "127.0.0.1:4840"
http_addr = "127.0.0.1:8090"
cors_origins = ["http://localhost:3000"]
schema_path = "keylist.csv"

simulated_addr = "127.0.0.2:1234"
real_addr = "127.0.0.2:2025"
default_mode = "simulated"
completion_timeout = "2s"
max_pending_tasks = 64

# output_dir defaults to $HOLO_OUTPUT, then $HOLO_RELEASE_DIR/output.
# output_dir = "output"

# nats_url = "nats://127.0.0.1:4222"
nats_subject_prefix = "holoctl.completion"

exempt_keys = ["use_holointerface"]
range_policy = "both"
`

const engineTemplate = `name = "Fraunhofer"
addr = "127.0.0.2:1234"
schema_path = "keylist.csv"
idle_timeout = "5m"
emulate_acquisition = false
acquisition_delay = "0s"
exempt_keys = ["use_holointerface"]
range_policy = "both"
allow_unknown_groups = false
`
