package service

import "time"

// Capabilities are the fixed sensor properties advertised to supervisors.
type Capabilities struct {
	Calibrated           bool    `json:"calibrated"`
	ResolutionAxial      float64 `json:"resolution_axial"`
	ResolutionLateral    float64 `json:"resolution_lateral"`
	MeasuringFieldHeight float64 `json:"measuring_field_height"`
	MeasuringFieldWidth  float64 `json:"measuring_field_width"`
	SensorWeight         float64 `json:"sensor_weight"`
	CameraType           string  `json:"camera_type"`
	ImageHeight          int     `json:"image_height"`
	ImageWidth           int     `json:"image_width"`
	Manufacturer         string  `json:"manufacturer"`
	SensorModel          string  `json:"sensor_model"`
}

func DefaultCapabilities() Capabilities {
	return Capabilities{
		Calibrated:           true,
		ResolutionAxial:      1e-3,
		ResolutionLateral:    6.4e-3,
		MeasuringFieldHeight: 70,
		MeasuringFieldWidth:  93.44,
		SensorWeight:         5.1,
		CameraType:           "Ximea",
		ImageHeight:          7000,
		ImageWidth:           9344,
		Manufacturer:         "Fraunhofer IPM",
		SensorModel:          "HoloTop",
	}
}

type Status struct {
	ID              string       `json:"id"`
	Uptime          string       `json:"uptime"`
	BridgeMode      string       `json:"bridge_mode"`
	BridgeConnected bool         `json:"bridge_connected"`
	DefaultMode     string       `json:"default_mode"`
	PendingTasks    int          `json:"pending_tasks"`
	SchemaPath      string       `json:"schema_path"`
	SchemaRows      int          `json:"schema_rows"`
	EventSinks      []string     `json:"event_sinks"`
	Capabilities    Capabilities `json:"capabilities"`
}

func (s *Service) Status() Status {
	mode, connected := s.bridge.Connected()
	return Status{
		ID:              s.cfg.ID,
		Uptime:          time.Since(s.started).Truncate(time.Second).String(),
		BridgeMode:      mode.String(),
		BridgeConnected: connected,
		DefaultMode:     s.cfg.DefaultMode.String(),
		PendingTasks:    len(s.orch.Pending()),
		SchemaPath:      s.source.Path(),
		SchemaRows:      s.source.RowCount(),
		EventSinks:      s.fanout.Sinks(),
		Capabilities:    DefaultCapabilities(),
	}
}
