package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/holoctl/internal/events"
	"github.com/danmuck/holoctl/internal/orchestrator"
	"github.com/danmuck/holoctl/internal/schema"
	"github.com/danmuck/holoctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

func testRows() []schema.Row {
	return []schema.Row{
		{Name: "binning_factor", DefaultValue: "64"},
		{Marker: "class", Value: "QSpinBox"},
		{Marker: "minimum", Value: "8"},
		{Marker: "maximum", Value: "256"},
		{Name: "radius_smooth", DefaultValue: "2.0"},
	}
}

func testConfig(t *testing.T) ServiceConfig {
	t.Helper()
	cfg := DefaultServiceConfig()
	cfg.ID = "holoctl.test"
	cfg.SchemaPath = "keylist.csv"
	cfg.ControlAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.OutputDir = t.TempDir()
	cfg.EvaluationPacing = 0
	cfg.Bridge.DialTimeout = 200 * time.Millisecond
	cfg.Bridge.MaxConnectAttempts = 1
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := NewServiceWithConfig(testConfig(t))
	if err := s.bootstrapWith(schema.NewSource(testRows())); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func waitEvent(t *testing.T, s *Service) events.CompletionEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if evs := s.RecentEvents(1); len(evs) == 1 {
			return evs[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no completion event")
	return events.CompletionEvent{}
}

func TestServiceConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingSchema) {
		t.Fatalf("expected ErrMissingSchema, got %v", err)
	}
	cfg.SchemaPath = "keylist.csv"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with schema should validate: %v", err)
	}
	cfg.CORSOrigins = []string{"localhost:3000"}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidCORSOrigin) {
		t.Fatalf("expected ErrInvalidCORSOrigin, got %v", err)
	}
	cfg.CORSOrigins = nil
	cfg.ControlAddr, cfg.HTTPAddr = "", " "
	if err := cfg.Validate(); !errors.Is(err, ErrNoListener) {
		t.Fatalf("expected ErrNoListener, got %v", err)
	}
}

func TestRunContextRejectsMissingSchemaFile(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	cfg.SchemaPath = filepath.Join(t.TempDir(), "missing.csv")
	err := NewServiceWithConfig(cfg).RunContext(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected missing schema error, got %v", err)
	}
}

func TestHandleControlUnknownAction(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)
	resp := s.HandleControl(context.Background(), ControlRequest{Action: "launch"})
	if resp.OK || !strings.Contains(resp.Error, ErrUnknownAction.Error()) {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleControlRejectsNonStringConfiguration(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)
	resp := s.HandleControl(context.Background(), ControlRequest{
		Action:        "RequestMeasurement",
		Configuration: map[string]any{"binning_factor": 16},
	})
	ack, ok := resp.Data.(orchestrator.Ack)
	if !resp.OK || !ok {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if ack.Accepted() || ack.ResultMessage != "Input needs to be a string" || ack.ResultCode != 1 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if got := len(s.PendingTasks()); got != 0 {
		t.Fatalf("rejected call must not create a task, got %d", got)
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(s.RecentEvents(0)); got != 0 {
		t.Fatalf("rejected call must not publish an event, got %d", got)
	}
}

func TestHandleControlValidate(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)
	resp := s.HandleControl(context.Background(), ControlRequest{
		Action:   "validate",
		Document: `{"binning_factor": 300, "radius_smooth": 1}`,
	})
	if !resp.OK {
		t.Fatalf("validate failed: %s", resp.Error)
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got struct {
		Errors   []string `json:"errors"`
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"Value of JSON object binning_factor is too high. Maximum value is: 256, got: 300."}
	if diff := cmp.Diff(want, got.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"radius_smooth"}, got.Warnings); diff != "" {
		t.Fatalf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusReportsCapabilities(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)
	st := s.Status()
	if st.ID != "holoctl.test" || st.SchemaRows != 5 || st.BridgeConnected {
		t.Fatalf("unexpected status: %+v", st)
	}
	if diff := cmp.Diff(DefaultCapabilities(), st.Capabilities); diff != "" {
		t.Fatalf("capabilities mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"hub"}, st.EventSinks); diff != "" {
		t.Fatalf("sinks mismatch (-want +got):\n%s", diff)
	}
}

func TestControlEndpointRoundTrip(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serveListeners(ctx, ln, nil) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Errorf("service did not stop")
		}
	}()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)
	call := func(line string) ControlResponse {
		t.Helper()
		if _, err := io.WriteString(conn, line+"\n"); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		raw, err := reader.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var resp ControlResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		return resp
	}

	if resp := call("{broken"); resp.OK {
		t.Fatalf("malformed request should fail: %+v", resp)
	}
	if resp := call(`{"action":"` + strings.Repeat("x", maxControlLineBytes) + `"}`); resp.OK || resp.Error != ErrControlLineSize.Error() {
		t.Fatalf("oversized request should be rejected: ok=%v error=%q", resp.OK, resp.Error)
	}
	if control, httpAddr := s.Addrs(); control == nil || control.String() != ln.Addr().String() || httpAddr != nil {
		t.Fatalf("unexpected bound addrs: %v %v", control, httpAddr)
	}
	resp := call(`{"action":"RequestEvaluation","evaluation_type":"quick","resource_uris":[]}`)
	if !resp.OK {
		t.Fatalf("evaluation call failed: %s", resp.Error)
	}
	ack, _ := resp.Data.(map[string]any)
	if ack["trigger_result"] != float64(orchestrator.TriggerAccepted) {
		t.Fatalf("evaluation not accepted: %+v", ack)
	}

	ev := waitEvent(t, s)
	if ev.Kind != "evaluation" || ev.ServiceExecutionResult != events.ResultSuccess {
		t.Fatalf("unexpected event: %+v", ev)
	}
	resp = call(`{"action":"recent_events","limit":5}`)
	if list, _ := resp.Data.([]any); !resp.OK || len(list) != 1 {
		t.Fatalf("unexpected recent events: %+v", resp)
	}
	if resp = call(`{"action":"nope"}`); resp.OK {
		t.Fatalf("unknown action should fail")
	}
}

func TestHTTPSurface(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	get := func(path string) (int, map[string]any) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		defer resp.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}
	post := func(path, body string) (int, map[string]any) {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post %s: %v", path, err)
		}
		defer resp.Body.Close()
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	if code, body := get("/health"); code != http.StatusOK || body["service"] != "holoctl.test" {
		t.Fatalf("health: %d %+v", code, body)
	}
	if code, body := get("/ready"); code != http.StatusOK || body["ready"] != true {
		t.Fatalf("ready: %d %+v", code, body)
	}
	if code, _ := get("/events?limit=x"); code != http.StatusBadRequest {
		t.Fatalf("bad limit should be rejected, got %d", code)
	}

	code, body := post("/services/evaluation", `{"evaluation_type":"quick","resource_uris":"a.tiff"}`)
	if code != http.StatusOK || body["result_message"] != "Measurement URIs needs to be list of files" {
		t.Fatalf("evaluation shape: %d %+v", code, body)
	}
	code, body = post("/services/measurement", `{"configuration":7}`)
	if code != http.StatusOK || body["trigger_result"] != float64(orchestrator.TriggerRejected) {
		t.Fatalf("measurement shape: %d %+v", code, body)
	}
	code, body = post("/validate", `{"binning_factor": 16}`)
	if code != http.StatusOK || body["ok"] != true || body["summary"] != "Interface: Simulation finished! No Errors found." {
		t.Fatalf("validate: %d %+v", code, body)
	}
	if code, _ = post("/validate", `[1, 2]`); code != http.StatusBadRequest {
		t.Fatalf("non-object document should be rejected, got %d", code)
	}
}

func TestEventStreamPushesCompletions(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	want := events.CompletionEvent{TaskID: "t-1", Kind: "evaluation", Message: "Evaluation simulation successful."}
	if err := s.hub.Publish(context.Background(), want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got events.CompletionEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TaskID != want.TaskID || got.Message != want.Message {
		t.Fatalf("unexpected streamed event: %+v", got)
	}
}
