package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/holoctl/internal/configtree"
	"github.com/danmuck/holoctl/internal/testutil/testlog"
)

func TestReaderDropsMalformedFrameAndContinues(t *testing.T) {
	testlog.Start(t)
	in := "{\"a\":1}\nnot json at all\n{\"b\":2}{\"c\":3}\n"
	r := NewReader(strings.NewReader(in), DefaultLimits())

	first, err := r.Next()
	if err != nil || string(first) != `{"a":1}` {
		t.Fatalf("first frame: %s %v", first, err)
	}
	if _, err := r.Next(); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
	second, err := r.Next()
	if err != nil || string(second) != `{"b":2}` {
		t.Fatalf("frame after resync: %s %v", second, err)
	}
	third, err := r.Next()
	if err != nil || string(third) != `{"c":3}` {
		t.Fatalf("frame without separator: %s %v", third, err)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReaderFrameTooLarge(t *testing.T) {
	testlog.Start(t)
	r := NewReader(strings.NewReader(`{"payload":"0123456789"}`), Limits{MaxFrameBytes: 8})
	if _, err := r.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReaderRejectsOversizedFrameBeforeBufferingIt(t *testing.T) {
	testlog.Start(t)
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pr.Close() })
	go func() {
		// The writer blocks mid-frame until the reader drains the blob.
		_, _ = pw.Write([]byte(`{"blob":"` + strings.Repeat("x", 256*1024)))
		_, _ = pw.Write([]byte(`"}` + "\n" + `{"function_id":110}` + "\n"))
		_ = pw.Close()
	}()
	r := NewReader(pr, Limits{MaxFrameBytes: 1024})

	type result struct {
		raw json.RawMessage
		err error
	}
	next := func() result {
		done := make(chan result, 1)
		go func() {
			raw, err := r.Next()
			done <- result{raw, err}
		}()
		select {
		case res := <-done:
			return res
		case <-time.After(2 * time.Second):
			t.Fatalf("reader blocked on an oversized frame")
			return result{}
		}
	}

	if res := next(); !errors.Is(res.err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", res.err)
	}
	res := next()
	if res.err != nil {
		t.Fatalf("next after oversized frame: %v", res.err)
	}
	if id, ok := FunctionID(res.raw); !ok || id != FunctionMeasurementFinished {
		t.Fatalf("unexpected frame after resync: %s", res.raw)
	}
}

func TestWriteFrameAppendsNewline(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Greeting("holosim")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "}\n") {
		t.Fatalf("frame not newline terminated: %q", buf.String())
	}
	reply, err := DecodeReply(bytes.TrimSpace(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Command != CommandWelcome || reply.Code != CodeOK {
		t.Fatalf("unexpected greeting: %+v", reply)
	}
}

func TestStartAcquisitionMergesConfiguration(t *testing.T) {
	testlog.Start(t)
	extra, err := configtree.Parse([]byte(`{"use_holointerface": false, "function_id": 99, "settings": {"gain": 2}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	payload, err := json.Marshal(StartAcquisition{
		RequestID:      "req-1",
		FunctionID:     7,
		OutputMode:     "syn_phases_combined",
		FileMaskResult: "/out/a.tiff",
		Extra:          extra,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"command":"start_acquisition","request_id":"req-1","function_id":7,"output_mode":"syn_phases_combined","file_mask_result":"/out/a.tiff","use_holointerface":false,"settings":{"gain":2}}`
	if string(payload) != want {
		t.Fatalf("unexpected payload:\n got=%s\nwant=%s", payload, want)
	}
}

func TestFunctionID(t *testing.T) {
	testlog.Start(t)
	if id, ok := FunctionID([]byte(`{"function_id":110}`)); !ok || id != FunctionMeasurementFinished {
		t.Fatalf("unexpected function id: %d %v", id, ok)
	}
	if _, ok := FunctionID([]byte(`{"code":0}`)); ok {
		t.Fatalf("frame without function_id should not match")
	}
	if _, ok := FunctionID([]byte(`[110]`)); ok {
		t.Fatalf("non-object frame should not match")
	}
}
