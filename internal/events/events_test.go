package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/holoctl/internal/testutil/testlog"
)

type recordingPublisher struct {
	got []CompletionEvent
	err error
}

func (r *recordingPublisher) Publish(_ context.Context, ev CompletionEvent) error {
	r.got = append(r.got, ev)
	return r.err
}

func TestHubRecentIsBounded(t *testing.T) {
	testlog.Start(t)
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		_ = h.Publish(context.Background(), CompletionEvent{TaskID: string(rune('a' + i))})
	}
	recent := h.Recent(0)
	if len(recent) != 3 || recent[0].TaskID != "c" || recent[2].TaskID != "e" {
		t.Fatalf("unexpected recent window: %+v", recent)
	}
	if last := h.Recent(1); len(last) != 1 || last[0].TaskID != "e" {
		t.Fatalf("unexpected limited window: %+v", last)
	}
}

func TestHubSubscribeReceivesAndCancels(t *testing.T) {
	testlog.Start(t)
	h := NewHub(0)
	ch, cancel := h.Subscribe(1)
	_ = h.Publish(context.Background(), CompletionEvent{TaskID: "t1", Kind: "measurement"})
	select {
	case ev := <-ch:
		if ev.TaskID != "t1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber did not receive event")
	}

	// A full subscriber must not block publishing.
	_ = h.Publish(context.Background(), CompletionEvent{TaskID: "t2"})
	_ = h.Publish(context.Background(), CompletionEvent{TaskID: "t3"})

	cancel()
	cancel()
	if h.Subscribers() != 0 {
		t.Fatalf("subscriber not removed")
	}
}

func TestFanoutPublishesToAllSinks(t *testing.T) {
	testlog.Start(t)
	ok := &recordingPublisher{}
	broken := &recordingPublisher{err: errors.New("down")}
	f := NewFanout(Sink{Name: "broken", Publisher: broken}, Sink{Name: "ok", Publisher: ok}, Sink{Name: "nil"})
	err := f.Publish(context.Background(), CompletionEvent{TaskID: "t"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(ok.got) != 1 || len(broken.got) != 1 {
		t.Fatalf("every sink should see the event: ok=%d broken=%d", len(ok.got), len(broken.got))
	}
	if names := f.Sinks(); len(names) != 2 {
		t.Fatalf("nil publisher should be skipped: %v", names)
	}
}

func TestSubject(t *testing.T) {
	testlog.Start(t)
	if got := Subject("holo.events.", "measurement"); got != "holo.events.measurement" {
		t.Fatalf("unexpected subject: %q", got)
	}
	if got := Subject("", "evaluation"); got != DefaultSubjectPrefix+".evaluation" {
		t.Fatalf("unexpected default subject: %q", got)
	}
}

func TestConnectNATSRequiresURL(t *testing.T) {
	testlog.Start(t)
	if _, err := ConnectNATS(DefaultNATSConfig("")); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
