package ingest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/echocast-labs/echocast/internal/config"
	"github.com/echocast-labs/echocast/internal/engine"
	"github.com/echocast-labs/echocast/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBufferBatching(t *testing.T) {
	b := NewBuffer()
	for _, kind := range []string{"a", "b", "c"} {
		b.Add(&engine.Item{Kind: kind})
	}

	batch := b.TakeBatch(2)
	if len(batch) != 2 || batch[0].Kind != "a" || batch[1].Kind != "b" {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if b.Len() != 1 {
		t.Errorf("expected one left, got %d", b.Len())
	}
	if rest := b.TakeBatch(5); len(rest) != 1 || rest[0].Kind != "c" {
		t.Errorf("unexpected remainder %+v", rest)
	}
	if b.TakeBatch(3) != nil {
		t.Error("empty buffer should return nil batch")
	}
}

func TestToEngineItemDefaults(t *testing.T) {
	item := toEngineItem(protocol.InboundItem{Kind: "comment", Text: "hi"})
	if item.Priority != engine.PriorityUnset {
		t.Errorf("missing wire priority should map to unset, got %d", item.Priority)
	}

	p := 7
	item = toEngineItem(protocol.InboundItem{Kind: "comment", Text: "hi", Priority: &p, FlowHint: "narration"})
	if item.Priority != 7 {
		t.Errorf("explicit priority lost: %d", item.Priority)
	}
	if item.FlowHint != engine.FlowNarration {
		t.Errorf("flow hint lost: %v", item.FlowHint)
	}
}

func TestToEngineItemDefaultText(t *testing.T) {
	item := toEngineItem(protocol.InboundItem{Kind: "entrance", SpeakerLabel: "ada"})
	if item.Text != "Welcome ada to the stream" {
		t.Errorf("entrance template not applied: %q", item.Text)
	}

	item = toEngineItem(protocol.InboundItem{Kind: "gift"})
	if item.Text != "Thank you you for the gift" {
		t.Errorf("missing speaker label should use placeholder: %q", item.Text)
	}

	item = toEngineItem(protocol.InboundItem{Kind: "follow", Text: "custom"})
	if item.Text != "custom" {
		t.Errorf("explicit text must not be replaced: %q", item.Text)
	}

	item = toEngineItem(protocol.InboundItem{Kind: "entrance", AudioRef: "/tmp/x.wav"})
	if item.Text != "" {
		t.Errorf("audio ref item should not get templated text: %q", item.Text)
	}
}

type stubSubmitter struct {
	mu     sync.Mutex
	items  []*engine.Item
	status engine.SubmitStatus
}

func (s *stubSubmitter) Submit(item *engine.Item) (engine.SubmitStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return s.status, nil
}

func (s *stubSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func TestSchedulerSubmitsOnInterval(t *testing.T) {
	stub := &stubSubmitter{status: engine.SubmitAccepted}
	sched := NewScheduler(context.Background(), []config.ScheduleEntry{
		{Text: "welcome to the stream", IntervalMS: 30},
	}, stub, testLogger())
	sched.Start()
	defer sched.Close()

	deadline := time.After(2 * time.Second)
	for stub.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("scheduler never fired twice")
		case <-time.After(10 * time.Millisecond):
		}
	}

	stub.mu.Lock()
	first := stub.items[0]
	stub.mu.Unlock()
	if first.Kind != "schedule" || first.Text != "welcome to the stream" {
		t.Errorf("unexpected scheduled item %+v", first)
	}
}

func TestSchedulerCloseStopsSubmissions(t *testing.T) {
	stub := &stubSubmitter{status: engine.SubmitAccepted}
	sched := NewScheduler(context.Background(), []config.ScheduleEntry{
		{Text: "tick", IntervalMS: 20},
	}, stub, testLogger())
	sched.Start()
	time.Sleep(50 * time.Millisecond)
	sched.Close()

	settled := stub.count()
	time.Sleep(80 * time.Millisecond)
	if stub.count() != settled {
		t.Error("scheduler kept submitting after close")
	}
}
