package engine

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tempAudio(t *testing.T, name string) *Audio {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("riff"), 0o644); err != nil {
		t.Fatalf("write temp audio: %v", err)
	}
	return &Audio{Path: path, Item: &Item{Kind: name}, Remove: true}
}

func TestPlaybackQueueFIFO(t *testing.T) {
	q := NewPlaybackQueue(FlowGlobal, 4, testLogger())
	q.Push(&Audio{Path: "a", Item: &Item{Kind: "a"}})
	q.Push(&Audio{Path: "b", Item: &Item{Kind: "b"}})

	first, _ := q.Pop()
	second, _ := q.Pop()
	if first.Path != "a" || second.Path != "b" {
		t.Errorf("expected FIFO order, got %s then %s", first.Path, second.Path)
	}
}

func TestPlaybackQueueEvictsOldestWithCleanup(t *testing.T) {
	q := NewPlaybackQueue(FlowGlobal, 2, testLogger())
	oldest := tempAudio(t, "oldest.wav")
	q.Push(oldest)
	q.Push(tempAudio(t, "mid.wav"))
	q.Push(tempAudio(t, "new.wav"))

	if q.Len() != 2 {
		t.Fatalf("capacity invariant violated: len=%d", q.Len())
	}
	if _, err := os.Stat(oldest.Path); !os.IsNotExist(err) {
		t.Error("evicted audio file was not removed")
	}
	got, _ := q.Pop()
	if got.Item.Kind != "mid.wav" {
		t.Errorf("expected mid.wav at head after eviction, got %s", got.Item.Kind)
	}
}

func TestPlaybackQueuePopBlocksUntilPush(t *testing.T) {
	q := NewPlaybackQueue(FlowAssistant, 4, testLogger())
	done := make(chan *Audio, 1)
	go func() {
		a, _ := q.Pop()
		done <- a
	}()
	time.Sleep(20 * time.Millisecond)
	q.Push(&Audio{Path: "x", Item: &Item{}})

	select {
	case a := <-done:
		if a.Path != "x" {
			t.Errorf("unexpected audio %q", a.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake on push")
	}
}

func TestPlaybackQueueCloseWakesAndCleans(t *testing.T) {
	q := NewPlaybackQueue(FlowNarration, 4, testLogger())
	queued := tempAudio(t, "pending.wav")
	q.Push(queued)

	done := make(chan bool, 1)
	go func() {
		// First pop drains the queued entry, second blocks until close.
		q.Pop()
		_, ok := q.Pop()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("pop after close should report no item")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake blocked pop")
	}
}

func TestPushAfterCloseCleansFile(t *testing.T) {
	q := NewPlaybackQueue(FlowGlobal, 4, testLogger())
	q.Close()
	late := tempAudio(t, "late.wav")
	q.Push(late)
	if _, err := os.Stat(late.Path); !os.IsNotExist(err) {
		t.Error("audio pushed after close should be removed")
	}
}

func TestClearRemovesFiles(t *testing.T) {
	q := NewPlaybackQueue(FlowLegacy, 4, testLogger())
	a := tempAudio(t, "a.wav")
	b := tempAudio(t, "b.wav")
	q.Push(a)
	q.Push(b)
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("clear left %d entries", q.Len())
	}
	for _, path := range []string{a.Path, b.Path} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("cleared audio %s not removed", path)
		}
	}
}

func TestPassthroughAudioSurvivesCleanup(t *testing.T) {
	q := NewPlaybackQueue(FlowGlobal, 1, testLogger())
	keep := tempAudio(t, "keep.wav")
	keep.Remove = false
	q.Push(keep)
	q.Push(tempAudio(t, "next.wav"))

	if _, err := os.Stat(keep.Path); err != nil {
		t.Error("passthrough reference must not be deleted on eviction")
	}
}
