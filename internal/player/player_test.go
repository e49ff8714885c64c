package player

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/echocast-labs/echocast/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTestWAV(t *testing.T, seconds float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	const rate = 8000
	samples := int(float64(rate) * seconds)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	return path
}

func TestWavDuration(t *testing.T) {
	path := writeTestWAV(t, 2.0)
	dur, err := WavDuration(path)
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if dur < 1900*time.Millisecond || dur > 2100*time.Millisecond {
		t.Errorf("expected ~2s, got %v", dur)
	}
}

func TestWavDurationRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	os.WriteFile(path, []byte("not audio"), 0o644)
	if _, err := WavDuration(path); err == nil {
		t.Fatal("expected error for non-wav file")
	}
}

func TestMockPlayerTracksState(t *testing.T) {
	m := NewMock(0)
	if !m.Idle() {
		t.Error("fresh mock should be idle")
	}
	if err := m.Play(context.Background(), "/tmp/x.wav"); err != nil {
		t.Fatalf("play: %v", err)
	}
	if m.Plays() != 1 {
		t.Errorf("expected 1 play, got %d", m.Plays())
	}
	if !m.Idle() {
		t.Error("mock should be idle after play returns")
	}
}

func TestMockPlayerHonorsCancellation(t *testing.T) {
	m := NewMock(5 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := m.Play(ctx, "/tmp/x.wav"); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not interrupt playback")
	}
}

func TestNewSelectsMode(t *testing.T) {
	cfg := config.Default().Player
	p, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new mock player: %v", err)
	}
	if _, ok := p.(*Mock); !ok {
		t.Errorf("expected *Mock, got %T", p)
	}

	cfg.Mode = "bogus"
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestExecPlayerRunsCommand(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	p, err := NewExec("touch", testLogger())
	if err != nil {
		t.Fatalf("new exec player: %v", err)
	}
	if err := p.Play(context.Background(), marker); err != nil {
		t.Fatalf("play: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Error("player command did not receive the path argument")
	}
}

func TestExecPlayerRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExec("", testLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
}
