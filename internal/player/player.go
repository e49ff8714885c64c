// Package player plays rendered audio files through a configurable output:
// a real device, an external command, or a silent mock.
package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/echocast-labs/echocast/internal/config"
)

// Player plays one audio file to completion.
type Player interface {
	Play(ctx context.Context, path string) error
	Idle() bool
}

// New builds the player selected by cfg.Mode.
func New(cfg config.PlayerConfig, logger *slog.Logger) (Player, error) {
	switch cfg.Mode {
	case "mock":
		return NewMock(0), nil
	case "exec":
		return NewExec(cfg.Command, logger)
	case "device":
		return NewDevice(cfg.SampleRate, cfg.Channels, logger)
	default:
		return nil, fmt.Errorf("unknown player mode %q", cfg.Mode)
	}
}

// Mock is a no-device player that optionally simulates playback time. Safe
// for concurrent use.
type Mock struct {
	delay   time.Duration
	playing atomic.Bool
	plays   atomic.Int64
}

func NewMock(delay time.Duration) *Mock {
	return &Mock{delay: delay}
}

func (m *Mock) Play(ctx context.Context, path string) error {
	m.playing.Store(true)
	defer m.playing.Store(false)
	m.plays.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Mock) Idle() bool { return !m.playing.Load() }

// Plays reports how many files have been played.
func (m *Mock) Plays() int64 { return m.plays.Load() }
