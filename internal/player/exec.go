package player

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-shellwords"
)

// Exec plays audio by invoking an external command (aplay, ffplay, ...)
// with the file path appended as the final argument.
type Exec struct {
	cmd     []string
	logger  *slog.Logger
	playing atomic.Bool
}

func NewExec(command string, logger *slog.Logger) (*Exec, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command empty")
	}
	return &Exec{
		cmd:    args,
		logger: logger.With(slog.String("component", "exec-player")),
	}, nil
}

func (e *Exec) Play(ctx context.Context, path string) error {
	e.playing.Store(true)
	defer e.playing.Store(false)

	args := append(append([]string{}, e.cmd[1:]...), path)
	cmd := exec.CommandContext(ctx, e.cmd[0], args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("player command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (e *Exec) Idle() bool { return !e.playing.Load() }
