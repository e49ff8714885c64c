package engine

import (
	"context"
	"time"
	"unicode/utf8"
)

// PacingTracker spaces out consecutive items on one flow proportionally to
// the voiced length of the previous item, so a burst of short lines does not
// come out machine-gun style.
type PacingTracker struct {
	perChar time.Duration

	lastMark  time.Time
	lastDelay time.Duration
}

// NewPacingTracker builds a tracker charging perChar of delay for every rune
// of dispatched text.
func NewPacingTracker(perChar time.Duration) *PacingTracker {
	return &PacingTracker{perChar: perChar}
}

// Wait blocks until the delay implied by the previously recorded item has
// elapsed, measured from the moment it was recorded. Returns early with the
// context's error on cancellation. Trackers are confined to their flow's
// dispatch path, so no lock is taken.
func (p *PacingTracker) Wait(ctx context.Context) error {
	if p.lastDelay <= 0 {
		return ctx.Err()
	}
	remaining := p.lastDelay - time.Since(p.lastMark)
	if remaining <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record notes that text was just dispatched, charging the delay the next
// item on this flow must respect.
func (p *PacingTracker) Record(text string) {
	p.lastMark = time.Now()
	p.lastDelay = time.Duration(utf8.RuneCountInString(text)) * p.perChar
}

// PendingDelay reports how much of the recorded delay is still outstanding.
func (p *PacingTracker) PendingDelay() time.Duration {
	if p.lastDelay <= 0 {
		return 0
	}
	remaining := p.lastDelay - time.Since(p.lastMark)
	if remaining < 0 {
		return 0
	}
	return remaining
}
