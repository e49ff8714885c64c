package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/echocast-labs/echocast/internal/config"
	"github.com/echocast-labs/echocast/internal/engine"
)

// Submitter is the slice of the engine the scheduler needs.
type Submitter interface {
	Submit(item *engine.Item) (engine.SubmitStatus, error)
}

// Scheduler submits recurring announcements on fixed intervals. Announced
// items carry the low-priority "schedule" kind, so live chat always wins.
type Scheduler struct {
	entries []config.ScheduleEntry
	eng     Submitter
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(parent context.Context, entries []config.ScheduleEntry, eng Submitter, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		entries: entries,
		eng:     eng,
		logger:  logger.With(slog.String("component", "scheduler")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) Start() {
	for _, entry := range s.entries {
		s.wg.Add(1)
		go s.run(entry)
	}
	if len(s.entries) > 0 {
		s.logger.Info("scheduler started", slog.Int("entries", len(s.entries)))
	}
}

func (s *Scheduler) run(entry config.ScheduleEntry) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(entry.IntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		item := &engine.Item{
			Kind:     "schedule",
			Text:     entry.Text,
			Priority: engine.PriorityUnset,
		}
		status, err := s.eng.Submit(item)
		if err != nil {
			s.logger.Debug("scheduled announcement rejected", slogError(err))
			continue
		}
		if status != engine.SubmitAccepted {
			// Announcements are periodic; a deferred one is simply skipped
			// rather than buffered.
			s.logger.Debug("scheduled announcement skipped",
				slog.String("status", status.String()))
		}
	}
}

func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}
