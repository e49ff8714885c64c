package engine

import (
	"log/slog"
	"sync"
)

// PlaybackQueue is one flow's bounded FIFO of synthesized audio. When full it
// evicts the oldest entry and removes its file before accepting the new one.
type PlaybackQueue struct {
	flow     Flow
	capacity int
	logger   *slog.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []*Audio
	closed   bool
}

func NewPlaybackQueue(flow Flow, capacity int, logger *slog.Logger) *PlaybackQueue {
	q := &PlaybackQueue{
		flow:     flow,
		capacity: capacity,
		logger:   logger.With(slog.String("flow", string(flow))),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *PlaybackQueue) Flow() Flow { return q.flow }

// Push appends audio to the tail, evicting the oldest entry with cleanup
// when the queue is at capacity. Pushes after Close are discarded with
// cleanup so no file leaks.
func (q *PlaybackQueue) Push(a *Audio) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cleanupAudio(a)
		return
	}
	for len(q.items) >= q.capacity {
		oldest := q.items[0]
		q.items = q.items[1:]
		q.logger.Warn("playback queue full, evicting oldest",
			slog.String("kind", oldest.Item.Kind),
			slog.String("path", oldest.Path))
		cleanupAudio(oldest)
	}
	q.items = append(q.items, a)
	q.notEmpty.Signal()
	q.mu.Unlock()
}

// Pop blocks until audio is available or the queue is closed.
func (q *PlaybackQueue) Pop() (*Audio, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return nil, false
		}
		q.notEmpty.Wait()
	}
	a := q.items[0]
	q.items = q.items[1:]
	return a, true
}

func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued entry and removes their files.
func (q *PlaybackQueue) Clear() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	for _, a := range items {
		cleanupAudio(a)
	}
}

// Close wakes all blocked consumers and clears the queue. Idempotent.
func (q *PlaybackQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	items := q.items
	q.items = nil
	q.notEmpty.Broadcast()
	q.mu.Unlock()
	for _, a := range items {
		cleanupAudio(a)
	}
}

// cleanupAudio removes the backing file of an owned audio. Only entries
// flagged Remove are deleted; passthrough references stay on disk.
func cleanupAudio(a *Audio) { a.Cleanup() }
