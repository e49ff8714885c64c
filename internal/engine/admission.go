package engine

import (
	"container/heap"
	"sync"
	"time"
)

// Pressure classifies the admission queue's load for the surrounding
// admission-control layer.
type Pressure int

const (
	PressureLow Pressure = iota
	PressureMedium
	PressureHigh
)

func (p Pressure) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	default:
		return "unknown"
	}
}

// EnqueueOutcome reports what happened to an item offered to the queue.
type EnqueueOutcome int

const (
	Accepted EnqueueOutcome = iota
	Dropped
	Evicted
	Deferred
)

// EnqueueResult carries the outcome plus the displaced item when a forced
// insert evicted a resident.
type EnqueueResult struct {
	Outcome EnqueueOutcome
	Evicted *Item
}

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

// Less orders by (-priority, sequence): higher priority first, FIFO among
// equals.
func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].sequence < h[j].sequence
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// AdmissionQueue is the single bounded inbound priority queue. One mutex and
// one condition variable guard the heap; Enqueue signals one waiter.
type AdmissionQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	items    itemHeap
	capacity int
	low      int
	medium   int
	nextSeq  uint64
	closed   bool
}

func NewAdmissionQueue(capacity, low, medium int) *AdmissionQueue {
	q := &AdmissionQueue{
		capacity: capacity,
		low:      low,
		medium:   medium,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue offers an item. When the queue is full the item is dropped unless
// force is set, in which case the lowest-priority resident is evicted
// unconditionally to make room. The evicted item is returned to the caller
// for cleanup.
func (q *AdmissionQueue) Enqueue(item *Item, force bool) (EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return EnqueueResult{Outcome: Dropped}, ErrShutdown
	}

	var evicted *Item
	if len(q.items) >= q.capacity {
		if !force {
			return EnqueueResult{Outcome: Dropped}, ErrQueueFull
		}
		idx := q.lowestPriorityIndex()
		if idx < 0 {
			return EnqueueResult{Outcome: Dropped}, ErrQueueFull
		}
		evicted = q.items[idx]
		heap.Remove(&q.items, idx)
	}

	q.insert(item)

	if evicted != nil {
		return EnqueueResult{Outcome: Evicted, Evicted: evicted}, nil
	}
	return EnqueueResult{Outcome: Accepted}, nil
}

// lowestPriorityIndex scans for the resident with the lowest priority,
// preferring the most recently enqueued among equals so older items keep
// their place. Callers hold the lock.
func (q *AdmissionQueue) lowestPriorityIndex() int {
	idx := -1
	for i, it := range q.items {
		if idx < 0 {
			idx = i
			continue
		}
		worst := q.items[idx]
		if it.Priority < worst.Priority ||
			(it.Priority == worst.Priority && it.sequence > worst.sequence) {
			idx = i
		}
	}
	return idx
}

// Offer admits an item under the tri-level pressure policy in one atomic
// step. Low pressure admits outright. Medium pressure admits only when a
// resident item has strictly lower priority than the incoming one, checked
// against the heap's actual minimum, displacing the lowest-priority resident
// if the queue is full. High pressure defers unconditionally; deferred items
// belong to the caller for external buffering, never silent discard.
func (q *AdmissionQueue) Offer(item *Item) (EnqueueResult, Pressure, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return EnqueueResult{Outcome: Dropped}, PressureHigh, ErrShutdown
	}

	pressure := classifyPressure(len(q.items), q.low, q.medium)
	switch pressure {
	case PressureHigh:
		return EnqueueResult{Outcome: Deferred}, pressure, nil
	case PressureMedium:
		idx := q.lowestPriorityIndex()
		if idx < 0 || q.items[idx].Priority >= item.Priority {
			return EnqueueResult{Outcome: Deferred}, pressure, nil
		}
		var evicted *Item
		if len(q.items) >= q.capacity {
			evicted = q.items[idx]
			heap.Remove(&q.items, idx)
		}
		q.insert(item)
		if evicted != nil {
			return EnqueueResult{Outcome: Evicted, Evicted: evicted}, pressure, nil
		}
		return EnqueueResult{Outcome: Accepted}, pressure, nil
	default:
		if len(q.items) >= q.capacity {
			return EnqueueResult{Outcome: Dropped}, pressure, ErrQueueFull
		}
		q.insert(item)
		return EnqueueResult{Outcome: Accepted}, pressure, nil
	}
}

// insert assigns the next sequence and pushes onto the heap. Callers hold
// the lock.
func (q *AdmissionQueue) insert(item *Item) {
	q.nextSeq++
	item.sequence = q.nextSeq
	item.enqueuedAt = time.Now()
	heap.Push(&q.items, item)
	q.notEmpty.Signal()
}

// Dequeue pops the highest-priority item, blocking up to timeout for one to
// arrive. A negative timeout blocks until an item arrives or the queue is
// closed. Returns false on timeout or close.
func (q *AdmissionQueue) Dequeue(timeout time.Duration) (*Item, bool) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return nil, false
		}
		var wake *time.Timer
		if timeout >= 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, false
			}
			wake = time.AfterFunc(remaining, q.notEmpty.Broadcast)
		}
		q.notEmpty.Wait()
		if wake != nil {
			wake.Stop()
		}
	}

	return heap.Pop(&q.items).(*Item), true
}

// Len reports the current depth.
func (q *AdmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// MinPriority returns the lowest priority currently resident. The second
// return is false when the queue is empty.
func (q *AdmissionQueue) MinPriority() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.lowestPriorityIndex()
	if idx < 0 {
		return 0, false
	}
	return q.items[idx].Priority, true
}

// Pressure classifies the current depth against the low and medium
// thresholds.
func (q *AdmissionQueue) Pressure() Pressure {
	q.mu.Lock()
	defer q.mu.Unlock()
	return classifyPressure(len(q.items), q.low, q.medium)
}

func classifyPressure(length, low, medium int) Pressure {
	switch {
	case length < low:
		return PressureLow
	case length <= medium:
		return PressureMedium
	default:
		return PressureHigh
	}
}

// Drain removes and returns all resident items in priority order.
func (q *AdmissionQueue) Drain() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Item, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(*Item))
	}
	return out
}

// Close marks the queue closed and wakes every waiter. Idempotent.
func (q *AdmissionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
}
