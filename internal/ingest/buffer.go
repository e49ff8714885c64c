package ingest

import (
	"sync"

	"github.com/echocast-labs/echocast/internal/engine"
)

// Buffer holds items the engine deferred under pressure until they can be
// replayed. Deferral is backpressure, not loss: everything added here is
// eventually offered to the engine again.
type Buffer struct {
	mu    sync.Mutex
	items []*engine.Item
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Add appends an item for later replay.
func (b *Buffer) Add(it *engine.Item) {
	b.mu.Lock()
	b.items = append(b.items, it)
	b.mu.Unlock()
}

// TakeBatch removes and returns up to n items in arrival order.
func (b *Buffer) TakeBatch(n int) []*engine.Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || len(b.items) == 0 {
		return nil
	}
	if n > len(b.items) {
		n = len(b.items)
	}
	batch := b.items[:n:n]
	b.items = b.items[n:]
	return batch
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
