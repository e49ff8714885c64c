package engine

import (
	"os"
	"time"
)

// Flow identifies one of the independent playback pipelines.
type Flow string

const (
	FlowGlobal         Flow = "global"
	FlowAssistant      Flow = "assistant"
	FlowNarration      Flow = "narration"
	FlowLegacy         Flow = "legacy"
	FlowExternalRender Flow = "external_render"
)

// PriorityUnset marks an item whose priority should be derived from its kind
// via the configured mapping table.
const PriorityUnset = -1

// Item is one spoken or synthesizable unit moving through the engine.
type Item struct {
	ID           string
	Kind         string
	Text         string
	AudioRef     string
	SpeakerLabel string
	Backend      string
	Params       map[string]string
	FlowHint     Flow
	Priority     int
	Loop         bool

	// sequence is assigned at enqueue time and breaks priority ties so
	// equal-priority items stay FIFO.
	sequence uint64

	forwardAttempted bool
	enqueuedAt       time.Time
}

// Sequence reports the enqueue-time counter. Zero until the item has been
// accepted by the admission queue.
func (it *Item) Sequence() uint64 { return it.sequence }

// MarkForwardAttempted flags the item so the sync gateway never forwards it a
// second time, even if a caller resubmits it.
func (it *Item) MarkForwardAttempted() { it.forwardAttempted = true }

// ForwardAttempted reports whether the item has already been handed to the
// sync gateway once.
func (it *Item) ForwardAttempted() bool { return it.forwardAttempted }

// Audio is the output of a synthesis call, owned exclusively by whichever
// queue or gateway currently holds it.
type Audio struct {
	Path     string
	Duration time.Duration
	Flow     Flow
	Item     *Item

	// Remove marks the file for deletion after playback or eviction.
	Remove bool
}

// Silent reports whether the audio carries no playable file.
func (a *Audio) Silent() bool { return a == nil || a.Path == "" }

// Cleanup removes the backing file if this audio owns it.
func (a *Audio) Cleanup() {
	if a == nil || !a.Remove || a.Path == "" {
		return
	}
	_ = os.Remove(a.Path)
}
