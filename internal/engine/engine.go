package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/echocast-labs/echocast/internal/config"
)

// FlowAdmission addresses the inbound admission queue in the pressure and
// depth query APIs.
const FlowAdmission Flow = "admission"

// Player plays one audio file to completion. Implementations must be safe to
// call from a single consumer goroutine.
type Player interface {
	Play(ctx context.Context, path string) error
	Idle() bool
}

// Journal records item lifecycle events. Nil-safe from the engine's side;
// a nil journal disables recording.
type Journal interface {
	Append(ctx context.Context, stream, event string, payload any) error
}

// SubmitStatus is the synchronous answer to a Submit call.
type SubmitStatus int

const (
	SubmitAccepted SubmitStatus = iota
	SubmitDeferred
	SubmitDropped
)

func (s SubmitStatus) String() string {
	switch s {
	case SubmitAccepted:
		return "accepted"
	case SubmitDeferred:
		return "deferred"
	case SubmitDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Options carries the engine's collaborators.
type Options struct {
	Config    config.EngineConfig
	Synthesis config.SynthesisConfig
	Synth     Synthesizer
	Gateway   GatewaySink
	Players   map[Flow]Player
	Probe     DurationProber
	Journal   Journal
	Played    func(*Item)
	Logger    *slog.Logger
}

// Engine owns the admission queue, the per-flow playback queues and their
// consumers, and the dispatcher between them. Constructed once, torn down by
// Shutdown.
type Engine struct {
	cfg        config.EngineConfig
	logger     *slog.Logger
	admission  *AdmissionQueue
	queues     map[Flow]*PlaybackQueue
	pacing     map[Flow]*PacingTracker
	dispatcher *Dispatcher
	players    map[Flow]Player
	journal    Journal
	played     func(*Item)
	counter    metric.Int64Counter

	narrationPaused atomic.Bool
	narrationLoop   atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
}

// playbackFlows are the flows that own a queue and a consumer. The
// external-render flow voices through the assistant queue after the gateway.
var playbackFlows = []Flow{FlowGlobal, FlowAssistant, FlowNarration, FlowLegacy}

func New(opts Options) *Engine {
	logger := opts.Logger.With(slog.String("component", "engine"))

	queues := make(map[Flow]*PlaybackQueue, len(playbackFlows))
	for _, flow := range playbackFlows {
		capacity := opts.Config.FlowCapacity
		if flow == FlowNarration {
			capacity = opts.Config.NarrationCapacity
		}
		queues[flow] = NewPlaybackQueue(flow, capacity, opts.Logger)
	}

	globalDelay := time.Duration(opts.Config.GlobalCharDelayMS) * time.Millisecond
	assistDelay := time.Duration(opts.Config.AssistCharDelayMS) * time.Millisecond
	pacing := map[Flow]*PacingTracker{
		FlowGlobal:    NewPacingTracker(globalDelay),
		FlowAssistant: NewPacingTracker(assistDelay),
		FlowNarration: NewPacingTracker(globalDelay),
		FlowLegacy:    NewPacingTracker(globalDelay),
	}

	e := &Engine{
		cfg:       opts.Config,
		logger:    logger,
		admission: NewAdmissionQueue(opts.Config.AdmissionCapacity, opts.Config.PressureLow, opts.Config.PressureMedium),
		queues:    queues,
		pacing:    pacing,
		players:   opts.Players,
		journal:   opts.Journal,
		played:    opts.Played,
	}
	e.narrationLoop.Store(opts.Config.LoopNarration)
	e.dispatcher = NewDispatcher(
		opts.Config, opts.Synthesis, opts.Synth, opts.Gateway,
		queues, pacing, opts.Probe, opts.Logger,
	)
	return e
}

// Start spawns the dispatch worker and one consumer per playback flow.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.dispatchLoop()

	for _, flow := range playbackFlows {
		e.wg.Add(1)
		go e.consumeLoop(e.queues[flow])
	}
	e.logger.Info("engine started",
		slog.Int("admission_capacity", e.cfg.AdmissionCapacity),
		slog.Int("flows", len(playbackFlows)))
}

// Submit offers an inbound item under the admission policy. Items missing
// both text and an audio reference are rejected with ErrInvalidItem. A
// deferred status means the caller should buffer and replay the item later.
func (e *Engine) Submit(item *Item) (SubmitStatus, error) {
	if e.closed.Load() {
		return SubmitDropped, ErrShutdown
	}
	if item.Text == "" && item.AudioRef == "" {
		return SubmitDropped, ErrInvalidItem
	}
	if item.Priority == PriorityUnset {
		item.Priority = e.ResolvePriority(item.Kind)
	}

	result, pressure, err := e.admission.Offer(item)
	if err != nil {
		e.record(item, "dropped", map[string]any{"reason": err.Error()})
		return SubmitDropped, err
	}

	switch result.Outcome {
	case Deferred:
		e.record(item, "deferred", map[string]any{"pressure": pressure.String()})
		return SubmitDeferred, nil
	case Evicted:
		e.logger.Info("admission displaced lowest-priority item",
			slog.String("evicted_kind", result.Evicted.Kind),
			slog.Int("evicted_priority", result.Evicted.Priority),
			slog.String("kind", item.Kind))
		e.record(result.Evicted, "evicted", map[string]any{"displaced_by": item.Kind})
		return SubmitAccepted, nil
	default:
		e.record(item, "admitted", map[string]any{
			"pressure": pressure.String(),
			"priority": item.Priority,
		})
		return SubmitAccepted, nil
	}
}

// ResolvePriority maps a kind to its configured priority, defaulting to 5
// for unmapped kinds.
func (e *Engine) ResolvePriority(kind string) int {
	if p, ok := e.cfg.PriorityMapping[kind]; ok {
		return p
	}
	return 5
}

// QueueDepth reports the current depth of a flow's queue. FlowAdmission
// addresses the inbound queue.
func (e *Engine) QueueDepth(flow Flow) int {
	if flow == FlowAdmission {
		return e.admission.Len()
	}
	if q, ok := e.queues[flow]; ok {
		return q.Len()
	}
	return 0
}

// QueuePressure classifies a flow's depth against the engine's pressure
// thresholds.
func (e *Engine) QueuePressure(flow Flow) Pressure {
	if flow == FlowAdmission {
		return e.admission.Pressure()
	}
	return classifyPressure(e.QueueDepth(flow), e.cfg.PressureLow, e.cfg.PressureMedium)
}

// Release hands externally held audio to a flow's playback queue. The sync
// gateway uses it to return forwarded audio to the assistant flow.
func (e *Engine) Release(flow Flow, a *Audio) {
	q, ok := e.queues[flow]
	if !ok {
		e.logger.Warn("release to unknown flow", slog.String("flow", string(flow)))
		cleanupAudio(a)
		return
	}
	q.Push(a)
}

// PauseNarration holds the narration consumer before its next pop.
func (e *Engine) PauseNarration() { e.narrationPaused.Store(true) }

// ResumeNarration releases a paused narration consumer.
func (e *Engine) ResumeNarration() { e.narrationPaused.Store(false) }

// SetNarrationLoop toggles replay mode: finished narration audio is pushed
// back to its own tail instead of being discarded.
func (e *Engine) SetNarrationLoop(on bool) { e.narrationLoop.Store(on) }

func (e *Engine) dispatchLoop() {
	defer e.wg.Done()
	timeout := time.Duration(e.cfg.DequeueTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	for {
		item, ok := e.admission.Dequeue(timeout)
		if !ok {
			select {
			case <-e.ctx.Done():
				return
			default:
				continue
			}
		}
		if err := e.dispatcher.Dispatch(e.ctx, item); err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.record(item, "dropped", map[string]any{"reason": err.Error()})
			continue
		}
		e.record(item, "dispatched", map[string]any{
			"queue_wait_ms": time.Since(item.enqueuedAt).Milliseconds(),
		})
	}
}

func (e *Engine) consumeLoop(q *PlaybackQueue) {
	defer e.wg.Done()
	player := e.players[q.Flow()]
	for {
		if q.Flow() == FlowAssistant && player != nil {
			if !e.waitPlayerIdle(player) {
				return
			}
		}
		if q.Flow() == FlowNarration {
			if !e.waitNarrationResumed() {
				return
			}
		}

		audio, ok := q.Pop()
		if !ok {
			return
		}
		e.playOne(q, player, audio)
	}
}

func (e *Engine) playOne(q *PlaybackQueue, player Player, audio *Audio) {
	if !audio.Silent() && player != nil {
		if err := player.Play(e.ctx, audio.Path); err != nil {
			if e.ctx.Err() == nil {
				e.logger.Error("playback failed",
					slog.String("flow", string(q.Flow())),
					slog.String("path", audio.Path),
					slogError(err))
			}
			cleanupAudio(audio)
			return
		}
		e.record(audio.Item, "played", map[string]any{
			"flow":        string(q.Flow()),
			"duration_ms": audio.Duration.Milliseconds(),
		})
		if e.played != nil {
			e.played(audio.Item)
		}
	}

	// Silent audio never loops: re-pushing an entry with nothing to play
	// would spin the consumer.
	if q.Flow() == FlowNarration && !audio.Silent() && (e.narrationLoop.Load() || audio.Item.Loop) {
		q.Push(audio)
		return
	}
	cleanupAudio(audio)
}

// waitPlayerIdle polls until the assistant device finishes its current
// clip, so assistant speech never overlaps itself.
func (e *Engine) waitPlayerIdle(player Player) bool {
	for !player.Idle() {
		select {
		case <-e.ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return true
}

func (e *Engine) waitNarrationResumed() bool {
	for e.narrationPaused.Load() {
		select {
		case <-e.ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return true
}

func (e *Engine) record(item *Item, event string, payload map[string]any) {
	e.count(event)
	if e.journal == nil || item == nil {
		return
	}
	stream := item.ID
	if stream == "" {
		stream = item.Kind
	}
	if err := e.journal.Append(context.Background(), stream, event, payload); err != nil {
		e.logger.Warn("journal append failed", slog.String("event", event), slogError(err))
	}
}

// Healthy reports whether the engine is accepting work.
func (e *Engine) Healthy() bool { return !e.closed.Load() }

// Shutdown stops every worker, wakes all blocked waiters and clears every
// queue with file cleanup. Idempotent and safe from any goroutine.
func (e *Engine) Shutdown() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		if e.cancel != nil {
			e.cancel()
		}
		e.admission.Close()
		for _, it := range e.admission.Drain() {
			e.record(it, "discarded", map[string]any{"reason": "shutdown"})
		}
		for _, q := range e.queues {
			q.Close()
		}
		e.wg.Wait()
		e.logger.Info("engine stopped")
	})
}
