package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/echocast-labs/echocast/internal/config"
)

// Synthesizer is the engine-facing slice of the TTS backend registry.
type Synthesizer interface {
	Synthesize(ctx context.Context, backendID, text string, params map[string]string) (SynthesisResult, error)
}

// SynthesisResult is the rendered output of one backend call.
type SynthesisResult struct {
	Path     string
	Duration time.Duration
}

// GatewaySink receives audio destined for the external renderer.
type GatewaySink interface {
	Submit(a *Audio)
}

// DurationProber reads the playable length of an existing audio file. Used
// for pre-rendered audio_ref items that bypass synthesis.
type DurationProber func(path string) (time.Duration, error)

// assistantKindPrefix tags items produced by the assistant anchor pipeline.
const assistantKindPrefix = "assistant_anchor_"

var narrationKinds = map[string]bool{
	"narration":         true,
	"copywriting":       true,
	"copywriting_audio": true,
}

// Dispatcher drains the admission queue, classifies each item into exactly
// one flow, applies that flow's pacing delay, synthesizes, and routes the
// result to the flow's playback queue or the sync gateway.
type Dispatcher struct {
	cfg       config.EngineConfig
	synthCfg  config.SynthesisConfig
	synth     Synthesizer
	gateway   GatewaySink
	queues    map[Flow]*PlaybackQueue
	pacing    map[Flow]*PacingTracker
	probe     DurationProber
	logger    *slog.Logger
	assistant map[string]bool
}

func NewDispatcher(
	cfg config.EngineConfig,
	synthCfg config.SynthesisConfig,
	synth Synthesizer,
	gateway GatewaySink,
	queues map[Flow]*PlaybackQueue,
	pacing map[Flow]*PacingTracker,
	probe DurationProber,
	logger *slog.Logger,
) *Dispatcher {
	assistant := make(map[string]bool, len(cfg.AssistantKinds))
	for _, k := range cfg.AssistantKinds {
		assistant[k] = true
	}
	return &Dispatcher{
		cfg:       cfg,
		synthCfg:  synthCfg,
		synth:     synth,
		gateway:   gateway,
		queues:    queues,
		pacing:    pacing,
		probe:     probe,
		logger:    logger.With(slog.String("component", "dispatcher")),
		assistant: assistant,
	}
}

// Classify resolves an item to exactly one flow. An explicit hint wins;
// otherwise external-render mode captures everything that is not assistant or
// narration tagged, then assistant and narration kinds, then global.
func (d *Dispatcher) Classify(item *Item) Flow {
	if item.FlowHint != "" {
		return item.FlowHint
	}
	assistant := d.isAssistant(item)
	narration := narrationKinds[item.Kind]
	if d.cfg.VisualBody == "external_render" && !assistant && !narration && item.AudioRef == "" {
		return FlowExternalRender
	}
	if assistant {
		return FlowAssistant
	}
	if narration {
		return FlowNarration
	}
	return FlowGlobal
}

func (d *Dispatcher) isAssistant(item *Item) bool {
	if strings.HasPrefix(item.Kind, assistantKindPrefix) {
		return true
	}
	return d.assistant[item.Kind]
}

// Dispatch processes one admitted item end to end. Backend failures are
// logged and the item is dropped; they never stop the caller's loop.
func (d *Dispatcher) Dispatch(ctx context.Context, item *Item) error {
	flow := d.Classify(item)
	logger := d.logger.With(
		slog.String("kind", item.Kind),
		slog.String("flow", string(flow)),
		slog.Int("priority", item.Priority),
	)

	tracker := d.pacing[d.pacingFlow(flow)]
	if tracker != nil {
		if err := tracker.Wait(ctx); err != nil {
			return err
		}
	}

	outputs, err := d.render(ctx, item, flow)
	if err != nil {
		logger.Error("synthesis failed, dropping item", slogError(err))
		return err
	}

	for _, audio := range outputs {
		if flow == FlowExternalRender {
			d.gateway.Submit(audio)
			continue
		}
		d.queues[d.queueFlow(flow)].Push(audio)
	}

	if tracker != nil {
		tracker.Record(item.Text)
	}
	logger.Debug("item dispatched", slog.Int("segments", len(outputs)))
	return nil
}

// pacingFlow maps the external-render flow onto the assistant tracker: both
// ultimately voice through the assistant channel.
func (d *Dispatcher) pacingFlow(flow Flow) Flow {
	if flow == FlowExternalRender {
		return FlowAssistant
	}
	return flow
}

// queueFlow resolves the playback queue a non-gateway flow lands on.
func (d *Dispatcher) queueFlow(flow Flow) Flow {
	if flow == FlowExternalRender {
		return FlowAssistant
	}
	return flow
}

// render produces the audio segments for an item. Pre-rendered audio_ref
// items bypass synthesis entirely; otherwise the text is optionally split
// into sentence fragments and each fragment synthesized in order.
func (d *Dispatcher) render(ctx context.Context, item *Item, flow Flow) ([]*Audio, error) {
	if item.AudioRef != "" {
		dur := time.Duration(0)
		if d.probe != nil {
			if probed, err := d.probe(item.AudioRef); err == nil {
				dur = probed
			}
		}
		return []*Audio{{
			Path:     item.AudioRef,
			Duration: dur,
			Flow:     flow,
			Item:     item,
			Remove:   false,
		}}, nil
	}

	backendID, params := d.resolveBackend(item, flow)
	segments := []string{item.Text}
	if d.cfg.TextSplit && flow != FlowNarration {
		segments = SplitText(item.Text)
	}

	outputs := make([]*Audio, 0, len(segments))
	for _, segment := range segments {
		result, err := d.synth.Synthesize(ctx, backendID, segment, params)
		if err != nil {
			for _, a := range outputs {
				cleanupAudio(a)
			}
			return nil, err
		}
		outputs = append(outputs, &Audio{
			Path:     result.Path,
			Duration: result.Duration,
			Flow:     flow,
			Item:     item,
			Remove:   result.Path != "",
		})
	}
	return outputs, nil
}

// resolveBackend picks the backend id and parameter bag for an item. The
// assistant flow's configured backend and params are merged over the item's
// own, item params winning only where the assistant overrides are silent.
func (d *Dispatcher) resolveBackend(item *Item, flow Flow) (string, map[string]string) {
	backendID := item.Backend
	if backendID == "" {
		backendID = d.synthCfg.DefaultBackend
	}
	params := make(map[string]string, len(item.Params)+2)
	if base, ok := d.synthCfg.Backends[backendID]; ok {
		for k, v := range base {
			params[k] = v
		}
	}
	for k, v := range item.Params {
		params[k] = v
	}

	if flow == FlowAssistant || flow == FlowExternalRender {
		if d.synthCfg.AssistantBackend != "" {
			backendID = d.synthCfg.AssistantBackend
		}
		for k, v := range d.synthCfg.AssistantParams {
			params[k] = v
		}
	}

	if _, ok := params["language"]; !ok && d.synthCfg.Language != "" {
		params["language"] = d.synthCfg.Language
	}
	return backendID, params
}
