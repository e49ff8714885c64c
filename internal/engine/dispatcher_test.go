package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/echocast-labs/echocast/internal/config"
)

type fakeSynth struct {
	calls []synthCall
	fail  bool
}

type synthCall struct {
	backend string
	text    string
	params  map[string]string
}

func (f *fakeSynth) Synthesize(_ context.Context, backendID, text string, params map[string]string) (SynthesisResult, error) {
	f.calls = append(f.calls, synthCall{backend: backendID, text: text, params: params})
	if f.fail {
		return SynthesisResult{}, &BackendError{Backend: backendID, Err: errors.New("boom")}
	}
	return SynthesisResult{Path: "", Duration: time.Second}, nil
}

type fakeGateway struct {
	received []*Audio
}

func (f *fakeGateway) Submit(a *Audio) { f.received = append(f.received, a) }

func testEngineConfig() config.EngineConfig {
	cfg := config.Default().Engine
	cfg.GlobalCharDelayMS = 0
	cfg.AssistCharDelayMS = 0
	return cfg
}

func newTestDispatcher(cfg config.EngineConfig, synthCfg config.SynthesisConfig, s Synthesizer, gw GatewaySink) (*Dispatcher, map[Flow]*PlaybackQueue) {
	queues := map[Flow]*PlaybackQueue{
		FlowGlobal:    NewPlaybackQueue(FlowGlobal, 10, testLogger()),
		FlowAssistant: NewPlaybackQueue(FlowAssistant, 10, testLogger()),
		FlowNarration: NewPlaybackQueue(FlowNarration, 10, testLogger()),
		FlowLegacy:    NewPlaybackQueue(FlowLegacy, 10, testLogger()),
	}
	pacing := map[Flow]*PacingTracker{
		FlowGlobal:    NewPacingTracker(0),
		FlowAssistant: NewPacingTracker(0),
		FlowNarration: NewPacingTracker(0),
		FlowLegacy:    NewPacingTracker(0),
	}
	d := NewDispatcher(cfg, synthCfg, s, gw, queues, pacing, nil, testLogger())
	return d, queues
}

func TestClassifyFlowHintWins(t *testing.T) {
	d, _ := newTestDispatcher(testEngineConfig(), config.Default().Synthesis, &fakeSynth{}, &fakeGateway{})
	it := &Item{Kind: "comment", FlowHint: FlowNarration}
	if got := d.Classify(it); got != FlowNarration {
		t.Errorf("hint should win, got %v", got)
	}
}

func TestClassifyAssistantKinds(t *testing.T) {
	d, _ := newTestDispatcher(testEngineConfig(), config.Default().Synthesis, &fakeSynth{}, &fakeGateway{})

	cases := map[string]Flow{
		"gift":                   FlowAssistant,
		"read_comment":           FlowAssistant,
		"assistant_anchor_reply": FlowAssistant,
		"narration":              FlowNarration,
		"copywriting":            FlowNarration,
		"comment":                FlowGlobal,
		"talk":                   FlowGlobal,
	}
	for kind, want := range cases {
		if got := d.Classify(&Item{Kind: kind}); got != want {
			t.Errorf("kind %s: got %v, want %v", kind, got, want)
		}
	}
}

func TestClassifyExternalRenderMode(t *testing.T) {
	cfg := testEngineConfig()
	cfg.VisualBody = "external_render"
	d, _ := newTestDispatcher(cfg, config.Default().Synthesis, &fakeSynth{}, &fakeGateway{})

	if got := d.Classify(&Item{Kind: "comment", Text: "hi"}); got != FlowExternalRender {
		t.Errorf("plain kind should route external under render mode, got %v", got)
	}
	if got := d.Classify(&Item{Kind: "gift"}); got != FlowAssistant {
		t.Errorf("assistant kinds stay local under render mode, got %v", got)
	}
	if got := d.Classify(&Item{Kind: "narration"}); got != FlowNarration {
		t.Errorf("narration stays local under render mode, got %v", got)
	}
	if got := d.Classify(&Item{Kind: "comment", AudioRef: "/tmp/x.wav"}); got != FlowGlobal {
		t.Errorf("pre-rendered audio bypasses the renderer, got %v", got)
	}
}

func TestDispatchRoutesToMatchingQueue(t *testing.T) {
	synth := &fakeSynth{}
	d, queues := newTestDispatcher(testEngineConfig(), config.Default().Synthesis, synth, &fakeGateway{})

	if err := d.Dispatch(context.Background(), &Item{Kind: "comment", Text: "hello"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if queues[FlowGlobal].Len() != 1 {
		t.Errorf("expected one global entry, got %d", queues[FlowGlobal].Len())
	}
}

func TestDispatchExternalRenderGoesToGateway(t *testing.T) {
	cfg := testEngineConfig()
	cfg.VisualBody = "external_render"
	cfg.TextSplit = false
	gw := &fakeGateway{}
	d, queues := newTestDispatcher(cfg, config.Default().Synthesis, &fakeSynth{}, gw)

	if err := d.Dispatch(context.Background(), &Item{Kind: "comment", Text: "hi"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(gw.received) != 1 {
		t.Fatalf("expected gateway submission, got %d", len(gw.received))
	}
	if queues[FlowAssistant].Len() != 0 {
		t.Error("external-render audio must not bypass the gateway")
	}
}

func TestDispatchAssistantBackendOverride(t *testing.T) {
	synthCfg := config.Default().Synthesis
	synthCfg.DefaultBackend = "edge"
	synthCfg.AssistantBackend = "gpt_sovits"
	synthCfg.AssistantParams = map[string]string{"voice": "anchor"}
	synth := &fakeSynth{}
	d, _ := newTestDispatcher(testEngineConfig(), synthCfg, synth, &fakeGateway{})

	if err := d.Dispatch(context.Background(), &Item{Kind: "gift", Text: "thanks"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(synth.calls) == 0 {
		t.Fatal("no synthesis call recorded")
	}
	call := synth.calls[0]
	if call.backend != "gpt_sovits" {
		t.Errorf("assistant flow should use assistant backend, got %q", call.backend)
	}
	if call.params["voice"] != "anchor" {
		t.Errorf("assistant params not merged: %v", call.params)
	}
}

func TestDispatchSplitsTextIntoFragments(t *testing.T) {
	cfg := testEngineConfig()
	cfg.TextSplit = true
	synth := &fakeSynth{}
	d, queues := newTestDispatcher(cfg, config.Default().Synthesis, synth, &fakeGateway{})

	if err := d.Dispatch(context.Background(), &Item{Kind: "comment", Text: "one. two. three."}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(synth.calls) != 3 {
		t.Errorf("expected 3 fragment calls, got %d", len(synth.calls))
	}
	if queues[FlowGlobal].Len() != 3 {
		t.Errorf("expected 3 queued segments, got %d", queues[FlowGlobal].Len())
	}
}

func TestDispatchBackendFailureDropsItem(t *testing.T) {
	synth := &fakeSynth{fail: true}
	d, queues := newTestDispatcher(testEngineConfig(), config.Default().Synthesis, synth, &fakeGateway{})

	err := d.Dispatch(context.Background(), &Item{Kind: "comment", Text: "hello"})
	if err == nil {
		t.Fatal("expected backend failure")
	}
	var be *BackendError
	if !errors.As(err, &be) {
		t.Errorf("expected BackendError, got %T", err)
	}
	for _, q := range queues {
		if q.Len() != 0 {
			t.Errorf("failed synthesis must queue nothing, %s has %d", q.Flow(), q.Len())
		}
	}
}

func TestDispatchAudioRefBypassesSynthesis(t *testing.T) {
	synth := &fakeSynth{}
	d, queues := newTestDispatcher(testEngineConfig(), config.Default().Synthesis, synth, &fakeGateway{})

	if err := d.Dispatch(context.Background(), &Item{Kind: "local_qa_audio", AudioRef: "/tmp/preset.wav"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(synth.calls) != 0 {
		t.Error("audio_ref items must not hit the backend registry")
	}
	a, _ := queues[FlowGlobal].Pop()
	if a.Path != "/tmp/preset.wav" {
		t.Errorf("unexpected path %q", a.Path)
	}
	if a.Remove {
		t.Error("passthrough audio must not be flagged for removal")
	}
}

func TestSplitText(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"one. two! three?", []string{"one.", "two!", "three?"}},
		{"no boundaries here", []string{"no boundaries here"}},
		{"你好。世界！", []string{"你好。", "世界！"}},
		{"trailing tail. rest", []string{"trailing tail.", "rest"}},
	}
	for _, tc := range cases {
		got := SplitText(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("%q: got %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%q fragment %d: got %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}
