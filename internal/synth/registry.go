// Package synth provides the pluggable text-to-speech backend registry.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/echocast-labs/echocast/internal/config"
	"github.com/echocast-labs/echocast/internal/engine"
)

// BackendNone is the sentinel backend id meaning "no audio": the registry
// answers with a zero-duration result and never touches the network.
const BackendNone = "none"

// Request is one synthesis call handed to a backend.
type Request struct {
	Text       string
	Language   string
	Params     map[string]string
	OutputPath string
}

// Result is what a backend hands back. Duration may be zero; the registry
// probes the file when a prober is configured.
type Result struct {
	Path     string
	Duration time.Duration
}

// SynthesizeFunc is a stateless backend registered under a string id.
type SynthesizeFunc func(ctx context.Context, req Request) (Result, error)

// Registry maps backend ids to synthesis functions and resolves language
// defaults before each call. Satisfies engine.Synthesizer.
type Registry struct {
	cfg    config.SynthesisConfig
	logger *slog.Logger
	probe  engine.DurationProber

	mu       sync.RWMutex
	backends map[string]SynthesizeFunc
}

func NewRegistry(cfg config.SynthesisConfig, probe engine.DurationProber, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "synth-registry")),
		probe:    probe,
		backends: make(map[string]SynthesizeFunc),
	}
}

// Register installs a backend under id, replacing any previous registration.
func (r *Registry) Register(id string, fn SynthesizeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[id] = fn
}

// Backends lists the registered ids.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	return ids
}

// Synthesize renders text through the backend registered under backendID.
// Failures are returned as-is and never retried here; retry policy belongs
// to the caller.
func (r *Registry) Synthesize(ctx context.Context, backendID, text string, params map[string]string) (engine.SynthesisResult, error) {
	if backendID == BackendNone {
		return engine.SynthesisResult{}, nil
	}

	r.mu.RLock()
	fn, ok := r.backends[backendID]
	r.mu.RUnlock()
	if !ok {
		return engine.SynthesisResult{}, fmt.Errorf("%w: %q", engine.ErrUnknownBackend, backendID)
	}

	language := ResolveLanguage(backendID, params["language"], text)
	outputPath, err := r.outputPath(backendID)
	if err != nil {
		return engine.SynthesisResult{}, &engine.BackendError{Backend: backendID, Err: err}
	}

	result, err := fn(ctx, Request{
		Text:       text,
		Language:   language,
		Params:     params,
		OutputPath: outputPath,
	})
	if err != nil {
		return engine.SynthesisResult{}, &engine.BackendError{Backend: backendID, Err: err}
	}

	duration := result.Duration
	if duration == 0 && result.Path != "" && r.probe != nil {
		if probed, perr := r.probe(result.Path); perr == nil {
			duration = probed
		} else {
			r.logger.Debug("duration probe failed",
				slog.String("path", result.Path),
				slog.String("error", perr.Error()))
		}
	}

	return engine.SynthesisResult{Path: result.Path, Duration: duration}, nil
}

var outputSeq int64
var outputSeqMu sync.Mutex

func (r *Registry) outputPath(backendID string) (string, error) {
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	outputSeqMu.Lock()
	outputSeq++
	n := outputSeq
	outputSeqMu.Unlock()
	name := fmt.Sprintf("%s_%d_%d.wav", backendID, time.Now().UnixMilli(), n)
	return filepath.Join(r.cfg.OutputDir, name), nil
}
