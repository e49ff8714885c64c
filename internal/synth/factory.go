package synth

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/echocast-labs/echocast/internal/config"
	"github.com/echocast-labs/echocast/internal/engine"
)

// BuildRegistry constructs a registry with every configured backend
// installed. The mock backend is always present so the pipeline can run
// without external services.
func BuildRegistry(cfg config.SynthesisConfig, sampleRate int, probe engine.DurationProber, logger *slog.Logger) (*Registry, error) {
	registry := NewRegistry(cfg, probe, logger)
	registry.Register("mock", NewMockBackend(sampleRate))

	for id, params := range cfg.Backends {
		kind := params["type"]
		if kind == "" {
			kind = "http"
		}
		switch kind {
		case "http":
			endpoint := params["endpoint"]
			if endpoint == "" {
				return nil, fmt.Errorf("backend %q: http backends require an endpoint", id)
			}
			timeout := 30 * time.Second
			if raw, ok := params["timeout_ms"]; ok {
				ms, err := strconv.Atoi(raw)
				if err != nil {
					return nil, fmt.Errorf("backend %q: bad timeout_ms %q", id, raw)
				}
				timeout = time.Duration(ms) * time.Millisecond
			}
			registry.Register(id, NewHTTPBackend(HTTPBackendOptions{Endpoint: endpoint, Timeout: timeout}))
		case "exec":
			command := params["command"]
			if command == "" {
				return nil, fmt.Errorf("backend %q: exec backends require a command", id)
			}
			fn, err := NewExecBackend(command)
			if err != nil {
				return nil, fmt.Errorf("backend %q: %w", id, err)
			}
			registry.Register(id, fn)
		case "mock":
			registry.Register(id, NewMockBackend(sampleRate))
		default:
			return nil, fmt.Errorf("backend %q: unknown type %q", id, kind)
		}
	}
	return registry, nil
}
