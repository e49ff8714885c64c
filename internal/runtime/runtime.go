package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/echocast-labs/echocast/internal/bus"
	"github.com/echocast-labs/echocast/internal/config"
	"github.com/echocast-labs/echocast/internal/engine"
	"github.com/echocast-labs/echocast/internal/eventstore"
	"github.com/echocast-labs/echocast/internal/gateway"
	"github.com/echocast-labs/echocast/internal/ingest"
	"github.com/echocast-labs/echocast/internal/natsserver"
	"github.com/echocast-labs/echocast/internal/player"
	"github.com/echocast-labs/echocast/internal/protocol"
	"github.com/echocast-labs/echocast/internal/synth"
)

// Runtime wires the daemon together: embedded bus, event journal, synthesis
// registry, engine, sync gateway, ingest service and the HTTP surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	eng *engine.Engine
	gw  *gateway.Gateway
	ing *ingest.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	journal, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer journal.Close()

	out, err := player.New(r.cfg.Player, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}

	registry, err := synth.BuildRegistry(r.cfg.Synthesis, r.cfg.Player.SampleRate, player.WavDuration, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build synthesis registry: %w", err)
	}

	r.eng = r.buildEngine(registry, journal, out, busClient)

	if r.cfg.Gateway.Enabled {
		r.gw = gateway.New(r.cfg.Gateway, r.releaseToAssistant, r.logger)
		if err := r.gw.InitMetrics(); err != nil {
			r.logger.Warn("failed to initialize gateway metrics", slog.String("error", err.Error()))
		}
		r.gw.Start(ctx)
		defer r.gw.Shutdown()
	}

	if err := r.eng.InitMetrics(); err != nil {
		r.logger.Warn("failed to initialize engine metrics", slog.String("error", err.Error()))
	}
	r.eng.Start(ctx)
	defer r.eng.Shutdown()

	r.ing = ingest.NewService(ctx, r.cfg.Ingest, busClient, r.eng, r.logger)
	if err := r.ing.Start(); err != nil {
		return fmt.Errorf("failed to start ingest service: %w", err)
	}
	defer r.ing.Close()

	scheduler := ingest.NewScheduler(ctx, r.cfg.Schedule, r.eng, r.logger)
	scheduler.Start()
	defer scheduler.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildEngine(registry *synth.Registry, journal *eventstore.Store, out player.Player, busClient *bus.Client) *engine.Engine {
	players := map[engine.Flow]engine.Player{
		engine.FlowGlobal:    out,
		engine.FlowAssistant: out,
		engine.FlowNarration: out,
		engine.FlowLegacy:    out,
	}
	return engine.New(engine.Options{
		Config:    r.cfg.Engine,
		Synthesis: r.cfg.Synthesis,
		Synth:     registry,
		Gateway:   gatewaySink{r},
		Players:   players,
		Probe:     player.WavDuration,
		Journal:   journal,
		Played:    r.publishPlayed(busClient),
		Logger:    r.logger,
	})
}

// publishPlayed announces finished playback on the bus so chat-rule layers
// can react to what was actually voiced.
func (r *Runtime) publishPlayed(busClient *bus.Client) func(*engine.Item) {
	return func(item *engine.Item) {
		data, err := json.Marshal(protocol.PlayedEvent{
			ID:        item.ID,
			Kind:      item.Kind,
			Timestamp: time.Now(),
		})
		if err != nil {
			return
		}
		if err := busClient.Conn().Publish(protocol.SubjectSpeechPlayed, data); err != nil {
			r.logger.Debug("failed to publish played event", slog.String("error", err.Error()))
		}
	}
}

// gatewaySink routes external-render audio through the gateway when one is
// configured, and straight to local playback otherwise.
type gatewaySink struct {
	rt *Runtime
}

func (g gatewaySink) Submit(a *engine.Audio) {
	if g.rt.gw != nil {
		g.rt.gw.Submit(a)
		return
	}
	g.rt.releaseToAssistant(a)
}

func (r *Runtime) releaseToAssistant(a *engine.Audio) {
	r.eng.Release(engine.FlowAssistant, a)
}

// Submit exposes the engine's inbound API for in-process callers.
func (r *Runtime) Submit(wire protocol.InboundItem) (engine.SubmitStatus, error) {
	priority := engine.PriorityUnset
	if wire.Priority != nil {
		priority = *wire.Priority
	}
	return r.eng.Submit(&engine.Item{
		ID:       wire.ID,
		Kind:     wire.Kind,
		Text:     wire.Text,
		AudioRef: wire.AudioRef,
		Backend:  wire.Backend,
		Params:   wire.Params,
		FlowHint: engine.Flow(wire.FlowHint),
		Priority: priority,
		Loop:     wire.Loop,
	})
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.eng != nil && r.eng.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
