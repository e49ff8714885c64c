// Package gateway synchronizes assistant audio with an external lip-sync
// renderer: each clip is forwarded over HTTP, then the next forward is held
// back for the clip's own playback duration so the remote inference stays
// paced to local audio.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/echocast-labs/echocast/internal/config"
	"github.com/echocast-labs/echocast/internal/engine"
)

// ReleaseFunc hands audio to local playback once the gateway is done with
// it, on success and on degraded failure alike.
type ReleaseFunc func(a *engine.Audio)

// ForwardError reports an exhausted forward cycle against the renderer.
type ForwardError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward to %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

// Gateway implements the forward-then-gate protocol. At most one forward is
// in flight at any instant; items arriving while the gating timer runs are
// buffered and replayed onto the forward queue when it expires.
type Gateway struct {
	cfg     config.GatewayConfig
	client  *http.Client
	release ReleaseFunc
	logger  *slog.Logger

	mu          sync.Mutex
	work        *sync.Cond
	forward     []*engine.Audio
	waiting     []*engine.Audio
	timerActive bool
	timer       *time.Timer
	closed      bool
	forwards    metric.Int64Counter

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(cfg config.GatewayConfig, release ReleaseFunc, logger *slog.Logger) *Gateway {
	g := &Gateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
		release: release,
		logger:  logger.With(slog.String("component", "sync-gateway")),
	}
	g.work = sync.NewCond(&g.mu)
	return g
}

// InitMetrics registers a counter over forward outcomes. Call before Start.
func (g *Gateway) InitMetrics() error {
	meter := otel.Meter("github.com/echocast-labs/echocast/gateway")
	counter, err := meter.Int64Counter("echocast.gateway.forwards",
		metric.WithDescription("Forward outcomes against the renderer"))
	if err != nil {
		return err
	}
	g.forwards = counter
	return nil
}

// Start launches the forwarder worker.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.wg.Add(1)
	go g.forwardLoop()
	g.logger.Info("sync gateway started", slog.String("endpoint", g.cfg.Endpoint))
}

// Submit queues audio for forwarding. While the gating timer is active the
// audio lands in the waiting buffer instead. Audio already forwarded once is
// dropped so upstream retries never duplicate a remote render.
func (g *Gateway) Submit(a *engine.Audio) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.release(a)
		return
	}
	if a.Item != nil && a.Item.ForwardAttempted() {
		g.mu.Unlock()
		g.logger.Warn("duplicate submission ignored", slog.String("kind", a.Item.Kind))
		a.Cleanup()
		return
	}
	if g.timerActive {
		g.waiting = append(g.waiting, a)
	} else {
		g.forward = append(g.forward, a)
		g.work.Signal()
	}
	g.mu.Unlock()
}

// Depth reports queued plus gated audio counts.
func (g *Gateway) Depth() (forward, waiting int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.forward), len(g.waiting)
}

func (g *Gateway) forwardLoop() {
	defer g.wg.Done()
	for {
		g.mu.Lock()
		for (len(g.forward) == 0 || g.timerActive) && !g.closed {
			g.work.Wait()
		}
		if g.closed {
			g.mu.Unlock()
			return
		}
		a := g.forward[0]
		g.forward = g.forward[1:]
		g.mu.Unlock()

		if a.Item != nil {
			a.Item.MarkForwardAttempted()
		}
		if err := g.forwardWithRetry(a); err != nil {
			g.count("failed")
			g.logger.Warn("forward failed, releasing unsynced",
				slog.String("path", a.Path),
				slog.String("error", err.Error()))
		} else {
			g.count("ok")
			g.startGate(a.Duration + time.Duration(g.cfg.ExtraDelayMS)*time.Millisecond)
		}

		// Local playback is released immediately either way; the gate only
		// holds back the next forward.
		g.release(a)
	}
}

// forwardWithRetry posts the audio bytes, retrying with a backoff that grows
// by the configured delay each attempt. Any non-200 status and any transport
// error are retriable.
func (g *Gateway) forwardWithRetry(a *engine.Audio) error {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	attempts := g.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	retryDelay := time.Duration(g.cfg.RetryDelayMS) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := g.forwardOnce(data); err != nil {
			lastErr = err
			g.logger.Debug("forward attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			if attempt < attempts {
				select {
				case <-time.After(retryDelay * time.Duration(attempt)):
				case <-g.ctx.Done():
					return g.ctx.Err()
				}
			}
			continue
		}
		return nil
	}
	return &ForwardError{Endpoint: g.cfg.Endpoint, Attempts: attempts, Err: lastErr}
}

func (g *Gateway) count(result string) {
	if g.forwards == nil {
		return
	}
	g.forwards.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("result", result)))
}

func (g *Gateway) forwardOnce(data []byte) error {
	req, err := http.NewRequestWithContext(g.ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("renderer returned %d", resp.StatusCode)
	}
	return nil
}

// startGate arms the single gating timer. Invariant: at most one timer is
// active at a time; the forwarder never pops while it runs.
func (g *Gateway) startGate(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.timerActive = true
	g.timer = time.AfterFunc(d, g.gateExpired)
}

// gateExpired moves the waiting buffer back onto the forward queue in
// arrival order and wakes the forwarder.
func (g *Gateway) gateExpired() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.timerActive = false
	g.timer = nil
	if len(g.waiting) > 0 {
		g.forward = append(g.waiting, g.forward...)
		g.waiting = nil
	}
	g.work.Broadcast()
}

// Shutdown cancels any active timer, drains both buffers without forwarding
// and stops the worker. Idempotent.
func (g *Gateway) Shutdown() {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		if g.timer != nil {
			g.timer.Stop()
			g.timer = nil
		}
		g.timerActive = false
		drained := append(g.forward, g.waiting...)
		g.forward = nil
		g.waiting = nil
		g.work.Broadcast()
		g.mu.Unlock()

		if g.cancel != nil {
			g.cancel()
		}
		g.wg.Wait()
		for _, a := range drained {
			a.Cleanup()
		}
		g.logger.Info("sync gateway stopped")
	})
}
