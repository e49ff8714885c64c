// Package ingest bridges the bus to the engine: it receives inbound items,
// applies the engine's admission answer, and replays deferred items once
// pressure drops.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/echocast-labs/echocast/internal/bus"
	"github.com/echocast-labs/echocast/internal/config"
	"github.com/echocast-labs/echocast/internal/engine"
	"github.com/echocast-labs/echocast/internal/protocol"
)

type Service struct {
	cfg    config.IngestConfig
	bus    *bus.Client
	eng    *engine.Engine
	logger *slog.Logger

	sub    *nats.Subscription
	buffer *Buffer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(parent context.Context, cfg config.IngestConfig, busClient *bus.Client, eng *engine.Engine, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		eng:    eng,
		logger: logger.With(slog.String("component", "ingest")),
		buffer: NewBuffer(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeechSubmit, s.handleSubmit)
	if err != nil {
		return err
	}
	s.sub = sub

	s.wg.Add(2)
	go s.replayLoop()
	go s.pressureLoop()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.sub != nil
}

// Deferred reports how many items are buffered for replay.
func (s *Service) Deferred() int {
	return s.buffer.Len()
}

func (s *Service) handleSubmit(msg *nats.Msg) {
	var wire protocol.InboundItem
	if err := json.Unmarshal(msg.Data, &wire); err != nil {
		s.logger.Warn("failed to decode inbound item", slogError(err))
		s.reply(msg, protocol.SubmitResult{Status: "dropped", Reason: "bad payload"})
		return
	}

	item := toEngineItem(wire)
	status, err := s.submit(item)
	result := protocol.SubmitResult{Status: status.String()}
	if err != nil {
		result.Reason = err.Error()
	}
	s.reply(msg, result)
}

// submit offers an item and buffers it on deferral.
func (s *Service) submit(item *engine.Item) (engine.SubmitStatus, error) {
	status, err := s.eng.Submit(item)
	if err != nil {
		if !errors.Is(err, engine.ErrInvalidItem) && !errors.Is(err, engine.ErrShutdown) {
			s.logger.Warn("submit failed", slog.String("kind", item.Kind), slogError(err))
		}
		return status, err
	}
	if status == engine.SubmitDeferred {
		s.buffer.Add(item)
		s.logger.Debug("item deferred for replay",
			slog.String("kind", item.Kind),
			slog.Int("buffered", s.buffer.Len()))
	}
	return status, nil
}

func (s *Service) reply(msg *nats.Msg, result protocol.SubmitResult) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to answer submit", slogError(err))
	}
}

// replayLoop re-offers deferred items in small batches whenever admission
// pressure has dropped back to low.
func (s *Service) replayLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.ReplayEveryMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if s.eng.QueuePressure(engine.FlowAdmission) != engine.PressureLow {
			continue
		}
		for _, item := range s.buffer.TakeBatch(s.cfg.ReplayBatchSize) {
			if _, err := s.submit(item); err != nil {
				if errors.Is(err, engine.ErrShutdown) {
					return
				}
			}
		}
	}
}

// pressureLoop periodically publishes queue pressure and depths for the
// surrounding admission-control layer.
func (s *Service) pressureLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		report := protocol.PressureReport{
			Pressure: s.eng.QueuePressure(engine.FlowAdmission).String(),
			Depths: map[string]int{
				string(engine.FlowAdmission): s.eng.QueueDepth(engine.FlowAdmission),
				string(engine.FlowGlobal):    s.eng.QueueDepth(engine.FlowGlobal),
				string(engine.FlowAssistant): s.eng.QueueDepth(engine.FlowAssistant),
				string(engine.FlowNarration): s.eng.QueueDepth(engine.FlowNarration),
				string(engine.FlowLegacy):    s.eng.QueueDepth(engine.FlowLegacy),
			},
			Timestamp: time.Now().UTC(),
		}
		data, err := json.Marshal(report)
		if err != nil {
			continue
		}
		if err := s.bus.Conn().Publish(protocol.SubjectSpeechPressure, data); err != nil {
			s.logger.Debug("failed to publish pressure report", slogError(err))
		}
	}
}

// defaultTexts fills in speech for event kinds that arrive without any, so a
// bare entrance or follow event still gets voiced.
var defaultTexts = map[string]string{
	"entrance": "Welcome %s to the stream",
	"follow":   "Thanks %s for the follow",
	"like":     "Thanks %s for the likes",
	"gift":     "Thank you %s for the gift",
}

func toEngineItem(wire protocol.InboundItem) *engine.Item {
	priority := engine.PriorityUnset
	if wire.Priority != nil {
		priority = *wire.Priority
	}
	text := wire.Text
	if text == "" && wire.AudioRef == "" {
		if tmpl, ok := defaultTexts[wire.Kind]; ok {
			label := wire.SpeakerLabel
			if label == "" {
				label = "you"
			}
			text = fmt.Sprintf(tmpl, label)
		}
	}
	return &engine.Item{
		ID:           wire.ID,
		Kind:         wire.Kind,
		Text:         text,
		AudioRef:     wire.AudioRef,
		SpeakerLabel: wire.SpeakerLabel,
		Backend:      wire.Backend,
		Params:       wire.Params,
		FlowHint:     engine.Flow(wire.FlowHint),
		Priority:     priority,
		Loop:         wire.Loop,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
