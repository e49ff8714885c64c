package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InitMetrics registers observable gauges for the admission queue and each
// playback flow's depth, plus a counter over item lifecycle events.
func (e *Engine) InitMetrics() error {
	meter := otel.Meter("github.com/echocast-labs/echocast/engine")

	counter, err := meter.Int64Counter("echocast.items",
		metric.WithDescription("Item lifecycle events by outcome"))
	if err != nil {
		return err
	}
	e.counter = counter

	admissionGauge, err := meter.Int64ObservableGauge("echocast.admission.depth",
		metric.WithDescription("Items waiting in the admission queue"))
	if err != nil {
		return err
	}
	flowGauge, err := meter.Int64ObservableGauge("echocast.playback.depth",
		metric.WithDescription("Audio entries waiting per playback flow"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(admissionGauge, int64(e.admission.Len()))
		for flow, q := range e.queues {
			obs.ObserveInt64(flowGauge, int64(q.Len()),
				metric.WithAttributes(attribute.String("flow", string(flow))))
		}
		return nil
	}, admissionGauge, flowGauge)
	return err
}

func (e *Engine) count(event string) {
	if e.counter == nil {
		return
	}
	e.counter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("event", event)))
}
