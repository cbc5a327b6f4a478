package events

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/predictive-dialer/internal/app"
	"github.com/acme/predictive-dialer/internal/queue"
)

// Worker consumes provider telephony events and drives the dialer state
// machine. Events are keyed by call-control id, so all events for one
// call arrive on the same partition in order.
type Worker struct {
	container *app.Container
}

// New creates a new event worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run processes telephony events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	groupID := cfg.Kafka.ConsumerGroupID + "-events"
	reader := w.container.Kafka.NewReader(cfg.Kafka.EventsTopic, groupID)
	defer reader.Close()

	controller := w.container.Controller()
	logger := w.container.Logger
	tracer := otel.Tracer("dialer.eventworker")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("event worker: fetch", zap.Error(err))
			continue
		}

		var event queue.TelephonyEventMessage
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("event worker: unmarshal", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		sctx, span := tracer.Start(ctx, "call.event", trace.WithAttributes(
			attribute.String("event.type", event.Type),
			attribute.String("call.control_id", event.CallControlID),
		))

		switch event.Type {
		case queue.EventAnswered:
			controller.HandleAnswered(sctx, event.CallControlID)
		case queue.EventAMD:
			controller.HandleAMD(sctx, event.CallControlID, event.Detection)
		case queue.EventEnded:
			controller.HandleEnded(sctx, event.CallControlID, event.Outcome)
		default:
			logger.Warn("event worker: unknown event type",
				zap.String("type", event.Type),
				zap.String("call_control_id", event.CallControlID))
		}

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			logger.Error("event worker: commit", zap.Error(err))
		}
		span.End()
	}
}
