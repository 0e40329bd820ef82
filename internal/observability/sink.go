package observability

import (
	"context"

	"go.uber.org/zap"
)

// Event is an aggregated anomaly report emitted by the monitoring loop,
// one per anomaly class per scan cycle.
type Event struct {
	Kind    string
	Message string
	Count   int
	Fields  map[string]any
}

// Sink receives monitoring events. Implementations must be non-blocking
// and must never panic into the caller.
type Sink interface {
	RecordEvent(ctx context.Context, event Event)
}

// TelemetrySink forwards events to the structured log and the alert counter.
type TelemetrySink struct {
	logger  *zap.Logger
	metrics *Metrics
}

func NewTelemetrySink(logger *zap.Logger, metrics *Metrics) *TelemetrySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelemetrySink{logger: logger, metrics: metrics}
}

func (s *TelemetrySink) RecordEvent(ctx context.Context, event Event) {
	if s == nil {
		return
	}

	fields := []zap.Field{
		zap.String("kind", event.Kind),
		zap.Int("count", event.Count),
	}
	for key, value := range event.Fields {
		fields = append(fields, zap.Any(key, value))
	}

	logger := WithContextLogger(s.logger, ctx)
	logger.Warn(event.Message, fields...)

	s.metrics.IncMonitorAlert(event.Kind)
}
