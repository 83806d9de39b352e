// Package audit delivers structured audit events to external sinks.
// Delivery is best effort: callers log a failed LogEvent and carry on.
package audit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Event kinds emitted by the core.
const (
	KindAnomalyDetected = "anomaly.detected"
	KindLedgerRepaired  = "ledger.repaired"
)

// Event is the envelope sent to remote sinks.
type Event struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Sink accepts audit events.
type Sink interface {
	LogEvent(ctx context.Context, kind string, payload any) error
}

// Nop discards every event.
type Nop struct{}

// LogEvent implements Sink.
func (Nop) LogEvent(context.Context, string, any) error { return nil }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

// LogEvent implements Sink. Every sink is attempted even if an earlier one fails.
func (m Multi) LogEvent(ctx context.Context, kind string, payload any) error {
	var errs []error
	for _, s := range m {
		if err := s.LogEvent(ctx, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// LogEvent implements Sink.
func (s *LogSink) LogEvent(_ context.Context, kind string, payload any) error {
	s.logger.Info("audit event", zap.String("kind", kind), zap.Any("payload", payload))
	return nil
}
