package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/scanfleet/internal/progress"
)

// LogSink emits one structured log line per worker event. Useful in
// development or when no metrics backend is scraped.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("worker_id", evt.WorkerID),
			zap.String("stage", string(evt.Stage)),
			zap.String("location", evt.Location),
			zap.Time("ts", evt.TS),
		}
		if evt.Entities > 0 {
			fields = append(fields, zap.Int64("entities", evt.Entities))
		}
		if evt.Class != "" {
			fields = append(fields, zap.String("class", evt.Class))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("worker event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
