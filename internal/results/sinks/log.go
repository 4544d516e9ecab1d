package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/results"
)

// LogSink writes one structured log line per record. Broken links and
// warnings log at Info; clean results at Debug.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []results.Event) error {
	for _, evt := range batch {
		rec := evt.Record
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("url", rec.Resolved),
			zap.String("raw", rec.Raw),
			zap.String("parent", rec.Parent),
			zap.Int("line", rec.Line),
			zap.Int("column", rec.Column),
			zap.Int("depth", rec.Depth),
			zap.Bool("cached", rec.Cached),
			zap.String("result", rec.Message),
		}
		if rec.RealURL != "" && rec.RealURL != rec.Resolved {
			fields = append(fields, zap.String("real_url", rec.RealURL))
		}
		for _, w := range rec.Warnings {
			fields = append(fields, zap.String("warning."+w.Tag, w.Message))
		}
		switch evt.Label() {
		case "broken":
			s.logger.Info("Broken link", append(fields, zap.String("kind", rec.Kind.String()))...)
		case "warning":
			s.logger.Info("Link with warnings", fields...)
		default:
			s.logger.Debug("Link OK", fields...)
		}
	}
	return nil
}

// Close implements results.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
