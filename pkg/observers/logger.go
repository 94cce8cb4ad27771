package observers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/harunnryd/sentiscribe/pkg/metrics"
)

// LoggerObserver mirrors metrics events into the log. Failure events
// (names ending in _failed) are logged at warn, the rest at debug.
type LoggerObserver struct {
	logger *slog.Logger
}

func NewLoggerObserver(logger *slog.Logger) *LoggerObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggerObserver{logger: logger}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	ctx := context.Background()
	level := slog.LevelDebug
	if strings.HasSuffix(ev.Name, "_failed") {
		level = slog.LevelWarn
	}
	if !o.logger.Enabled(ctx, level) {
		return
	}
	tags := make([]any, 0, len(ev.Tags))
	for k, v := range ev.Tags {
		tags = append(tags, slog.String(k, v))
	}
	fields := make([]any, 0, len(ev.Fields))
	for k, v := range ev.Fields {
		fields = append(fields, slog.Any(k, v))
	}
	o.logger.LogAttrs(ctx, level, "metrics_event",
		slog.String("event", ev.Name),
		slog.Float64("value", ev.Value),
		slog.Group("tags", tags...),
		slog.Group("fields", fields...),
	)
}

// MultiObserver fans events out to every non-nil observer in order.
type MultiObserver struct {
	sinks []metrics.Observer
}

func NewMultiObserver(sinks ...metrics.Observer) *MultiObserver {
	out := make([]metrics.Observer, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiObserver{sinks: out}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, s := range m.sinks {
		s.RecordEvent(ev)
	}
}

// Close flushes and closes every member that supports it.
func (m *MultiObserver) Close() error {
	var err error
	for _, s := range m.sinks {
		if f, ok := s.(metrics.Flusher); ok {
			err = errors.Join(err, f.Flush())
		}
		if c, ok := s.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
	}
	return err
}
