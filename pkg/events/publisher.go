package events

import (
	"context"
	"fmt"
	"log/slog"
)

const sinkLogPrefix = "events:sink"

// Sink receives navigation events.
type Sink interface {
	Emit(ctx context.Context, event *Event) error
}

// NoOpSink is a Sink that does nothing.
type NoOpSink struct{}

// Emit is a no-op.
func (s *NoOpSink) Emit(_ context.Context, _ *Event) error {
	return nil
}

// CallbackSink is a Sink that calls a callback function (for testing).
type CallbackSink struct {
	callback func(ctx context.Context, event *Event) error
}

// NewCallbackSink creates a new CallbackSink.
func NewCallbackSink(cb func(ctx context.Context, event *Event) error) *CallbackSink {
	return &CallbackSink{callback: cb}
}

// Emit calls the callback.
func (s *CallbackSink) Emit(ctx context.Context, event *Event) error {
	return s.callback(ctx, event)
}

// SlogSink writes events to a slog.Logger. A nil logger uses slog.Default().
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a new SlogSink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

// Emit logs the event at its severity with its fields as attributes.
func (s *SlogSink) Emit(ctx context.Context, event *Event) error {
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, len(event.Fields)*2)
	for k, v := range event.Fields {
		attrs = append(attrs, k, v)
	}
	logger.Log(ctx, slogLevel(event.Severity), event.Message, attrs...)
	return nil
}

func slogLevel(s Severity) slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityWarn:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MultiSink fans an event out to several sinks. A failing sink is logged
// and does not prevent delivery to the others.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a MultiSink; nil entries are dropped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Emit delivers event to every sink and returns the first error seen.
func (m *MultiSink) Emit(ctx context.Context, event *Event) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, event); err != nil {
			slog.Warn(fmt.Sprintf("%s - sink %T failed for %s: %v", sinkLogPrefix, s, event.Message, err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
