// Package events provides EventSink implementations for the core's
// structured observability events: a slog-backed log sink, an alerting
// bridge to a Notifier, and a fan-out combinator.
package events

import (
	"context"
	"log/slog"
	"time"

	"perpbot/internal/model"
	"perpbot/internal/notification"
)

// MultiSink fans events out to several sinks.
type MultiSink []model.EventSink

func (s MultiSink) Emit(ev model.Event) {
	for _, sink := range s {
		sink.Emit(ev)
	}
}

// LogSink writes every event as a structured log record.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a LogSink on the given logger.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(ev model.Event) {
	attrs := []any{
		slog.String("event", string(ev.Type)),
		slog.String("symbol", ev.Symbol),
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	switch ev.Level {
	case model.LevelCritical:
		s.log.Error(ev.Message, attrs...)
	case model.LevelWarning:
		s.log.Warn(ev.Message, attrs...)
	default:
		s.log.Info(ev.Message, attrs...)
	}
}

// AlertSink forwards WARNING and CRITICAL events to a notification backend.
// Delivery runs on its own goroutine with a timeout so alerting can never
// block the trading path.
type AlertSink struct {
	notifier notification.Notifier
	timeout  time.Duration
}

// NewAlertSink creates an AlertSink on the given notifier.
func NewAlertSink(n notification.Notifier) *AlertSink {
	return &AlertSink{notifier: n, timeout: 10 * time.Second}
}

func (s *AlertSink) Emit(ev model.Event) {
	if ev.Level == model.LevelInfo {
		return
	}
	level := notification.AlertWarning
	if ev.Level == model.LevelCritical {
		level = notification.AlertCritical
	}
	alert := notification.Alert{
		Level:   level,
		Title:   string(ev.Type) + " " + ev.Symbol,
		Message: ev.Message,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.notifier.Send(ctx, alert); err != nil {
			slog.Warn("alert delivery failed", slog.String("err", err.Error()))
		}
	}()
}
