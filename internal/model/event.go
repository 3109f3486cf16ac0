package model

import "time"

// EventType classifies an observability event emitted by the core.
type EventType string

const (
	EventSignal          EventType = "SIGNAL"
	EventOrderSubmitted  EventType = "ORDER_SUBMITTED"
	EventOrderFilled     EventType = "ORDER_FILLED"
	EventOrderFailed     EventType = "ORDER_FAILED"
	EventStateTransition EventType = "STATE_TRANSITION"
	EventDivergence      EventType = "DIVERGENCE"
	EventFatal           EventType = "FATAL"
)

// EventLevel is the severity of an event.
type EventLevel string

const (
	LevelInfo     EventLevel = "INFO"
	LevelWarning  EventLevel = "WARNING"
	LevelCritical EventLevel = "CRITICAL"
)

// Event is a structured observability record. The core has no opinion on
// where events go; sinks decide (log, alerting channel, journal).
type Event struct {
	Type    EventType      `json:"type"`
	Level   EventLevel     `json:"level"`
	At      time.Time      `json:"at"`
	Symbol  string         `json:"symbol"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}
