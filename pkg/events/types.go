// Package events defines navigation telemetry events and the sinks that receive them.
package events

import (
	"time"
)

// Severity levels for navigation events.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Well-known event messages.
const (
	MessageNavigationStart   = "navigation.start"
	MessageNavigationParams  = "navigation.params"
	MessageNavigationOutcome = "navigation.outcome"
	MessageNavigationAudit   = "navigation.audit"
	MessageNavigationResult  = "navigation.result"
	MessageRouteRegistered   = "route.registered"
	MessageRoutesCleared     = "routes.cleared"
)

// Event is a structured navigation event.
type Event struct {
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// NewEvent creates an Event stamped with the current UTC time.
func NewEvent(severity Severity, message string, fields map[string]interface{}) *Event {
	return &Event{
		Severity:  severity,
		Message:   message,
		Fields:    fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}
