package script

import "time"

// Lifecycle event types produced implicitly by the environment.
// Author scripts may emit additional types through the emit builtin.
const (
	EventLessonStarted   = "lesson_started"
	EventLessonCompleted = "lesson_completed"
	EventGestureReceived = "gesture_received"
	EventTick            = "tick"
	EventLog             = "log"
	EventError           = "error"
)

// Event severities.
const (
	SeverityDebug   = "debug"
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event is an immutable record of something that happened during lesson
// execution. Events never cross session boundaries directly; the
// orchestrator aggregates them into its global log.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	LessonID  string         `json:"lesson_id"`
	SessionID string         `json:"session_id"`
	Severity  string         `json:"severity"`
}
