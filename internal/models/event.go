package models

import "time"

// EventType identifies a run notification.
type EventType string

const (
	EventStarted   EventType = "started"
	EventLog       EventType = "log"
	EventProgress  EventType = "progress"
	EventRecord    EventType = "record"
	EventCompleted EventType = "completed"
	EventCancelled EventType = "cancelled"
	EventError     EventType = "error"
)

// LogLevel mirrors the severity attached to log events.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// Event is emitted by a run in processing order.
type Event struct {
	RunID    string         `json:"run_id"`
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	Progress int            `json:"progress,omitempty"`
	Message  string         `json:"message,omitempty"`
	Level    LogLevel       `json:"level,omitempty"`
	Result   *ScoringResult `json:"result,omitempty"`
	Summary  *RunSummary    `json:"summary,omitempty"`
	Err      string         `json:"error,omitempty"`
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventCancelled || e.Type == EventError
}
