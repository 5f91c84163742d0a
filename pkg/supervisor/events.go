package supervisor

import "time"

// EventType identifies a process lifecycle event
type EventType string

const (
	EventOutput    EventType = "output"
	EventSession   EventType = "session"
	EventCompleted EventType = "completed"
	EventError     EventType = "error"
	EventKilled    EventType = "killed"
)

// Terminal reports whether the event ends the stream for its runId
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventError || t == EventKilled
}

// Event is published to subscribers of a runId
type Event struct {
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Stream    string    `json:"stream,omitempty"`
	Data      string    `json:"data,omitempty"`
	ExitCode  int       `json:"exit_code"`
	Error     string    `json:"error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Time      time.Time `json:"time"`
}

type subscriber struct {
	ch      chan Event
	dropped int
}
