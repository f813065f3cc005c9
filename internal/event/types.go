package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier, e.g. "session.started".
	EventType() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// Event type identifiers
const (
	TypeSessionStarted   = "session.started"
	TypeSessionCompleted = "session.completed"
	TypeStateChanged     = "session.state_changed"
	TypeReplanned        = "session.replanned"
	TypeWorkerStarted    = "worker.started"
	TypeWorkerFinished   = "worker.finished"
	TypeProgress         = "progress.update"
)

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionStartedEvent is emitted when a session accepts its task.
type SessionStartedEvent struct {
	baseEvent
	SessionID string
	Task      string
	Workers   []string // Registered worker identities, in registration order
}

// NewSessionStartedEvent creates a SessionStartedEvent.
func NewSessionStartedEvent(sessionID, task string, workers []string) SessionStartedEvent {
	return SessionStartedEvent{
		baseEvent: newBaseEvent(TypeSessionStarted),
		SessionID: sessionID,
		Task:      task,
		Workers:   workers,
	}
}

// SessionCompletedEvent is emitted once per session with its final status.
type SessionCompletedEvent struct {
	baseEvent
	SessionID  string
	StatusCode int
	Rounds     int
	Duration   time.Duration
}

// NewSessionCompletedEvent creates a SessionCompletedEvent.
func NewSessionCompletedEvent(sessionID string, statusCode, rounds int, duration time.Duration) SessionCompletedEvent {
	return SessionCompletedEvent{
		baseEvent:  newBaseEvent(TypeSessionCompleted),
		SessionID:  sessionID,
		StatusCode: statusCode,
		Rounds:     rounds,
		Duration:   duration,
	}
}

// StateChangedEvent is emitted on every control-loop transition.
type StateChangedEvent struct {
	baseEvent
	SessionID string
	From      string
	To        string
	Round     int
}

// NewStateChangedEvent creates a StateChangedEvent.
func NewStateChangedEvent(sessionID, from, to string, round int) StateChangedEvent {
	return StateChangedEvent{
		baseEvent: newBaseEvent(TypeStateChanged),
		SessionID: sessionID,
		From:      from,
		To:        to,
		Round:     round,
	}
}

// ReplannedEvent is emitted when stall detection forces a new plan.
type ReplannedEvent struct {
	baseEvent
	SessionID string
	Round     int
	Succeeded bool // false when the oracle failed and the old plan was kept
}

// NewReplannedEvent creates a ReplannedEvent.
func NewReplannedEvent(sessionID string, round int, succeeded bool) ReplannedEvent {
	return ReplannedEvent{
		baseEvent: newBaseEvent(TypeReplanned),
		SessionID: sessionID,
		Round:     round,
		Succeeded: succeeded,
	}
}

// -----------------------------------------------------------------------------
// Worker Events
// -----------------------------------------------------------------------------

// WorkerStartedEvent is emitted before a worker executes an instruction.
type WorkerStartedEvent struct {
	baseEvent
	SessionID   string
	WorkerID    string
	Instruction string
	Round       int
}

// NewWorkerStartedEvent creates a WorkerStartedEvent.
func NewWorkerStartedEvent(sessionID, workerID, instruction string, round int) WorkerStartedEvent {
	return WorkerStartedEvent{
		baseEvent:   newBaseEvent(TypeWorkerStarted),
		SessionID:   sessionID,
		WorkerID:    workerID,
		Instruction: instruction,
		Round:       round,
	}
}

// WorkerFinishedEvent is emitted after a worker execution completes.
type WorkerFinishedEvent struct {
	baseEvent
	SessionID string
	WorkerID  string
	Success   bool
	Duration  time.Duration
	Round     int
}

// NewWorkerFinishedEvent creates a WorkerFinishedEvent.
func NewWorkerFinishedEvent(sessionID, workerID string, success bool, duration time.Duration, round int) WorkerFinishedEvent {
	return WorkerFinishedEvent{
		baseEvent: newBaseEvent(TypeWorkerFinished),
		SessionID: sessionID,
		WorkerID:  workerID,
		Success:   success,
		Duration:  duration,
		Round:     round,
	}
}

// -----------------------------------------------------------------------------
// Progress Events
// -----------------------------------------------------------------------------

// ProgressEvent carries one progress snapshot as delivered to observers.
type ProgressEvent struct {
	baseEvent
	SessionID    string
	AgentName    string
	Instructions string
	Steps        []string
	Output       string
	StatusCode   int
}

// NewProgressEvent creates a ProgressEvent. Steps is copied.
func NewProgressEvent(sessionID, agentName, instructions string, steps []string, output string, statusCode int) ProgressEvent {
	return ProgressEvent{
		baseEvent:    newBaseEvent(TypeProgress),
		SessionID:    sessionID,
		AgentName:    agentName,
		Instructions: instructions,
		Steps:        append([]string(nil), steps...),
		Output:       output,
		StatusCode:   statusCode,
	}
}
