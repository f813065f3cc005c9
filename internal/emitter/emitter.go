// Package emitter streams session progress to observers.
//
// An Emitter belongs to one session. It hands out Streams, one per agent
// activity (the orchestrator itself, or one worker execution). Every send
// transmits a snapshot of the stream, is recorded in the session's event log
// and is fanned out to the configured sinks. Sink failures are logged and
// swallowed so that a dead observer never stops the control loop. Sends are
// serialized per session.
package emitter

import (
	"context"
	"sync"

	"github.com/Iron-Ham/relay/internal/logging"
)

// Status codes carried by updates.
const (
	StatusInProgress = 0
	StatusSuccess    = 200
	StatusFailure    = 500
)

// Update is one progress snapshot as delivered to observers.
type Update struct {
	AgentName    string   `json:"agent_name"`
	Instructions string   `json:"instructions"`
	Steps        []string `json:"steps"`
	Output       string   `json:"output"`
	StatusCode   int      `json:"status_code"`

	SessionID string `json:"-"`
}

// Clone returns a copy that shares no memory with u.
func (u Update) Clone() Update {
	u.Steps = append(make([]string, 0, len(u.Steps)), u.Steps...)
	return u
}

// Terminal reports whether the update closes its stream.
func (u Update) Terminal() bool {
	return u.StatusCode != StatusInProgress
}

// Sink receives updates.
type Sink interface {
	Send(ctx context.Context, u Update) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ctx context.Context, u Update) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, u Update) error { return f(ctx, u) }

// Emitter records and fans out the updates of one session.
type Emitter struct {
	mu        sync.Mutex
	sessionID string
	sinks     []Sink
	events    []Update
	failures  int
	logger    *logging.Logger
}

// New creates an emitter for sessionID. Nil sinks are ignored.
func New(sessionID string, logger *logging.Logger, sinks ...Sink) *Emitter {
	if logger == nil {
		logger = logging.NopLogger()
	}
	e := &Emitter{
		sessionID: sessionID,
		logger:    logger.WithPhase("emitter"),
	}
	for _, s := range sinks {
		if s != nil {
			e.sinks = append(e.sinks, s)
		}
	}
	return e
}

// Open starts a stream for agentName.
func (e *Emitter) Open(agentName, instructions string) *Stream {
	return &Stream{
		emitter: e,
		update: Update{
			AgentName:    agentName,
			Instructions: instructions,
			Steps:        []string{},
			StatusCode:   StatusInProgress,
			SessionID:    e.sessionID,
		},
	}
}

// Events returns a copy of every update sent so far, in send order.
func (e *Emitter) Events() []Update {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Update, len(e.events))
	for i, u := range e.events {
		out[i] = u.Clone()
	}
	return out
}

// SendFailures returns how many sink sends have failed.
func (e *Emitter) SendFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

func (e *Emitter) send(ctx context.Context, u Update) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, u.Clone())
	for _, s := range e.sinks {
		if err := s.Send(ctx, u.Clone()); err != nil {
			e.failures++
			e.logger.Warn("progress send failed",
				"agent", u.AgentName,
				"status_code", u.StatusCode,
				"error", err.Error(),
			)
		}
	}
}

// Stream is the progress record of one agent activity. A stream is owned by
// a single goroutine.
type Stream struct {
	emitter *Emitter
	update  Update
	closed  bool
}

// Publish sends the current snapshot.
func (s *Stream) Publish(ctx context.Context) {
	if s.closed {
		return
	}
	s.emitter.send(ctx, s.update)
}

// AddStep records a step without sending.
func (s *Stream) AddStep(step string) {
	s.update.Steps = append(s.update.Steps, step)
}

// Step records a step and sends the snapshot.
func (s *Stream) Step(ctx context.Context, step string) {
	s.AddStep(step)
	s.Publish(ctx)
}

// Finish sets the final status and output and sends the snapshot. Only the
// first call has any effect.
func (s *Stream) Finish(ctx context.Context, status int, output string) {
	if s.closed {
		return
	}
	s.update.StatusCode = status
	s.update.Output = output
	s.emitter.send(ctx, s.update)
	s.closed = true
}

// Closed reports whether Finish has been called.
func (s *Stream) Closed() bool {
	return s.closed
}

// Snapshot returns a copy of the stream's current state.
func (s *Stream) Snapshot() Update {
	return s.update.Clone()
}
