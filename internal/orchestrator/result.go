package orchestrator

import (
	"time"

	"github.com/Iron-Ham/relay/internal/emitter"
	orchctx "github.com/Iron-Ham/relay/internal/orchestrator/context"
)

// Result is what a caller receives when a session ends, whatever the outcome.
type Result struct {
	SessionID  string                    `json:"session_id"`
	Task       string                    `json:"task"`
	StatusCode int                       `json:"status_code"`
	Output     string                    `json:"output"`
	FinalState State                     `json:"final_state"`
	Plan       string                    `json:"plan,omitempty"`
	Events     []emitter.Update          `json:"events"`
	Records    []orchctx.ExecutionRecord `json:"records"`
	Rounds     int                       `json:"rounds"`
	Replans    int                       `json:"replans"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Error      string                    `json:"error,omitempty"`

	// Err is the cause of a failed session.
	Err error `json:"-"`
}

// Succeeded reports whether the session ended with status 200.
func (r *Result) Succeeded() bool {
	return r.StatusCode == emitter.StatusSuccess
}

// Duration returns the session's wall-clock time.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FinalEvent returns the last event sent, if any.
func (r *Result) FinalEvent() (emitter.Update, bool) {
	if len(r.Events) == 0 {
		return emitter.Update{}, false
	}
	return r.Events[len(r.Events)-1], true
}
