// Package context holds the mutable state of one orchestration session:
// the task, the current plan, the append-only execution history, per-worker
// retry counters, the oracle-facing transcripts and the latest code
// artifact. Only the control loop mutates it, and it is cleared wholesale
// when the session ends.
package context

import (
	"sync"
	"time"

	"github.com/Iron-Ham/relay/internal/orchestrator/retry"
	"github.com/Iron-Ham/relay/internal/transcript"
	"github.com/Iron-Ham/relay/internal/worker"
)

// ExecutionRecord is the immutable result of one worker execution.
type ExecutionRecord struct {
	Round       int           `json:"round"`
	Worker      string        `json:"worker"`
	Instruction string        `json:"instruction"`
	Success     bool          `json:"success"`
	Output      string        `json:"output"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Context is the per-session orchestration state.
type Context struct {
	mu       sync.RWMutex
	task     string
	plan     string
	history  []ExecutionRecord
	code     *worker.CodeBlock
	retries  *retry.Manager
	selector *transcript.Transcript
	workers  *transcript.Transcript
	cleared  bool
}

// New creates the context for task with the given per-worker retry bound.
func New(task string, maxRetries int) *Context {
	return &Context{
		task:     task,
		retries:  retry.NewManager(maxRetries),
		selector: transcript.New(),
		workers:  transcript.New(),
	}
}

// Task returns the original request.
func (c *Context) Task() string {
	return c.task
}

// Plan returns the current plan text.
func (c *Context) Plan() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plan
}

// SetPlan replaces the plan text.
func (c *Context) SetPlan(plan string) {
	c.mu.Lock()
	c.plan = plan
	c.mu.Unlock()
}

// Append adds rec to the end of the execution history.
func (c *Context) Append(rec ExecutionRecord) {
	c.mu.Lock()
	c.history = append(c.history, rec)
	c.mu.Unlock()
}

// History returns a copy of the execution history in completion order.
func (c *Context) History() []ExecutionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ExecutionRecord(nil), c.history...)
}

// Latest returns the most recent record.
func (c *Context) Latest() (ExecutionRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return ExecutionRecord{}, false
	}
	return c.history[len(c.history)-1], true
}

// Previous returns every record except the most recent one.
func (c *Context) Previous() []ExecutionRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) <= 1 {
		return nil
	}
	return append([]ExecutionRecord(nil), c.history[:len(c.history)-1]...)
}

// Code returns a copy of the latest code artifact, or nil.
func (c *Context) Code() *worker.CodeBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.code == nil {
		return nil
	}
	cb := *c.code
	cb.Dependencies = append([]string(nil), c.code.Dependencies...)
	return &cb
}

// SetCode records the latest code artifact.
func (c *Context) SetCode(cb *worker.CodeBlock) {
	if cb == nil {
		return
	}
	stored := *cb
	stored.Dependencies = append([]string(nil), cb.Dependencies...)
	c.mu.Lock()
	c.code = &stored
	c.mu.Unlock()
}

// Retries returns the session's per-worker retry counters.
func (c *Context) Retries() *retry.Manager {
	return c.retries
}

// Selector returns the transcript shown to the oracle when selecting.
func (c *Context) Selector() *transcript.Transcript {
	return c.selector
}

// Workers returns the transcript of worker outputs used for synthesis.
func (c *Context) Workers() *transcript.Transcript {
	return c.workers
}

// Clear drops all session state at once.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = ""
	c.history = nil
	c.code = nil
	c.retries.ResetAll()
	c.selector.Reset()
	c.workers.Reset()
	c.cleared = true
}

// Cleared reports whether Clear has run.
func (c *Context) Cleared() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cleared
}
