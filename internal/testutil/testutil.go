// Package testutil provides scripted oracles and workers for relay tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/relay/internal/oracle"
	"github.com/Iron-Ham/relay/internal/worker"
)

// Reply is one scripted oracle answer.
type Reply[T any] struct {
	Value T
	Err   error
}

// Call names of the scripted oracle.
const (
	CallPlan       = "plan"
	CallSelect     = "select"
	CallCritique   = "critique"
	CallSynthesize = "synthesize"
)

// ScriptedOracle answers from per-stage queues. When a queue holds a single
// reply left, that reply repeats. Every call is recorded in order.
type ScriptedOracle struct {
	mu         sync.Mutex
	Plans      []Reply[string]
	Selections []Reply[oracle.Selection]
	Critiques  []Reply[oracle.Critique]
	Answers    []Reply[string]

	calls     []string
	plans     []oracle.PlanRequest
	selects   []oracle.SelectRequest
	critiques []oracle.CritiqueRequest
}

var _ oracle.Oracle = (*ScriptedOracle)(nil)

// Plan implements oracle.Oracle.
func (o *ScriptedOracle) Plan(_ context.Context, req oracle.PlanRequest) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, CallPlan)
	o.plans = append(o.plans, req)
	r := next(&o.Plans)
	return r.Value, r.Err
}

// Select implements oracle.Oracle.
func (o *ScriptedOracle) Select(_ context.Context, req oracle.SelectRequest) (oracle.Selection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, CallSelect)
	o.selects = append(o.selects, req)
	r := next(&o.Selections)
	return r.Value, r.Err
}

// Critique implements oracle.Oracle.
func (o *ScriptedOracle) Critique(_ context.Context, req oracle.CritiqueRequest) (oracle.Critique, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, CallCritique)
	o.critiques = append(o.critiques, req)
	r := next(&o.Critiques)
	return r.Value, r.Err
}

// Synthesize implements oracle.Oracle.
func (o *ScriptedOracle) Synthesize(_ context.Context, _ oracle.SynthesisRequest) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, CallSynthesize)
	r := next(&o.Answers)
	return r.Value, r.Err
}

// Calls returns the recorded call names in order.
func (o *ScriptedOracle) Calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.calls...)
}

// Count returns how many times the named stage was called.
func (o *ScriptedOracle) Count(call string) int {
	n := 0
	for _, c := range o.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// PlanRequests returns the recorded plan requests.
func (o *ScriptedOracle) PlanRequests() []oracle.PlanRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]oracle.PlanRequest(nil), o.plans...)
}

// SelectRequests returns the recorded selection requests.
func (o *ScriptedOracle) SelectRequests() []oracle.SelectRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]oracle.SelectRequest(nil), o.selects...)
}

// CritiqueRequests returns the recorded critique requests.
func (o *ScriptedOracle) CritiqueRequests() []oracle.CritiqueRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]oracle.CritiqueRequest(nil), o.critiques...)
}

func next[T any](queue *[]Reply[T]) Reply[T] {
	q := *queue
	if len(q) == 0 {
		var zero Reply[T]
		return zero
	}
	r := q[0]
	if len(q) > 1 {
		*queue = q[1:]
	}
	return r
}

// Pick builds a selection reply.
func Pick(workerID, instruction string) Reply[oracle.Selection] {
	return Reply[oracle.Selection]{Value: oracle.Selection{NextSpeaker: workerID, Instruction: instruction}}
}

// Continue builds a non-terminal critique reply.
func Continue(feedback string) Reply[oracle.Critique] {
	return Reply[oracle.Critique]{Value: oracle.Critique{Feedback: feedback}}
}

// Stalled builds a non-terminal critique reply reporting no progress.
func Stalled(feedback string) Reply[oracle.Critique] {
	return Reply[oracle.Critique]{Value: oracle.Critique{
		Feedback:   feedback,
		Assessment: &oracle.Assessment{Progress: false, ProgressReason: "no new information"},
	}}
}

// Done builds a terminal critique reply.
func Done(final string) Reply[oracle.Critique] {
	return Reply[oracle.Critique]{Value: oracle.Critique{Feedback: "all steps completed", Terminate: true, FinalResponse: final}}
}

// Interval is the wall-clock span of one worker invocation.
type Interval struct {
	Start, End time.Time
}

// ScriptedWorker returns results from a queue, repeating the last one, and
// records every invocation.
type ScriptedWorker struct {
	Name    string
	Results []Reply[worker.Result]
	// Delay is slept, honoring ctx, before answering.
	Delay time.Duration

	mu        sync.Mutex
	requests  []worker.Request
	intervals []Interval
}

var _ worker.Worker = (*ScriptedWorker)(nil)

// ID implements worker.Worker.
func (w *ScriptedWorker) ID() string { return w.Name }

// Description implements worker.Worker.
func (w *ScriptedWorker) Description() string { return "scripted worker " + w.Name }

// Execute implements worker.Worker.
func (w *ScriptedWorker) Execute(ctx context.Context, req worker.Request) (worker.Result, error) {
	start := time.Now()
	defer func() {
		w.mu.Lock()
		w.intervals = append(w.intervals, Interval{Start: start, End: time.Now()})
		w.mu.Unlock()
	}()

	w.mu.Lock()
	w.requests = append(w.requests, req)
	r := next(&w.Results)
	w.mu.Unlock()

	if w.Delay > 0 {
		select {
		case <-time.After(w.Delay):
		case <-ctx.Done():
			return worker.Result{}, ctx.Err()
		}
	}
	return r.Value, r.Err
}

// Requests returns the recorded requests.
func (w *ScriptedWorker) Requests() []worker.Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]worker.Request(nil), w.requests...)
}

// Intervals returns the recorded invocation intervals.
func (w *ScriptedWorker) Intervals() []Interval {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Interval(nil), w.intervals...)
}

// Calls returns how many times the worker ran.
func (w *ScriptedWorker) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}

// Succeed builds a successful worker reply.
func Succeed(output string) Reply[worker.Result] {
	return Reply[worker.Result]{Value: worker.Result{Success: true, Output: output}}
}

// Fail builds a failed worker reply.
func Fail(output string) Reply[worker.Result] {
	return Reply[worker.Result]{Value: worker.Result{Success: false, Output: output}}
}
