package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/relay/internal/emitter"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/oracle"
	orchctx "github.com/Iron-Ham/relay/internal/orchestrator/context"
	"github.com/Iron-Ham/relay/internal/orchestrator/ledger"
	"github.com/Iron-Ham/relay/internal/transcript"
	"github.com/Iron-Ham/relay/internal/worker"
)

// selectorSource labels the selector's turns in its transcript.
const selectorSource = "selector"

// session is the state of one Run. It is driven by a single goroutine.
type session struct {
	orch    *Orchestrator
	id      string
	limits  Limits
	logger  *logging.Logger
	emitter *emitter.Emitter
	stream  *emitter.Stream
	octx    *orchctx.Context
	ledger  *ledger.Ledger

	state             State
	round             int
	replans           int
	replanning        bool
	selectionFailures int
	selection         oracle.Selection
	selected          worker.Worker

	status    int
	output    string
	err       error
	startedAt time.Time
}

func newSession(o *Orchestrator, id, task string, limits Limits, logger *logging.Logger, em *emitter.Emitter) *session {
	return &session{
		orch:    o,
		id:      id,
		limits:  limits,
		logger:  logger,
		emitter: em,
		octx:    orchctx.New(task, limits.MaxRetries),
		ledger:  ledger.New(limits.MaxStalls, logger),
		state:   StateInit,
		status:  emitter.StatusInProgress,
	}
}

// run drives the state machine to a terminal state, then clears the
// session's Context and Ledger.
func (s *session) run(ctx context.Context) *Result {
	s.startedAt = time.Now()
	s.stream = s.emitter.Open(AgentName, s.octx.Task())

	for !s.state.Terminal() {
		var next State
		recovered := panics.Try(func() { next = s.step(ctx) })
		if recovered != nil {
			s.logger.Error("panic in control loop",
				"state", string(s.state),
				"round", s.round,
				"panic", fmt.Sprint(recovered.Value),
				"stack", string(recovered.Stack),
			)
			err := errors.NewSessionError(fmt.Sprintf("panic while %s: %v", s.state, recovered.Value), errors.ErrSessionPanic).
				WithSessionID(s.id).WithRound(s.round).WithSeverity(errors.SeverityCritical)
			next = s.fail(ctx, "Critical orchestration error: "+fmt.Sprint(recovered.Value), err)
		}
		s.transition(ctx, next)
	}

	res := s.result()
	s.octx.Clear()
	s.ledger.Reset()
	return res
}

func (s *session) step(ctx context.Context) State {
	switch s.state {
	case StateInit:
		return s.init(ctx)
	case StatePlanning:
		return s.plan(ctx)
	case StateSelecting:
		return s.selectNext(ctx)
	case StateExecuting:
		return s.execute(ctx)
	case StateCritiquing:
		return s.critique(ctx)
	case StateReplanning:
		return s.replan()
	default:
		return s.fail(ctx, "Unknown orchestration state", errors.NewSessionError("unknown state "+string(s.state), nil).WithSessionID(s.id))
	}
}

func (s *session) transition(ctx context.Context, next State) {
	from := s.state
	if !from.CanTransition(next) {
		err := errors.NewSessionError(fmt.Sprintf("illegal transition %s -> %s", from, next), nil).
			WithSessionID(s.id).WithRound(s.round).WithSeverity(errors.SeverityCritical)
		s.fail(ctx, "Critical orchestration error: "+err.Error(), err)
		next = StateFailed
	}
	s.state = next
	if from == next {
		return
	}
	s.logger.Debug("state transition", "from", string(from), "to", string(next), "round", s.round)
	s.orch.publish(event.NewStateChangedEvent(s.id, string(from), string(next), s.round))
}

func (s *session) roundLogger() *logging.Logger {
	return s.logger.WithRound(s.round).With("state", string(s.state))
}

func (s *session) init(ctx context.Context) State {
	s.stream.Publish(ctx)
	s.stream.Step(ctx, "Agents initialized")
	return StatePlanning
}

func (s *session) plan(ctx context.Context) State {
	if next, done := s.checkCanceled(ctx); done {
		return next
	}

	req := oracle.PlanRequest{
		Task:   s.octx.Task(),
		Roster: s.orch.registry.Roster(),
	}
	if s.replanning {
		req.PreviousPlan = s.octx.Plan()
		req.History = s.octx.History()
	}

	plan, err := s.callPlan(ctx, req)
	if err != nil {
		if next, done := s.checkCanceled(ctx); done {
			return next
		}
		if !s.replanning {
			s.stream.AddStep("Plan generation failed: " + err.Error())
			failure := errors.NewSessionError("plan generation failed", errors.Join(errors.ErrPlanGeneration, err)).WithSessionID(s.id)
			return s.fail(ctx, "Plan generation failed: "+err.Error(), failure)
		}
		s.replanning = false
		s.roundLogger().Warn("replanning failed, keeping current plan", "error", err.Error())
		s.orch.publish(event.NewReplannedEvent(s.id, s.round, false))
		s.stream.Step(ctx, "Replanning failed, keeping current plan: "+err.Error())
		return StateSelecting
	}

	s.octx.SetPlan(plan)
	if s.replanning {
		s.replanning = false
		s.replans++
		s.roundLogger().Info("plan regenerated", "replans", s.replans, "plan_length", len(plan))
		s.orch.publish(event.NewReplannedEvent(s.id, s.round, true))
		s.stream.Step(ctx, "Plan regenerated")
		return StateSelecting
	}

	s.ledger.Initialize()
	s.logger.Info("plan generated", "plan_length", len(plan))
	return StateSelecting
}

func (s *session) selectNext(ctx context.Context) State {
	if next, done := s.checkCanceled(ctx); done {
		return next
	}
	if s.limits.MaxRounds > 0 && s.round >= s.limits.MaxRounds {
		err := errors.NewSessionError(fmt.Sprintf("no result after %d rounds", s.round), errors.ErrRoundLimit).
			WithSessionID(s.id).WithRound(s.round)
		return s.fail(ctx, fmt.Sprintf("Round limit reached after %d rounds", s.round), err)
	}
	s.round++
	logger := s.roundLogger()

	plan := s.octx.Plan()
	sel, err := s.callSelect(ctx, oracle.SelectRequest{
		Plan:       plan,
		Roster:     s.orch.registry.Roster(),
		Transcript: s.octx.Selector().Messages(),
	})
	if err != nil {
		if next, done := s.checkCanceled(ctx); done {
			return next
		}
		s.selectionFailures++
		logger.Warn("selection failed",
			"attempt", s.selectionFailures,
			"max_attempts", s.limits.MaxSelectionAttempts,
			"error", err.Error(),
		)
		s.stream.Step(ctx, "Agent selection failed: "+err.Error())
		return s.afterSelectionFailure(ctx, err)
	}

	s.octx.Selector().Append(
		transcript.User(AgentName, plan),
		transcript.Assistant(selectorSource, selectionText(sel)),
	)

	w, err := s.orch.registry.Lookup(sel.NextSpeaker)
	if err != nil {
		s.selectionFailures++
		logger.Warn("selected worker not found",
			"worker", sel.NextSpeaker,
			"attempt", s.selectionFailures,
			"known", s.orch.registry.IDs(),
		)
		s.stream.Step(ctx, fmt.Sprintf("Agent %s not found", sel.NextSpeaker))
		return s.afterSelectionFailure(ctx, err)
	}

	s.selectionFailures = 0
	s.selection = sel
	s.selected = w
	logger.Info("worker selected", "worker", w.ID(), "instruction_length", len(sel.Instruction))
	return StateExecuting
}

func (s *session) afterSelectionFailure(ctx context.Context, cause error) State {
	if s.selectionFailures < s.limits.MaxSelectionAttempts {
		return StateSelecting
	}
	err := errors.NewSessionError(
		fmt.Sprintf("%d consecutive selections failed", s.selectionFailures),
		errors.Join(errors.ErrSelectionExhausted, cause),
	).WithSessionID(s.id).WithRound(s.round)
	return s.fail(ctx, fmt.Sprintf("Agent selection failed %d times in a row", s.selectionFailures), err)
}

func (s *session) execute(ctx context.Context) State {
	if next, done := s.checkCanceled(ctx); done {
		return next
	}

	w := s.selected
	instruction := s.selection.Instruction
	logger := s.roundLogger().WithWorker(w.ID())

	ws := s.emitter.Open(w.ID(), instruction)
	ws.Publish(ctx)
	s.orch.publish(event.NewWorkerStartedEvent(s.id, w.ID(), instruction, s.round))

	rec, res := s.invoke(ctx, w, instruction)
	s.octx.Append(rec)

	for _, step := range res.Steps {
		ws.AddStep(step)
	}
	if res.Code != nil {
		s.octx.SetCode(res.Code)
	}
	if len(res.Messages) > 0 {
		s.octx.Workers().Append(res.Messages...)
	} else if rec.Success {
		s.octx.Workers().Append(transcript.Assistant(w.ID(), rec.Output))
	}
	s.orch.publish(event.NewWorkerFinishedEvent(s.id, w.ID(), rec.Success, rec.Duration, s.round))

	if rec.Success {
		ws.Finish(ctx, emitter.StatusSuccess, rec.Output)
		s.octx.Retries().RecordSuccess(w.ID())
		logger.Info("worker succeeded", "duration", rec.Duration.String())
		return StateCritiquing
	}

	ws.Finish(ctx, emitter.StatusFailure, rec.Error)
	outcome := s.octx.Retries().RecordFailure(w.ID(), rec.Error)
	if outcome.Retry {
		logger.Warn("worker failed, will retry",
			"attempt", outcome.Attempt,
			"max_retries", outcome.MaxRetries,
			"error", rec.Error,
		)
		s.stream.Step(ctx, fmt.Sprintf("Retrying %s (%d/%d)", w.ID(), outcome.Attempt, outcome.MaxRetries))
	} else {
		logger.Error("max retries reached",
			"max_retries", outcome.MaxRetries,
			"error", rec.Error,
		)
		s.stream.Step(ctx, fmt.Sprintf("Max retries reached for %s", w.ID()))
	}
	return StateSelecting
}

// invoke runs w under the worker timeout. A worker still running past the
// deadline fails even if it eventually reports success.
func (s *session) invoke(ctx context.Context, w worker.Worker, instruction string) (orchctx.ExecutionRecord, worker.Result) {
	ctx, span := s.orch.tracer.Start(ctx, "relay.worker.execute", trace.WithAttributes(
		attribute.String(attrSessionID, s.id),
		attribute.Int(attrRound, s.round),
		attribute.String(attrWorkerID, w.ID()),
	))

	wctx, cancel := context.WithTimeout(ctx, s.limits.WorkerTimeout)
	defer cancel()

	req := worker.Request{
		Instruction: instruction,
		Code:        s.octx.Code(),
		History:     s.octx.Workers().Messages(),
	}

	started := time.Now()
	res, err := w.Execute(wctx, req)
	finished := time.Now()

	if errors.Is(wctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = errors.NewTimeoutError(w.ID(), s.limits.WorkerTimeout).WithCause(err)
	}
	if err != nil {
		res.Success = false
		err = errors.NewWorkerError("execution failed", err).
			WithWorkerID(w.ID()).
			WithAttempt(s.octx.Retries().Failures(w.ID()) + 1)
	}

	rec := orchctx.ExecutionRecord{
		Round:       s.round,
		Worker:      w.ID(),
		Instruction: instruction,
		Success:     res.Success,
		Output:      res.Output,
		Duration:    finished.Sub(started),
		StartedAt:   started,
		FinishedAt:  finished,
	}
	switch {
	case err != nil:
		rec.Output = err.Error()
		rec.Error = err.Error()
	case !res.Success:
		rec.Error = res.Output
		if rec.Error == "" {
			rec.Error = "worker reported failure"
		}
	}

	span.SetAttributes(attribute.Bool(attrSuccess, rec.Success))
	if err == nil && !rec.Success {
		err = errors.New(rec.Error)
	}
	endSpan(span, err)
	return rec, res
}

func (s *session) critique(ctx context.Context) State {
	if next, done := s.checkCanceled(ctx); done {
		return next
	}
	logger := s.roundLogger()

	latest, _ := s.octx.Latest()
	c, err := s.callCritique(ctx, oracle.CritiqueRequest{
		Task:     s.octx.Task(),
		Plan:     s.octx.Plan(),
		Latest:   latest,
		Previous: s.octx.Previous(),
	})
	if err != nil {
		if next, done := s.checkCanceled(ctx); done {
			return next
		}
		logger.Warn("critique failed", "error", err.Error())
		s.stream.Step(ctx, "Critique failed: "+err.Error())
		return StateSelecting
	}

	if err := s.updateLedger(c); err != nil {
		logger.Error("ledger update failed", "error", err.Error())
	}
	sum := s.ledger.Summary()
	logger.Debug("ledger updated",
		"task_complete", sum.TaskComplete,
		"is_stalled", sum.Stalled,
		"stall_count", sum.StallCount,
		"next_speaker", sum.NextSpeaker,
		"has_instruction", sum.HasInstruction,
	)

	if s.ledger.IsTaskComplete() {
		return s.terminate(ctx, c)
	}

	if strings.TrimSpace(c.Feedback) != "" {
		s.octx.SetPlan(c.Feedback)
	}
	s.stream.Step(ctx, fmt.Sprintf("Completed step with %s", s.selected.ID()))

	if s.ledger.HandleStall() {
		logger.Warn("conversation stalled, replanning", "max_stalls", s.ledger.MaxStalls())
		s.stream.Step(ctx, fmt.Sprintf("Replanning after %d stalled rounds", s.ledger.MaxStalls()))
		return StateReplanning
	}
	return StateSelecting
}

// updateLedger replaces the ledger from the critique's verdict and this
// round's selection.
func (s *session) updateLedger(c oracle.Critique) error {
	a := c.AssessmentOrDefault()
	return s.ledger.Update(ledger.State{
		RequestSatisfied:  ledger.Bool(c.Terminate, c.Feedback),
		InLoop:            ledger.Bool(a.InLoop, a.InLoopReason),
		ProgressBeingMade: ledger.Bool(a.Progress, a.ProgressReason),
		NextSpeaker:       ledger.String(s.selection.NextSpeaker, s.selection.Rationale),
		Instruction:       ledger.String(s.selection.Instruction, ""),
	})
}

func (s *session) terminate(ctx context.Context, c oracle.Critique) State {
	final := c.FinalResponse
	if strings.TrimSpace(final) == "" {
		answer, err := s.callSynthesize(ctx, oracle.SynthesisRequest{
			Task:       s.octx.Task(),
			Transcript: s.octx.Workers().Messages(),
		})
		if err != nil {
			s.roundLogger().Error("final answer synthesis failed", "error", err.Error())
			final = "Task completed but failed to generate final answer: " + err.Error()
		} else {
			final = answer
		}
	}

	s.status = emitter.StatusSuccess
	s.output = final
	s.stream.Finish(ctx, emitter.StatusSuccess, final)
	s.roundLogger().Info("task complete", "output_length", len(final))
	return StateTerminated
}

func (s *session) replan() State {
	s.replanning = true
	return StatePlanning
}

// checkCanceled fails the session when ctx is done.
func (s *session) checkCanceled(ctx context.Context) (State, bool) {
	if ctx.Err() == nil {
		return s.state, false
	}
	err := errors.NewSessionError("session canceled", errors.Join(errors.ErrSessionCanceled, ctx.Err())).
		WithSessionID(s.id).WithRound(s.round)
	return s.fail(ctx, "Session canceled: "+ctx.Err().Error(), err), true
}

// fail records err as the session's outcome and sends the final status.
// The send survives cancellation of ctx.
func (s *session) fail(ctx context.Context, output string, err error) State {
	s.status = emitter.StatusFailure
	s.output = output
	s.err = err
	s.stream.Finish(context.WithoutCancel(ctx), emitter.StatusFailure, output)
	s.logger.Error("session failed",
		"state", string(s.state),
		"round", s.round,
		"error", err.Error(),
		"severity", errors.GetSeverity(err).String(),
	)
	return StateFailed
}

func (s *session) result() *Result {
	res := &Result{
		SessionID:  s.id,
		Task:       s.octx.Task(),
		StatusCode: s.status,
		Output:     s.output,
		FinalState: s.state,
		Plan:       s.octx.Plan(),
		Events:     s.emitter.Events(),
		Records:    s.octx.History(),
		Rounds:     s.round,
		Replans:    s.replans,
		StartedAt:  s.startedAt,
		FinishedAt: time.Now(),
		Err:        s.err,
	}
	if s.err != nil {
		res.Error = s.err.Error()
	}
	return res
}

func (s *session) oracleSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return s.orch.tracer.Start(ctx, "relay.oracle."+stage, trace.WithAttributes(
		attribute.String(attrSessionID, s.id),
		attribute.Int(attrRound, s.round),
		attribute.String(attrStage, stage),
	))
}

func (s *session) callPlan(ctx context.Context, req oracle.PlanRequest) (plan string, err error) {
	ctx, span := s.oracleSpan(ctx, errors.StagePlan)
	defer func() { endSpan(span, err) }()

	plan, err = s.orch.oracle.Plan(ctx, req)
	if err == nil && strings.TrimSpace(plan) == "" {
		err = errors.NewOracleError("empty plan", errors.ErrMalformedResponse).WithStage(errors.StagePlan)
	}
	return plan, err
}

func (s *session) callSelect(ctx context.Context, req oracle.SelectRequest) (sel oracle.Selection, err error) {
	ctx, span := s.oracleSpan(ctx, errors.StageSelect)
	defer func() { endSpan(span, err) }()

	sel, err = s.orch.oracle.Select(ctx, req)
	if err != nil {
		return oracle.Selection{}, err
	}
	sel = sel.Normalize()
	if err = oracle.ValidateSelection(sel); err != nil {
		return oracle.Selection{}, err
	}
	return sel, nil
}

func (s *session) callCritique(ctx context.Context, req oracle.CritiqueRequest) (c oracle.Critique, err error) {
	ctx, span := s.oracleSpan(ctx, errors.StageCritique)
	defer func() { endSpan(span, err) }()
	return s.orch.oracle.Critique(ctx, req)
}

func (s *session) callSynthesize(ctx context.Context, req oracle.SynthesisRequest) (answer string, err error) {
	ctx, span := s.oracleSpan(ctx, errors.StageSynthesize)
	defer func() { endSpan(span, err) }()

	answer, err = s.orch.oracle.Synthesize(ctx, req)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.NewOracleError("empty final answer", errors.ErrMalformedResponse).WithStage(errors.StageSynthesize)
	}
	return answer, err
}

func selectionText(sel oracle.Selection) string {
	data, err := json.Marshal(sel)
	if err != nil {
		return sel.NextSpeaker + ": " + sel.Instruction
	}
	return string(data)
}
