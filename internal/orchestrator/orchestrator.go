// Package orchestrator runs the control loop that drives one task to
// completion: plan, select a worker, execute, critique, and either continue,
// replan or terminate.
//
// Each call to Run is an independent session with its own Context, Ledger
// and progress Emitter. Rounds within a session are strictly sequential;
// sessions may run concurrently on the same Orchestrator.
package orchestrator

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/emitter"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/oracle"
	"github.com/Iron-Ham/relay/internal/worker"
)

const tracerName = "github.com/Iron-Ham/relay/internal/orchestrator"

// AgentName is the agent name of the session-level progress stream.
const AgentName = "Orchestrator"

// Orchestrator holds what sessions share: the oracle, the worker registry,
// observers and limits.
type Orchestrator struct {
	oracle   oracle.Oracle
	registry *worker.Registry
	logger   *logging.Logger
	tracer   trace.Tracer
	bus      *event.Bus
	sinks    []emitter.Sink
	newID    func() string

	mu     sync.RWMutex
	limits Limits
}

// New creates an Orchestrator over o and the workers in registry.
func New(o oracle.Oracle, registry *worker.Registry, opts ...Option) (*Orchestrator, error) {
	if o == nil {
		return nil, errors.NewValidationError("oracle is required").WithField("oracle")
	}
	if registry == nil || registry.Len() == 0 {
		return nil, errors.NewValidationError("at least one worker is required").WithField("workers")
	}

	orch := &Orchestrator{
		oracle:   o,
		registry: registry,
		logger:   logging.NopLogger(),
		tracer:   defaultTracer(),
		newID:    defaultID,
		limits:   DefaultLimits(),
	}
	for _, opt := range opts {
		opt(orch)
	}
	return orch, nil
}

// NewFromConfig creates an Orchestrator with limits from cfg.
func NewFromConfig(cfg *config.Config, o oracle.Oracle, registry *worker.Registry, opts ...Option) (*Orchestrator, error) {
	opts = append([]Option{WithLimits(LimitsFromConfig(cfg.Orchestration))}, opts...)
	return New(o, registry, opts...)
}

// Limits returns the limits new sessions will use.
func (o *Orchestrator) Limits() Limits {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.limits
}

// SetLimits replaces the limits for sessions started afterwards. Running
// sessions keep the limits they started with.
func (o *Orchestrator) SetLimits(l Limits) {
	l = l.normalize()
	o.mu.Lock()
	o.limits = l
	o.mu.Unlock()
	o.logger.Info("orchestration limits updated",
		"max_retries", l.MaxRetries,
		"max_stalls", l.MaxStalls,
		"max_selection_attempts", l.MaxSelectionAttempts,
		"max_rounds", l.MaxRounds,
		"worker_timeout", l.WorkerTimeout.String(),
	)
}

// Registry returns the worker registry.
func (o *Orchestrator) Registry() *worker.Registry {
	return o.registry
}

// Run drives task to completion and returns the session result. It always
// returns a result with a final status code and the event log; failures are
// reported through Result.StatusCode and Result.Err. Extra sinks receive
// this session's progress in addition to the orchestrator's shared sinks.
func (o *Orchestrator) Run(ctx context.Context, task string, sinks ...emitter.Sink) *Result {
	id := o.newID()
	limits := o.Limits()
	logger := o.logger.WithSession(id)

	all := make([]emitter.Sink, 0, len(o.sinks)+len(sinks))
	all = append(all, o.sinks...)
	all = append(all, sinks...)

	ctx, span := o.tracer.Start(ctx, "relay.session", trace.WithAttributes(sessionAttrs(id)...))
	defer span.End()

	s := newSession(o, id, task, limits, logger, emitter.New(id, logger, all...))
	o.publish(event.NewSessionStartedEvent(id, task, o.registry.IDs()))
	logger.Info("session started",
		"task_length", len(task),
		"workers", o.registry.IDs(),
		"max_retries", limits.MaxRetries,
		"max_stalls", limits.MaxStalls,
	)

	res := s.run(ctx)

	recordSessionOutcome(span, res)
	o.publish(event.NewSessionCompletedEvent(id, res.StatusCode, res.Rounds, res.Duration()))
	logger.Info("session finished",
		"status_code", res.StatusCode,
		"final_state", string(res.FinalState),
		"rounds", res.Rounds,
		"replans", res.Replans,
		"records", len(res.Records),
		"duration", res.Duration().String(),
	)
	return res
}

func (o *Orchestrator) publish(e event.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}
