package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/emitter"
	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/logging"
)

// Default limits.
const (
	DefaultMaxRetries           = 3
	DefaultMaxStalls            = 3
	DefaultMaxSelectionAttempts = 10
	DefaultMaxRounds            = 50
	DefaultWorkerTimeout        = 60 * time.Second
)

// Limits bounds a session. A session copies the limits in force when it
// starts.
type Limits struct {
	// MaxRetries is the consecutive-failure bound per worker.
	MaxRetries int
	// MaxStalls is the number of consecutive stalled rounds that triggers
	// replanning.
	MaxStalls int
	// MaxSelectionAttempts bounds consecutive failed selections.
	MaxSelectionAttempts int
	// MaxRounds bounds selection rounds. 0 means unlimited.
	MaxRounds int
	// WorkerTimeout is the deadline for each worker call.
	WorkerTimeout time.Duration
}

// DefaultLimits returns the default session limits.
func DefaultLimits() Limits {
	return Limits{
		MaxRetries:           DefaultMaxRetries,
		MaxStalls:            DefaultMaxStalls,
		MaxSelectionAttempts: DefaultMaxSelectionAttempts,
		MaxRounds:            DefaultMaxRounds,
		WorkerTimeout:        DefaultWorkerTimeout,
	}
}

// LimitsFromConfig converts the orchestration config section.
func LimitsFromConfig(cfg config.OrchestrationConfig) Limits {
	return Limits{
		MaxRetries:           cfg.MaxRetries,
		MaxStalls:            cfg.MaxStalls,
		MaxSelectionAttempts: cfg.MaxSelectionAttempts,
		MaxRounds:            cfg.MaxRounds,
		WorkerTimeout:        cfg.WorkerTimeout(),
	}
}

// normalize fills non-positive limits with defaults. MaxRetries may be 0
// and MaxRounds 0 means unlimited.
func (l Limits) normalize() Limits {
	d := DefaultLimits()
	if l.MaxRetries < 0 {
		l.MaxRetries = 0
	}
	if l.MaxStalls <= 0 {
		l.MaxStalls = d.MaxStalls
	}
	if l.MaxSelectionAttempts <= 0 {
		l.MaxSelectionAttempts = d.MaxSelectionAttempts
	}
	if l.MaxRounds < 0 {
		l.MaxRounds = 0
	}
	if l.WorkerTimeout <= 0 {
		l.WorkerTimeout = d.WorkerTimeout
	}
	return l
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Each session derives a child tagged with its id.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer sets the tracer. The default is a noop tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus *event.Bus) Option {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// WithSinks adds progress sinks shared by every session.
func WithSinks(sinks ...emitter.Sink) Option {
	return func(o *Orchestrator) {
		o.sinks = append(o.sinks, sinks...)
	}
}

// WithLimits replaces all limits.
func WithLimits(l Limits) Option {
	return func(o *Orchestrator) {
		o.limits = l.normalize()
	}
}

// WithMaxRetries sets the per-worker consecutive-failure bound.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		o.limits.MaxRetries = n
		o.limits = o.limits.normalize()
	}
}

// WithMaxStalls sets the stall threshold.
func WithMaxStalls(n int) Option {
	return func(o *Orchestrator) {
		o.limits.MaxStalls = n
		o.limits = o.limits.normalize()
	}
}

// WithMaxSelectionAttempts bounds consecutive failed selections.
func WithMaxSelectionAttempts(n int) Option {
	return func(o *Orchestrator) {
		o.limits.MaxSelectionAttempts = n
		o.limits = o.limits.normalize()
	}
}

// WithMaxRounds bounds selection rounds. 0 means unlimited.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		o.limits.MaxRounds = n
		o.limits = o.limits.normalize()
	}
}

// WithWorkerTimeout sets the deadline for each worker call.
func WithWorkerTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.limits.WorkerTimeout = d
		o.limits = o.limits.normalize()
	}
}

// WithIDGenerator replaces session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

func defaultTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer(tracerName)
}

func defaultID() string {
	return uuid.NewString()
}
