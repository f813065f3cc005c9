// Package errors provides the error vocabulary shared by relay's packages:
// sentinel errors, domain error types carrying orchestration context, and
// classification helpers used by the control loop to decide between retry,
// re-selection and session failure.
//
// # Error Types
//
// Domain-specific errors:
//   - OracleError: the decision oracle failed to plan, select, critique or synthesize
//   - WorkerError: a worker failed, timed out or could not be resolved
//   - LedgerError: the execution ledger rejected a read or update
//   - SessionError: a session ended abnormally
//
// Semantic errors:
//   - NotFoundError, AlreadyExistsError, ValidationError, TimeoutError
//
// # Usage
//
//	err := errors.NewOracleError("selection failed", errors.ErrMalformedResponse).
//		WithStage(errors.StageSelect)
//
//	if errors.Is(err, errors.ErrMalformedResponse) { ... }
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers need only this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Oracle sentinel errors
var (
	// ErrOracleUnavailable indicates the oracle could not be reached or refused the request.
	ErrOracleUnavailable = New("oracle unavailable")
	// ErrMalformedResponse indicates the oracle answered with output that could not be decoded.
	ErrMalformedResponse = New("malformed oracle response")
	// ErrPlanGeneration indicates the initial plan could not be produced.
	ErrPlanGeneration = New("plan generation failed")
)

// Worker sentinel errors
var (
	// ErrUnknownWorker indicates the selected identity matches no registered worker.
	ErrUnknownWorker = New("unknown worker")
	// ErrDuplicateWorker indicates a worker identity was registered twice.
	ErrDuplicateWorker = New("duplicate worker identity")
	// ErrWorkerTimeout indicates a worker exceeded its execution deadline.
	ErrWorkerTimeout = New("worker timed out")
)

// Ledger sentinel errors
var (
	// ErrInvalidState indicates a ledger update was missing a field or mistyped.
	ErrInvalidState = New("invalid ledger state")
	// ErrLedgerNotInitialized indicates a ledger read before Initialize.
	ErrLedgerNotInitialized = New("ledger not initialized")
)

// Session sentinel errors
var (
	// ErrSelectionExhausted indicates consecutive selection failures hit their bound.
	ErrSelectionExhausted = New("selection attempts exhausted")
	// ErrRoundLimit indicates the session ran out of rounds before terminating.
	ErrRoundLimit = New("round limit reached")
	// ErrSessionCanceled indicates the session context was canceled.
	ErrSessionCanceled = New("session canceled")
	// ErrSessionPanic indicates a panic was recovered inside a round.
	ErrSessionPanic = New("session panicked")
	// ErrSessionNotFound indicates a persisted session could not be found.
	ErrSessionNotFound = New("session not found")
)

// General sentinel errors
var (
	ErrTimeout      = New("operation timed out")
	ErrCanceled     = New("operation canceled")
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// RelayError is implemented by every error type in this package.
type RelayError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	// IsRetryable reports whether the failed operation may succeed if repeated.
	IsRetryable() bool
	// IsUserFacing reports whether the message is safe to show to end users.
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) IsRetryable() bool { return e.retryable }

func (e *baseError) IsUserFacing() bool { return e.userFacing }

// format renders "kind [k=v, ...]: message: cause".
func (e *baseError) format(kind string, tags []string) string {
	prefix := kind
	if len(tags) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(tags, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// Oracle stages
const (
	StagePlan       = "plan"
	StageSelect     = "select"
	StageCritique   = "critique"
	StageSynthesize = "synthesize"
	StageGenerate   = "generate"
)

// OracleError represents a failed call to the decision oracle.
// Oracle failures are retryable by default; the planning stage is the
// caller's decision to make fatal.
//
// Example:
//
//	err := errors.NewOracleError("selection failed", errors.ErrMalformedResponse).WithStage(errors.StageSelect)
//	fmt.Println(err) // "oracle error [stage=select]: selection failed: malformed oracle response"
type OracleError struct {
	baseError
	Stage string
	Model string
}

// NewOracleError creates a new OracleError.
func NewOracleError(message string, cause error) *OracleError {
	return &OracleError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: false,
		},
	}
}

// WithStage records which oracle operation failed.
func (e *OracleError) WithStage(stage string) *OracleError {
	e.Stage = stage
	return e
}

// WithModel records the model that produced the failure.
func (e *OracleError) WithModel(model string) *OracleError {
	e.Model = model
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *OracleError) WithRetryable(r bool) *OracleError {
	e.retryable = r
	return e
}

func (e *OracleError) Error() string {
	var tags []string
	if e.Stage != "" {
		tags = append(tags, "stage="+e.Stage)
	}
	if e.Model != "" {
		tags = append(tags, "model="+e.Model)
	}
	return e.format("oracle error", tags)
}

func (e *OracleError) Is(target error) bool {
	if _, ok := target.(*OracleError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// WorkerError represents a failed worker execution or resolution.
//
// Example:
//
//	err := errors.NewWorkerError("execution failed", errors.ErrWorkerTimeout).WithWorkerID("executor")
//	fmt.Println(err) // "worker error [worker=executor]: execution failed: worker timed out"
type WorkerError struct {
	baseError
	WorkerID string
	Attempt  int
}

// NewWorkerError creates a new WorkerError.
func NewWorkerError(message string, cause error) *WorkerError {
	return &WorkerError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithWorkerID records the worker identity.
func (e *WorkerError) WithWorkerID(id string) *WorkerError {
	e.WorkerID = id
	return e
}

// WithAttempt records which consecutive attempt failed (1-based).
func (e *WorkerError) WithAttempt(n int) *WorkerError {
	e.Attempt = n
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *WorkerError) WithRetryable(r bool) *WorkerError {
	e.retryable = r
	return e
}

func (e *WorkerError) Error() string {
	var tags []string
	if e.WorkerID != "" {
		tags = append(tags, "worker="+e.WorkerID)
	}
	if e.Attempt > 0 {
		tags = append(tags, fmt.Sprintf("attempt=%d", e.Attempt))
	}
	return e.format("worker error", tags)
}

func (e *WorkerError) Is(target error) bool {
	if _, ok := target.(*WorkerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// LedgerError represents a rejected ledger operation.
type LedgerError struct {
	baseError
	Field string
}

// NewLedgerError creates a new LedgerError.
func NewLedgerError(message string, cause error) *LedgerError {
	return &LedgerError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithField records the offending ledger field.
func (e *LedgerError) WithField(field string) *LedgerError {
	e.Field = field
	return e
}

func (e *LedgerError) Error() string {
	var tags []string
	if e.Field != "" {
		tags = append(tags, "field="+e.Field)
	}
	return e.format("ledger error", tags)
}

func (e *LedgerError) Is(target error) bool {
	if _, ok := target.(*LedgerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SessionError represents a session that ended abnormally.
//
// Example:
//
//	err := errors.NewSessionError("session aborted", errors.ErrRoundLimit).WithSessionID("abc").WithRound(50)
//	fmt.Println(err) // "session error [session=abc, round=50]: session aborted: round limit reached"
type SessionError struct {
	baseError
	SessionID string
	Round     int
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithRound records the round in which the session ended.
func (e *SessionError) WithRound(round int) *SessionError {
	e.Round = round
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

func (e *SessionError) Error() string {
	var tags []string
	if e.SessionID != "" {
		tags = append(tags, "session="+e.SessionID)
	}
	if e.Round > 0 {
		tags = append(tags, fmt.Sprintf("round=%d", e.Round))
	}
	return e.format("session error", tags)
}

func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("worker", "surfer")
//	fmt.Println(err) // "worker 'surfer' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if target == ErrSessionNotFound && e.ResourceType == "session" {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("must be positive").WithField("max_retries").WithValue(-1)
//	fmt.Println(err) // "validation error [field=max_retries, value=-1]: must be positive"
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			cause:      ErrInvalidInput,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField sets the field that failed validation.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue sets the offending value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

func (e *ValidationError) Error() string {
	var tags []string
	if e.Field != "" {
		tags = append(tags, "field="+e.Field)
	}
	if e.Value != nil {
		tags = append(tags, fmt.Sprintf("value=%v", e.Value))
	}
	prefix := "validation error"
	if len(tags) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(tags, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that exceeded its deadline.
//
// Example:
//
//	err := errors.NewTimeoutError("executor", 60*time.Second)
//	fmt.Println(err) // "timeout error: executor (timeout: 1m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) || errors.Is(target, ErrWorkerTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable reports whether err is a transient condition worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RelayError
	if As(err, &re) {
		return re.IsRetryable()
	}
	return Is(err, ErrTimeout) || Is(err, ErrWorkerTimeout)
}

// IsUserFacing reports whether err's message is safe to show to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var re RelayError
	if As(err, &re) {
		return re.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity of err, SeverityError for foreign errors.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var re RelayError
	if As(err, &re) {
		return re.Severity()
	}
	return SeverityError
}

// IsCanceled reports whether err stems from context cancellation or an
// explicit session cancellation.
func IsCanceled(err error) bool {
	return Is(err, ErrCanceled) || Is(err, ErrSessionCanceled) ||
		Is(err, context.Canceled)
}

// Wrap wraps an error with an additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
