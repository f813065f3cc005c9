// Package ledger holds the orchestrator's belief about task progress and
// detects stalled conversations.
//
// A Ledger starts uninitialized. Initialize installs DefaultState; Update
// replaces the whole State atomically. Reads that have a safe default
// (IsTaskComplete, IsStalled) return false before initialization; reads
// that do not (NextSpeaker, Instruction) return ErrLedgerNotInitialized.
//
// HandleStall is called once per round. It counts consecutive stalled
// rounds and returns true exactly when the count reaches the threshold,
// resetting the count in the same call.
package ledger

import (
	"sync"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/logging"
)

// DefaultMaxStalls is the stall threshold used when none is configured.
const DefaultMaxStalls = 3

// Ledger is safe for concurrent use, though a session only ever drives it
// from its control goroutine.
type Ledger struct {
	mu         sync.RWMutex
	state      *State
	stallCount int
	maxStalls  int
	logger     *logging.Logger
}

// New creates an uninitialized Ledger. maxStalls <= 0 selects DefaultMaxStalls.
func New(maxStalls int, logger *logging.Logger) *Ledger {
	if maxStalls <= 0 {
		maxStalls = DefaultMaxStalls
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Ledger{maxStalls: maxStalls, logger: logger.WithPhase("ledger")}
}

// Initialize installs DefaultState. Calling it again replaces the state.
func (l *Ledger) Initialize() {
	s := DefaultState()
	l.mu.Lock()
	l.state = &s
	l.mu.Unlock()
	l.logger.Debug("ledger initialized")
}

// Update replaces the state with s. An invalid s leaves the ledger unchanged.
func (l *Ledger) Update(s State) error {
	if err := s.Validate(); err != nil {
		l.logger.Error("ledger update rejected", "error", err.Error())
		return err
	}
	c := s.Clone()

	l.mu.Lock()
	l.state = &c
	l.mu.Unlock()

	l.logger.Debug("ledger updated",
		"satisfied", c.RequestSatisfied.Answer,
		"in_loop", c.InLoop.Answer,
		"progress", c.ProgressBeingMade.Answer,
		"next_speaker", c.NextSpeaker.Answer,
	)
	return nil
}

// UpdateJSON parses data with ParseState and applies it with Update.
func (l *Ledger) UpdateJSON(data []byte) error {
	s, err := ParseState(data)
	if err != nil {
		l.logger.Error("ledger update rejected", "error", err.Error())
		return err
	}
	return l.Update(s)
}

// Initialized reports whether the ledger holds a state.
func (l *Ledger) Initialized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state != nil
}

// State returns a copy of the current state.
func (l *Ledger) State() (State, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state == nil {
		return State{}, errors.NewLedgerError("read before initialization", errors.ErrLedgerNotInitialized)
	}
	return l.state.Clone(), nil
}

// IsTaskComplete reports the request-satisfied answer, false when uninitialized.
func (l *Ledger) IsTaskComplete() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state != nil && l.state.RequestSatisfied.Answer
}

// IsStalled reports whether the conversation is looping or not progressing,
// false when uninitialized.
func (l *Ledger) IsStalled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isStalledLocked()
}

func (l *Ledger) isStalledLocked() bool {
	if l.state == nil {
		return false
	}
	return l.state.InLoop.Answer || !l.state.ProgressBeingMade.Answer
}

// NextSpeaker returns the recorded next speaker, which may be empty.
func (l *Ledger) NextSpeaker() (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state == nil {
		l.logger.Warn("next speaker read from uninitialized ledger")
		return "", errors.NewLedgerError("read before initialization", errors.ErrLedgerNotInitialized).WithField(FieldNextSpeaker)
	}
	return l.state.NextSpeaker.Answer, nil
}

// Instruction returns the recorded instruction, which may be empty.
func (l *Ledger) Instruction() (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state == nil {
		l.logger.Warn("instruction read from uninitialized ledger")
		return "", errors.NewLedgerError("read before initialization", errors.ErrLedgerNotInitialized).WithField(FieldInstruction)
	}
	return l.state.Instruction.Answer, nil
}

// HandleStall advances the stall counter for the current round and reports
// whether replanning is due.
func (l *Ledger) HandleStall() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isStalledLocked() {
		if l.stallCount > 0 {
			l.logger.Info("conversation resumed, resetting stall counter", "previous_count", l.stallCount)
		}
		l.stallCount = 0
		return false
	}

	l.stallCount++
	l.logger.Warn("conversation stalled", "stall_count", l.stallCount, "max_stalls", l.maxStalls)
	if l.stallCount >= l.maxStalls {
		l.logger.Warn("max stalls reached, replanning needed")
		l.stallCount = 0
		return true
	}
	return false
}

// StallCount returns the current consecutive stall count.
func (l *Ledger) StallCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stallCount
}

// MaxStalls returns the configured threshold.
func (l *Ledger) MaxStalls() int {
	return l.maxStalls
}

// Reset returns the ledger to its uninitialized state.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = nil
	l.stallCount = 0
}

// Summary is a loggable digest of the ledger.
type Summary struct {
	Initialized    bool   `json:"initialized"`
	TaskComplete   bool   `json:"task_complete"`
	Stalled        bool   `json:"is_stalled"`
	StallCount     int    `json:"stall_count"`
	NextSpeaker    string `json:"next_speaker,omitempty"`
	HasInstruction bool   `json:"has_instruction"`
}

// Summary returns a digest of the current state.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sum := Summary{StallCount: l.stallCount}
	if l.state == nil {
		return sum
	}
	sum.Initialized = true
	sum.TaskComplete = l.state.RequestSatisfied.Answer
	sum.Stalled = l.isStalledLocked()
	sum.NextSpeaker = l.state.NextSpeaker.Answer
	sum.HasInstruction = l.state.Instruction.Answer != ""
	return sum
}
