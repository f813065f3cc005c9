package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/Iron-Ham/relay/internal/errors"
)

// Ledger field names as they appear in serialized state.
const (
	FieldRequestSatisfied  = "is_request_satisfied"
	FieldInLoop            = "is_in_loop"
	FieldProgressBeingMade = "is_progress_being_made"
	FieldNextSpeaker       = "next_speaker"
	FieldInstruction       = "instruction_or_question"
)

// BoolEntry is a yes/no judgement with its explanation.
type BoolEntry struct {
	Answer      bool   `json:"answer"`
	Explanation string `json:"explanation,omitempty"`
}

// StringEntry is a free-form judgement with its explanation. An empty
// Answer is a valid decision.
type StringEntry struct {
	Answer      string `json:"answer"`
	Explanation string `json:"explanation,omitempty"`
}

// UnmarshalJSON rejects entries without an answer or with a non-boolean one.
func (e *BoolEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Answer      *bool  `json:"answer"`
		Explanation string `json:"explanation"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Answer == nil {
		return errMissingAnswer
	}
	e.Answer, e.Explanation = *raw.Answer, raw.Explanation
	return nil
}

// UnmarshalJSON rejects entries without an answer or with a non-string one.
func (e *StringEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Answer      *string `json:"answer"`
		Explanation string  `json:"explanation"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Answer == nil {
		return errMissingAnswer
	}
	e.Answer, e.Explanation = *raw.Answer, raw.Explanation
	return nil
}

var errMissingAnswer = errors.New("missing answer")

// Bool builds a BoolEntry.
func Bool(answer bool, explanation string) *BoolEntry {
	return &BoolEntry{Answer: answer, Explanation: explanation}
}

// String builds a StringEntry.
func String(answer, explanation string) *StringEntry {
	return &StringEntry{Answer: answer, Explanation: explanation}
}

// State is the complete belief state held by a Ledger. All five fields are
// required; a State is always replaced as a whole.
type State struct {
	RequestSatisfied  *BoolEntry   `json:"is_request_satisfied"`
	InLoop            *BoolEntry   `json:"is_in_loop"`
	ProgressBeingMade *BoolEntry   `json:"is_progress_being_made"`
	NextSpeaker       *StringEntry `json:"next_speaker"`
	Instruction       *StringEntry `json:"instruction_or_question"`
}

// DefaultState is the state a freshly initialized ledger holds.
func DefaultState() State {
	return State{
		RequestSatisfied:  Bool(false, "Task not completed"),
		InLoop:            Bool(false, "Conversation started"),
		ProgressBeingMade: Bool(true, "Initial state"),
		NextSpeaker:       String("", "No speaker selected yet"),
		Instruction:       String("", "No instruction set"),
	}
}

// Validate returns an ErrInvalidState ledger error naming the first missing field.
func (s State) Validate() error {
	missing := ""
	switch {
	case s.RequestSatisfied == nil:
		missing = FieldRequestSatisfied
	case s.InLoop == nil:
		missing = FieldInLoop
	case s.ProgressBeingMade == nil:
		missing = FieldProgressBeingMade
	case s.NextSpeaker == nil:
		missing = FieldNextSpeaker
	case s.Instruction == nil:
		missing = FieldInstruction
	}
	if missing == "" {
		return nil
	}
	return errors.NewLedgerError("field is required", errors.ErrInvalidState).WithField(missing)
}

// Clone returns a deep copy so callers cannot mutate ledger internals.
func (s State) Clone() State {
	out := State{}
	if s.RequestSatisfied != nil {
		v := *s.RequestSatisfied
		out.RequestSatisfied = &v
	}
	if s.InLoop != nil {
		v := *s.InLoop
		out.InLoop = &v
	}
	if s.ProgressBeingMade != nil {
		v := *s.ProgressBeingMade
		out.ProgressBeingMade = &v
	}
	if s.NextSpeaker != nil {
		v := *s.NextSpeaker
		out.NextSpeaker = &v
	}
	if s.Instruction != nil {
		v := *s.Instruction
		out.Instruction = &v
	}
	return out
}

// ParseState decodes and validates a serialized State. Mistyped or missing
// fields yield an ErrInvalidState ledger error.
func ParseState(data []byte) (State, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return State{}, errors.NewLedgerError(fmt.Sprintf("state is not a JSON object: %v", err), errors.ErrInvalidState)
	}

	var s State
	targets := []struct {
		field string
		dst   any
	}{
		{FieldRequestSatisfied, &s.RequestSatisfied},
		{FieldInLoop, &s.InLoop},
		{FieldProgressBeingMade, &s.ProgressBeingMade},
		{FieldNextSpeaker, &s.NextSpeaker},
		{FieldInstruction, &s.Instruction},
	}
	for _, t := range targets {
		value, ok := raw[t.field]
		if !ok || string(value) == "null" {
			return State{}, errors.NewLedgerError("field is required", errors.ErrInvalidState).WithField(t.field)
		}
		if err := json.Unmarshal(value, t.dst); err != nil {
			return State{}, errors.NewLedgerError(err.Error(), errors.ErrInvalidState).WithField(t.field)
		}
	}
	return s, nil
}
