package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/relay/internal/errors"
)

func stalledState() State {
	s := DefaultState()
	s.InLoop = Bool(true, "repeating the same request")
	return s
}

func progressingState() State {
	return DefaultState()
}

func TestLedger_Uninitialized(t *testing.T) {
	l := New(3, nil)

	assert.False(t, l.Initialized())
	assert.False(t, l.IsTaskComplete())
	assert.False(t, l.IsStalled())

	_, err := l.NextSpeaker()
	assert.ErrorIs(t, err, errors.ErrLedgerNotInitialized)
	_, err = l.Instruction()
	assert.ErrorIs(t, err, errors.ErrLedgerNotInitialized)
	_, err = l.State()
	assert.ErrorIs(t, err, errors.ErrLedgerNotInitialized)

	assert.Equal(t, Summary{}, l.Summary())
}

func TestLedger_Initialize(t *testing.T) {
	l := New(0, nil)
	assert.Equal(t, DefaultMaxStalls, l.MaxStalls())

	l.Initialize()
	l.Initialize()

	assert.True(t, l.Initialized())
	assert.False(t, l.IsTaskComplete())
	assert.False(t, l.IsStalled())

	speaker, err := l.NextSpeaker()
	require.NoError(t, err)
	assert.Empty(t, speaker, "empty decision is distinct from no decision")

	instruction, err := l.Instruction()
	require.NoError(t, err)
	assert.Empty(t, instruction)
}

func TestLedger_UpdateIsFullReplace(t *testing.T) {
	l := New(3, nil)
	l.Initialize()

	first := DefaultState()
	first.NextSpeaker = String("coder", "needs code")
	first.Instruction = String("write sum.py", "")
	require.NoError(t, l.Update(first))

	second := DefaultState()
	second.RequestSatisfied = Bool(true, "done")
	require.NoError(t, l.Update(second))

	got, err := l.State()
	require.NoError(t, err)
	assert.Equal(t, second, got, "no field of the first update may survive")
	assert.True(t, l.IsTaskComplete())

	speaker, _ := l.NextSpeaker()
	assert.Empty(t, speaker)
}

func TestLedger_UpdateRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name  string
		strip func(*State)
		field string
	}{
		{"satisfied", func(s *State) { s.RequestSatisfied = nil }, FieldRequestSatisfied},
		{"in loop", func(s *State) { s.InLoop = nil }, FieldInLoop},
		{"progress", func(s *State) { s.ProgressBeingMade = nil }, FieldProgressBeingMade},
		{"speaker", func(s *State) { s.NextSpeaker = nil }, FieldNextSpeaker},
		{"instruction", func(s *State) { s.Instruction = nil }, FieldInstruction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(3, nil)
			l.Initialize()
			before, _ := l.State()

			bad := DefaultState()
			bad.RequestSatisfied = Bool(true, "")
			tt.strip(&bad)

			err := l.Update(bad)
			require.ErrorIs(t, err, errors.ErrInvalidState)

			var le *errors.LedgerError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.field, le.Field)

			after, _ := l.State()
			assert.Equal(t, before, after, "rejected update must not change state")
		})
	}
}

func TestLedger_StateIsCopied(t *testing.T) {
	l := New(3, nil)
	s := DefaultState()
	s.NextSpeaker = String("coder", "")
	require.NoError(t, l.Update(s))

	s.NextSpeaker.Answer = "mutated"
	got, _ := l.State()
	got.NextSpeaker.Answer = "mutated again"

	speaker, _ := l.NextSpeaker()
	assert.Equal(t, "coder", speaker)
}

func TestLedger_HandleStallIsEdgeTriggered(t *testing.T) {
	l := New(3, nil)
	l.Initialize()
	require.NoError(t, l.Update(stalledState()))

	var fired []bool
	for i := 0; i < 7; i++ {
		fired = append(fired, l.HandleStall())
	}
	assert.Equal(t, []bool{false, false, true, false, false, true, false}, fired)
	assert.Equal(t, 1, l.StallCount())
}

func TestLedger_HandleStallResetsOnProgress(t *testing.T) {
	l := New(3, nil)
	l.Initialize()

	require.NoError(t, l.Update(stalledState()))
	assert.False(t, l.HandleStall())
	assert.False(t, l.HandleStall())
	assert.Equal(t, 2, l.StallCount())

	require.NoError(t, l.Update(progressingState()))
	assert.False(t, l.HandleStall())
	assert.Equal(t, 0, l.StallCount())

	require.NoError(t, l.Update(stalledState()))
	assert.False(t, l.HandleStall())
	assert.False(t, l.HandleStall())
	assert.True(t, l.HandleStall())
}

func TestLedger_NoProgressCountsAsStall(t *testing.T) {
	l := New(1, nil)
	s := DefaultState()
	s.ProgressBeingMade = Bool(false, "same error again")
	require.NoError(t, l.Update(s))

	assert.True(t, l.IsStalled())
	assert.True(t, l.HandleStall())
}

func TestLedger_UninitializedHandleStall(t *testing.T) {
	l := New(1, nil)
	assert.False(t, l.HandleStall())
	assert.Equal(t, 0, l.StallCount())
}

func TestLedger_SummaryAndReset(t *testing.T) {
	l := New(3, nil)
	s := stalledState()
	s.NextSpeaker = String("executor", "")
	s.Instruction = String("run it", "")
	require.NoError(t, l.Update(s))
	l.HandleStall()

	assert.Equal(t, Summary{
		Initialized:    true,
		Stalled:        true,
		StallCount:     1,
		NextSpeaker:    "executor",
		HasInstruction: true,
	}, l.Summary())

	l.Reset()
	assert.False(t, l.Initialized())
	assert.Equal(t, 0, l.StallCount())
}

func TestParseState(t *testing.T) {
	valid := `{
		"is_request_satisfied": {"answer": false, "explanation": "Work in progress"},
		"is_in_loop": {"answer": false},
		"is_progress_being_made": {"answer": true},
		"next_speaker": {"answer": "file_surfer"},
		"instruction_or_question": {"answer": "Please analyze example.py"}
	}`

	t.Run("valid", func(t *testing.T) {
		s, err := ParseState([]byte(valid))
		require.NoError(t, err)
		assert.Equal(t, "file_surfer", s.NextSpeaker.Answer)
		assert.Equal(t, "Work in progress", s.RequestSatisfied.Explanation)
		assert.True(t, s.ProgressBeingMade.Answer)
	})

	invalid := []struct {
		name  string
		input string
		field string
	}{
		{"not an object", `[1,2]`, ""},
		{"missing field", `{"is_request_satisfied":{"answer":true},"is_in_loop":{"answer":false},"is_progress_being_made":{"answer":true},"next_speaker":{"answer":""}}`, FieldInstruction},
		{"null field", `{"is_request_satisfied":null}`, FieldRequestSatisfied},
		{"mistyped bool", `{"is_request_satisfied":{"answer":"yes"}}`, FieldRequestSatisfied},
		{"missing answer", `{"is_request_satisfied":{"answer":true},"is_in_loop":{"explanation":"?"}}`, FieldInLoop},
		{"mistyped string", `{"is_request_satisfied":{"answer":true},"is_in_loop":{"answer":false},"is_progress_being_made":{"answer":true},"next_speaker":{"answer":7}}`, FieldNextSpeaker},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseState([]byte(tt.input))
			require.ErrorIs(t, err, errors.ErrInvalidState)
			var le *errors.LedgerError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.field, le.Field)
		})
	}

	t.Run("UpdateJSON", func(t *testing.T) {
		l := New(3, nil)
		require.NoError(t, l.UpdateJSON([]byte(valid)))
		speaker, err := l.NextSpeaker()
		require.NoError(t, err)
		assert.Equal(t, "file_surfer", speaker)

		assert.Error(t, l.UpdateJSON([]byte(`{}`)))
		speaker, _ = l.NextSpeaker()
		assert.Equal(t, "file_surfer", speaker)
	})
}
