package orchestrator

// State is a control loop state.
type State string

const (
	StateInit State = "init"
	// StatePlanning asks the oracle for a plan. Failure of the initial plan
	// ends the session.
	StatePlanning   State = "planning"
	StateSelecting  State = "selecting"
	StateExecuting  State = "executing"
	StateCritiquing State = "critiquing"
	// StateReplanning discards the plan after repeated stalls and returns to
	// planning with the execution history intact.
	StateReplanning State = "replanning"
	StateTerminated State = "terminated"
	StateFailed     State = "failed"
)

// transitions lists the states reachable from each state. StateFailed is
// reachable from every non-terminal state and is not listed.
var transitions = map[State][]State{
	StateInit:       {StatePlanning},
	StatePlanning:   {StateSelecting},
	StateSelecting:  {StateSelecting, StateExecuting},
	StateExecuting:  {StateSelecting, StateCritiquing},
	StateCritiquing: {StateSelecting, StateReplanning, StateTerminated},
	StateReplanning: {StatePlanning},
}

// Terminal reports whether the session has ended in s.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}

// CanTransition reports whether the loop may move from s to next.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
