// Package oracle defines the Decision Oracle: the stateless capability the
// control loop consults to plan a task, pick the next worker, judge a
// worker's output and, when needed, write the final answer.
//
// Adapters return typed results. Transport or provider failures are
// reported as *errors.OracleError wrapping ErrOracleUnavailable; responses
// that cannot be decoded into the expected shape wrap ErrMalformedResponse.
package oracle

import (
	"context"
	"strings"

	orchctx "github.com/Iron-Ham/relay/internal/orchestrator/context"
	"github.com/Iron-Ham/relay/internal/transcript"
	"github.com/Iron-Ham/relay/internal/worker"
)

// Oracle produces plans, selections, critiques and final answers.
type Oracle interface {
	Plan(ctx context.Context, req PlanRequest) (string, error)
	Select(ctx context.Context, req SelectRequest) (Selection, error)
	Critique(ctx context.Context, req CritiqueRequest) (Critique, error)
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}

// CodeGenerator writes programs for the coder worker.
type CodeGenerator interface {
	GenerateCode(ctx context.Context, req CodeRequest) (CodeResponse, error)
}

// PlanRequest is the input to Oracle.Plan.
type PlanRequest struct {
	Task   string
	Roster []worker.Info
	// History is non-empty when replanning after a stall.
	History []orchctx.ExecutionRecord
	// PreviousPlan is the plan being replaced, if any.
	PreviousPlan string
}

// Replanning reports whether the request replaces an earlier plan.
func (r PlanRequest) Replanning() bool {
	return r.PreviousPlan != "" || len(r.History) > 0
}

// SelectRequest is the input to Oracle.Select.
type SelectRequest struct {
	Plan       string
	Roster     []worker.Info
	Transcript []transcript.Message
}

// Selection names the worker to run next and what it should do.
type Selection struct {
	NextSpeaker string `json:"next_speaker" jsonschema:"description=Exact id of the worker that should act next"`
	Instruction string `json:"instruction" jsonschema:"description=Precise instruction for that worker"`
	Rationale   string `json:"explanation,omitempty" jsonschema:"description=Why this worker and instruction were chosen"`
}

// Normalize trims surrounding whitespace from the selection fields.
func (s Selection) Normalize() Selection {
	s.NextSpeaker = strings.TrimSpace(s.NextSpeaker)
	s.Instruction = strings.TrimSpace(s.Instruction)
	s.Rationale = strings.TrimSpace(s.Rationale)
	return s
}

// CritiqueRequest is the input to Oracle.Critique.
type CritiqueRequest struct {
	Task   string
	Plan   string
	Latest orchctx.ExecutionRecord
	// Previous holds every record except Latest, oldest first.
	Previous []orchctx.ExecutionRecord
}

// Critique is the oracle's verdict on the latest execution.
type Critique struct {
	Feedback      string      `json:"feedback" jsonschema:"description=Step-by-step assessment of the plan marking each step COMPLETED or PENDING"`
	Terminate     bool        `json:"terminate" jsonschema:"description=True only when every plan step has completed successfully"`
	FinalResponse string      `json:"final_response,omitempty" jsonschema:"description=Final answer to the original task; required when terminate is true"`
	Assessment    *Assessment `json:"assessment,omitempty" jsonschema:"description=Whether the conversation is looping or making progress"`
}

// Assessment carries the progress signals fed into the execution ledger.
type Assessment struct {
	InLoop         bool   `json:"is_in_loop" jsonschema:"description=True when the same requests and responses keep repeating"`
	InLoopReason   string `json:"is_in_loop_reason,omitempty"`
	Progress       bool   `json:"is_progress_being_made" jsonschema:"description=False when recent rounds added no value or failed"`
	ProgressReason string `json:"is_progress_being_made_reason,omitempty"`
}

// AssessmentOrDefault returns the critique's assessment, or one reporting
// progress and no loop when the oracle omitted it.
func (c Critique) AssessmentOrDefault() Assessment {
	if c.Assessment == nil {
		return Assessment{Progress: true}
	}
	return *c.Assessment
}

// SynthesisRequest is the input to Oracle.Synthesize.
type SynthesisRequest struct {
	Task       string
	Transcript []transcript.Message
}

// CodeRequest is the input to CodeGenerator.GenerateCode.
type CodeRequest struct {
	Instruction string
	History     []transcript.Message
	// Previous is the last code artifact of the session, if any.
	Previous *worker.CodeBlock
}

// CodeResponse is a generated program plus the generator's commentary.
type CodeResponse struct {
	Explanation string           `json:"explanation" jsonschema:"description=Short description of what the program does"`
	Code        worker.CodeBlock `json:"code"`
}
