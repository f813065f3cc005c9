package oracle

import (
	"fmt"
	"strings"

	orchctx "github.com/Iron-Ham/relay/internal/orchestrator/context"
	"github.com/Iron-Ham/relay/internal/transcript"
	"github.com/Iron-Ham/relay/internal/worker"
)

// Prompt is a rendered system/user message pair.
type Prompt struct {
	System string
	User   string
}

// PlannerPromptTemplate takes the worker roster.
const PlannerPromptTemplate = `You only answer with a plan written as plain text. Never call tools for the workers; only plan.

Based on the team composition and the known and unknown facts, devise a short bullet-point plan for the request. There is no requirement to involve every worker.

<rules>
  - Workers receive your plan but cannot follow tool calls from you.
  - Whenever the plan includes the coder, the executor MUST be scheduled immediately after it.
  - Never answer the request yourself, no matter how simple it is.
  - Keep every web link and file path exactly as the user provided it.
  - Keep any instruction from the request as is; do not invent new ones.
  - Only use workers that are necessary to solve the task.
</rules>

Available workers:

%s`

// ReplanSection is appended to the planner's user message when replanning.
const ReplanSection = `

The previous plan stalled. Write a new plan that avoids repeating what failed.

Previous plan:
%s

Execution history:
%s`

// SelectorPromptTemplate takes the worker roster.
const SelectorPromptTemplate = `You are the selector. Look at the conversation so far and the workers available, decide which worker acts next and give it a precise instruction.

Available workers:

%s

<rules>
  - The user message is the current plan that must be completed.
  - Answer with JSON holding "next_speaker", "instruction" and "explanation".
  - "next_speaker" MUST be one of the worker ids listed above, spelled exactly.
  - After the coder completes, ALWAYS select the executor next.
  - Keep every web link and file path exactly as the user provided it.
  - Keep any instruction from the request as is.
</rules>`

// CritiquePrompt is the critic's system message.
const CritiquePrompt = `You are the critic. Review the latest worker output against the task and the plan.

<rules>
  - Enumerate each plan step and mark it COMPLETED or PENDING.
  - State the plan completion percentage, for example "Plan Completion: 3/5 steps - 60% complete".
  - State which worker should act next according to the plan.
  - Set "terminate" to true if and only if every plan step has completed successfully.
  - When "terminate" is true, "final_response" MUST hold the final answer to the original request. Do not paste worker output verbatim; summarize it clearly with short sections.
  - When the task involved code, summarize what was achieved and the relevant output rather than repeating the code.
  - Report in "assessment" whether the conversation is looping (is_in_loop) and whether progress is being made (is_progress_being_made).
</rules>

Answer with JSON holding "feedback", "terminate", optional "final_response" and "assessment".`

// SynthesisPromptTemplate takes the original task.
const SynthesisPromptTemplate = `We are working on the following task:
%s

The work above is complete. Based on the information gathered, write the final answer to the task. Phrase it as if you are addressing the person who asked.`

// CoderPrompt is the code generator's system message.
const CoderPrompt = `You are a careful programmer. Solve tasks with a single complete python or sh program.

<rules>
  - The program must be non-interactive. Never use input() in Python or read in sh; take inputs from arguments, environment variables or files.
  - Do not include test-run snippets that print unrelated output.
  - Print the result with print or echo; do not ask the user to copy anything.
  - If the previous attempt failed, fix the error and return the full program, not a diff.
  - List every third-party package the program imports in "dependencies".
</rules>`

// FormatRoster renders workers one per paragraph.
func FormatRoster(roster []worker.Info) string {
	var sb strings.Builder
	for i, w := range roster {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("Name: %s\nDescription: %s\n", w.ID, w.Description))
	}
	return sb.String()
}

// FormatRecords renders execution records for the planner and critic.
// Failed records show their error text in place of output.
func FormatRecords(records []orchctx.ExecutionRecord) string {
	if len(records) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, r := range records {
		out := r.Output
		if !r.Success && r.Error != "" {
			out = r.Error
		}
		sb.WriteString(fmt.Sprintf("Agent: %s\nOutput: %s\n", r.Worker, out))
	}
	return sb.String()
}

// PlanPrompt renders the planner prompt.
func PlanPrompt(req PlanRequest) Prompt {
	user := req.Task
	if req.Replanning() {
		user += fmt.Sprintf(ReplanSection, req.PreviousPlan, FormatRecords(req.History))
	}
	return Prompt{
		System: fmt.Sprintf(PlannerPromptTemplate, FormatRoster(req.Roster)),
		User:   user,
	}
}

// SelectPrompt renders the selector prompt. The transcript is sent as prior
// conversation turns by adapters that support it; User is always the plan.
func SelectPrompt(req SelectRequest) Prompt {
	return Prompt{
		System: fmt.Sprintf(SelectorPromptTemplate, FormatRoster(req.Roster)),
		User:   req.Plan,
	}
}

// CritiquePromptFor renders the critic prompt.
func CritiquePromptFor(req CritiqueRequest) Prompt {
	latest := req.Latest.Output
	if !req.Latest.Success && req.Latest.Error != "" {
		latest = req.Latest.Error
	}
	return Prompt{
		System: CritiquePrompt,
		User: fmt.Sprintf("Task: %s\nPlan: %s\nLatest Output: %s\nPrevious Execution Results: %s",
			req.Task, req.Plan, latest, FormatRecords(req.Previous)),
	}
}

// SynthesisPrompt renders the final-answer prompt.
func SynthesisPrompt(req SynthesisRequest) Prompt {
	user := fmt.Sprintf(SynthesisPromptTemplate, req.Task)
	if len(req.Transcript) > 0 {
		user = transcript.Render(req.Transcript) + "\n\n" + user
	}
	return Prompt{User: user}
}

// CodePrompt renders the code generator prompt.
func CodePrompt(req CodeRequest) Prompt {
	var sb strings.Builder
	if len(req.History) > 0 {
		sb.WriteString(transcript.Render(req.History))
		sb.WriteString("\n\n")
	}
	if req.Previous != nil {
		sb.WriteString("Previous program:\n")
		sb.WriteString(req.Previous.Markdown())
		sb.WriteString("\n\n")
	}
	sb.WriteString(req.Instruction)
	return Prompt{System: CoderPrompt, User: sb.String()}
}
