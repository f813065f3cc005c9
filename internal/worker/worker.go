// Package worker defines the capability every orchestrated worker exposes
// and the registry the control loop resolves selections against.
//
// The control loop treats all workers uniformly through Worker.Execute.
// Artifacts that must travel between workers (generated code on its way to
// the executor) are carried in the typed Request.Code and Result.Code fields.
package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/relay/internal/transcript"
)

// CodeBlock is a code artifact produced by one worker and consumed by another.
type CodeBlock struct {
	Language     string   `json:"language" jsonschema:"enum=python,enum=sh,description=Language of the program"`
	Dependencies []string `json:"dependencies,omitempty" jsonschema:"description=Third-party packages the program imports"`
	Content      string   `json:"content" jsonschema:"description=Complete source of the program"`
}

// Validate reports whether the block can be executed.
func (c *CodeBlock) Validate() error {
	if c == nil {
		return fmt.Errorf("code block is nil")
	}
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("code block is empty")
	}
	return nil
}

// Markdown renders the block as a fenced markdown snippet.
func (c CodeBlock) Markdown() string {
	return fmt.Sprintf("```%s\n%s\n```", c.Language, strings.TrimRight(c.Content, "\n"))
}

// Request is the input to one worker execution.
type Request struct {
	// Instruction is the oracle's instruction for this round.
	Instruction string
	// Code is the most recent code artifact in the session, if any.
	Code *CodeBlock
	// History is the worker-facing transcript so far.
	History []transcript.Message
}

// Result is the outcome of one worker execution.
type Result struct {
	Success bool
	Output  string
	// Messages are appended to the session's worker transcript.
	Messages []transcript.Message
	// Code replaces the session's code artifact when non-nil.
	Code *CodeBlock
	// Steps are progress notes streamed while the worker ran.
	Steps []string
}

// Worker executes instructions on behalf of the orchestrator.
// Execute must honor ctx cancellation. Returning an error is equivalent to
// returning a Result with Success=false whose Output is the error text.
type Worker interface {
	ID() string
	Description() string
	Execute(ctx context.Context, req Request) (Result, error)
}

// Info describes a registered worker to the oracle.
type Info struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Func adapts a function into a Worker.
type Func struct {
	Name string
	Desc string
	Fn   func(ctx context.Context, req Request) (Result, error)
}

// ID implements Worker.
func (f Func) ID() string { return f.Name }

// Description implements Worker.
func (f Func) Description() string { return f.Desc }

// Execute implements Worker.
func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	return f.Fn(ctx, req)
}
