// Package coder implements the worker that writes programs.
package coder

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/oracle"
	"github.com/Iron-Ham/relay/internal/transcript"
	"github.com/Iron-Ham/relay/internal/worker"
)

// ID is the coder's registered identity.
const ID = "Coder Agent"

const description = "Writes a complete Python or shell program for an instruction. " +
	"Does not run it; hand the program to the Executor Agent to run it."

// Coder asks a CodeGenerator for a program and returns it as the
// session's code artifact.
type Coder struct {
	gen    oracle.CodeGenerator
	logger *logging.Logger
}

var _ worker.Worker = (*Coder)(nil)

// New creates a Coder backed by gen.
func New(gen oracle.CodeGenerator, logger *logging.Logger) *Coder {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Coder{gen: gen, logger: logger.WithWorker(ID)}
}

// ID implements worker.Worker.
func (c *Coder) ID() string { return ID }

// Description implements worker.Worker.
func (c *Coder) Description() string { return description }

// Execute implements worker.Worker.
func (c *Coder) Execute(ctx context.Context, req worker.Request) (worker.Result, error) {
	resp, err := c.gen.GenerateCode(ctx, oracle.CodeRequest{
		Instruction: req.Instruction,
		History:     req.History,
		Previous:    req.Code,
	})
	if err != nil {
		return worker.Result{}, errors.NewWorkerError("code generation failed", err).WithWorkerID(ID)
	}

	code := resp.Code
	if err := code.Validate(); err != nil {
		return worker.Result{}, errors.NewWorkerError("invalid program", err).WithWorkerID(ID)
	}

	output := code.Markdown()
	if resp.Explanation != "" {
		output = resp.Explanation + "\n\n" + output
	}
	c.logger.Debug("program generated",
		"language", code.Language,
		"dependencies", len(code.Dependencies),
		"content_length", len(code.Content),
	)

	steps := []string{fmt.Sprintf("Generated %s program", code.Language)}
	if len(code.Dependencies) > 0 {
		steps = append(steps, fmt.Sprintf("Requires %d dependencies", len(code.Dependencies)))
	}
	return worker.Result{
		Success:  true,
		Output:   output,
		Code:     &code,
		Steps:    steps,
		Messages: []transcript.Message{transcript.Assistant(ID, output)},
	}, nil
}
