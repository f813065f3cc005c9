package coder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/oracle"
	"github.com/Iron-Ham/relay/internal/transcript"
	"github.com/Iron-Ham/relay/internal/worker"
)

type fakeGenerator struct {
	resp oracle.CodeResponse
	err  error
	got  oracle.CodeRequest
}

func (f *fakeGenerator) GenerateCode(_ context.Context, req oracle.CodeRequest) (oracle.CodeResponse, error) {
	f.got = req
	return f.resp, f.err
}

func TestCoder_Execute(t *testing.T) {
	gen := &fakeGenerator{resp: oracle.CodeResponse{
		Explanation: "Prints the sum.",
		Code:        worker.CodeBlock{Language: "python", Dependencies: []string{"numpy"}, Content: "print(2+2)"},
	}}
	c := New(gen, nil)

	prev := &worker.CodeBlock{Language: "sh", Content: "echo hi"}
	history := []transcript.Message{transcript.User("Orchestrator", "sum 2+2")}
	res, err := c.Execute(context.Background(), worker.Request{Instruction: "compute 2+2", Code: prev, History: history})
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.NotNil(t, res.Code)
	assert.Equal(t, "print(2+2)", res.Code.Content)
	assert.Contains(t, res.Output, "Prints the sum.")
	assert.Contains(t, res.Output, "```python\nprint(2+2)\n```")
	assert.Equal(t, []string{"Generated python program", "Requires 1 dependencies"}, res.Steps)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, ID, res.Messages[0].Source)

	assert.Equal(t, "compute 2+2", gen.got.Instruction)
	assert.Same(t, prev, gen.got.Previous)
	assert.Equal(t, history, gen.got.History)
}

func TestCoder_GeneratorFailure(t *testing.T) {
	c := New(&fakeGenerator{err: errors.ErrOracleUnavailable}, nil)

	_, err := c.Execute(context.Background(), worker.Request{Instruction: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOracleUnavailable)

	var werr *errors.WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, ID, werr.WorkerID)
}

func TestCoder_EmptyProgram(t *testing.T) {
	c := New(&fakeGenerator{resp: oracle.CodeResponse{Code: worker.CodeBlock{Language: "python"}}}, nil)

	_, err := c.Execute(context.Background(), worker.Request{Instruction: "x"})
	assert.Error(t, err)
}

func TestCoder_Identity(t *testing.T) {
	c := New(&fakeGenerator{}, nil)
	assert.Equal(t, "Coder Agent", c.ID())
	assert.NotEmpty(t, c.Description())
}
