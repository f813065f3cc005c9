package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/oracle"
	"github.com/Iron-Ham/relay/internal/transcript"
	"github.com/Iron-Ham/relay/internal/worker"
)

type fakeMessages struct {
	mu       sync.Mutex
	requests []sdk.MessageNewParams
	reply    *sdk.Message
	err      error
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, body)
	return f.reply, f.err
}

func (f *fakeMessages) last() sdk.MessageNewParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, fake *fakeMessages) *Client {
	t.Helper()
	c, err := New("test-key", "", withMessages(fake), WithModel("test-model"))
	require.NoError(t, err)
	return c
}

func toolReply(name, input string) *sdk.Message {
	return &sdk.Message{Content: []sdk.ContentBlockUnion{{
		Type:  "tool_use",
		Name:  name,
		Input: json.RawMessage(input),
	}}}
}

func textReply(text string) *sdk.Message {
	return &sdk.Message{Content: []sdk.ContentBlockUnion{{Type: "text", Text: text}}}
}

var roster = []worker.Info{
	{ID: "coder", Description: "writes programs"},
	{ID: "executor", Description: "runs programs"},
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New("", "")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default().Oracle
	cfg.APIKeyEnv = "RELAY_TEST_ANTHROPIC_KEY"

	t.Setenv("RELAY_TEST_ANTHROPIC_KEY", "")
	_, err := NewFromConfig(cfg, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	t.Setenv("RELAY_TEST_ANTHROPIC_KEY", "k")
	cfg.Model = "custom"
	c, err := NewFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", c.Model())
}

func TestClient_Plan(t *testing.T) {
	fake := &fakeMessages{reply: textReply("1. coder writes\n2. executor runs")}
	c := newTestClient(t, fake)

	plan, err := c.Plan(context.Background(), oracle.PlanRequest{Task: "sum 2+2", Roster: roster})
	require.NoError(t, err)
	assert.Equal(t, "1. coder writes\n2. executor runs", plan)

	req := fake.last()
	assert.Equal(t, sdk.Model("test-model"), req.Model)
	require.Len(t, req.System, 1)
	assert.Contains(t, req.System[0].Text, "Name: coder")
	assert.Empty(t, req.Tools)
	require.Len(t, req.Messages, 1)
}

func TestClient_PlanEmptyIsMalformed(t *testing.T) {
	c := newTestClient(t, &fakeMessages{reply: textReply("   ")})
	_, err := c.Plan(context.Background(), oracle.PlanRequest{Task: "x"})
	assert.ErrorIs(t, err, errors.ErrMalformedResponse)
}

func TestClient_SelectForcesTool(t *testing.T) {
	fake := &fakeMessages{reply: toolReply(ToolSelect,
		`{"next_speaker":" coder ","instruction":"write a script","explanation":"step 1"}`)}
	c := newTestClient(t, fake)

	history := []transcript.Message{
		transcript.User("orchestrator", "old plan"),
		transcript.Assistant("selector", `{"next_speaker":"coder"}`),
	}
	sel, err := c.Select(context.Background(), oracle.SelectRequest{Plan: "plan", Roster: roster, Transcript: history})
	require.NoError(t, err)
	assert.Equal(t, oracle.Selection{NextSpeaker: "coder", Instruction: "write a script", Rationale: "step 1"}, sel)

	req := fake.last()
	require.Len(t, req.Tools, 1)
	require.NotNil(t, req.Tools[0].OfTool)
	assert.Equal(t, ToolSelect, req.Tools[0].OfTool.Name)
	assert.ElementsMatch(t, []string{"next_speaker", "instruction"}, req.Tools[0].OfTool.InputSchema.Required)
	require.NotNil(t, req.ToolChoice.OfTool)
	assert.Equal(t, ToolSelect, req.ToolChoice.OfTool.Name)
	assert.Len(t, req.Messages, 3, "history turns plus the new plan")
}

func TestClient_SelectMissingSpeaker(t *testing.T) {
	c := newTestClient(t, &fakeMessages{reply: toolReply(ToolSelect, `{"next_speaker":"","instruction":"x"}`)})
	_, err := c.Select(context.Background(), oracle.SelectRequest{Plan: "p"})
	assert.ErrorIs(t, err, errors.ErrMalformedResponse)
}

func TestClient_CritiqueFallsBackToText(t *testing.T) {
	fake := &fakeMessages{reply: textReply("Verdict:\n```json\n{\"feedback\":\"all done\",\"terminate\":true,\"final_response\":\"4\"}\n```")}
	c := newTestClient(t, fake)

	cr, err := c.Critique(context.Background(), oracle.CritiqueRequest{Task: "sum 2+2"})
	require.NoError(t, err)
	assert.True(t, cr.Terminate)
	assert.Equal(t, "4", cr.FinalResponse)
	assert.Nil(t, cr.Assessment)
}

func TestClient_CritiqueGarbage(t *testing.T) {
	c := newTestClient(t, &fakeMessages{reply: textReply("I think it went well")})
	_, err := c.Critique(context.Background(), oracle.CritiqueRequest{})
	require.ErrorIs(t, err, errors.ErrMalformedResponse)

	var oe *errors.OracleError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, errors.StageCritique, oe.Stage)
	assert.Equal(t, "test-model", oe.Model)
}

func TestClient_TransportFailure(t *testing.T) {
	c := newTestClient(t, &fakeMessages{err: io.ErrUnexpectedEOF})
	_, err := c.Synthesize(context.Background(), oracle.SynthesisRequest{Task: "x"})
	assert.ErrorIs(t, err, errors.ErrOracleUnavailable)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, errors.IsRetryable(err))
}

func TestClient_GenerateCode(t *testing.T) {
	fake := &fakeMessages{reply: toolReply(ToolGenerate,
		`{"explanation":"adds","code":{"language":"Python","dependencies":[],"content":"print(2+2)"}}`)}
	c := newTestClient(t, fake)

	resp, err := c.GenerateCode(context.Background(), oracle.CodeRequest{Instruction: "sum"})
	require.NoError(t, err)
	assert.Equal(t, "python", resp.Code.Language)
	assert.Equal(t, "print(2+2)", resp.Code.Content)

	fake.reply = toolReply(ToolGenerate, `{"explanation":"nothing","code":{"language":"sh","content":""}}`)
	_, err = c.GenerateCode(context.Background(), oracle.CodeRequest{Instruction: "sum"})
	assert.ErrorIs(t, err, errors.ErrMalformedResponse)
}

func TestToMessages(t *testing.T) {
	history := []transcript.Message{
		transcript.Assistant("selector", "a"),
		transcript.User("orchestrator", "b"),
		transcript.User("orchestrator", "c"),
	}
	msgs := toMessages(history, "d")

	require.Len(t, msgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
	assert.Len(t, msgs[2].Content, 3, "adjacent user turns are merged")
}

func TestClient_OverHTTP(t *testing.T) {
	var got struct {
		Model      string `json:"model"`
		ToolChoice struct {
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"tool_choice"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "test-model",
			"stop_reason": "tool_use",
			"content": [{"type": "tool_use", "id": "tu_1", "name": "select_next_worker",
				"input": {"next_speaker": "executor", "instruction": "run it"}}],
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	}))
	defer srv.Close()

	c, err := New("test-key", srv.URL, WithModel("test-model"))
	require.NoError(t, err)

	sel, err := c.Select(context.Background(), oracle.SelectRequest{Plan: "p", Roster: roster})
	require.NoError(t, err)
	assert.Equal(t, "executor", sel.NextSpeaker)
	assert.Equal(t, "run it", sel.Instruction)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, "tool", got.ToolChoice.Type)
	assert.Equal(t, ToolSelect, got.ToolChoice.Name)
}

func TestClient_OverHTTPServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
	}))
	defer srv.Close()

	c, err := New("test-key", srv.URL)
	require.NoError(t, err)

	_, err = c.Plan(context.Background(), oracle.PlanRequest{Task: "x"})
	assert.ErrorIs(t, err, errors.ErrOracleUnavailable)
}
