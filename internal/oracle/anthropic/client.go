// Package anthropic implements the Decision Oracle and the coder's code
// generator on the Anthropic Messages API.
//
// Structured stages (select, critique, generate) force a single tool whose
// input schema is reflected from the Go result type, so the model's answer
// arrives as typed JSON. When a response carries no matching tool call the
// text content is searched for JSON instead.
package anthropic

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/invopop/jsonschema"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/oracle"
	"github.com/Iron-Ham/relay/internal/transcript"
)

// Tool names used to force structured output.
const (
	ToolSelect   = "select_next_worker"
	ToolCritique = "critique_execution"
	ToolGenerate = "write_code"
)

// Defaults applied when no option overrides them.
const (
	DefaultModel          = "claude-sonnet-4-5"
	DefaultMaxTokens      = 4096
	DefaultRequestTimeout = 120 * time.Second
)

// messageService is the subset of the SDK used here.
type messageService interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client is safe for concurrent use.
type Client struct {
	messages  messageService
	model     string
	maxTokens int64
	timeout   time.Duration
	logger    *logging.Logger
}

var (
	_ oracle.Oracle        = (*Client)(nil)
	_ oracle.CodeGenerator = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTokens caps each response.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = int64(n)
		}
	}
}

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// withMessages replaces the SDK message service.
func withMessages(m messageService) Option {
	return func(c *Client) { c.messages = m }
}

// New creates a client authenticated with apiKey. baseURL may be empty.
func New(apiKey, baseURL string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.NewValidationError("anthropic API key is empty").WithField("oracle.api_key_env")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// The control loop owns retry policy.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	sc := sdk.NewClient(reqOpts...)

	c := &Client{
		messages:  &sc.Messages,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		timeout:   DefaultRequestTimeout,
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithPhase("oracle")
	return c, nil
}

// NewFromConfig creates a client from the oracle config section, reading
// the API key from the configured environment variable.
func NewFromConfig(cfg config.OracleConfig, logger *logging.Logger) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, errors.NewValidationError("environment variable is not set").
			WithField("oracle.api_key_env").WithValue(cfg.APIKeyEnv)
	}
	return New(key, cfg.BaseURL,
		WithModel(cfg.Model),
		WithMaxTokens(cfg.MaxTokens),
		WithRequestTimeout(cfg.RequestTimeout()),
		WithLogger(logger),
	)
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Plan implements oracle.Oracle.
func (c *Client) Plan(ctx context.Context, req oracle.PlanRequest) (string, error) {
	p := oracle.PlanPrompt(req)
	text, err := c.text(ctx, errors.StagePlan, p, nil)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", c.malformed(errors.StagePlan, "empty plan")
	}
	return text, nil
}

// Select implements oracle.Oracle.
func (c *Client) Select(ctx context.Context, req oracle.SelectRequest) (oracle.Selection, error) {
	p := oracle.SelectPrompt(req)
	sel, err := structured[oracle.Selection](ctx, c, errors.StageSelect, p, req.Transcript,
		ToolSelect, "Choose the worker that acts next and its instruction.")
	if err != nil {
		return oracle.Selection{}, err
	}
	sel = sel.Normalize()
	if err := oracle.ValidateSelection(sel); err != nil {
		return oracle.Selection{}, err
	}
	return sel, nil
}

// Critique implements oracle.Oracle.
func (c *Client) Critique(ctx context.Context, req oracle.CritiqueRequest) (oracle.Critique, error) {
	p := oracle.CritiquePromptFor(req)
	return structured[oracle.Critique](ctx, c, errors.StageCritique, p, nil,
		ToolCritique, "Report the verdict on the latest worker output.")
}

// Synthesize implements oracle.Oracle.
func (c *Client) Synthesize(ctx context.Context, req oracle.SynthesisRequest) (string, error) {
	text, err := c.text(ctx, errors.StageSynthesize, oracle.SynthesisPrompt(req), nil)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", c.malformed(errors.StageSynthesize, "empty final answer")
	}
	return text, nil
}

// GenerateCode implements oracle.CodeGenerator.
func (c *Client) GenerateCode(ctx context.Context, req oracle.CodeRequest) (oracle.CodeResponse, error) {
	resp, err := structured[oracle.CodeResponse](ctx, c, errors.StageGenerate, oracle.CodePrompt(req), nil,
		ToolGenerate, "Return one complete program that carries out the instruction.")
	if err != nil {
		return oracle.CodeResponse{}, err
	}
	resp.Code.Language = strings.ToLower(strings.TrimSpace(resp.Code.Language))
	if err := resp.Code.Validate(); err != nil {
		return oracle.CodeResponse{}, c.malformed(errors.StageGenerate, err.Error())
	}
	return resp, nil
}

// text sends a free-form request and concatenates the text blocks.
func (c *Client) text(ctx context.Context, stage string, p oracle.Prompt, history []transcript.Message) (string, error) {
	msg, err := c.send(ctx, stage, c.params(p, history))
	if err != nil {
		return "", err
	}
	return textOf(msg), nil
}

// structured forces tool and decodes its input into T.
func structured[T any](ctx context.Context, c *Client, stage string, p oracle.Prompt, history []transcript.Message, tool, description string) (T, error) {
	var out T

	params := c.params(p, history)
	params.Tools = []sdk.ToolUnionParam{{
		OfTool: &sdk.ToolParam{
			Name:        tool,
			Description: sdk.String(description),
			InputSchema: inputSchema[T](),
		},
	}}
	params.ToolChoice = sdk.ToolChoiceUnionParam{
		OfTool: &sdk.ToolChoiceToolParam{Name: tool},
	}

	msg, err := c.send(ctx, stage, params)
	if err != nil {
		return out, err
	}

	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == tool {
			if err := json.Unmarshal(block.Input, &out); err != nil {
				return out, c.malformed(stage, "decode tool input: "+err.Error())
			}
			return out, nil
		}
	}

	c.logger.Debug("no tool call in response, falling back to text", "stage", stage)
	decoded, err := oracle.Decode[T](stage, textOf(msg))
	if err != nil {
		var oe *errors.OracleError
		if errors.As(err, &oe) {
			return out, oe.WithModel(c.model)
		}
		return out, err
	}
	return decoded, nil
}

func (c *Client) params(p oracle.Prompt, history []transcript.Message) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  toMessages(history, p.User),
	}
	if p.System != "" {
		params.System = []sdk.TextBlockParam{{Text: p.System}}
	}
	return params
}

func (c *Client) send(ctx context.Context, stage string, params sdk.MessageNewParams) (*sdk.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	msg, err := c.messages.New(ctx, params)
	if err != nil {
		c.logger.Warn("oracle request failed",
			"stage", stage,
			"model", c.model,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error(),
		)
		return nil, errors.NewOracleError("request failed", errors.Join(errors.ErrOracleUnavailable, err)).
			WithStage(stage).WithModel(c.model)
	}
	c.logger.Debug("oracle request completed",
		"stage", stage,
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"stop_reason", string(msg.StopReason),
	)
	return msg, nil
}

func (c *Client) malformed(stage, msg string) error {
	return errors.NewOracleError(msg, errors.ErrMalformedResponse).WithStage(stage).WithModel(c.model)
}

// toMessages converts a transcript plus the new user turn into API
// messages, merging adjacent turns of the same role.
func toMessages(history []transcript.Message, user string) []sdk.MessageParam {
	type turn struct {
		assistant bool
		blocks    []sdk.ContentBlockParamUnion
	}
	var turns []turn
	add := func(assistant bool, text string) {
		if text == "" {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].assistant == assistant {
			turns[n-1].blocks = append(turns[n-1].blocks, sdk.NewTextBlock(text))
			return
		}
		turns = append(turns, turn{assistant: assistant, blocks: []sdk.ContentBlockParamUnion{sdk.NewTextBlock(text)}})
	}

	for _, m := range history {
		add(m.Role == transcript.RoleAssistant, m.Content)
	}
	add(false, user)

	// The API requires the conversation to open with a user turn.
	if len(turns) > 0 && turns[0].assistant {
		turns = append([]turn{{blocks: []sdk.ContentBlockParamUnion{sdk.NewTextBlock("(conversation resumed)")}}}, turns...)
	}

	out := make([]sdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		if t.assistant {
			out = append(out, sdk.NewAssistantMessage(t.blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(t.blocks...))
		}
	}
	return out
}

func textOf(msg *sdk.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// inputSchema reflects T into a tool input schema.
func inputSchema[T any]() sdk.ToolInputSchemaParam {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(T))
	return sdk.ToolInputSchemaParam{
		Properties: s.Properties,
		Required:   s.Required,
	}
}
