// Package browser implements the worker that delegates web browsing to a
// remote browsing service.
//
// The service accepts a JSON POST {"cmd": instruction} and answers with a
// stream of newline-delimited JSON messages. Each message has a type of
// "step", "final" or "error"; the stream ends at the first final or error
// message.
package browser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/transcript"
	"github.com/Iron-Ham/relay/internal/worker"
)

// ID is the browser's registered identity.
const ID = "Web Surfer Agent"

const description = "Browses the web to search, open pages and extract information. " +
	"Use for anything that needs live information from the internet."

// DefaultURL is the streaming endpoint of a locally running browsing service.
const DefaultURL = "http://localhost:8000/api/v1/web/stream"

// maxLineBytes bounds a single streamed message.
const maxLineBytes = 1 << 20

// Message types in the service's stream.
const (
	TypeStep  = "step"
	TypeFinal = "final"
	TypeError = "error"
)

// Message is one line of the service's stream.
type Message struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	// Success is meaningful on final messages. A nil value counts as success.
	Success *bool `json:"success,omitempty"`
}

type request struct {
	Cmd string `json:"cmd"`
}

// Browser is the web browsing worker.
type Browser struct {
	url    string
	client *http.Client
	logger *logging.Logger
}

var _ worker.Worker = (*Browser)(nil)

// Option configures a Browser.
type Option func(*Browser)

// WithHTTPClient sets the HTTP client. The client's own timeout, if any,
// applies in addition to the worker deadline.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Browser) {
		if c != nil {
			b.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Browser) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a Browser streaming from url, or DefaultURL when empty.
func New(url string, opts ...Option) *Browser {
	if url == "" {
		url = DefaultURL
	}
	b := &Browser{
		url:    url,
		client: &http.Client{},
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithWorker(ID)
	return b
}

// NewFromConfig creates a Browser from cfg.
func NewFromConfig(cfg config.BrowserConfig, logger *logging.Logger) *Browser {
	return New(cfg.URL, WithLogger(logger))
}

// ID implements worker.Worker.
func (b *Browser) ID() string { return ID }

// Description implements worker.Worker.
func (b *Browser) Description() string { return description }

// URL returns the streaming endpoint.
func (b *Browser) URL() string { return b.url }

// Execute implements worker.Worker.
func (b *Browser) Execute(ctx context.Context, req worker.Request) (worker.Result, error) {
	body, err := json.Marshal(request{Cmd: req.Instruction})
	if err != nil {
		return worker.Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return worker.Result{}, errors.NewWorkerError("build request", err).WithWorkerID(ID)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	started := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return worker.Result{}, errors.NewWorkerError("browsing service unreachable", err).WithWorkerID(ID)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return worker.Result{}, errors.NewWorkerError(
			fmt.Sprintf("browsing service returned %s: %s", resp.Status, strings.TrimSpace(string(snippet))), nil,
		).WithWorkerID(ID)
	}

	res, err := b.consume(ctx, resp.Body)
	b.logger.Info("browsing finished",
		"success", res.Success,
		"steps", len(res.Steps),
		"elapsed", time.Since(started).String(),
	)
	return res, err
}

// consume reads the stream until a final or error message.
func (b *Browser) consume(ctx context.Context, r io.Reader) (worker.Result, error) {
	var steps []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			b.logger.Warn("skipping malformed stream message", "error", err.Error())
			continue
		}

		switch msg.Type {
		case TypeStep:
			steps = append(steps, msg.Message)
		case TypeFinal:
			ok := msg.Success == nil || *msg.Success
			return b.result(ok, msg.Message, steps), nil
		case TypeError:
			return b.result(false, msg.Message, steps), nil
		default:
			b.logger.Debug("ignoring stream message", "type", msg.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return worker.Result{Steps: steps}, ctx.Err()
		}
		return worker.Result{Steps: steps}, errors.NewWorkerError("read stream", err).WithWorkerID(ID)
	}
	if ctx.Err() != nil {
		return worker.Result{Steps: steps}, ctx.Err()
	}
	return worker.Result{Steps: steps}, errors.NewWorkerError("stream ended without a final message", nil).WithWorkerID(ID)
}

func (b *Browser) result(success bool, output string, steps []string) worker.Result {
	status := "Failed"
	if success {
		status = "Success"
	}
	steps = append(steps, "WebSurfer completed: "+status)
	return worker.Result{
		Success:  success,
		Output:   output,
		Steps:    steps,
		Messages: []transcript.Message{transcript.Assistant(ID, output)},
	}
}
