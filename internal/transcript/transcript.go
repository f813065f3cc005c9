// Package transcript holds the ordered message logs a session keeps for
// the oracle: the selector's running conversation and the workers' outputs
// used to synthesize a final answer.
package transcript

import (
	"strings"
	"sync"
)

// Roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of a transcript. Source names the worker or
// component that produced it.
type Message struct {
	Role    string `json:"role"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content"`
}

// User builds a user-role message.
func User(source, content string) Message {
	return Message{Role: RoleUser, Source: source, Content: content}
}

// Assistant builds an assistant-role message.
func Assistant(source, content string) Message {
	return Message{Role: RoleAssistant, Source: source, Content: content}
}

// Transcript is an append-only, concurrency-safe message log.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

// New creates an empty Transcript.
func New() *Transcript {
	return &Transcript{}
}

// Append adds messages in order.
func (t *Transcript) Append(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	t.mu.Lock()
	t.messages = append(t.messages, msgs...)
	t.mu.Unlock()
}

// Messages returns a copy of the log.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Message(nil), t.messages...)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Reset drops every message.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.messages = nil
	t.mu.Unlock()
}

// Render formats messages as "[source] content" blocks separated by blank
// lines, for inclusion in prompts.
func Render(msgs []Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		label := m.Source
		if label == "" {
			label = m.Role
		}
		sb.WriteString("[")
		sb.WriteString(label)
		sb.WriteString("] ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}
