package emitter

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/event"
)

// Recorder keeps every update it receives. Used by tests and by callers
// that want the event stream without a transport.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

// Send implements Sink.
func (r *Recorder) Send(_ context.Context, u Update) error {
	r.mu.Lock()
	r.updates = append(r.updates, u.Clone())
	r.mu.Unlock()
	return nil
}

// Updates returns a copy of the received updates.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Clone()
	}
	return out
}

// Multi fans an update out to several sinks, attempting all of them.
type Multi []Sink

// Send implements Sink. The returned error joins every sink failure.
func (m Multi) Send(ctx context.Context, u Update) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BusSink publishes updates as event.ProgressEvent.
type BusSink struct {
	Bus *event.Bus
}

// Send implements Sink.
func (b BusSink) Send(_ context.Context, u Update) error {
	b.Bus.Publish(event.NewProgressEvent(u.SessionID, u.AgentName, u.Instructions, u.Steps, u.Output, u.StatusCode))
	return nil
}

// WriterSink writes updates as JSON lines.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

// Send implements Sink.
func (s *WriterSink) Send(_ context.Context, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(u)
}

// DefaultWriteTimeout bounds a single websocket write.
const DefaultWriteTimeout = 10 * time.Second

// WebSocketSink writes updates as JSON text frames.
type WebSocketSink struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

// NewWebSocketSink creates a sink on conn. timeout <= 0 selects
// DefaultWriteTimeout.
func NewWebSocketSink(conn *websocket.Conn, timeout time.Duration) *WebSocketSink {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &WebSocketSink{conn: conn, timeout: timeout}
}

// Send implements Sink.
func (s *WebSocketSink) Send(ctx context.Context, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(u)
}
