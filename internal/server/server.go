// Package server exposes the orchestrator over HTTP and WebSocket.
//
// Every request runs its own session. Progress for WebSocket clients is
// streamed as JSON progress updates; closing the socket cancels the session.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/emitter"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/orchestrator"
)

const (
	// maxBodyBytes bounds POST /api/v1/run request bodies.
	maxBodyBytes = 1 << 20
	// taskReadTimeout bounds the wait for a WebSocket client's task.
	taskReadTimeout = 30 * time.Second
	// closeGrace bounds the close handshake after a session ends.
	closeGrace = time.Second
)

// Runner runs one session. *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, task string, sinks ...emitter.Sink) *orchestrator.Result
}

// Saver persists finished sessions. *session.Store implements it.
type Saver interface {
	Save(ctx context.Context, res *orchestrator.Result) error
}

// RunRequest is the body of POST /api/v1/run and the optional JSON form of
// a WebSocket client's first message.
type RunRequest struct {
	Task string `json:"task"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"active_sessions"`
	Uptime   int64  `json:"uptime_seconds"`
}

// Server serves orchestration sessions.
type Server struct {
	runner  Runner
	saver   Saver
	logger  *logging.Logger
	origins []string
	started time.Time

	upgrader websocket.Upgrader
	sessions conc.WaitGroup

	// base is canceled on Shutdown, canceling every running session.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	active   int
	http     *http.Server
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithSaver persists every finished session.
func WithSaver(s Saver) Option {
	return func(srv *Server) { srv.saver = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// WithAllowedOrigins restricts WebSocket origins. An empty list allows
// same-origin requests only; "*" allows every origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(srv *Server) { srv.origins = origins }
}

// New creates a Server running sessions on runner.
func New(runner Runner, opts ...Option) *Server {
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:  runner,
		logger:  logging.NopLogger(),
		started: time.Now(),
		base:    base,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithPhase("server")
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// NewFromConfig creates a Server from cfg.
func NewFromConfig(cfg config.ServerConfig, runner Runner, saver Saver, logger *logging.Logger) *Server {
	opts := []Option{WithLogger(logger), WithAllowedOrigins(cfg.AllowedOrigins...)}
	if saver != nil {
		opts = append(opts, WithSaver(saver))
	}
	return New(runner, opts...)
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/run", s.handleRun)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("server already started")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "error", err.Error())
		}
	}()
	s.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests, cancels running sessions and waits
// for them to send their final status.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.listener = nil
	s.mu.Unlock()

	s.cancel()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		if r := s.sessions.WaitAndRecover(); r != nil {
			s.logger.Error("session panicked", "panic", fmt.Sprint(r.Value), "stack", string(r.Stack))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// ActiveSessions returns the number of running sessions.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: s.ActiveSessions(),
		Uptime:   int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return
	}
	var req RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "task is required"})
		return
	}

	ctx, cancel := s.sessionContext(r.Context())
	defer cancel()

	res := s.run(ctx, task)
	if res == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session aborted"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err.Error(), "origin", r.Header.Get("Origin"))
		return
	}
	defer func() { _ = conn.Close() }()

	task, err := readTask(conn)
	if err != nil {
		s.logger.Info("websocket closed before a task was received", "error", err.Error())
		closeConn(conn, websocket.CloseUnsupportedData, err.Error())
		return
	}

	ctx, cancel := s.sessionContext(r.Context())
	defer cancel()

	// The read loop only detects disconnects; any message after the task
	// is ignored.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	res := s.run(ctx, task, emitter.NewWebSocketSink(conn, emitter.DefaultWriteTimeout))
	if res != nil && ctx.Err() != nil && res.StatusCode != emitter.StatusSuccess {
		s.logger.Info("websocket session canceled", "session_id", res.SessionID)
	}
	closeConn(conn, websocket.CloseNormalClosure, "session finished")
}

// run executes one session tracked by the server's wait group.
func (s *Server) run(ctx context.Context, task string, sinks ...emitter.Sink) *orchestrator.Result {
	s.mu.Lock()
	s.active++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	var res *orchestrator.Result
	done := make(chan struct{})
	s.sessions.Go(func() {
		defer close(done)
		res = s.runner.Run(ctx, task, sinks...)
		if s.saver == nil {
			return
		}
		if err := s.saver.Save(context.WithoutCancel(ctx), res); err != nil {
			s.logger.Error("failed to save session", "session_id", res.SessionID, "error", err.Error())
		}
	})
	<-done
	return res
}

// sessionContext derives a session context canceled by either the request
// or server shutdown.
func (s *Server) sessionContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.origins) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range s.origins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

// readTask reads the client's first message: either plain text or a
// RunRequest JSON object.
func readTask(conn *websocket.Conn) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(taskReadTimeout)); err != nil {
		return "", err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}

	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "{") {
		var req RunRequest
		if err := json.Unmarshal(data, &req); err == nil {
			text = strings.TrimSpace(req.Task)
		}
	}
	if text == "" {
		return "", fmt.Errorf("task is required")
	}
	return text, nil
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
