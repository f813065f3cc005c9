package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/logging"
)

func TestStream_SnapshotsAreIndependent(t *testing.T) {
	rec := &Recorder{}
	e := New("s1", nil, rec)
	ctx := context.Background()

	s := e.Open("Orchestrator", "sum 2+2")
	s.Publish(ctx)
	s.Step(ctx, "Agents initialized")
	s.Step(ctx, "Completed step with coder")
	s.Finish(ctx, StatusSuccess, "4")

	got := rec.Updates()
	require.Len(t, got, 4)
	assert.Empty(t, got[0].Steps)
	assert.Equal(t, []string{"Agents initialized"}, got[1].Steps)
	assert.Equal(t, []string{"Agents initialized", "Completed step with coder"}, got[2].Steps)
	assert.Equal(t, StatusSuccess, got[3].StatusCode)
	assert.Equal(t, "4", got[3].Output)
	assert.Equal(t, "s1", got[3].SessionID)

	assert.Equal(t, got, e.Events(), "event log matches what sinks received")
}

func TestStream_FinishOnce(t *testing.T) {
	rec := &Recorder{}
	e := New("s1", nil, rec)
	ctx := context.Background()

	s := e.Open("coder", "write it")
	s.Finish(ctx, StatusFailure, "boom")
	s.Finish(ctx, StatusSuccess, "late")
	s.Step(ctx, "ignored send")

	got := rec.Updates()
	require.Len(t, got, 1)
	assert.Equal(t, StatusFailure, got[0].StatusCode)
	assert.True(t, s.Closed())
	assert.True(t, got[0].Terminal())
}

func TestEmitter_SinkFailuresAreSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(&buf, "debug")

	rec := &Recorder{}
	failing := SinkFunc(func(context.Context, Update) error { return errors.New("peer gone") })
	e := New("s1", logger, failing, nil, rec)

	s := e.Open("Orchestrator", "task")
	s.Step(context.Background(), "one")
	s.Finish(context.Background(), StatusSuccess, "done")

	assert.Len(t, rec.Updates(), 2, "healthy sinks still receive updates")
	assert.Len(t, e.Events(), 2)
	assert.Equal(t, 2, e.SendFailures())
	assert.Contains(t, buf.String(), "progress send failed")
}

func TestEmitter_ConcurrentStreamsSerialize(t *testing.T) {
	var mu sync.Mutex
	active := 0
	overlap := false
	slow := SinkFunc(func(context.Context, Update) error {
		mu.Lock()
		active++
		if active > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	})
	e := New("s1", nil, slow)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := e.Open("w", "")
			for j := 0; j < 5; j++ {
				s.Step(context.Background(), "step")
			}
		}()
	}
	wg.Wait()

	assert.False(t, overlap, "sends must not overlap")
	assert.Len(t, e.Events(), 20)
}

func TestMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	bad := SinkFunc(func(context.Context, Update) error { return errors.New("x") })

	err := Multi{a, bad, b}.Send(context.Background(), Update{AgentName: "x"})
	assert.Error(t, err)
	assert.Len(t, a.Updates(), 1)
	assert.Len(t, b.Updates(), 1)

	assert.NoError(t, Multi{a}.Send(context.Background(), Update{}))
}

func TestBusSink(t *testing.T) {
	bus := event.NewBus(nil)
	var got []event.ProgressEvent
	bus.Subscribe(event.TypeProgress, func(e event.Event) {
		got = append(got, e.(event.ProgressEvent))
	})

	e := New("s9", nil, BusSink{Bus: bus})
	s := e.Open("Orchestrator", "task")
	s.Step(context.Background(), "Agents initialized")

	require.Len(t, got, 1)
	assert.Equal(t, "s9", got[0].SessionID)
	assert.Equal(t, []string{"Agents initialized"}, got[0].Steps)
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	e := New("s1", nil, NewWriterSink(&buf))
	s := e.Open("Orchestrator", "task")
	s.Finish(context.Background(), StatusSuccess, "4")

	line := strings.TrimSpace(buf.String())
	assert.JSONEq(t, `{"agent_name":"Orchestrator","instructions":"task","steps":[],"output":"4","status_code":200}`, line)
}

func TestWebSocketSink(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan Update, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var u Update
			if json.Unmarshal(data, &u) == nil {
				received <- u
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	e := New("s1", nil, NewWebSocketSink(conn, time.Second))
	s := e.Open("Orchestrator", "task")
	s.Step(context.Background(), "Agents initialized")
	s.Finish(context.Background(), StatusSuccess, "done")

	for _, want := range []int{StatusInProgress, StatusSuccess} {
		select {
		case u := <-received:
			assert.Equal(t, want, u.StatusCode)
			assert.Equal(t, "Orchestrator", u.AgentName)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for websocket frame")
		}
	}
}
