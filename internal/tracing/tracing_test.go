package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/logging"
)

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestProvider_Enabled(t *testing.T) {
	var buf bytes.Buffer
	p := New(config.TracingConfig{Enabled: true}, logging.NewWriterLogger(&buf, "debug"))

	ctx, parent := p.Tracer().Start(context.Background(), "relay.session")
	_, child := p.Tracer().Start(ctx, "relay.oracle.plan")
	child.SetAttributes(attribute.String("relay.oracle.stage", "plan"), attribute.Int("relay.round", 0))
	child.End()
	parent.End()
	require.NoError(t, p.Shutdown(context.Background()))

	recs := records(t, &buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "span finished", recs[0]["msg"])
	assert.Equal(t, "relay.oracle.plan", recs[0]["span"])
	assert.Equal(t, "plan", recs[0]["relay.oracle.stage"])
	assert.Equal(t, "tracing", recs[0]["phase"])
	assert.NotEmpty(t, recs[0]["parent_id"])
	assert.Equal(t, "relay.session", recs[1]["span"])
	assert.NotContains(t, recs[1], "parent_id")
	assert.Equal(t, recs[0]["trace_id"], recs[1]["trace_id"])
}

func TestProvider_Disabled(t *testing.T) {
	var buf bytes.Buffer
	p := New(config.TracingConfig{}, logging.NewWriterLogger(&buf, "debug"))

	_, span := p.Tracer().Start(context.Background(), "relay.session")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Empty(t, buf.String())
}

func TestLogExporter_StopsAfterShutdown(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogExporter(logging.NewWriterLogger(&buf, "debug"))
	require.NoError(t, e.Shutdown(context.Background()))
	require.NoError(t, e.ExportSpans(context.Background(), nil))
	assert.Empty(t, buf.String())
}
