package orchestrator

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	attrSessionID  = "relay.session.id"
	attrRound      = "relay.round"
	attrStage      = "relay.oracle.stage"
	attrWorkerID   = "relay.worker.id"
	attrSuccess    = "relay.worker.success"
	attrStatusCode = "relay.status_code"
	attrRounds     = "relay.rounds"
	attrReplans    = "relay.replans"
)

func sessionAttrs(id string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(attrSessionID, id)}
}

func recordSessionOutcome(span trace.Span, res *Result) {
	span.SetAttributes(
		attribute.Int(attrStatusCode, res.StatusCode),
		attribute.Int(attrRounds, res.Rounds),
		attribute.Int(attrReplans, res.Replans),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
