package logger

import (
	"context"
	"testing"

	obsctx "github.com/smallbiznis/partnerledger/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	orig := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(func() { zap.ReplaceGlobals(orig) })
	return logs
}

func TestFromContextCarriesRequestScope(t *testing.T) {
	logs := observe(t)

	traceID, _ := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	spanID, _ := trace.SpanIDFromHex("0123456789abcdef")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = obsctx.WithRequestID(ctx, "req-1")
	ctx = obsctx.WithActor(ctx, "ops@example.com")

	FromContext(ctx).Info("payout canceled")
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	want := map[string]string{
		"trace_id":   traceID.String(),
		"span_id":    spanID.String(),
		"request_id": "req-1",
		"actor":      "ops@example.com",
	}
	for key, value := range want {
		if fields[key] != value {
			t.Fatalf("expected %s=%q, got %v", key, value, fields[key])
		}
	}
}

func TestFromContextWithoutScope(t *testing.T) {
	logs := observe(t)

	FromContext(context.Background()).Info("sweep done")
	fields := logs.All()[0].ContextMap()
	for _, key := range []string{"trace_id", "request_id", "actor"} {
		if _, ok := fields[key]; ok {
			t.Fatalf("unexpected %s field on a bare context", key)
		}
	}
}
