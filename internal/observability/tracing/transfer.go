package tracing

import (
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// IdempotencyKeyHeader is the header transfer channels use to dedupe retries.
const IdempotencyKeyHeader = "Idempotency-Key"

// Keys that may identify where money goes never reach an exporter.
var redactedKeys = []string{"destination", "account", "token", "secret", "authorization"}

// TransferClient returns a copy of client whose requests open a client span
// named after the payout channel and carry W3C trace headers.
func TransferClient(client *http.Client, channel string) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	clone := *client
	base := clone.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	clone.Transport = &transferTransport{base: base, channel: channel, tracer: Tracer("payout.channel")}
	return &clone
}

type transferTransport struct {
	base    http.RoundTripper
	channel string
	tracer  trace.Tracer
}

func (t *transferTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.tracer.Start(req.Context(), "payout.transfer "+t.channel, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	span.SetAttributes(Redact(
		attribute.String("payout.channel", t.channel),
		attribute.String("http.method", req.Method),
		attribute.String("http.host", req.URL.Host),
		attribute.Bool("payout.idempotent", req.Header.Get(IdempotencyKeyHeader) != ""),
	)...)

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		// Channel errors may echo account numbers; only the type is kept.
		span.RecordError(fmt.Errorf("%T", err))
		span.SetStatus(codes.Error, "transfer request failed")
		return resp, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

// Redact drops attributes whose key names a payout destination or credential.
func Redact(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := attrs[:0:0]
	for _, attr := range attrs {
		key := strings.ToLower(string(attr.Key))
		redacted := false
		for _, needle := range redactedKeys {
			if strings.Contains(key, needle) {
				redacted = true
				break
			}
		}
		if !redacted {
			kept = append(kept, attr)
		}
	}
	return kept
}
