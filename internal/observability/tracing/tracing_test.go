package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/partnerledger/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func TestNewProviderDisabledReturnsNil(t *testing.T) {
	cfg := config.Default()
	cfg.Tracing.Enabled = false

	provider, err := NewProvider(nil, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if provider != nil {
		t.Fatalf("expected nil provider when tracing is disabled")
	}
}

func TestRedactDropsDestinations(t *testing.T) {
	attrs := Redact(
		attribute.String("payout.id", "1"),
		attribute.String("payout_destination", "acct_123"),
		attribute.String("partner.Account_Number", "42"),
	)
	if len(attrs) != 1 || attrs[0].Key != "payout.id" {
		t.Fatalf("expected only payout.id to survive, got %v", attrs)
	}
}

func TestTransferClientForwardsIdempotencyKey(t *testing.T) {
	if _, err := NewProvider(nil, config.Default(), zap.NewNop()); err != nil {
		t.Fatalf("provider: %v", err)
	}
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get(IdempotencyKeyHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := TransferClient(srv.Client(), "http")
	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(IdempotencyKeyHeader, "k1")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if key != "k1" {
		t.Fatalf("expected idempotency key forwarded, got %q", key)
	}
}
