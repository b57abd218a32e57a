package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/partnerledger/internal/config"
	"github.com/smallbiznis/partnerledger/internal/server"
	"github.com/smallbiznis/partnerledger/internal/testutil"
)

func newTestServer(t *testing.T, opts ...testutil.Option) (*testutil.Env, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := testutil.New(t, opts...)
	engine := server.NewEngine(server.EngineParams{Cfg: env.Cfg})
	srv := server.NewServer(server.Params{
		Cfg:             env.Cfg,
		Log:             env.Log,
		DB:              env.DB,
		Engine:          engine,
		PaymentSvc:      env.Payments,
		CommissionSvc:   env.Commissions,
		PartnerSvc:      env.Partners,
		PayoutSvc:       env.Payouts,
		NotificationSvc: env.Notifications,
		AuditSvc:        env.Audit,
		Flags:           env.Flags,
	})
	srv.RegisterRoutes()
	return env, srv.Handler()
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, env
}

func decode(t *testing.T, raw json.RawMessage, out any) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode data %s: %v", raw, err)
	}
}

func captureBody(env *testutil.Env, eventID, reference, partnerID string, amount int64) map[string]any {
	return map[string]any{
		"external_event_id": eventID,
		"event_type":        "captured",
		"payment_reference": reference,
		"partner_id":        partnerID,
		"amount":            amount,
		"currency":          env.Cfg.Currency,
		"occurred_at":       env.Clock.Now().Format(time.RFC3339),
	}
}

func TestHealthz(t *testing.T) {
	_, h := newTestServer(t)
	code, _ := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestWebhookDeduplicatesRedelivery(t *testing.T) {
	env, h := newTestServer(t)
	partner := env.ActivePartner(t, "0.10")
	body := captureBody(env, "evt_1", "pay_1", partner.ID.String(), 10000)

	code, first := doJSON(t, h, http.MethodPost, "/api/v1/webhooks/payments", body)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", code, first.Error.Message)
	}
	code, second := doJSON(t, h, http.MethodPost, "/api/v1/webhooks/payments", body)
	if code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", code)
	}
	var result struct {
		Outcome string `json:"outcome"`
	}
	decode(t, second.Data, &result)
	if result.Outcome != "duplicate_ignored" {
		t.Fatalf("expected duplicate_ignored, got %q", result.Outcome)
	}

	var count int64
	env.DB.Table("commissions").Count(&count)
	if count != 1 {
		t.Fatalf("expected one commission, got %d", count)
	}
}

func TestAuditLogsFilterByTarget(t *testing.T) {
	env, h := newTestServer(t)
	partner := env.ActivePartner(t, "0.10")
	code, _ := doJSON(t, h, http.MethodPost, "/api/v1/webhooks/payments", captureBody(env, "evt_a1", "pay_a1", partner.ID.String(), 5000))
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}

	code, resp := doJSON(t, h, http.MethodGet, "/api/v1/audit-logs?action=payment_event.ingested&target_type=payment_event", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", code, resp.Error.Message)
	}
	var rows []struct {
		Action   string         `json:"action"`
		TargetID string         `json:"target_id"`
		Metadata map[string]any `json:"metadata"`
	}
	decode(t, resp.Data, &rows)
	if len(rows) != 1 {
		t.Fatalf("expected one ingest entry, got %d", len(rows))
	}
	if rows[0].Metadata["external_event_id"] != "evt_a1" {
		t.Fatalf("unexpected metadata %v", rows[0].Metadata)
	}

	code, resp = doJSON(t, h, http.MethodGet, "/api/v1/audit-logs?target_type=payout", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	rows = nil
	decode(t, resp.Data, &rows)
	if len(rows) != 0 {
		t.Fatalf("expected no payout entries, got %d", len(rows))
	}

	code, _ = doJSON(t, h, http.MethodGet, "/api/v1/audit-logs?limit=-1", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", code)
	}
}

func TestWebhookRejectsInvalidEvent(t *testing.T) {
	env, h := newTestServer(t)
	partner := env.ActivePartner(t, "0.10")
	body := captureBody(env, "evt_bad", "pay_bad", partner.ID.String(), 0)

	code, resp := doJSON(t, h, http.MethodPost, "/api/v1/webhooks/payments", body)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if resp.Error.Code != "invalid_event" {
		t.Fatalf("expected invalid_event, got %q", resp.Error.Code)
	}
}

func TestWebhookRateLimited(t *testing.T) {
	env, h := newTestServer(t, func(cfg *config.Config) {
		cfg.Webhook.RateLimit = 1
		cfg.Webhook.RateWindow = 24 * time.Hour
	})
	partner := env.ActivePartner(t, "0.10")

	code, _ := doJSON(t, h, http.MethodPost, "/api/v1/webhooks/payments", captureBody(env, "evt_a", "pay_a", partner.ID.String(), 500))
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	code, resp := doJSON(t, h, http.MethodPost, "/api/v1/webhooks/payments", captureBody(env, "evt_b", "pay_b", partner.ID.String(), 500))
	if code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if resp.Error.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %q", resp.Error.Code)
	}
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config) {
		cfg.APIToken = "s3cret"
	})

	code, _ := doJSON(t, h, http.MethodGet, "/api/v1/payouts", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	code, _ = doJSON(t, h, http.MethodGet, "/api/v1/payouts", nil, "Authorization", "Bearer wrong")
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", code)
	}
	code, _ = doJSON(t, h, http.MethodGet, "/api/v1/payouts", nil, "Authorization", "Bearer s3cret")
	if code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
}

func TestPayoutLifecycleOverHTTP(t *testing.T) {
	env, h := newTestServer(t)
	partner := env.ActivePartner(t, "0.10")

	code, _ := doJSON(t, h, http.MethodPost, "/api/v1/webhooks/payments", captureBody(env, "evt_1", "pay_1", partner.ID.String(), 10000))
	if code != http.StatusCreated {
		t.Fatalf("capture: %d", code)
	}
	env.MakePayable(t)

	code, resp := doJSON(t, h, http.MethodGet, "/api/v1/partners/"+partner.ID.String()+"/payable", nil)
	if code != http.StatusOK {
		t.Fatalf("payable: %d", code)
	}
	var payable []map[string]any
	decode(t, resp.Data, &payable)
	if len(payable) != 1 {
		t.Fatalf("expected one payable commission, got %d", len(payable))
	}

	start, end := env.Period()
	code, resp = doJSON(t, h, http.MethodPost, "/api/v1/payouts", map[string]any{
		"partner_id":   partner.ID.String(),
		"period_start": start.Format(time.RFC3339),
		"period_end":   end.Format(time.RFC3339),
	}, "X-Actor", "ops@example.com")
	if code != http.StatusCreated {
		t.Fatalf("create payout: %d (%s)", code, resp.Error.Message)
	}
	var payout struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		TotalAmount int64  `json:"total_amount"`
	}
	decode(t, resp.Data, &payout)
	if payout.Status != "scheduled" || payout.TotalAmount != 1000 {
		t.Fatalf("unexpected payout %+v", payout)
	}

	base := "/api/v1/payouts/" + payout.ID
	for _, step := range []struct {
		path   string
		body   any
		status string
	}{
		{base + "/ready", nil, "ready"},
		{base + "/execute", nil, "processing"},
		{base + "/paid", map[string]any{"reference": "bank_42"}, "paid"},
	} {
		code, resp = doJSON(t, h, http.MethodPost, step.path, step.body)
		if code != http.StatusOK {
			t.Fatalf("%s: %d (%s)", step.path, code, resp.Error.Message)
		}
		decode(t, resp.Data, &payout)
		if payout.Status != step.status {
			t.Fatalf("%s: expected %s, got %s", step.path, step.status, payout.Status)
		}
	}

	code, resp = doJSON(t, h, http.MethodPost, base+"/cancel", map[string]any{"reason": "late"})
	if code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a paid payout, got %d", code)
	}
	if resp.Error.Code != "invalid_state_transition" {
		t.Fatalf("expected invalid_state_transition, got %q", resp.Error.Code)
	}

	code, resp = doJSON(t, h, http.MethodGet, "/api/v1/integrity", nil)
	if code != http.StatusOK {
		t.Fatalf("integrity: %d", code)
	}
	var report struct {
		Violations []any `json:"violations"`
	}
	decode(t, resp.Data, &report)
	if len(report.Violations) != 0 {
		t.Fatalf("expected a consistent ledger, got %v", report.Violations)
	}
}

func TestCreatePayoutEmptyBatch(t *testing.T) {
	env, h := newTestServer(t)
	partner := env.ActivePartner(t, "0.10")
	start, end := env.Period()

	code, resp := doJSON(t, h, http.MethodPost, "/api/v1/payouts", map[string]any{
		"partner_id":   partner.ID.String(),
		"period_start": start.Format(time.RFC3339),
		"period_end":   end.Format(time.RFC3339),
	})
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	if resp.Error.Code != "empty_batch" {
		t.Fatalf("expected empty_batch, got %q", resp.Error.Code)
	}
}

func TestUnknownPayoutIsNotFound(t *testing.T) {
	_, h := newTestServer(t)

	code, resp := doJSON(t, h, http.MethodGet, "/api/v1/payouts/123456", nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if resp.Error.Code != "payout_not_found" {
		t.Fatalf("expected payout_not_found, got %q", resp.Error.Code)
	}

	code, _ = doJSON(t, h, http.MethodGet, "/api/v1/payouts/not-a-number", nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", code)
	}
}

func TestPayoutsDisabledFlag(t *testing.T) {
	env, h := newTestServer(t)
	partner := env.ActivePartner(t, "0.10")
	env.Capture(t, "evt_1", "pay_1", partner.ID, 10000)
	env.MakePayable(t)

	code, _ := doJSON(t, h, http.MethodPut, "/api/v1/system-config/PARTNER_PAYOUTS_ENABLED", map[string]any{"value": "false"})
	if code != http.StatusOK {
		t.Fatalf("set flag: %d", code)
	}

	start, end := env.Period()
	code, resp := doJSON(t, h, http.MethodPost, "/api/v1/payouts", map[string]any{
		"partner_id":   partner.ID.String(),
		"period_start": start.Format(time.RFC3339),
		"period_end":   end.Format(time.RFC3339),
	})
	if code != http.StatusCreated {
		t.Fatalf("create payout: %d", code)
	}
	var payout struct {
		ID string `json:"id"`
	}
	decode(t, resp.Data, &payout)

	if code, _ = doJSON(t, h, http.MethodPost, "/api/v1/payouts/"+payout.ID+"/ready", nil); code != http.StatusOK {
		t.Fatalf("ready: %d", code)
	}
	code, resp = doJSON(t, h, http.MethodPost, "/api/v1/payouts/"+payout.ID+"/execute", nil)
	if code != http.StatusConflict || resp.Error.Code != "payouts_disabled" {
		t.Fatalf("expected 409 payouts_disabled, got %d %q", code, resp.Error.Code)
	}
}
