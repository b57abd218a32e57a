package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"github.com/smallbiznis/partnerledger/internal/config"
	notificationdomain "github.com/smallbiznis/partnerledger/internal/notification/domain"
	paymentdomain "github.com/smallbiznis/partnerledger/internal/payment/domain"
	"github.com/smallbiznis/partnerledger/internal/testutil"
)

func TestCaptureCreatesPendingCommission(t *testing.T) {
	env := testutil.New(t)
	partner := env.ActivePartner(t, "0.10")
	ctx := context.Background()

	res := env.Capture(t, "evt_1", "pay_1", partner.ID, 100000)
	if res.Outcome != paymentdomain.OutcomeAccepted || res.EventID == 0 {
		t.Fatalf("expected accepted with event id, got %+v", res)
	}
	c := env.CommissionFor(t, "pay_1")
	if c.Status != commissiondomain.StatusPending || c.NetAmount != 10000 {
		t.Fatalf("expected pending 10000, got %s %d", c.Status, c.NetAmount)
	}
	if c.Livemode {
		t.Fatal("expected test-mode commission")
	}

	env.Clock.Advance(env.Cfg.Ledger.EarnHold)
	if _, err := env.Commissions.Advance(ctx, 100); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if c = env.CommissionFor(t, "pay_1"); c.Status != commissiondomain.StatusEarned {
		t.Fatalf("expected earned, got %s", c.Status)
	}

	env.Clock.Advance(env.Cfg.Ledger.ClawbackWindow)
	if _, err := env.Commissions.Advance(ctx, 100); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if c = env.CommissionFor(t, "pay_1"); c.Status != commissiondomain.StatusPayable {
		t.Fatalf("expected payable, got %s", c.Status)
	}
}

func TestRedeliveryIsIgnored(t *testing.T) {
	env := testutil.New(t)
	partner := env.ActivePartner(t, "0.10")

	env.Capture(t, "evt_1", "pay_1", partner.ID, 100000)
	again := env.Capture(t, "evt_1", "pay_1", partner.ID, 100000)
	if again.Outcome != paymentdomain.OutcomeDuplicateIgnored {
		t.Fatalf("expected duplicate_ignored, got %s", again.Outcome)
	}
	if !errors.Is(again.Reason, paymentdomain.ErrDuplicateEvent) {
		t.Fatalf("expected duplicate event reason, got %v", again.Reason)
	}

	var commissions, audits int64
	env.DB.Model(&commissiondomain.Commission{}).Count(&commissions)
	env.DB.Model(&auditdomain.AuditLog{}).Where("action = ?", "payment_event.ingested").Count(&audits)
	if commissions != 1 || audits != 1 {
		t.Fatalf("expected one commission and one audit entry, got %d/%d", commissions, audits)
	}
}

func TestSecondEventForSamePaymentKeepsOneCommission(t *testing.T) {
	env := testutil.New(t)
	partner := env.ActivePartner(t, "0.10")

	env.Capture(t, "evt_1", "pay_1", partner.ID, 100000)
	res := env.Capture(t, "evt_2", "pay_1", partner.ID, 100000)
	if res.Outcome != paymentdomain.OutcomeAccepted || res.Detail != "payment_already_recorded" {
		t.Fatalf("expected accepted without a new commission, got %+v", res)
	}
	var n int64
	env.DB.Model(&commissiondomain.Commission{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one commission, got %d", n)
	}
}

func TestIngestValidation(t *testing.T) {
	env := testutil.New(t)
	partner := env.ActivePartner(t, "0.10")
	ctx := context.Background()

	valid := paymentdomain.IngestRequest{
		ExternalEventID:  "evt_v",
		EventType:        paymentdomain.EventTypeCaptured,
		PaymentReference: "pay_v",
		PartnerID:        partner.ID,
		Amount:           1000,
		Currency:         env.Cfg.Currency,
		OccurredAt:       env.Clock.Now(),
	}
	cases := map[string]func(r *paymentdomain.IngestRequest){
		"missing event id":   func(r *paymentdomain.IngestRequest) { r.ExternalEventID = " " },
		"unknown type":       func(r *paymentdomain.IngestRequest) { r.EventType = "chargeback" },
		"zero amount":        func(r *paymentdomain.IngestRequest) { r.Amount = 0 },
		"capture no partner": func(r *paymentdomain.IngestRequest) { r.PartnerID = 0 },
		"other currency":     func(r *paymentdomain.IngestRequest) { r.Currency = "EUR" },
		"missing time":       func(r *paymentdomain.IngestRequest) { r.OccurredAt = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := valid
			mutate(&req)
			if _, err := env.Payments.Ingest(ctx, req); !errors.Is(err, paymentdomain.ErrInvalidEvent) {
				t.Fatalf("expected invalid event, got %v", err)
			}
		})
	}

	if _, err := env.Payments.Ingest(ctx, valid); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}
}

func TestModeOverride(t *testing.T) {
	ctx := context.Background()

	env := testutil.New(t)
	partner := env.ActivePartner(t, "0.10")
	req := paymentdomain.IngestRequest{
		ExternalEventID:  "evt_live",
		EventType:        paymentdomain.EventTypeCaptured,
		PaymentReference: "pay_live",
		PartnerID:        partner.ID,
		Amount:           1000,
		Currency:         env.Cfg.Currency,
		OccurredAt:       env.Clock.Now(),
		Mode:             config.ModeLive,
	}
	if _, err := env.Payments.Ingest(ctx, req); !errors.Is(err, paymentdomain.ErrModeOverride) {
		t.Fatalf("expected mode override rejection, got %v", err)
	}

	allowed := testutil.New(t, func(cfg *config.Config) { cfg.AllowModeOverride = true })
	partner = allowed.ActivePartner(t, "0.10")
	req.PartnerID = partner.ID
	req.Currency = allowed.Cfg.Currency
	if _, err := allowed.Payments.Ingest(ctx, req); err != nil {
		t.Fatalf("ingest with override: %v", err)
	}
	if c := allowed.CommissionFor(t, "pay_live"); !c.Livemode {
		t.Fatal("expected live commission")
	}
}

func TestRefundWithoutCommission(t *testing.T) {
	env := testutil.New(t)
	res := env.Refund(t, "evt_r", "pay_unknown", 500)
	if res.Detail != string(commissiondomain.RefundNoCommission) {
		t.Fatalf("expected no_commission, got %q", res.Detail)
	}
}

func TestRefundClawsBackPendingCommission(t *testing.T) {
	env := testutil.New(t)
	partner := env.ActivePartner(t, "0.10")
	env.Capture(t, "evt_1", "pay_1", partner.ID, 100000)

	res := env.Refund(t, "evt_r1", "pay_1", 40000)
	if res.Detail != string(commissiondomain.RefundClawedBack) {
		t.Fatalf("expected clawed_back, got %q", res.Detail)
	}
	c := env.CommissionFor(t, "pay_1")
	if c.Status != commissiondomain.StatusClawedBack || c.ClawedBackAt == nil {
		t.Fatalf("expected clawed back, got %s", c.Status)
	}

	res = env.Refund(t, "evt_r2", "pay_1", 60000)
	if res.Detail != string(commissiondomain.RefundAlreadyClawedBack) {
		t.Fatalf("expected already_clawed_back, got %q", res.Detail)
	}
}

func TestCaptureForFraudFlaggedPartnerIsDisputed(t *testing.T) {
	env := testutil.New(t)
	partner := env.ActivePartner(t, "0.10")
	if _, err := env.Partners.SetFraudFlag(context.Background(), partner.ID, true, "chargeback ring", "risk"); err != nil {
		t.Fatalf("flag partner: %v", err)
	}

	env.Capture(t, "evt_1", "pay_1", partner.ID, 100000)
	c := env.CommissionFor(t, "pay_1")
	if c.Status != commissiondomain.StatusDisputed {
		t.Fatalf("expected disputed, got %s", c.Status)
	}
	if c.DisputePriorStatus == nil || *c.DisputePriorStatus != commissiondomain.StatusPending {
		t.Fatalf("expected prior status pending, got %v", c.DisputePriorStatus)
	}

	env.DrainOutbox(t)
	alerts, err := env.Notifications.List(context.Background(), notificationdomain.ListFilter{Category: notificationdomain.CategoryFraud})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected partner and commission fraud notifications, got %d", len(alerts))
	}
}

func TestCaptureWithNegativePartnerRateIsRejected(t *testing.T) {
	env := testutil.New(t)
	partner := env.ActivePartner(t, "0.10")
	if err := env.DB.Exec("UPDATE partners SET commission_rate = ? WHERE id = ?", "-0.05", partner.ID).Error; err != nil {
		t.Fatalf("corrupt rate: %v", err)
	}

	_, err := env.Payments.Ingest(context.Background(), paymentdomain.IngestRequest{
		ExternalEventID:  "evt_neg",
		EventType:        paymentdomain.EventTypeCaptured,
		PaymentReference: "pay_neg",
		PartnerID:        partner.ID,
		Amount:           100000,
		Currency:         env.Cfg.Currency,
		OccurredAt:       env.Clock.Now(),
	})
	if !errors.Is(err, commissiondomain.ErrInvalidRate) {
		t.Fatalf("expected invalid rate, got %v", err)
	}

	var events, commissions int64
	env.DB.Table("payment_events").Where("external_event_id = ?", "evt_neg").Count(&events)
	env.DB.Table("commissions").Count(&commissions)
	if events != 0 || commissions != 0 {
		t.Fatalf("expected nothing persisted, got %d events and %d commissions", events, commissions)
	}
}
