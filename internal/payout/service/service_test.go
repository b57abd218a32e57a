package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"github.com/smallbiznis/partnerledger/internal/events"
	notificationdomain "github.com/smallbiznis/partnerledger/internal/notification/domain"
	partnerdomain "github.com/smallbiznis/partnerledger/internal/partner/domain"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	"github.com/smallbiznis/partnerledger/internal/payout/service"
	sysdomain "github.com/smallbiznis/partnerledger/internal/systemconfig/domain"
	"github.com/smallbiznis/partnerledger/internal/testutil"
)

// batchFixture is a partner with two payable commissions of 10000 and 5000
// reserved by one scheduled payout.
type batchFixture struct {
	env     *testutil.Env
	partner *partnerdomain.Partner
	payout  *payoutdomain.Payout
}

func newBatch(t *testing.T) *batchFixture {
	t.Helper()
	env := testutil.New(t)
	partner := env.ActivePartner(t, "0.10")
	env.Capture(t, "evt_big", "pay_big", partner.ID, 100000)
	env.Capture(t, "evt_small", "pay_small", partner.ID, 50000)
	env.MakePayable(t)

	start, end := env.Period()
	p, err := env.Payouts.CreateBatch(context.Background(), payoutdomain.CreateBatchRequest{
		PartnerID:   partner.ID,
		PeriodStart: start,
		PeriodEnd:   end,
		Actor:       "ops",
	})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return &batchFixture{env: env, partner: partner, payout: p}
}

func (f *batchFixture) execute(t *testing.T) *payoutdomain.Payout {
	t.Helper()
	ctx := context.Background()
	if _, err := f.env.Payouts.MarkReady(ctx, f.payout.ID, "ops"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	p, err := f.env.Payouts.Execute(ctx, f.payout.ID, "ops")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return p
}

func countEvents(t *testing.T, env *testutil.Env, kind string) int64 {
	t.Helper()
	var n int64
	if err := env.DB.Model(&events.Record{}).Where("kind = ?", kind).Count(&n).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func notifications(t *testing.T, env *testutil.Env, category notificationdomain.Category) []notificationdomain.Notification {
	t.Helper()
	env.DrainOutbox(t)
	list, err := env.Notifications.List(context.Background(), notificationdomain.ListFilter{Category: category})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return list
}

func TestCreateBatchReservesPayableCommissions(t *testing.T) {
	f := newBatch(t)

	if f.payout.Status != payoutdomain.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", f.payout.Status)
	}
	if f.payout.TotalAmount != 15000 || f.payout.CommissionCount != 2 {
		t.Fatalf("expected 15000/2, got %d/%d", f.payout.TotalAmount, f.payout.CommissionCount)
	}
	for _, ref := range []string{"pay_big", "pay_small"} {
		c := f.env.CommissionFor(t, ref)
		if c.PayoutID == nil || *c.PayoutID != f.payout.ID {
			t.Fatalf("%s: expected reservation by %s, got %v", ref, f.payout.ID, c.PayoutID)
		}
		if c.Status != commissiondomain.StatusPayable {
			t.Fatalf("%s: expected payable, got %s", ref, c.Status)
		}
	}
}

func TestCreateBatchNeverDoubleReserves(t *testing.T) {
	f := newBatch(t)
	start, end := f.env.Period()

	_, err := f.env.Payouts.CreateBatch(context.Background(), payoutdomain.CreateBatchRequest{
		PartnerID:   f.partner.ID,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if !errors.Is(err, payoutdomain.ErrEmptyBatch) {
		t.Fatalf("expected empty batch, got %v", err)
	}
}

func TestCreateBatchValidation(t *testing.T) {
	env := testutil.New(t)
	partner := env.ActivePartner(t, "0.10")
	ctx := context.Background()
	start, end := env.Period()

	if _, err := env.Payouts.CreateBatch(ctx, payoutdomain.CreateBatchRequest{
		PartnerID: partner.ID, PeriodStart: end, PeriodEnd: start,
	}); !errors.Is(err, payoutdomain.ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
	if _, err := env.Payouts.CreateBatch(ctx, payoutdomain.CreateBatchRequest{
		PartnerID: partner.ID, PeriodStart: start, PeriodEnd: end,
	}); !errors.Is(err, payoutdomain.ErrEmptyBatch) {
		t.Fatalf("expected empty batch, got %v", err)
	}

	env.Capture(t, "evt_1", "pay_1", partner.ID, 10000)
	env.MakePayable(t)
	if _, err := env.Partners.Suspend(ctx, partner.ID, "review", "ops"); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	_, end = env.Period()
	if _, err := env.Payouts.CreateBatch(ctx, payoutdomain.CreateBatchRequest{
		PartnerID: partner.ID, PeriodStart: start, PeriodEnd: end,
	}); !errors.Is(err, payoutdomain.ErrPartnerNotEligible) {
		t.Fatalf("expected partner not eligible, got %v", err)
	}
}

func TestRefundReconcilesScheduledPayout(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()

	res := f.env.Refund(t, "evt_refund", "pay_small", 50000)
	if res.Detail != string(commissiondomain.RefundClawedBack) {
		t.Fatalf("expected clawed_back, got %q", res.Detail)
	}
	small := f.env.CommissionFor(t, "pay_small")
	if small.Status != commissiondomain.StatusClawedBack {
		t.Fatalf("expected clawed_back, got %s", small.Status)
	}

	p, err := f.env.Payouts.Reconcile(ctx, f.payout.ID, "ops")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if p.TotalAmount != 10000 || p.CommissionCount != 1 {
		t.Fatalf("expected 10000/1, got %d/%d", p.TotalAmount, p.CommissionCount)
	}
	if small = f.env.CommissionFor(t, "pay_small"); small.PayoutID != nil {
		t.Fatalf("expected refunded commission released, got %v", small.PayoutID)
	}

	reconciled := countEvents(t, f.env, events.KindPayoutReconciled)
	if _, err := f.env.Payouts.Reconcile(ctx, f.payout.ID, "ops"); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if again := countEvents(t, f.env, events.KindPayoutReconciled); again != reconciled {
		t.Fatalf("expected idempotent reconcile, events %d -> %d", reconciled, again)
	}
}

func TestExecuteAndMarkPaid(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()

	p := f.execute(t)
	if p.Status != payoutdomain.StatusProcessing {
		t.Fatalf("expected processing, got %s", p.Status)
	}
	if p.TransferReference == nil || *p.TransferReference != "fake_"+p.ID.String() {
		t.Fatalf("expected channel reference, got %v", p.TransferReference)
	}
	if len(f.env.Channel.Requests) != 1 || f.env.Channel.Requests[0].Amount != 15000 {
		t.Fatalf("unexpected transfer requests %+v", f.env.Channel.Requests)
	}
	if f.env.Channel.Requests[0].IdempotencyKey == "" {
		t.Fatal("expected idempotency key")
	}
	if _, err := f.env.Payouts.Reconcile(ctx, p.ID, "ops"); !errors.Is(err, payoutdomain.ErrInvalidStateTransition) {
		t.Fatalf("expected reconcile of processing payout to be rejected, got %v", err)
	}

	p, err := f.env.Payouts.MarkPaid(ctx, p.ID, "bank_1", "ops")
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if p.Status != payoutdomain.StatusPaid || p.PaidAt == nil {
		t.Fatalf("expected paid with paid_at, got %s %v", p.Status, p.PaidAt)
	}
	for _, ref := range []string{"pay_big", "pay_small"} {
		c := f.env.CommissionFor(t, ref)
		if c.Status != commissiondomain.StatusPaid || c.PaidAt == nil {
			t.Fatalf("%s: expected paid with paid_at, got %s", ref, c.Status)
		}
	}

	report, err := f.env.Payouts.CheckConsistency(ctx)
	if err != nil {
		t.Fatalf("check consistency: %v", err)
	}
	if len(report.Violations) != 0 {
		t.Fatalf("expected no violations, got %+v", report.Violations)
	}

	if _, err := f.env.Payouts.Cancel(ctx, p.ID, "too late", "ops"); !errors.Is(err, payoutdomain.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid transition on paid payout, got %v", err)
	}
	if _, err := f.env.Payouts.Reconcile(ctx, p.ID, "ops"); !errors.Is(err, payoutdomain.ErrInvalidStateTransition) {
		t.Fatalf("expected reconcile of paid payout to be rejected, got %v", err)
	}
}

func TestExecuteSkipsCommissionDisputedAfterReady(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()
	if _, err := f.env.Payouts.MarkReady(ctx, f.payout.ID, "ops"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	small := f.env.CommissionFor(t, "pay_small")
	if _, err := f.env.Commissions.Dispute(ctx, small.ID, "deal under review", "ops"); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	p, err := f.env.Payouts.Execute(ctx, f.payout.ID, "ops")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(f.env.Channel.Requests) != 1 || f.env.Channel.Requests[0].Amount != 10000 {
		t.Fatalf("expected a single transfer of 10000, got %+v", f.env.Channel.Requests)
	}
	if p.TotalAmount != 10000 || p.CommissionCount != 1 {
		t.Fatalf("expected 10000/1 at processing, got %d/%d", p.TotalAmount, p.CommissionCount)
	}
	if small = f.env.CommissionFor(t, "pay_small"); small.PayoutID != nil || small.Status != commissiondomain.StatusDisputed {
		t.Fatalf("expected disputed commission released, got %s %v", small.Status, small.PayoutID)
	}

	if _, err := f.env.Payouts.MarkPaid(ctx, p.ID, "", "ops"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if got := countEvents(t, f.env, events.KindPayoutOverpaid); got != 0 {
		t.Fatalf("expected no overpaid event, got %d", got)
	}
}

func TestExecuteRejectsFullyDisputedBatch(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()
	if _, err := f.env.Payouts.MarkReady(ctx, f.payout.ID, "ops"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	for _, ref := range []string{"pay_big", "pay_small"} {
		c := f.env.CommissionFor(t, ref)
		if _, err := f.env.Commissions.Dispute(ctx, c.ID, "chargeback risk", "ops"); err != nil {
			t.Fatalf("dispute %s: %v", ref, err)
		}
	}

	if _, err := f.env.Payouts.Execute(ctx, f.payout.ID, "ops"); !errors.Is(err, payoutdomain.ErrEmptyBatch) {
		t.Fatalf("expected empty batch, got %v", err)
	}
	if len(f.env.Channel.Requests) != 0 {
		t.Fatalf("expected no transfer, got %+v", f.env.Channel.Requests)
	}
	p, err := f.env.Payouts.Get(ctx, f.payout.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Status != payoutdomain.StatusReady {
		t.Fatalf("expected payout to stay ready, got %s", p.Status)
	}
}

func TestCancelReleasesCommissions(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()

	if _, err := f.env.Payouts.Cancel(ctx, f.payout.ID, "", "ops"); !errors.Is(err, payoutdomain.ErrReasonRequired) {
		t.Fatalf("expected reason required, got %v", err)
	}
	canceledAt := f.env.Clock.Advance(2 * time.Hour)
	p, err := f.env.Payouts.Cancel(ctx, f.payout.ID, "wrong period", "ops")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if p.Status != payoutdomain.StatusCanceled || p.CanceledAt == nil {
		t.Fatalf("expected canceled, got %s", p.Status)
	}
	if !p.UpdatedAt.Equal(canceledAt) {
		t.Fatalf("expected payout updated_at %s, got %s", canceledAt, p.UpdatedAt)
	}
	for _, ref := range []string{"pay_big", "pay_small"} {
		c := f.env.CommissionFor(t, ref)
		if c.Status != commissiondomain.StatusPayable || c.PayoutID != nil {
			t.Fatalf("%s: expected payable and unreserved, got %s %v", ref, c.Status, c.PayoutID)
		}
		if !c.UpdatedAt.Equal(canceledAt) {
			t.Fatalf("%s: expected release stamped with engine time %s, got %s", ref, canceledAt, c.UpdatedAt)
		}
	}

	start, end := f.env.Period()
	next, err := f.env.Payouts.CreateBatch(ctx, payoutdomain.CreateBatchRequest{
		PartnerID: f.partner.ID, PeriodStart: start, PeriodEnd: end,
	})
	if err != nil {
		t.Fatalf("rebatch: %v", err)
	}
	if next.TotalAmount != 15000 || next.CommissionCount != 2 {
		t.Fatalf("expected 15000/2 in new batch, got %d/%d", next.TotalAmount, next.CommissionCount)
	}
}

func TestExecuteRejectedTransferFailsPayout(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()
	if _, err := f.env.Payouts.MarkReady(ctx, f.payout.ID, "ops"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	f.env.Channel.SetErr(fmt.Errorf("%w: account closed", payoutdomain.ErrTransferRejected))

	_, err := f.env.Payouts.Execute(ctx, f.payout.ID, "ops")
	if !errors.Is(err, payoutdomain.ErrExternalTransferFailure) {
		t.Fatalf("expected external transfer failure, got %v", err)
	}
	p, err := f.env.Payouts.Get(ctx, f.payout.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Status != payoutdomain.StatusFailed || p.FailureReason == nil {
		t.Fatalf("expected failed with reason, got %s", p.Status)
	}
	if c := f.env.CommissionFor(t, "pay_big"); c.PayoutID != nil || c.Status != commissiondomain.StatusPayable {
		t.Fatalf("expected commission back in the payable pool, got %s %v", c.Status, c.PayoutID)
	}

	alerts := notifications(t, f.env, notificationdomain.CategoryPayout)
	if len(alerts) != 1 || alerts[0].Title != "Payout failed" {
		t.Fatalf("expected one payout failed notification, got %+v", alerts)
	}
}

func TestExecuteTransientFailureLeavesProcessing(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()
	if _, err := f.env.Payouts.MarkReady(ctx, f.payout.ID, "ops"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	f.env.Channel.SetErr(errors.New("connection reset"))

	p, err := f.env.Payouts.Execute(ctx, f.payout.ID, "ops")
	if !errors.Is(err, payoutdomain.ErrTransferUnavailable) {
		t.Fatalf("expected transfer unavailable, got %v", err)
	}
	if p == nil || p.Status != payoutdomain.StatusProcessing {
		t.Fatalf("expected payout left processing, got %+v", p)
	}

	if n, err := f.env.Payouts.FlagStuckProcessing(ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing stuck yet, got %d %v", n, err)
	}
	f.env.Clock.Advance(f.env.Cfg.Payout.StuckAfter + time.Minute)
	for i := 0; i < 2; i++ {
		n, err := f.env.Payouts.FlagStuckProcessing(ctx)
		if err != nil || n != 1 {
			t.Fatalf("run %d: expected one stuck payout, got %d %v", i, n, err)
		}
	}
	if got := countEvents(t, f.env, events.KindPayoutStuck); got != 1 {
		t.Fatalf("expected one stuck event, got %d", got)
	}
}

func TestExecuteRespectsPayoutsFlag(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()
	if _, err := f.env.Payouts.MarkReady(ctx, f.payout.ID, "ops"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if _, err := f.env.Flags.Set(ctx, sysdomain.KeyPayoutsEnabled, "false", "ops"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if _, err := f.env.Payouts.Execute(ctx, f.payout.ID, "ops"); !errors.Is(err, payoutdomain.ErrPayoutsDisabled) {
		t.Fatalf("expected payouts disabled, got %v", err)
	}
	if len(f.env.Channel.Requests) != 0 {
		t.Fatal("channel must not be called while payouts are disabled")
	}
}

func TestMarkPaidExcludesCommissionRefundedInFlight(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()
	f.execute(t)

	f.env.Refund(t, "evt_refund", "pay_small", 50000)
	if got := countEvents(t, f.env, events.KindCommissionFrozen); got != 1 {
		t.Fatalf("expected a frozen commission event, got %d", got)
	}

	p, err := f.env.Payouts.MarkPaid(ctx, f.payout.ID, "", "ops")
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if p.TotalAmount != 10000 || p.CommissionCount != 1 {
		t.Fatalf("expected settled 10000/1, got %d/%d", p.TotalAmount, p.CommissionCount)
	}
	small := f.env.CommissionFor(t, "pay_small")
	if small.Status != commissiondomain.StatusClawedBack || small.PayoutID != nil {
		t.Fatalf("expected refunded commission released, got %s %v", small.Status, small.PayoutID)
	}

	alerts := notifications(t, f.env, notificationdomain.CategoryPayout)
	var overpaid bool
	for _, n := range alerts {
		if n.Severity == notificationdomain.SeverityCritical && n.Title == "Payout settled for less than was transferred" {
			overpaid = true
		}
	}
	if !overpaid {
		t.Fatalf("expected an overpaid notification, got %+v", alerts)
	}
}

func TestMarkPaidWithoutPayableCommissionsHoldsPayout(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	partner := env.ActivePartner(t, "0.10")
	env.Capture(t, "evt_1", "pay_1", partner.ID, 10000)
	env.MakePayable(t)
	start, end := env.Period()
	p, err := env.Payouts.CreateBatch(ctx, payoutdomain.CreateBatchRequest{PartnerID: partner.ID, PeriodStart: start, PeriodEnd: end})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if _, err := env.Payouts.MarkReady(ctx, p.ID, "ops"); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := env.Payouts.Execute(ctx, p.ID, "ops"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	env.Refund(t, "evt_refund", "pay_1", 10000)

	held, err := env.Payouts.MarkPaid(ctx, p.ID, "", "ops")
	if !errors.Is(err, payoutdomain.ErrConsistencyViolation) {
		t.Fatalf("expected consistency violation, got %v", err)
	}
	if held == nil || !held.OnHold || held.Status != payoutdomain.StatusProcessing {
		t.Fatalf("expected processing payout on hold, got %+v", held)
	}
	if _, err := env.Payouts.MarkPaid(ctx, p.ID, "", "ops"); !errors.Is(err, payoutdomain.ErrOnHold) {
		t.Fatalf("expected on hold, got %v", err)
	}

	alerts := notifications(t, env, notificationdomain.CategoryIntegrity)
	if len(alerts) != 1 || alerts[0].Severity != notificationdomain.SeverityCritical {
		t.Fatalf("expected one critical integrity notification, got %+v", alerts)
	}

	released, err := env.Payouts.ReleaseHold(ctx, p.ID, "ops")
	if err != nil || released.OnHold {
		t.Fatalf("release hold: %v %+v", err, released)
	}
	if _, err := env.Payouts.ReleaseHold(ctx, p.ID, "ops"); !errors.Is(err, payoutdomain.ErrNotOnHold) {
		t.Fatalf("expected not on hold, got %v", err)
	}
	if failed, err := env.Payouts.MarkFailed(ctx, p.ID, "nothing to settle", "ops"); err != nil || failed.Status != payoutdomain.StatusFailed {
		t.Fatalf("mark failed: %v", err)
	}
}

func TestRefundAfterPaymentRaisesClawbackAlert(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()
	f.execute(t)
	if _, err := f.env.Payouts.MarkPaid(ctx, f.payout.ID, "", "ops"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	res := f.env.Refund(t, "evt_late_refund", "pay_big", 100000)
	if res.Detail != string(commissiondomain.RefundPostPaymentClawback) {
		t.Fatalf("expected post_payment_clawback, got %q", res.Detail)
	}
	if c := f.env.CommissionFor(t, "pay_big"); c.Status != commissiondomain.StatusPaid {
		t.Fatalf("paid commission must stay paid, got %s", c.Status)
	}

	alerts := notifications(t, f.env, notificationdomain.CategoryPayout)
	var found bool
	for _, n := range alerts {
		if n.Title == "Refund received after commission was paid" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a post-payment clawback notification, got %+v", alerts)
	}

	report, err := f.env.Payouts.CheckConsistency(ctx)
	if err != nil {
		t.Fatalf("check consistency: %v", err)
	}
	if len(report.Violations) != 0 {
		t.Fatalf("expected a consistent ledger, got %+v", report.Violations)
	}
}

func TestCheckConsistencyHoldsDriftedPayout(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()
	if err := f.env.DB.Model(&payoutdomain.Payout{}).Where("id = ?", f.payout.ID).
		Update("total_amount", 99999).Error; err != nil {
		t.Fatalf("corrupt total: %v", err)
	}

	for i := 0; i < 2; i++ {
		report, err := f.env.Payouts.CheckConsistency(ctx)
		if err != nil {
			t.Fatalf("check consistency: %v", err)
		}
		if len(report.Violations) != 1 || report.Violations[0].Kind != service.ViolationTotalDrift {
			t.Fatalf("run %d: expected one drift violation, got %+v", i, report.Violations)
		}
	}
	if got := countEvents(t, f.env, events.KindConsistencyViolation); got != 1 {
		t.Fatalf("expected one violation event across runs, got %d", got)
	}

	if _, err := f.env.Payouts.MarkReady(ctx, f.payout.ID, "ops"); !errors.Is(err, payoutdomain.ErrOnHold) {
		t.Fatalf("expected on hold, got %v", err)
	}
	if _, err := f.env.Payouts.Reconcile(ctx, f.payout.ID, "ops"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := f.env.Payouts.ReleaseHold(ctx, f.payout.ID, "ops"); err != nil {
		t.Fatalf("release hold: %v", err)
	}
	report, err := f.env.Payouts.CheckConsistency(ctx)
	if err != nil {
		t.Fatalf("check consistency: %v", err)
	}
	if len(report.Violations) != 0 {
		t.Fatalf("expected reconcile to repair totals, got %+v", report.Violations)
	}
}

func TestCheckConsistencyFlagsActiveFraudPartner(t *testing.T) {
	env := testutil.New(t)
	partner := env.ActivePartner(t, "0.10")
	if err := env.DB.Model(&partnerdomain.Partner{}).Where("id = ?", partner.ID).
		Update("fraud_flag", true).Error; err != nil {
		t.Fatalf("flag: %v", err)
	}

	report, err := env.Payouts.CheckConsistency(context.Background())
	if err != nil {
		t.Fatalf("check consistency: %v", err)
	}
	if len(report.Violations) != 1 || report.Violations[0].Kind != service.ViolationFraudPartnerActive {
		t.Fatalf("expected fraud partner violation, got %+v", report.Violations)
	}
	alerts := notifications(t, env, notificationdomain.CategoryFraud)
	if len(alerts) != 1 {
		t.Fatalf("expected one fraud notification, got %d", len(alerts))
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newBatch(t)
	ctx := context.Background()

	list, err := f.env.Payouts.List(ctx, payoutdomain.ListFilter{PartnerID: f.partner.ID, Statuses: []payoutdomain.Status{payoutdomain.StatusScheduled}})
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one scheduled payout, got %d %v", len(list), err)
	}
	if _, err := f.env.Payouts.List(ctx, payoutdomain.ListFilter{Statuses: []payoutdomain.Status{"bogus"}}); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
	reserved, err := f.env.Payouts.ReservedCommissions(ctx, f.payout.ID)
	if err != nil || len(reserved) != 2 {
		t.Fatalf("expected two reserved commissions, got %d %v", len(reserved), err)
	}
}
