package service_test

import (
	"context"
	"errors"
	"testing"

	notificationdomain "github.com/smallbiznis/partnerledger/internal/notification/domain"
	"github.com/smallbiznis/partnerledger/internal/testutil"
)

func TestResolveOnce(t *testing.T) {
	env := testutil.New(t)
	ctx := context.Background()
	p := env.ActivePartner(t, "0.10")
	if _, err := env.Partners.SetFraudFlag(ctx, p.ID, true, "manual review", "risk"); err != nil {
		t.Fatalf("flag: %v", err)
	}
	env.DrainOutbox(t)
	env.DrainOutbox(t)

	open, err := env.Notifications.List(ctx, notificationdomain.ListFilter{Unresolved: true, PartnerID: p.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one open alert after two drains, got %d", len(open))
	}
	n := open[0]
	if n.Severity != notificationdomain.SeverityCritical || n.PartnerID == nil || *n.PartnerID != p.ID {
		t.Fatalf("unexpected alert %+v", n)
	}

	resolved, err := env.Notifications.Resolve(ctx, n.ID, "confirmed with partner", "ops")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ResolvedAt == nil || resolved.ResolvedBy == nil || *resolved.ResolvedBy != "ops" {
		t.Fatalf("expected resolution recorded, got %+v", resolved)
	}
	if _, err := env.Notifications.Resolve(ctx, n.ID, "again", "ops"); !errors.Is(err, notificationdomain.ErrAlreadyResolved) {
		t.Fatalf("expected already resolved, got %v", err)
	}
	if _, err := env.Notifications.Resolve(ctx, 7, "", "ops"); !errors.Is(err, notificationdomain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	open, err = env.Notifications.List(ctx, notificationdomain.ListFilter{Unresolved: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open alerts, got %d", len(open))
	}
}
