package service

import (
	"context"
	"fmt"
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/partnerledger/internal/clock"
	"github.com/smallbiznis/partnerledger/internal/events"
	notificationdomain "github.com/smallbiznis/partnerledger/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ReporterParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  notificationdomain.Repository
}

// Reporter turns outbox events into operator notifications.
type Reporter struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  notificationdomain.Repository
}

func NewReporter(p ReporterParams) *Reporter {
	return &Reporter{
		log:   p.Log.Named("notification.reporter"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (r *Reporter) Name() string { return "notification_reporter" }

type alert struct {
	severity notificationdomain.Severity
	category notificationdomain.Category
	title    string
	details  string
}

// Handle runs inside the relay transaction; events that map to no alert are
// ignored.
func (r *Reporter) Handle(ctx context.Context, tx *gorm.DB, ev events.Event) error {
	a, ok := classify(ev)
	if !ok {
		return nil
	}

	resourceID := ev.EntityID
	n := &notificationdomain.Notification{
		ID:           r.genID.Generate(),
		Severity:     a.severity,
		Category:     a.category,
		Title:        a.title,
		Details:      a.details,
		ResourceType: ev.EntityType,
		ResourceID:   &resourceID,
		Metadata:     datatypes.JSONMap(ev.Payload),
		DedupeKey:    dedupeKey(ev),
		Livemode:     ev.Livemode,
		CreatedAt:    r.clock.Now(),
	}
	if ev.PartnerID != 0 {
		partnerID := ev.PartnerID
		n.PartnerID = &partnerID
	}
	inserted, err := r.repo.Insert(ctx, tx, n)
	if err != nil {
		return err
	}
	if inserted {
		r.log.Info("notification raised",
			zap.String("severity", string(a.severity)),
			zap.String("category", string(a.category)),
			zap.String("title", a.title),
			zap.String("resource_id", resourceID.String()),
		)
	}
	return nil
}

func dedupeKey(ev events.Event) string {
	if ev.ID != 0 {
		return "event:" + ev.ID.String()
	}
	return fmt.Sprintf("%s:%s:%s:%d", ev.Kind, ev.EntityType, ev.EntityID, ev.OccurredAt.UnixNano())
}

func classify(ev events.Event) (alert, bool) {
	switch ev.Kind {
	case events.KindPayoutOverpaid:
		return alert{
			severity: notificationdomain.SeverityCritical,
			category: notificationdomain.CategoryPayout,
			title:    "Payout settled for less than was transferred",
			details:  fmt.Sprintf("payout %s: transferred %v, settled %v", ev.EntityID, ev.Payload["transferred_amount"], ev.Payload["settled_amount"]),
		}, true
	case events.KindPostPaymentClawback:
		return alert{
			severity: notificationdomain.SeverityCritical,
			category: notificationdomain.CategoryPayout,
			title:    "Refund received after commission was paid",
			details:  fmt.Sprintf("commission %v in payout %s (net %v) needs out-of-band recovery", ev.Payload["commission_id"], ev.EntityID, ev.Payload["net_amount"]),
		}, true
	case events.KindConsistencyViolation:
		category := notificationdomain.CategoryIntegrity
		if ev.EntityType == events.EntityPartner {
			category = notificationdomain.CategoryFraud
		}
		return alert{
			severity: notificationdomain.SeverityCritical,
			category: category,
			title:    fmt.Sprintf("Consistency violation: %v", ev.Payload["violation"]),
			details:  fmt.Sprintf("%s %s: %v", ev.EntityType, ev.EntityID, ev.Payload["detail"]),
		}, true
	case events.KindPayoutStuck:
		return alert{
			severity: notificationdomain.SeverityWarning,
			category: notificationdomain.CategoryPayout,
			title:    "Payout stuck in processing",
			details:  fmt.Sprintf("payout %s has been processing since %v", ev.EntityID, ev.Payload["processing_at"]),
		}, true
	case events.KindCommissionFrozen:
		return alert{
			severity: notificationdomain.SeverityWarning,
			category: notificationdomain.CategoryCommission,
			title:    "Commission changed while its payout was processing",
			details:  fmt.Sprintf("commission %v is %v in payout %s; it will be excluded at mark paid", ev.Payload["commission_id"], ev.Payload["commission_status"], ev.EntityID),
		}, true
	case events.KindTransition:
		return classifyTransition(ev)
	}
	return alert{}, false
}

func classifyTransition(ev events.Event) (alert, bool) {
	switch {
	case ev.EntityType == events.EntityPayout && ev.ToState == "failed":
		return alert{
			severity: notificationdomain.SeverityWarning,
			category: notificationdomain.CategoryPayout,
			title:    "Payout failed",
			details:  fmt.Sprintf("payout %s failed: %v", ev.EntityID, ev.Payload["reason"]),
		}, true
	case ev.EntityType == events.EntityCommission && ev.FromState == "" && ev.Payload["reason"] == "partner_fraud_flag":
		return alert{
			severity: notificationdomain.SeverityWarning,
			category: notificationdomain.CategoryFraud,
			title:    "Commission recorded for fraud-flagged partner",
			details:  fmt.Sprintf("commission %s was created disputed for partner %s", ev.EntityID, ev.PartnerID),
		}, true
	case ev.EntityType == events.EntityPartner && ev.Payload["fraud_flag"] == true:
		return alert{
			severity: notificationdomain.SeverityCritical,
			category: notificationdomain.CategoryFraud,
			title:    "Partner fraud flagged",
			details:  fmt.Sprintf("partner %s: %v", ev.EntityID, ev.Payload["reason"]),
		}, true
	}
	return alert{}, false
}
