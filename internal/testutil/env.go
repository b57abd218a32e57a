// Package testutil wires the engine's services against an in-memory sqlite
// database for tests. Only external test packages may import it.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/partnerledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/partnerledger/internal/audit/service"
	"github.com/smallbiznis/partnerledger/internal/clock"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	commissionrepo "github.com/smallbiznis/partnerledger/internal/commission/repository"
	commissionservice "github.com/smallbiznis/partnerledger/internal/commission/service"
	"github.com/smallbiznis/partnerledger/internal/config"
	"github.com/smallbiznis/partnerledger/internal/events"
	"github.com/smallbiznis/partnerledger/internal/migration"
	notificationdomain "github.com/smallbiznis/partnerledger/internal/notification/domain"
	notificationrepo "github.com/smallbiznis/partnerledger/internal/notification/repository"
	notificationservice "github.com/smallbiznis/partnerledger/internal/notification/service"
	"github.com/smallbiznis/partnerledger/internal/observability/metrics"
	partnerdomain "github.com/smallbiznis/partnerledger/internal/partner/domain"
	partnerrepo "github.com/smallbiznis/partnerledger/internal/partner/repository"
	partnerservice "github.com/smallbiznis/partnerledger/internal/partner/service"
	paymentdomain "github.com/smallbiznis/partnerledger/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/partnerledger/internal/payment/repository"
	paymentservice "github.com/smallbiznis/partnerledger/internal/payment/service"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	payoutrepo "github.com/smallbiznis/partnerledger/internal/payout/repository"
	payoutservice "github.com/smallbiznis/partnerledger/internal/payout/service"
	sysdomain "github.com/smallbiznis/partnerledger/internal/systemconfig/domain"
	sysservice "github.com/smallbiznis/partnerledger/internal/systemconfig/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Epoch is the default start of the manual clock.
var Epoch = time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)

var dbSeq atomic.Int64

// Env is a fully wired engine backed by one private sqlite database.
type Env struct {
	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	Clock *clock.Manual
	GenID *snowflake.Node

	Metrics *metrics.EngineMetrics
	Outbox  *events.Outbox
	Relay   *events.Relay
	Channel *FakeChannel

	Audit         auditdomain.Service
	Partners      partnerdomain.Service
	PartnerRepo   partnerdomain.Repository
	Commissions   commissiondomain.Service
	CommissionRep commissiondomain.Repository
	Payouts       payoutdomain.Service
	PayoutRepo    payoutdomain.Repository
	Flags         sysdomain.Service
	Payments      paymentdomain.Service
	Notifications notificationdomain.Service
	Reporter      *notificationservice.Reporter
}

type Option func(*config.Config)

// New builds an Env. Options adjust the config before services are built.
func New(t testing.TB, opts ...Option) *Env {
	t.Helper()

	cfg := config.Default()
	cfg.Mode = config.ModeTest
	cfg.Environment = "test"
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", sanitize(t.Name()), dbSeq.Add(1))
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := migration.Run(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	metrics.ResetEngineMetricsForTest()
	e := &Env{
		DB:      db,
		Log:     zap.NewNop(),
		Cfg:     cfg,
		Clock:   clock.NewManual(Epoch),
		GenID:   node,
		Metrics: metrics.Engine(),
		Outbox:  events.NewOutbox(node),
		Channel: &FakeChannel{},
	}

	e.Audit = auditservice.NewService(auditservice.Params{DB: db, Log: e.Log, GenID: node, Clock: e.Clock, Repo: auditrepo.Provide()})
	e.PartnerRepo = partnerrepo.Provide()
	e.Partners = partnerservice.NewService(partnerservice.Params{
		DB: db, Log: e.Log, GenID: node, Cfg: cfg, Clock: e.Clock,
		Repo: e.PartnerRepo, AuditSvc: e.Audit, Outbox: e.Outbox,
	})
	e.CommissionRep = commissionrepo.Provide()
	e.Commissions = commissionservice.NewService(commissionservice.Params{
		DB: db, Log: e.Log, GenID: node, Cfg: cfg, Clock: e.Clock,
		Repo: e.CommissionRep, PartnerRepo: e.PartnerRepo, AuditSvc: e.Audit, Outbox: e.Outbox,
	})
	e.Flags = sysservice.NewService(sysservice.Params{DB: db, Log: e.Log, Clock: e.Clock, AuditSvc: e.Audit})
	e.PayoutRepo = payoutrepo.Provide()
	e.Payouts = payoutservice.NewService(payoutservice.Params{
		DB: db, Log: e.Log, GenID: node, Cfg: cfg, Clock: e.Clock,
		Repo: e.PayoutRepo, CommissionSvc: e.Commissions, CommissionRepo: e.CommissionRep,
		PartnerRepo: e.PartnerRepo, AuditSvc: e.Audit, Outbox: e.Outbox, Flags: e.Flags,
		Channel: e.Channel, Metrics: e.Metrics,
	})
	e.Payments = paymentservice.NewService(paymentservice.Params{
		DB: db, Log: e.Log, GenID: node, Cfg: cfg, Clock: e.Clock,
		Repo: paymentrepo.Provide(), CommissionSvc: e.Commissions, PayoutSvc: e.Payouts,
		AuditSvc: e.Audit, Metrics: e.Metrics,
	})
	notifRepo := notificationrepo.Provide()
	e.Notifications = notificationservice.NewService(notificationservice.Params{DB: db, Log: e.Log, Clock: e.Clock, Repo: notifRepo, AuditSvc: e.Audit})
	e.Reporter = notificationservice.NewReporter(notificationservice.ReporterParams{Log: e.Log, GenID: node, Clock: e.Clock, Repo: notifRepo})
	e.Relay = events.NewRelay(events.RelayParams{
		DB:          db,
		Log:         e.Log,
		Subscribers: []events.Subscriber{e.Reporter},
		Observers:   []events.Observer{events.NewMetricsObserver(e.Metrics)},
	})
	return e
}

func sanitize(name string) string {
	return strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(name)
}

// ActivePartner creates and activates a partner with the given rate.
func (e *Env) ActivePartner(t testing.TB, rate string) *partnerdomain.Partner {
	t.Helper()
	ctx := context.Background()
	r := decimal.RequireFromString(rate)
	n := dbSeq.Add(1)
	p, err := e.Partners.Create(ctx, partnerdomain.CreateRequest{
		Name:           fmt.Sprintf("Partner %d", n),
		Email:          fmt.Sprintf("partner%d@example.com", n),
		CommissionRate: &r,
	})
	if err != nil {
		t.Fatalf("create partner: %v", err)
	}
	p, err = e.Partners.Activate(ctx, p.ID, "test")
	if err != nil {
		t.Fatalf("activate partner: %v", err)
	}
	return p
}

// Capture ingests a captured payment event for partnerID.
func (e *Env) Capture(t testing.TB, eventID, reference string, partnerID snowflake.ID, amount int64) *paymentdomain.IngestResult {
	t.Helper()
	res, err := e.Payments.Ingest(context.Background(), paymentdomain.IngestRequest{
		ExternalEventID:  eventID,
		EventType:        paymentdomain.EventTypeCaptured,
		PaymentReference: reference,
		PartnerID:        partnerID,
		Amount:           amount,
		Currency:         e.Cfg.Currency,
		OccurredAt:       e.Clock.Now(),
	})
	if err != nil {
		t.Fatalf("capture %s: %v", eventID, err)
	}
	return res
}

// Refund ingests a refund event for reference.
func (e *Env) Refund(t testing.TB, eventID, reference string, amount int64) *paymentdomain.IngestResult {
	t.Helper()
	res, err := e.Payments.Ingest(context.Background(), paymentdomain.IngestRequest{
		ExternalEventID:  eventID,
		EventType:        paymentdomain.EventTypeRefunded,
		PaymentReference: reference,
		Amount:           amount,
		Currency:         e.Cfg.Currency,
		OccurredAt:       e.Clock.Now(),
	})
	if err != nil {
		t.Fatalf("refund %s: %v", eventID, err)
	}
	return res
}

// CommissionFor loads the commission created for a payment reference.
func (e *Env) CommissionFor(t testing.TB, reference string) *commissiondomain.Commission {
	t.Helper()
	var c commissiondomain.Commission
	if err := e.DB.Where("payment_reference = ?", reference).Take(&c).Error; err != nil {
		t.Fatalf("load commission %s: %v", reference, err)
	}
	return &c
}

// MakePayable advances the clock past every hold window and runs the sweep.
func (e *Env) MakePayable(t testing.TB) {
	t.Helper()
	e.Clock.Advance(e.Cfg.Ledger.EarnHold + e.Cfg.Ledger.ClawbackWindow + time.Hour)
	if _, err := e.Commissions.Advance(context.Background(), 1000); err != nil {
		t.Fatalf("advance: %v", err)
	}
}

// Period returns a batch window covering everything earned so far.
func (e *Env) Period() (time.Time, time.Time) {
	return Epoch.Add(-24 * time.Hour), e.Clock.Now().Add(time.Hour)
}

// DrainOutbox delivers every pending event to the subscribers.
func (e *Env) DrainOutbox(t testing.TB) {
	t.Helper()
	if err := e.Relay.Drain(context.Background()); err != nil {
		t.Fatalf("drain outbox: %v", err)
	}
}

// FakeChannel is a scriptable transfer channel.
type FakeChannel struct {
	mu       sync.Mutex
	Err      error
	Requests []payoutdomain.TransferRequest
}

func (f *FakeChannel) Name() string { return "fake" }

func (f *FakeChannel) Initiate(_ context.Context, req payoutdomain.TransferRequest) (payoutdomain.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if f.Err != nil {
		return payoutdomain.TransferResult{}, f.Err
	}
	return payoutdomain.TransferResult{Reference: "fake_" + req.PayoutID.String()}, nil
}

func (f *FakeChannel) SetErr(err error) {
	f.mu.Lock()
	f.Err = err
	f.mu.Unlock()
}
