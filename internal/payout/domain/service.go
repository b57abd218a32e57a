package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	"gorm.io/gorm"
)

type CreateBatchRequest struct {
	PartnerID   snowflake.ID
	PeriodStart time.Time
	PeriodEnd   time.Time
	// Livemode defaults to the configured mode.
	Livemode *bool
	Actor    string
}

type ListFilter struct {
	PartnerID snowflake.ID
	Statuses  []Status
	Livemode  *bool
	Limit     int
	Offset    int
}

// Violation is one broken invariant found by the integrity check.
type Violation struct {
	Kind       string       `json:"kind"`
	EntityType string       `json:"entity_type"`
	EntityID   snowflake.ID `json:"entity_id"`
	Detail     string       `json:"detail"`
}

type IntegrityReport struct {
	CheckedAt  time.Time   `json:"checked_at"`
	Violations []Violation `json:"violations"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *Payout) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payout, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payout, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, fields map[string]any) (bool, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	AppendNote(ctx context.Context, db *gorm.DB, id snowflake.ID, line string, at time.Time) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Payout, error)
	ListStuckProcessing(ctx context.Context, db *gorm.DB, before time.Time) ([]Payout, error)

	SelectCandidates(ctx context.Context, db *gorm.DB, req CreateBatchRequest, livemode bool) ([]snowflake.ID, error)
	// Reserve sets payout_id on the given commissions if still unreserved and payable.
	Reserve(ctx context.Context, db *gorm.DB, payoutID snowflake.ID, commissionIDs []snowflake.ID, at time.Time) (int64, error)
	Release(ctx context.Context, db *gorm.DB, payoutID snowflake.ID, commissionIDs []snowflake.ID, at time.Time) (int64, error)
	ReleaseAll(ctx context.Context, db *gorm.DB, payoutID snowflake.ID, at time.Time) (int64, error)
	SumReserved(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) (total int64, count int, err error)
}

type Service interface {
	// Batcher
	CreateBatch(ctx context.Context, req CreateBatchRequest) (*Payout, error)
	Reconcile(ctx context.Context, id snowflake.ID, actor string) (*Payout, error)
	// HandleRefundedCommissionTx keeps the payout side consistent after the
	// ledger applied a refund to a reserved or paid commission.
	HandleRefundedCommissionTx(ctx context.Context, tx *gorm.DB, c *commissiondomain.Commission, priorPayoutID *snowflake.ID) error
	// LockReservingPayoutTx locks the payout reserving the commission for
	// paymentReference before the commission row itself is locked.
	LockReservingPayoutTx(ctx context.Context, tx *gorm.DB, paymentReference string) error

	// Executor
	MarkReady(ctx context.Context, id snowflake.ID, actor string) (*Payout, error)
	Execute(ctx context.Context, id snowflake.ID, actor string) (*Payout, error)
	MarkPaid(ctx context.Context, id snowflake.ID, reference, actor string) (*Payout, error)
	MarkFailed(ctx context.Context, id snowflake.ID, reason, actor string) (*Payout, error)
	Cancel(ctx context.Context, id snowflake.ID, reason, actor string) (*Payout, error)
	ReleaseHold(ctx context.Context, id snowflake.ID, actor string) (*Payout, error)

	// Reads
	Get(ctx context.Context, id snowflake.ID) (*Payout, error)
	List(ctx context.Context, filter ListFilter) ([]Payout, error)
	ReservedCommissions(ctx context.Context, id snowflake.ID) ([]commissiondomain.Commission, error)

	// Integrity
	CheckConsistency(ctx context.Context) (*IntegrityReport, error)
	FlagStuckProcessing(ctx context.Context) (int, error)
}
