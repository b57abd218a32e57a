package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PaymentInput is the ledger's view of a captured payment.
type PaymentInput struct {
	PaymentEventID   snowflake.ID
	PaymentReference string
	PartnerID        snowflake.ID
	DealID           string
	Amount           int64
	Currency         string
	OccurredAt       time.Time
	Livemode         bool
}

// RefundInput is the ledger's view of a refund or chargeback.
type RefundInput struct {
	PaymentEventID   snowflake.ID
	ExternalEventID  string
	PaymentReference string
	Amount           int64
	OccurredAt       time.Time
}

type RefundOutcome string

const (
	RefundNoCommission        RefundOutcome = "no_commission"
	RefundClawedBack          RefundOutcome = "clawed_back"
	RefundAlreadyClawedBack   RefundOutcome = "already_clawed_back"
	RefundPostPaymentClawback RefundOutcome = "post_payment_clawback"
)

type RefundResult struct {
	Outcome    RefundOutcome
	Commission *Commission
	// PriorPayoutID is the reservation held at the moment of the refund.
	PriorPayoutID *snowflake.ID
}

type ListFilter struct {
	PartnerID snowflake.ID
	PayoutID  snowflake.ID
	Statuses  []Status
	From      *time.Time
	To        *time.Time
	Livemode  *bool
	Limit     int
	Offset    int
}

type AdvanceResult struct {
	Earned  int
	Payable int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, c *Commission) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Commission, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Commission, error)
	LockByPaymentReference(ctx context.Context, db *gorm.DB, reference string) (*Commission, error)
	FindReversalOf(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Commission, error)
	LockByPayout(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) ([]Commission, error)
	// UpdateStatus moves id from -> to only if the row is still in from.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, fields map[string]any) (bool, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	AppendNote(ctx context.Context, db *gorm.DB, id snowflake.ID, line string, at time.Time) error
	ListPayable(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) ([]Commission, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Commission, error)
	LockDueForEarn(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Commission, error)
	LockDueForPayable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Commission, error)
}

type Service interface {
	// RecordFromPaymentTx creates the commission for a captured payment inside tx.
	RecordFromPaymentTx(ctx context.Context, tx *gorm.DB, in PaymentInput) (*Commission, error)
	// ApplyRefundTx claws back the commission tied to the refunded payment inside tx.
	ApplyRefundTx(ctx context.Context, tx *gorm.DB, in RefundInput) (*RefundResult, error)
	// MarkPaidTx is called only by the payout executor.
	MarkPaidTx(ctx context.Context, tx *gorm.DB, c *Commission, payoutID snowflake.ID, at time.Time) error
	AppendNoteTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, author, text string) error
	PlaceOnHoldTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string) (bool, error)

	ListPayable(ctx context.Context, partnerID snowflake.ID) ([]Commission, error)
	List(ctx context.Context, filter ListFilter) ([]Commission, error)
	Get(ctx context.Context, id snowflake.ID) (*Commission, error)
	Advance(ctx context.Context, limit int) (AdvanceResult, error)
	Dispute(ctx context.Context, id snowflake.ID, reason, actor string) (*Commission, error)
	ResolveDispute(ctx context.Context, id snowflake.ID, target Status, resolution, actor string) (*Commission, error)
	AddNote(ctx context.Context, id snowflake.ID, text, actor string) (*Commission, error)
	ReversePaid(ctx context.Context, id snowflake.ID, reason, actor string) (*Commission, error)
	ReleaseHold(ctx context.Context, id snowflake.ID, actor string) (*Commission, error)
}
